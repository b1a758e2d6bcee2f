// Package pcd decodes Point Cloud Data files (PCD v0.7) into renderable
// point clouds. Only the x, y and z fields are kept.
package pcd

import (
	"bytes"
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/xxxsen/pcdview/internal/model"
	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
)

const (
	FormatASCII            = "ascii"
	FormatBinary           = "binary"
	FormatBinaryCompressed = "binary_compressed"
)

type field struct {
	name  string
	size  int
	typ   byte
	count int
}

// Header is the parsed PCD preamble.
type Header struct {
	Version string
	Fields  []string
	Width   int
	Height  int
	Points  int
	Data    string

	fields []field
}

// Decoder implements the viewer's decode capability for PCD files.
type Decoder struct{}

func (Decoder) Decode(name string, data []byte) (*model.PointCloud, error) {
	cloud, err := Decode(data)
	if err != nil {
		return nil, err
	}
	cloud.Name = name
	return cloud, nil
}

// Decode parses a complete PCD file. Failures are *errors.DecodeError.
func Decode(data []byte) (*model.PointCloud, error) {
	hdr, body, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	var points []model.Point
	switch hdr.Data {
	case FormatASCII:
		points, err = decodeASCII(hdr, body)
	case FormatBinary:
		points, err = decodeBinary(hdr, body)
	case FormatBinaryCompressed:
		return nil, appErr.NewDecodeError("unsupported DATA format %q", hdr.Data)
	default:
		return nil, appErr.NewDecodeError("unknown DATA format %q", hdr.Data)
	}
	if err != nil {
		return nil, err
	}
	return &model.PointCloud{
		Fields: hdr.Fields,
		Width:  hdr.Width,
		Height: hdr.Height,
		Points: points,
	}, nil
}

// ParseHeader reads only the preamble.
func ParseHeader(data []byte) (*Header, error) {
	hdr, _, err := parseHeader(data)
	return hdr, err
}

func parseHeader(data []byte) (*Header, []byte, error) {
	hdr := &Header{Height: 1}
	var sizes, counts []int
	var types []byte
	rest := data
	for len(rest) > 0 {
		var line []byte
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			line, rest = rest, nil
		}
		text := strings.TrimSpace(string(line))
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.Fields(text)
		key, vals := strings.ToUpper(parts[0]), parts[1:]
		var err error
		switch key {
		case "VERSION":
			if len(vals) > 0 {
				hdr.Version = vals[0]
			}
		case "FIELDS":
			hdr.Fields = append([]string(nil), vals...)
		case "SIZE":
			sizes, err = atoiAll(key, vals)
		case "TYPE":
			for _, v := range vals {
				if len(v) != 1 || !strings.Contains("FIU", strings.ToUpper(v)) {
					return nil, nil, appErr.NewDecodeError("invalid TYPE %q", v)
				}
				types = append(types, strings.ToUpper(v)[0])
			}
		case "COUNT":
			counts, err = atoiAll(key, vals)
		case "WIDTH":
			hdr.Width, err = atoiOne(key, vals)
		case "HEIGHT":
			hdr.Height, err = atoiOne(key, vals)
		case "POINTS":
			hdr.Points, err = atoiOne(key, vals)
		case "VIEWPOINT":
		case "DATA":
			if len(vals) != 1 {
				return nil, nil, appErr.NewDecodeError("DATA needs one value")
			}
			hdr.Data = strings.ToLower(vals[0])
			if err := hdr.buildFields(sizes, types, counts); err != nil {
				return nil, nil, err
			}
			return hdr, rest, nil
		default:
			return nil, nil, appErr.NewDecodeError("unexpected header line %q", text)
		}
		if err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, appErr.NewDecodeError("missing DATA line")
}

func (h *Header) buildFields(sizes []int, types []byte, counts []int) error {
	n := len(h.Fields)
	if n == 0 {
		return appErr.NewDecodeError("missing FIELDS line")
	}
	if len(sizes) != 0 && len(sizes) != n {
		return appErr.NewDecodeError("SIZE has %d entries for %d fields", len(sizes), n)
	}
	if len(types) != 0 && len(types) != n {
		return appErr.NewDecodeError("TYPE has %d entries for %d fields", len(types), n)
	}
	if len(counts) != 0 && len(counts) != n {
		return appErr.NewDecodeError("COUNT has %d entries for %d fields", len(counts), n)
	}
	if h.Points == 0 {
		h.Points = h.Width * h.Height
	}
	if h.Points < 0 || h.Width < 0 || h.Height < 0 {
		return appErr.NewDecodeError("negative point count")
	}
	h.fields = make([]field, n)
	for i, name := range h.Fields {
		f := field{name: strings.ToLower(name), size: 4, typ: 'F', count: 1}
		if len(sizes) > 0 {
			f.size = sizes[i]
		}
		if len(types) > 0 {
			f.typ = types[i]
		}
		if len(counts) > 0 {
			f.count = counts[i]
		}
		if f.count < 1 || f.size < 1 {
			return appErr.NewDecodeError("field %q has invalid size or count", name)
		}
		h.fields[i] = f
	}
	for _, axis := range []string{"x", "y", "z"} {
		if h.column(axis) < 0 {
			return appErr.NewDecodeError("missing %s field", axis)
		}
	}
	return nil
}

// column returns the value index of a field in an ascii row.
func (h *Header) column(name string) int {
	col := 0
	for _, f := range h.fields {
		if f.name == name {
			return col
		}
		col += f.count
	}
	return -1
}

// offset returns the byte offset of a field in a binary record.
func (h *Header) offset(name string) (int, field) {
	off := 0
	for _, f := range h.fields {
		if f.name == name {
			return off, f
		}
		off += f.size * f.count
	}
	return -1, field{}
}

func (h *Header) stride() int {
	total := 0
	for _, f := range h.fields {
		total += f.size * f.count
	}
	return total
}

func (h *Header) columns() int {
	total := 0
	for _, f := range h.fields {
		total += f.count
	}
	return total
}

func decodeASCII(h *Header, body []byte) ([]model.Point, error) {
	xi, yi, zi := h.column("x"), h.column("y"), h.column("z")
	cols := h.columns()
	// every row takes at least one byte
	if h.Points > len(body) {
		return nil, appErr.NewDecodeError("POINTS %d exceeds a %d byte body", h.Points, len(body))
	}
	points := make([]model.Point, 0, h.Points)
	rows := 0
	for _, line := range strings.Split(string(body), "\n") {
		if rows == h.Points {
			break
		}
		vals := strings.Fields(line)
		if len(vals) == 0 {
			continue
		}
		if len(vals) < cols {
			return nil, appErr.NewDecodeError("row %d has %d values, want %d", rows+1, len(vals), cols)
		}
		rows++
		x, errX := strconv.ParseFloat(vals[xi], 32)
		y, errY := strconv.ParseFloat(vals[yi], 32)
		z, errZ := strconv.ParseFloat(vals[zi], 32)
		if errX != nil || errY != nil || errZ != nil {
			return nil, appErr.NewDecodeError("row %d has a non-numeric coordinate", rows)
		}
		appendFinite(&points, x, y, z)
	}
	if rows < h.Points {
		return nil, appErr.NewDecodeError("expected %d points, found %d", h.Points, rows)
	}
	return points, nil
}

func decodeBinary(h *Header, body []byte) ([]model.Point, error) {
	stride := h.stride()
	if stride <= 0 || h.Points > len(body)/stride {
		return nil, appErr.NewDecodeError("binary body has %d bytes, too short for %d points of %d bytes", len(body), h.Points, stride)
	}
	var readers [3]func([]byte) float64
	var offsets [3]int
	for i, axis := range []string{"x", "y", "z"} {
		off, f := h.offset(axis)
		switch {
		case f.typ == 'F' && f.size == 4:
			readers[i] = func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) }
		case f.typ == 'F' && f.size == 8:
			readers[i] = func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) }
		default:
			return nil, appErr.NewDecodeError("unsupported %c%d type for %s", f.typ, f.size, axis)
		}
		offsets[i] = off
	}
	points := make([]model.Point, 0, h.Points)
	for i := 0; i < h.Points; i++ {
		rec := body[i*stride : (i+1)*stride]
		appendFinite(&points,
			readers[0](rec[offsets[0]:]),
			readers[1](rec[offsets[1]:]),
			readers[2](rec[offsets[2]:]),
		)
	}
	return points, nil
}

// appendFinite drops points with NaN or infinite coordinates, which PCD uses
// for invalid returns.
func appendFinite(points *[]model.Point, x, y, z float64) {
	for _, v := range []float64{x, y, z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return
		}
	}
	*points = append(*points, model.Point{X: float32(x), Y: float32(y), Z: float32(z)})
}

func atoiOne(key string, vals []string) (int, error) {
	if len(vals) != 1 {
		return 0, appErr.NewDecodeError("%s needs one value", key)
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil {
		return 0, appErr.NewDecodeError("%s value %q is not an integer", key, vals[0])
	}
	return n, nil
}

func atoiAll(key string, vals []string) ([]int, error) {
	out := make([]int, 0, len(vals))
	for _, v := range vals {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, appErr.NewDecodeError("%s value %q is not an integer", key, v)
		}
		out = append(out, n)
	}
	return out, nil
}
