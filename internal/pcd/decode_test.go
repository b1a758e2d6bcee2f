package pcd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/pcdview/internal/model"
	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
)

const asciiCloud = `# .PCD v0.7 - Point Cloud Data file format
VERSION 0.7
FIELDS x y z
SIZE 4 4 4
TYPE F F F
COUNT 1 1 1
WIDTH 3
HEIGHT 1
VIEWPOINT 0 0 0 1 0 0 0
POINTS 3
DATA ascii
0.1 0.2 0.3
1 2 3
-1.5 0 nan
`

func binaryCloud(points [][3]float32, extraField bool) []byte {
	var buf bytes.Buffer
	if extraField {
		fmt.Fprintf(&buf, "VERSION 0.7\nFIELDS x y z intensity\nSIZE 4 4 4 4\nTYPE F F F F\nCOUNT 1 1 1 1\n")
	} else {
		fmt.Fprintf(&buf, "VERSION 0.7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n")
	}
	fmt.Fprintf(&buf, "WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA binary\n", len(points), len(points))
	for _, p := range points {
		for _, v := range p {
			_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(v))
		}
		if extraField {
			_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(42))
		}
	}
	return buf.Bytes()
}

func TestDecode_ASCII(t *testing.T) {
	cloud, err := Decode([]byte(asciiCloud))
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y", "z"}, cloud.Fields)
	require.Equal(t, 3, cloud.Width)
	require.Equal(t, []model.Point{{X: 0.1, Y: 0.2, Z: 0.3}, {X: 1, Y: 2, Z: 3}}, cloud.Points)
}

func TestDecode_Binary(t *testing.T) {
	pts := [][3]float32{{1, 2, 3}, {4, 5, 6}}
	cloud, err := Decode(binaryCloud(pts, true))
	require.NoError(t, err)
	require.Equal(t, []model.Point{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}, cloud.Points)
}

func TestDecode_BinaryDropsInfinite(t *testing.T) {
	inf := float32(math.Inf(1))
	cloud, err := Decode(binaryCloud([][3]float32{{inf, 0, 0}, {1, 1, 1}}, false))
	require.NoError(t, err)
	require.Len(t, cloud.Points, 1)
}

func TestDecoder_SetsName(t *testing.T) {
	cloud, err := Decoder{}.Decode("bunny.pcd", []byte(asciiCloud))
	require.NoError(t, err)
	require.Equal(t, "bunny.pcd", cloud.Name)
}

func TestDecode_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"not pcd":        "hello world\n",
		"no data line":   "VERSION 0.7\nFIELDS x y z\nPOINTS 1\n",
		"missing z":      "FIELDS x y\nPOINTS 1\nDATA ascii\n1 2\n",
		"compressed":     "FIELDS x y z\nPOINTS 1\nDATA binary_compressed\n",
		"truncated":      "FIELDS x y z\nPOINTS 3\nDATA ascii\n1 2 3\n",
		"bad number":     "FIELDS x y z\nPOINTS 1\nDATA ascii\n1 two 3\n",
		"short row":      "FIELDS x y z\nPOINTS 1\nDATA ascii\n1 2\n",
		"size mismatch":  "FIELDS x y z\nSIZE 4 4\nPOINTS 1\nDATA ascii\n1 2 3\n",
		"short binary":   "FIELDS x y z\nPOINTS 2\nDATA binary\n\x00\x00",
		"huge points":    "FIELDS x y z\nPOINTS 9000000000000000000\nDATA ascii\n1 2 3\n",
		"large points":   "FIELDS x y z\nPOINTS 500000000\nDATA ascii\n1 2 3\n",
		"huge binary":    "FIELDS x y z\nPOINTS 9000000000000000000\nDATA binary\n\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00",
		"huge grid":      "FIELDS x y z\nWIDTH 4000000000\nHEIGHT 4000000000\nDATA ascii\n1 2 3\n",
		"integer coords": "FIELDS x y z\nSIZE 4 4 4\nTYPE U U U\nPOINTS 1\nDATA binary\n\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { _, err = Decode([]byte(input)) })
			require.Error(t, err)
			require.True(t, appErr.IsDecode(err), "got %v", err)
		})
	}
}

func TestParseHeader_PointsFromWidthHeight(t *testing.T) {
	hdr, err := ParseHeader([]byte("FIELDS x y z\nWIDTH 4\nHEIGHT 2\nDATA ascii\n"))
	require.NoError(t, err)
	require.Equal(t, 8, hdr.Points)
	require.Equal(t, FormatASCII, hdr.Data)
}
