package viewer

import (
	"bytes"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/xxxsen/pcdview/internal/model"
	appErr "github.com/xxxsen/pcdview/internal/pkg/errors"
)

const (
	DefaultSurfaceWidth  = 1024
	DefaultSurfaceHeight = 688
	// maxDrawnPoints bounds glyphs per frame; larger clouds are strided.
	maxDrawnPoints = 200000
	screenDPI      = 96
)

// PlotSurface is a headless surface that rasterizes frames to PNG with an
// orthographic projection.
type PlotSurface struct {
	width  int
	height int

	mu    sync.Mutex
	png   []byte
	seq   uint64
	ready bool
}

func NewPlotSurface(width, height int) *PlotSurface {
	if width <= 0 {
		width = DefaultSurfaceWidth
	}
	if height <= 0 {
		height = DefaultSurfaceHeight
	}
	return &PlotSurface{width: width, height: height}
}

func (p *PlotSurface) Render(frame Frame) error {
	data, err := p.rasterize(frame)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.png = data
	p.seq = frame.Seq
	p.ready = true
	return nil
}

func (p *PlotSurface) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Seq is the sequence number of the last drawn frame.
func (p *PlotSurface) Seq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

func (p *PlotSurface) Snapshot() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return nil, appErr.ErrRenderNotReady
	}
	return append([]byte(nil), p.png...), nil
}

func (p *PlotSurface) rasterize(frame Frame) ([]byte, error) {
	pl := plot.New()
	pl.HideAxes()
	pl.BackgroundColor = frame.Scheme.Background

	xys := project(frame)
	if len(xys) > 0 {
		scatter, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, fmt.Errorf("build scatter: %w", err)
		}
		scatter.GlyphStyle.Color = frame.Scheme.Points
		scatter.GlyphStyle.Radius = vg.Points(0.6)
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		pl.Add(scatter)
		p.fit(pl, xys)
	}

	w := vg.Length(p.width) * vg.Inch / screenDPI
	h := vg.Length(p.height) * vg.Inch / screenDPI
	wt, err := pl.WriterTo(w, h, "png")
	if err != nil {
		return nil, fmt.Errorf("create png writer: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// fit sets equal data units per pixel on both axes so the cloud keeps its
// proportions.
func (p *PlotSurface) fit(pl *plot.Plot, xys plotter.XYs) {
	minX, maxX, minY, maxY := math.Inf(1), math.Inf(-1), math.Inf(1), math.Inf(-1)
	for _, xy := range xys {
		minX, maxX = math.Min(minX, xy.X), math.Max(maxX, xy.X)
		minY, maxY = math.Min(minY, xy.Y), math.Max(maxY, xy.Y)
	}
	aspect := float64(p.width) / float64(p.height)
	half := math.Max((maxX-minX)/aspect, maxY-minY)/2*1.1 + 1e-6
	cx, cy := (minX+maxX)/2, (minY+maxY)/2
	pl.X.Min, pl.X.Max = cx-half*aspect, cx+half*aspect
	pl.Y.Min, pl.Y.Max = cy-half, cy+half
}

func project(frame Frame) plotter.XYs {
	total := pointCount(frame.Children)
	if total == 0 {
		return nil
	}
	stride := 1
	if total > maxDrawnPoints {
		stride = (total + maxDrawnPoints - 1) / maxDrawnPoints
	}
	sy, cy := math.Sincos(frame.Camera.Yaw)
	sp, cp := math.Sincos(frame.Camera.Pitch)
	out := make(plotter.XYs, 0, total/stride+1)
	for _, child := range frame.Children {
		for i := 0; i < len(child.Points); i += stride {
			pt := child.Points[i]
			x, y, z := float64(pt.X), float64(pt.Y), float64(pt.Z)
			rx := x*cy - y*sy
			ry := x*sy + y*cy
			out = append(out, plotter.XY{X: rx, Y: z*sp - ry*cp})
		}
	}
	return out
}

var _ Snapshotter = (*PlotSurface)(nil)
var _ Surface = (*PlotSurface)(nil)

func pointCount(children []*model.PointCloud) int {
	n := 0
	for _, c := range children {
		n += c.Len()
	}
	return n
}
