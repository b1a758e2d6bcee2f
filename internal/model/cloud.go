package model

import "image/color"

type Point struct {
	X float32
	Y float32
	Z float32
}

// PointCloud is the renderable form of a decoded asset.
type PointCloud struct {
	Name   string
	Fields []string
	Width  int
	Height int
	Points []Point
}

func (p *PointCloud) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Points)
}

type ColorScheme struct {
	Name       string
	Background color.RGBA
	Points     color.RGBA
}

var (
	LightScheme = ColorScheme{
		Name:       "light",
		Background: color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
		Points:     color.RGBA{A: 0xff},
	}
	DarkScheme = ColorScheme{
		Name:       "dark",
		Background: color.RGBA{A: 0xff},
		Points:     color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	}
)
