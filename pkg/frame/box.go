package frame

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Axis aligned box in image coordinates (y grows downwards)
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func NewBox(x, y, w, h float64) Box {
	return Box{X1: x, Y1: y, X2: x + w, Y2: y + h}
}

func (b Box) Width() float64  { return math.Max(0, b.X2-b.X1) }
func (b Box) Height() float64 { return math.Max(0, b.Y2-b.Y1) }
func (b Box) Area() float64   { return b.Width() * b.Height() }
func (b Box) Empty() bool     { return b.Width() == 0 || b.Height() == 0 }

func (b Box) Center() r2.Vec {
	return r2.Vec{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

func (b Box) Intersect(o Box) Box {
	r := Box{
		X1: math.Max(b.X1, o.X1),
		Y1: math.Max(b.Y1, o.Y1),
		X2: math.Min(b.X2, o.X2),
		Y2: math.Min(b.Y2, o.Y2),
	}
	if r.X2 < r.X1 || r.Y2 < r.Y1 {
		return Box{}
	}
	return r
}

// Intersection over union, zero for disjoint or degenerate boxes
func (b Box) IoU(o Box) float64 {
	inter := b.Intersect(o).Area()
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Moves the box so that its center lands on c
func (b Box) WithCenter(c r2.Vec) Box {
	old := b.Center()
	dx, dy := c.X-old.X, c.Y-old.Y
	return Box{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}
