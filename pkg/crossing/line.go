package crossing

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

var (
	ERR_BAD_LINE error = errors.New("Invalid border line")
)

type Zone int

const (
	Middle Zone = iota
	Left
	Right
)

func (z Zone) String() string {
	switch z {
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return "middle"
}

// Line is a border segment with a dead zone of Margin on both sides.
// Left and Right are taken in image coordinates (y grows downwards) looking
// from P0 towards P1.
type Line struct {
	Name   string
	P0, P1 r2.Vec
	Margin float64
}

// NewLine builds a line from a flat list of points, only the first two are
// used.
func NewLine(name string, points [][2]float64, margin float64) (Line, error) {
	if len(points) < 2 {
		return Line{}, fmt.Errorf("%w: %q has %d points, need 2", ERR_BAD_LINE, name, len(points))
	}
	l := Line{
		Name:   name,
		P0:     r2.Vec{X: points[0][0], Y: points[0][1]},
		P1:     r2.Vec{X: points[1][0], Y: points[1][1]},
		Margin: margin,
	}
	return l, l.Validate()
}

func (l Line) Validate() error {
	if l.P0 == l.P1 {
		return fmt.Errorf("%w: %q has zero length", ERR_BAD_LINE, l.Name)
	}
	if l.Margin < 0 || math.IsNaN(l.Margin) {
		return fmt.Errorf("%w: %q has negative margin", ERR_BAD_LINE, l.Name)
	}
	return nil
}

// Distance is the signed perpendicular distance from p to the line.
// ok is false when the projection of p falls outside the segment.
func (l Line) Distance(p r2.Vec) (dist float64, ok bool) {
	d := r2.Sub(l.P1, l.P0)
	v := r2.Sub(p, l.P0)
	length_sq := r2.Dot(d, d)
	t := r2.Dot(v, d) / length_sq
	if t < 0 || t > 1 {
		return 0, false
	}
	return r2.Cross(d, v) / r2.Norm(d), true
}

func (l Line) Classify(p r2.Vec) (Zone, bool) {
	dist, ok := l.Distance(p)
	if !ok {
		return Middle, false
	}
	switch {
	case math.Abs(dist) <= l.Margin:
		return Middle, true
	case dist < 0:
		return Left, true
	default:
		return Right, true
	}
}
