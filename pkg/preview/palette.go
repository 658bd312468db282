package preview

import (
	"image/color"

	"github.com/muesli/gamut"
)

// Palette hands out a stable colour per track, consecutive tracks are far
// apart on the hue wheel
type Palette struct {
	next   color.Color
	colors map[uint64]color.RGBA
}

func NewPalette(base color.Color) *Palette {
	return &Palette{next: base, colors: make(map[uint64]color.RGBA)}
}

func (p *Palette) Color(id uint64) color.RGBA {
	if c, found := p.colors[id]; found {
		return c
	}
	p.next = gamut.HueOffset(p.next, 153)
	r, g, b, _ := p.next.RGBA()
	c := color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), 255}
	p.colors[id] = c
	return c
}

// Forget drops colours of tracks outside live
func (p *Palette) Forget(live map[uint64]struct{}) {
	for id := range p.colors {
		if _, ok := live[id]; !ok {
			delete(p.colors, id)
		}
	}
}
