package scene

import (
	"bytes"
	"fmt"
	"image/color"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// screenGlyph is one particle projected to pixel space.
type screenGlyph struct {
	x, y   float64
	depth  float64
	radius float64
	color  uint32
}

// Rasterize draws f as a PNG the size of the camera viewport. Particles are
// painted far to near so closer ones overlap.
func Rasterize(f *RenderFrame) ([]byte, error) {
	if f == nil || f.View == nil {
		return nil, fmt.Errorf("rasterize: empty frame")
	}
	cam := f.Camera
	if cam.Width <= 0 || cam.Height <= 0 {
		return nil, fmt.Errorf("rasterize: invalid viewport %dx%d", cam.Width, cam.Height)
	}
	w, h := float64(cam.Width), float64(cam.Height)

	p := plot.New()
	p.HideAxes()
	p.BackgroundColor = color.Black

	for _, e := range BoxEdges(f.View.Box) {
		if err := addSegment(p, cam, []r3.Vec{e[0], e[1]}, color.RGBA{R: 0x88, G: 0x88, B: 0x88, A: 0xff}); err != nil {
			return nil, err
		}
	}
	if len(f.View.Trail) >= 2 {
		if err := addSegment(p, cam, f.View.Trail, color.RGBA{R: 0x00, G: 0xcc, B: 0xff, A: 0xff}); err != nil {
			return nil, err
		}
	}

	glyphs := projectGlyphs(f.View, cam)
	sort.SliceStable(glyphs, func(i, j int) bool { return glyphs[i].depth > glyphs[j].depth })
	if len(glyphs) > 0 {
		xys := make(plotter.XYs, len(glyphs))
		for i, g := range glyphs {
			xys[i] = plotter.XY{X: g.x, Y: h - g.y}
		}
		sc, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
			g := glyphs[i]
			return draw.GlyphStyle{
				Color:  rgb(g.color),
				Radius: vg.Points(g.radius),
				Shape:  draw.CircleGlyph{},
			}
		}
		p.Add(sc)
	}

	// Fix the ranges after Add, which widens them to the data.
	p.X.Min, p.X.Max = 0, w
	p.Y.Min, p.Y.Max = 0, h

	wt, err := p.WriterTo(vg.Points(w), vg.Points(h), "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func projectGlyphs(v *View, cam CameraState) []screenGlyph {
	w, h := float64(cam.Width), float64(cam.Height)
	inView := func(x, y, r float64) bool {
		return x+r >= 0 && x-r <= w && y+r >= 0 && y-r <= h
	}

	var out []screenGlyph
	if v.Points != nil {
		r := v.Points.Size / 2
		if r < 0.5 {
			r = 0.5
		}
		for _, pos := range v.Points.Positions {
			x, y, d, ok := cam.Project(pos)
			if ok && inView(x, y, r) {
				out = append(out, screenGlyph{x: x, y: y, depth: d, radius: r, color: v.Points.Color})
			}
		}
		return out
	}
	for _, s := range v.Spheres {
		x, y, d, ok := cam.Project(s.Center)
		if !ok {
			continue
		}
		r := s.Radius * cam.PixelsPerUnit(d)
		if r < 0.5 {
			r = 0.5
		}
		if inView(x, y, r) {
			out = append(out, screenGlyph{x: x, y: y, depth: d, radius: r, color: s.Color})
		}
	}
	return out
}

// addSegment draws a polyline, splitting it where vertices fall outside the
// camera's depth range.
func addSegment(p *plot.Plot, cam CameraState, pts []r3.Vec, c color.Color) error {
	h := float64(cam.Height)
	var run plotter.XYs
	flush := func() error {
		if len(run) >= 2 {
			l, err := plotter.NewLine(run)
			if err != nil {
				return err
			}
			l.Color = c
			l.Width = vg.Points(1)
			p.Add(l)
		}
		run = nil
		return nil
	}
	for _, v := range pts {
		x, y, _, ok := cam.Project(v)
		if !ok {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		run = append(run, plotter.XY{X: x, Y: h - y})
	}
	return flush()
}

func rgb(c uint32) color.RGBA {
	return color.RGBA{R: uint8(c >> 16), G: uint8(c >> 8), B: uint8(c), A: 0xff}
}
