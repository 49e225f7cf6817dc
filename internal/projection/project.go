package projection

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/particleview/internal/simapi"
)

// Mode selects how particles become primitives.
type Mode int

const (
	// ModeMesh draws one sphere per particle, sized and coloured per record.
	ModeMesh Mode = iota
	// ModePoints draws a single uniform point cloud.
	ModePoints
)

func (m Mode) String() string {
	if m == ModePoints {
		return "points"
	}
	return "mesh"
}

// ParseMode accepts "mesh" or "points".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mesh", "sphere", "spheres":
		return ModeMesh, nil
	case "points", "point":
		return ModePoints, nil
	}
	return ModeMesh, fmt.Errorf("unknown render mode %q", s)
}

// DefaultParticleSize is the particle size control's initial value. Mesh
// radii scale with ParticleSize relative to it.
const DefaultParticleSize = 5.0

// DefaultColor is the shared particle material colour.
const DefaultColor uint32 = 0xffff00

// Options controls one projection pass.
type Options struct {
	Mode         Mode
	ParticleSize float64
	Color        uint32
	Scale        *BoxMap
	Hidden       map[int]bool
}

// Sphere is one particle in mesh mode.
type Sphere struct {
	ID     int
	Center r3.Vec
	Radius float64
	Color  uint32
}

// PointCloud is the whole batch in points mode.
type PointCloud struct {
	IDs       []int
	Positions []r3.Vec
	Size      float64
	Color     uint32
}

// Frame is the result of projecting one batch.
type Frame struct {
	Mode    Mode
	Spheres []Sphere
	Points  *PointCloud
}

// Count returns the number of projected particles.
func (f Frame) Count() int {
	if f.Points != nil {
		return len(f.Points.IDs)
	}
	return len(f.Spheres)
}

// Filter returns the particles whose id is not hidden. The input slice is
// never modified.
func Filter(batch []simapi.Particle, hidden map[int]bool) []simapi.Particle {
	out := make([]simapi.Particle, 0, len(batch))
	for _, p := range batch {
		if hidden[p.ID] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Project maps a batch into primitives: hidden ids are dropped, coordinates
// are rescaled when opts.Scale is set, then spheres or a point cloud are
// built according to opts.Mode.
func Project(batch []simapi.Particle, opts Options) Frame {
	size := opts.ParticleSize
	if size <= 0 {
		size = DefaultParticleSize
	}

	visible := Filter(batch, opts.Hidden)
	frame := Frame{Mode: opts.Mode}

	if opts.Mode == ModePoints {
		pc := &PointCloud{
			IDs:       make([]int, 0, len(visible)),
			Positions: make([]r3.Vec, 0, len(visible)),
			Size:      size,
			Color:     opts.Color,
		}
		for _, p := range visible {
			pc.IDs = append(pc.IDs, p.ID)
			pc.Positions = append(pc.Positions, position(p, opts.Scale))
		}
		frame.Points = pc
		return frame
	}

	frame.Spheres = make([]Sphere, 0, len(visible))
	for _, p := range visible {
		radius := size
		if p.DisplaySize > 0 {
			radius = p.DisplaySize * size / DefaultParticleSize
		}
		color := opts.Color
		if c, err := ParseColor(p.ColorHex); err == nil && p.ColorHex != "" {
			color = c
		}
		frame.Spheres = append(frame.Spheres, Sphere{
			ID:     p.ID,
			Center: position(p, opts.Scale),
			Radius: radius,
			Color:  color,
		})
	}
	return frame
}

func position(p simapi.Particle, scale *BoxMap) r3.Vec {
	v := Vec(p.Position())
	if scale != nil {
		v = scale.Apply(v)
	}
	return v
}

// Polyline is a trail through successive positions.
type Polyline []r3.Vec

// Trail returns the line strip through p's history followed by its current
// position, rescaled when scale is set. It is nil when p has no history.
func Trail(p simapi.Particle, scale *BoxMap) Polyline {
	if len(p.History) == 0 {
		return nil
	}
	line := make(Polyline, 0, len(p.History)+1)
	for _, h := range p.History {
		v := Vec(h)
		if scale != nil {
			v = scale.Apply(v)
		}
		line = append(line, v)
	}
	return append(line, position(p, scale))
}

// Info renders the popup text shown for a hovered or selected particle.
func Info(p simapi.Particle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID: %d\n", p.ID)
	if p.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", p.Name)
	}
	density := p.Density
	if density <= 0 {
		density = 1
	}
	fmt.Fprintf(&b, "Mass: %g\n", p.Mass)
	fmt.Fprintf(&b, "Density: %g\n", density)
	fmt.Fprintf(&b, "Position: (%.3f, %.3f, %.3f)\n", p.X, p.Y, p.Z)
	fmt.Fprintf(&b, "Velocity: (%.3f, %.3f, %.3f)", p.VX, p.VY, p.VZ)
	return b.String()
}

// ParseColor parses "#rrggbb", "rrggbb" or "0xrrggbb".
func ParseColor(s string) (uint32, error) {
	h := strings.TrimSpace(s)
	h = strings.TrimPrefix(h, "#")
	h = strings.TrimPrefix(strings.ToLower(h), "0x")
	if len(h) != 6 {
		return 0, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return uint32(v), nil
}

// FormatColor renders c as "#rrggbb".
func FormatColor(c uint32) string {
	return fmt.Sprintf("#%06x", c&0xffffff)
}
