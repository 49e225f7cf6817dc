package scene

import (
	"sync/atomic"

	"github.com/banshee-data/particleview/internal/projection"
	"github.com/banshee-data/particleview/internal/simapi"
	"gonum.org/v1/gonum/spatial/r3"
)

// Light is a scene light. Directional lights shine along Direction; ambient
// lights ignore it.
type Light struct {
	Kind      string  `json:"kind"`
	Intensity float64 `json:"intensity"`
	Color     uint32  `json:"color"`
	Direction r3.Vec  `json:"direction"`
}

// DefaultLights are a soft ambient fill and a white directional key light.
func DefaultLights() []Light {
	return []Light{
		{Kind: "ambient", Intensity: 0.85, Color: 0xffffff},
		{Kind: "directional", Intensity: 1, Color: 0xffffff, Direction: r3.Vec{X: 1, Y: 1, Z: 1}},
	}
}

// View is an immutable snapshot of the scene contents. Renderers read it
// from any goroutine.
type View struct {
	Seq     uint64
	Mode    projection.Mode
	Spheres []projection.Sphere
	Points  *projection.PointCloud
	Box     []r3.Vec // 8 corners, nil when no box is drawn
	Trail   projection.Polyline
	Lights  []Light
}

// Count returns the number of particles in the view.
func (v *View) Count() int {
	if v.Points != nil {
		return len(v.Points.IDs)
	}
	return len(v.Spheres)
}

// Scene is the mutable scene graph. Apply, SetBox, SetTrail and Clear must
// be called from a single goroutine (the viewer executor); View and Camera
// are safe from anywhere.
type Scene struct {
	camera *Camera
	lights []Light

	mode   projection.Mode
	meshes *Registry
	points *pointsHandle
	box    *boxHandle
	trail  *trailHandle

	seq  uint64
	view atomic.Pointer[View]
}

// New returns an empty scene with default lights.
func New(camera *Camera) *Scene {
	s := &Scene{
		camera: camera,
		lights: DefaultLights(),
		meshes: NewRegistry(),
	}
	s.publish()
	return s
}

// Camera returns the scene camera.
func (s *Scene) Camera() *Camera { return s.camera }

// Snapshot returns the latest published view. Never nil.
func (s *Scene) Snapshot() *View { return s.view.Load() }

// Resize forwards a viewport change to the camera.
func (s *Scene) Resize(width, height int) { s.camera.Resize(width, height) }

// Apply replaces the particle objects with those of f. Every previous
// particle handle is disposed before the new ones are created.
func (s *Scene) Apply(f projection.Frame) {
	s.meshes.DisposeAll()
	if s.points != nil {
		s.points.Dispose()
		s.points = nil
	}

	s.mode = f.Mode
	switch f.Mode {
	case projection.ModePoints:
		if f.Points != nil {
			s.points = newPointsHandle(f.Points)
		}
	default:
		s.meshes.Replace(f.Spheres)
	}
	s.publish()
}

// SetBox draws the box wireframe, mapped through scale when non-nil, and
// recentres the camera orbit on its centre.
func (s *Scene) SetBox(b simapi.BoundingBox, scale *projection.BoxMap) {
	if s.box != nil {
		s.box.Dispose()
	}
	h := &boxHandle{corners: corners(b)}
	if scale != nil {
		for i, c := range h.corners {
			h.corners[i] = scale.Apply(c)
		}
	}
	s.box = h
	s.camera.SetTarget(r3.Scale(0.5, r3.Add(h.corners[0], h.corners[7])))
	s.publish()
}

// ClearBox removes the box wireframe.
func (s *Scene) ClearBox() {
	if s.box == nil {
		return
	}
	s.box.Dispose()
	s.box = nil
	s.publish()
}

// SetTrail replaces the trajectory line. A line with fewer than two points
// removes it.
func (s *Scene) SetTrail(line projection.Polyline) {
	if s.trail != nil {
		s.trail.Dispose()
		s.trail = nil
	}
	if len(line) >= 2 {
		s.trail = &trailHandle{line: append(projection.Polyline(nil), line...)}
	}
	s.publish()
}

// Clear disposes every object in the scene.
func (s *Scene) Clear() {
	s.meshes.DisposeAll()
	if s.points != nil {
		s.points.Dispose()
	}
	if s.box != nil {
		s.box.Dispose()
	}
	if s.trail != nil {
		s.trail.Dispose()
	}
	s.points, s.box, s.trail = nil, nil, nil
	s.publish()
}

// Objects returns the number of live render handles.
func (s *Scene) Objects() int {
	n := s.meshes.Len()
	if s.points != nil {
		n++
	}
	if s.box != nil {
		n++
	}
	if s.trail != nil {
		n++
	}
	return n
}

func (s *Scene) publish() {
	s.seq++
	v := &View{
		Seq:     s.seq,
		Mode:    s.mode,
		Spheres: s.meshes.spheres(),
		Lights:  s.lights,
	}
	if s.points != nil {
		pc := s.points.cloud
		v.Points = &pc
	}
	if s.box != nil {
		v.Box = append([]r3.Vec(nil), s.box.corners[:]...)
	}
	if s.trail != nil {
		v.Trail = s.trail.line
	}
	s.view.Store(v)
}

// corners lists the box vertices with bit 0 selecting max X, bit 1 max Y and
// bit 2 max Z, so corners[0] and corners[7] are opposite.
func corners(b simapi.BoundingBox) [8]r3.Vec {
	var out [8]r3.Vec
	for i := range out {
		p := r3.Vec{X: b.MinX, Y: b.MinY, Z: b.MinZ}
		if i&1 != 0 {
			p.X = b.MaxX
		}
		if i&2 != 0 {
			p.Y = b.MaxY
		}
		if i&4 != 0 {
			p.Z = b.MaxZ
		}
		out[i] = p
	}
	return out
}

// BoxEdges returns the 12 wireframe edges of a box given its 8 corners in
// the order produced by SetBox.
func BoxEdges(c []r3.Vec) [][2]r3.Vec {
	if len(c) != 8 {
		return nil
	}
	var edges [][2]r3.Vec
	for i := 0; i < 8; i++ {
		for bit := 1; bit < 8; bit <<= 1 {
			if i&bit == 0 {
				edges = append(edges, [2]r3.Vec{c[i], c[i|bit]})
			}
		}
	}
	return edges
}
