// Package scene owns the viewer's 3D scene graph: the orbit camera, the
// render handles built from projected frames, picking, and the render loop
// that hands immutable snapshots to renderers every frame.
package scene

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// Camera defaults match the browser viewer this replaces.
const (
	DefaultFOV     = 60.0
	DefaultNear    = 1.0
	DefaultFar     = 20000.0
	DefaultDamping = 0.05

	// polarEpsilon keeps the camera off the poles where the view basis
	// degenerates.
	polarEpsilon = 1e-6
	settleEps    = 1e-9
)

var worldUp = r3.Vec{X: 0, Y: 1, Z: 0}

// spherical is an offset from the orbit target. Theta is the azimuth around
// +Y (unbounded), Phi the polar angle from +Y in [0, π].
type spherical struct {
	Radius float64
	Theta  float64
	Phi    float64
}

func sphericalFromOffset(v r3.Vec) spherical {
	r := r3.Norm(v)
	if r == 0 {
		return spherical{Radius: 0, Phi: math.Pi / 2}
	}
	return spherical{
		Radius: r,
		Theta:  math.Atan2(v.X, v.Z),
		Phi:    math.Acos(math.Max(-1, math.Min(1, v.Y/r))),
	}
}

func (s spherical) offset() r3.Vec {
	sinPhi := math.Sin(s.Phi)
	return r3.Vec{
		X: s.Radius * sinPhi * math.Sin(s.Theta),
		Y: s.Radius * math.Cos(s.Phi),
		Z: s.Radius * sinPhi * math.Cos(s.Theta),
	}
}

// Camera is a perspective camera driven by an orbit controller with
// damping. Goals set by Rotate/Zoom are approached a fraction at a time by
// Update, which the render loop calls once per frame. Safe for concurrent
// use: the render loop updates it while commands steer it.
type Camera struct {
	mu sync.Mutex

	fov, near, far float64
	width, height  int
	damping        float64
	minDistance    float64
	maxDistance    float64

	target  r3.Vec
	current spherical
	goal    spherical
}

// NewCamera returns a camera at (1500,1500,1500) looking at the origin with
// a width x height viewport.
func NewCamera(width, height int) *Camera {
	c := &Camera{
		fov:         DefaultFOV,
		near:        DefaultNear,
		far:         DefaultFar,
		width:       1,
		height:      1,
		damping:     DefaultDamping,
		minDistance: DefaultNear,
		maxDistance: DefaultFar * 0.9,
	}
	c.current = sphericalFromOffset(r3.Vec{X: 1500, Y: 1500, Z: 1500})
	c.goal = c.current
	c.Resize(width, height)
	return c
}

// Resize updates the viewport and aspect ratio. Non-positive sizes are
// ignored.
func (c *Camera) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.width, c.height = width, height
}

// SetTarget recentres the orbit on t, keeping the current offset.
func (c *Camera) SetTarget(t r3.Vec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = t
}

// Rotate moves the orbit goal by the given azimuth and polar deltas, in
// radians.
func (c *Camera) Rotate(dTheta, dPhi float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.goal.Theta += dTheta
	c.goal.Phi = clamp(c.goal.Phi+dPhi, polarEpsilon, math.Pi-polarEpsilon)
}

// Zoom scales the orbit distance goal; factors below 1 move closer.
func (c *Camera) Zoom(factor float64) {
	if factor <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.goal.Radius = clamp(c.goal.Radius*factor, c.minDistance, c.maxDistance)
}

// Update advances the damped motion by one frame and reports whether the
// camera is still moving.
func (c *Camera) Update() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	moving := false
	step := func(cur *float64, goal float64) {
		d := goal - *cur
		if math.Abs(d) <= settleEps {
			*cur = goal
			return
		}
		*cur += d * c.damping
		moving = true
	}
	step(&c.current.Radius, c.goal.Radius)
	step(&c.current.Theta, c.goal.Theta)
	step(&c.current.Phi, c.goal.Phi)
	return moving
}

// State returns an immutable copy of the camera for renderers and picking.
func (c *Camera) State() CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	phi := clamp(c.current.Phi, polarEpsilon, math.Pi-polarEpsilon)
	off := spherical{Radius: c.current.Radius, Theta: c.current.Theta, Phi: phi}.offset()
	return CameraState{
		Position: r3.Add(c.target, off),
		Target:   c.target,
		FOV:      c.fov,
		Near:     c.near,
		Far:      c.far,
		Width:    c.width,
		Height:   c.height,
	}
}

// CameraState is a snapshot of the camera.
type CameraState struct {
	Position r3.Vec
	Target   r3.Vec
	FOV      float64
	Near     float64
	Far      float64
	Width    int
	Height   int
}

// Aspect returns width/height.
func (s CameraState) Aspect() float64 {
	return float64(s.Width) / float64(s.Height)
}

func (s CameraState) basis() (forward, right, up r3.Vec) {
	forward = r3.Unit(r3.Sub(s.Target, s.Position))
	right = r3.Unit(r3.Cross(forward, worldUp))
	up = r3.Cross(right, forward)
	return forward, right, up
}

func (s CameraState) tanHalfFOV() float64 {
	return math.Tan(s.FOV * math.Pi / 360)
}

// Project maps a world point to screen pixels (origin top-left) and its
// view depth. ok is false when the point is outside the near/far range.
func (s CameraState) Project(p r3.Vec) (sx, sy, depth float64, ok bool) {
	forward, right, up := s.basis()
	rel := r3.Sub(p, s.Position)
	depth = r3.Dot(rel, forward)
	if depth < s.Near || depth > s.Far {
		return 0, 0, depth, false
	}
	t := s.tanHalfFOV()
	ndcX := r3.Dot(rel, right) / (depth * t * s.Aspect())
	ndcY := r3.Dot(rel, up) / (depth * t)
	sx = (ndcX + 1) / 2 * float64(s.Width)
	sy = (1 - ndcY) / 2 * float64(s.Height)
	return sx, sy, depth, true
}

// PixelsPerUnit returns how many screen pixels one world unit spans at the
// given view depth.
func (s CameraState) PixelsPerUnit(depth float64) float64 {
	if depth <= 0 {
		return 0
	}
	return float64(s.Height) / 2 / (depth * s.tanHalfFOV())
}

// Ray returns the world-space ray through screen pixel (sx, sy).
func (s CameraState) Ray(sx, sy float64) (origin, dir r3.Vec) {
	forward, right, up := s.basis()
	t := s.tanHalfFOV()
	ndcX := 2*sx/float64(s.Width) - 1
	ndcY := 1 - 2*sy/float64(s.Height)
	dir = r3.Add(forward, r3.Add(
		r3.Scale(ndcX*t*s.Aspect(), right),
		r3.Scale(ndcY*t, up),
	))
	return s.Position, r3.Unit(dir)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
