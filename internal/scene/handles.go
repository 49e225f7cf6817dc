package scene

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/particleview/internal/projection"
	"gonum.org/v1/gonum/spatial/r3"
)

// Handle is a render resource owned by the scene. Dispose releases it and
// must be called exactly once before the handle is dropped.
type Handle interface {
	Dispose()
}

// disposals counts released handles across all scenes; tests use it to
// check that rebuilding a frame frees the previous one.
var disposals atomic.Uint64

// Disposals returns the number of handles disposed so far.
func Disposals() uint64 { return disposals.Load() }

// sphereHandle is one mesh particle.
type sphereHandle struct {
	sphere   projection.Sphere
	disposed bool
}

func (h *sphereHandle) Dispose() {
	if h.disposed {
		return
	}
	h.disposed = true
	disposals.Add(1)
}

// pointBuffer is a flat xyz vertex buffer. Buffers are pooled because the
// points path rebuilds one every poll.
type pointBuffer struct {
	xyz []float32
}

var pointBufferPool = sync.Pool{
	New: func() any { return &pointBuffer{} },
}

func getPointBuffer(n int) *pointBuffer {
	b := pointBufferPool.Get().(*pointBuffer)
	if cap(b.xyz) < 3*n {
		b.xyz = make([]float32, 3*n)
	}
	b.xyz = b.xyz[:3*n]
	return b
}

func putPointBuffer(b *pointBuffer) {
	b.xyz = b.xyz[:0]
	pointBufferPool.Put(b)
}

// pointsHandle owns the single point-cloud object in points mode.
type pointsHandle struct {
	cloud projection.PointCloud
	buf   *pointBuffer
}

func newPointsHandle(pc *projection.PointCloud) *pointsHandle {
	h := &pointsHandle{
		cloud: projection.PointCloud{
			IDs:       append([]int(nil), pc.IDs...),
			Positions: append([]r3.Vec(nil), pc.Positions...),
			Size:      pc.Size,
			Color:     pc.Color,
		},
		buf: getPointBuffer(len(pc.Positions)),
	}
	for i, p := range pc.Positions {
		h.buf.xyz[3*i] = float32(p.X)
		h.buf.xyz[3*i+1] = float32(p.Y)
		h.buf.xyz[3*i+2] = float32(p.Z)
	}
	return h
}

func (h *pointsHandle) Dispose() {
	if h.buf == nil {
		return
	}
	putPointBuffer(h.buf)
	h.buf = nil
	disposals.Add(1)
}

// boxHandle is the bounding-box wireframe.
type boxHandle struct {
	corners  [8]r3.Vec
	disposed bool
}

func (h *boxHandle) Dispose() {
	if h.disposed {
		return
	}
	h.disposed = true
	disposals.Add(1)
}

// trailHandle is the selected particle's trajectory line.
type trailHandle struct {
	line     projection.Polyline
	disposed bool
}

func (h *trailHandle) Dispose() {
	if h.disposed {
		return
	}
	h.disposed = true
	disposals.Add(1)
}

// Registry holds the per-particle mesh handles of the current frame.
type Registry struct {
	handles []*sphereHandle
	byID    map[int]*sphereHandle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[int]*sphereHandle)}
}

// Replace disposes every current handle, then installs one per sphere.
func (r *Registry) Replace(spheres []projection.Sphere) {
	r.DisposeAll()
	for _, s := range spheres {
		h := &sphereHandle{sphere: s}
		r.handles = append(r.handles, h)
		r.byID[s.ID] = h
	}
}

// DisposeAll releases every handle.
func (r *Registry) DisposeAll() {
	for _, h := range r.handles {
		h.Dispose()
	}
	r.handles = r.handles[:0]
	clear(r.byID)
}

// Len returns the number of live handles.
func (r *Registry) Len() int { return len(r.handles) }

// Sphere returns the live sphere for id.
func (r *Registry) Sphere(id int) (projection.Sphere, bool) {
	h, ok := r.byID[id]
	if !ok {
		return projection.Sphere{}, false
	}
	return h.sphere, true
}

func (r *Registry) spheres() []projection.Sphere {
	out := make([]projection.Sphere, len(r.handles))
	for i, h := range r.handles {
		out[i] = h.sphere
	}
	return out
}

var (
	_ Handle = (*sphereHandle)(nil)
	_ Handle = (*pointsHandle)(nil)
	_ Handle = (*boxHandle)(nil)
	_ Handle = (*trailHandle)(nil)
)
