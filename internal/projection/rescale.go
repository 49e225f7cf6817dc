// Package projection turns fetched particle batches into render primitives:
// coordinate rescaling, display sizing, hidden-id filtering and the
// mesh/point projection itself. Nothing here performs I/O.
package projection

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/particleview/internal/simapi"
)

// BoxMap linearly remaps coordinates from Src into Dst, axis by axis.
type BoxMap struct {
	Src simapi.BoundingBox
	Dst simapi.BoundingBox
}

// mapAxis maps v from [minS,maxS] to [minD,maxD]. A zero-width source axis
// collapses to minD.
func mapAxis(v, minS, maxS, minD, maxD float64) float64 {
	if maxS == minS {
		return minD
	}
	return minD + (v-minS)/(maxS-minS)*(maxD-minD)
}

// Apply rescales one point.
func (m BoxMap) Apply(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: mapAxis(v.X, m.Src.MinX, m.Src.MaxX, m.Dst.MinX, m.Dst.MaxX),
		Y: mapAxis(v.Y, m.Src.MinY, m.Src.MaxY, m.Dst.MinY, m.Dst.MaxY),
		Z: mapAxis(v.Z, m.Src.MinZ, m.Src.MaxZ, m.Dst.MinZ, m.Dst.MaxZ),
	}
}

// ApplyParticle returns a copy of p with its position and history rescaled.
// p itself is not modified.
func (m BoxMap) ApplyParticle(p simapi.Particle) simapi.Particle {
	pos := m.Apply(Vec(p.Position()))
	p.X, p.Y, p.Z = pos.X, pos.Y, pos.Z
	if len(p.History) > 0 {
		hist := make([]simapi.Vec3, len(p.History))
		for i, h := range p.History {
			v := m.Apply(Vec(h))
			hist[i] = simapi.Vec3{X: v.X, Y: v.Y, Z: v.Z}
		}
		p.History = hist
	}
	return p
}

// Vec converts a wire position into a gonum vector.
func Vec(v simapi.Vec3) r3.Vec {
	return r3.Vec{X: v.X, Y: v.Y, Z: v.Z}
}
