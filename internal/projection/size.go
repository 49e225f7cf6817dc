package projection

import (
	"math"

	"github.com/banshee-data/particleview/internal/simapi"
)

// SizeRange bounds the derived display size of a particle.
type SizeRange struct {
	Min float64
	Max float64
}

// DefaultSizeRange is used when the configuration does not override it.
var DefaultSizeRange = SizeRange{Min: 0.5, Max: 10}

// rawSize is cbrt(mass/density): the radius of a sphere of that mass and
// density, up to a constant.
func rawSize(p simapi.Particle) float64 {
	density := p.Density
	if density <= 0 {
		density = 1
	}
	if p.Mass <= 0 {
		return 0
	}
	return math.Cbrt(p.Mass / density)
}

// AssignDisplaySizes computes DisplaySize for every particle of a freshly
// fetched batch, in place. The largest raw size maps to r.Max and every
// size is clamped to at least r.Min. Call it once per batch; projections
// of the same batch reuse the cached values.
func AssignDisplaySizes(batch []simapi.Particle, r SizeRange) {
	maxRaw := 0.0
	for i := range batch {
		if s := rawSize(batch[i]); s > maxRaw {
			maxRaw = s
		}
	}
	for i := range batch {
		size := r.Min
		if maxRaw > 0 {
			size = math.Max(r.Min, rawSize(batch[i])/maxRaw*r.Max)
		}
		batch[i].DisplaySize = size
	}
}
