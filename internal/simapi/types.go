// Package simapi is the client for the simulation backend's REST API and
// the JSON shapes it exchanges.
package simapi

// Vec3 is a position sample, used for particle history.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Particle is one record of GET /api/particles.
type Particle struct {
	ID   int     `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
	VX   float64 `json:"vx"`
	VY   float64 `json:"vy"`
	VZ   float64 `json:"vz"`
	Mass float64 `json:"mass"`

	// Density is the backend's masseVolumique; zero means unset.
	Density  float64 `json:"masseVolumique,omitempty"`
	Name     string  `json:"name,omitempty"`
	ColorHex string  `json:"colorHex,omitempty"`

	// History holds past positions, oldest first.
	History []Vec3 `json:"history,omitempty"`

	// DisplaySize is derived once per fetched batch and never sent.
	DisplaySize float64 `json:"-"`
}

// Position returns the particle's current coordinates.
func (p Particle) Position() Vec3 {
	return Vec3{X: p.X, Y: p.Y, Z: p.Z}
}

// BoundingBox is the simulation box. MIN <= MAX per axis is assumed.
type BoundingBox struct {
	MinX float64 `json:"MIN_X"`
	MinY float64 `json:"MIN_Y"`
	MinZ float64 `json:"MIN_Z"`
	MaxX float64 `json:"MAX_X"`
	MaxY float64 `json:"MAX_Y"`
	MaxZ float64 `json:"MAX_Z"`
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() Vec3 {
	return Vec3{
		X: (b.MinX + b.MaxX) / 2,
		Y: (b.MinY + b.MaxY) / 2,
		Z: (b.MinZ + b.MaxZ) / 2,
	}
}

// Equal reports whether all six bounds match.
func (b BoundingBox) Equal(o BoundingBox) bool { return b == o }

// Settings is the object served by GET /api/settings. The box fields are
// optional: older backends omit them.
type Settings struct {
	Dt                float64 `json:"dt"`
	TTotal            float64 `json:"t_total"`
	CurrentTime       float64 `json:"current_time"`
	NbParticles       int     `json:"nb_particles"`
	Paused            bool    `json:"paused"`
	Closed            bool    `json:"closed,omitempty"`
	RewindMaxHistory  float64 `json:"rewind_max_history,omitempty"`
	HistoryResolution int     `json:"history_resolution,omitempty"`

	MinX *float64 `json:"MIN_X,omitempty"`
	MinY *float64 `json:"MIN_Y,omitempty"`
	MinZ *float64 `json:"MIN_Z,omitempty"`
	MaxX *float64 `json:"MAX_X,omitempty"`
	MaxY *float64 `json:"MAX_Y,omitempty"`
	MaxZ *float64 `json:"MAX_Z,omitempty"`
}

// Box returns the bounding box when all six bounds were reported.
func (s Settings) Box() (BoundingBox, bool) {
	if s.MinX == nil || s.MinY == nil || s.MinZ == nil ||
		s.MaxX == nil || s.MaxY == nil || s.MaxZ == nil {
		return BoundingBox{}, false
	}
	return BoundingBox{
		MinX: *s.MinX, MinY: *s.MinY, MinZ: *s.MinZ,
		MaxX: *s.MaxX, MaxY: *s.MaxY, MaxZ: *s.MaxZ,
	}, true
}

// SettingsUpdate is a partial POST /api/settings payload. Only non-nil
// fields are serialised, so the backend leaves everything else untouched.
type SettingsUpdate struct {
	Dt                *float64 `json:"dt,omitempty" mapstructure:"dt"`
	TTotal            *float64 `json:"t_total,omitempty" mapstructure:"t_total"`
	CurrentTime       *float64 `json:"current_time,omitempty" mapstructure:"current_time"`
	NbParticles       *int     `json:"nb_particles,omitempty" mapstructure:"nb_particles"`
	RewindMaxHistory  *float64 `json:"rewind_max_history,omitempty" mapstructure:"rewind_max_history"`
	HistoryResolution *int     `json:"history_resolution,omitempty" mapstructure:"history_resolution"`

	MinX *float64 `json:"MIN_X,omitempty" mapstructure:"MIN_X"`
	MinY *float64 `json:"MIN_Y,omitempty" mapstructure:"MIN_Y"`
	MinZ *float64 `json:"MIN_Z,omitempty" mapstructure:"MIN_Z"`
	MaxX *float64 `json:"MAX_X,omitempty" mapstructure:"MAX_X"`
	MaxY *float64 `json:"MAX_Y,omitempty" mapstructure:"MAX_Y"`
	MaxZ *float64 `json:"MAX_Z,omitempty" mapstructure:"MAX_Z"`
}

// IsEmpty reports whether the update carries no field at all.
func (u SettingsUpdate) IsEmpty() bool {
	return u.Dt == nil && u.TTotal == nil && u.CurrentTime == nil &&
		u.NbParticles == nil && u.RewindMaxHistory == nil && u.HistoryResolution == nil &&
		u.MinX == nil && u.MinY == nil && u.MinZ == nil &&
		u.MaxX == nil && u.MaxY == nil && u.MaxZ == nil
}

// RewindRequest is the POST /api/rewind payload.
type RewindRequest struct {
	RewindTime float64 `json:"rewind_time"`
}
