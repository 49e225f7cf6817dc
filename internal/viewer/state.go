package viewer

import (
	"encoding/json"
	"sort"

	"github.com/banshee-data/particleview/internal/config"
	"github.com/banshee-data/particleview/internal/projection"
	"github.com/banshee-data/particleview/internal/simapi"
)

// Upload status texts shown next to the import button.
const (
	StatusInvalidFile     = "invalid file"
	StatusImportSucceeded = "import succeeded"
	StatusImportFailed    = "import failed"
)

// State is everything the viewer knows locally. It is owned by the
// executor goroutine and never persisted; a reload rebuilds it from the
// configuration.
type State struct {
	ParticleSize         float64
	ParticleColor        uint32
	ParticleAsMesh       bool
	DontUpdateWhenPaused bool
	ScaleEnabled         bool
	ScaleParams          simapi.BoundingBox
	SizeRange            projection.SizeRange

	RealBoxSize     *simapi.BoundingBox
	HiddenParticles map[int]bool

	SelectedParticleID *int
	HoveredParticleID  *int
	Popup              string

	LatestParticlesData []simapi.Particle
	LatestSettings      *simapi.Settings

	ParticlesUploadedSave json.RawMessage
	UploadStatus          string
	HistoryResolution     int
	GUIVisible            bool
	Closed                bool
}

// NewState returns the initial state described by cfg.
func NewState(cfg *config.ViewerConfig) *State {
	if cfg == nil {
		cfg = config.EmptyViewerConfig()
	}
	return &State{
		ParticleSize:         cfg.GetParticleSize(),
		ParticleColor:        cfg.GetParticleColor(),
		ParticleAsMesh:       cfg.GetRenderMode() == projection.ModeMesh,
		DontUpdateWhenPaused: cfg.GetDontUpdateWhenPaused(),
		ScaleEnabled:         cfg.GetScaleEnabled(),
		ScaleParams:          cfg.GetScaleBox(),
		SizeRange:            cfg.GetSizeRange(),
		HiddenParticles:      make(map[int]bool),
		HistoryResolution:    cfg.GetHistoryResolution(),
		GUIVisible:           true,
	}
}

// Paused returns the pause flag of the last settings poll.
func (s *State) Paused() bool {
	return s.LatestSettings != nil && s.LatestSettings.Paused
}

// Mode returns the current render mode.
func (s *State) Mode() projection.Mode {
	if s.ParticleAsMesh {
		return projection.ModeMesh
	}
	return projection.ModePoints
}

// ScaleMap returns the active rescale, or nil when rescaling is off or the
// source box is not known yet.
func (s *State) ScaleMap() *projection.BoxMap {
	if !s.ScaleEnabled || s.RealBoxSize == nil {
		return nil
	}
	return &projection.BoxMap{Src: *s.RealBoxSize, Dst: s.ScaleParams}
}

// Options returns the projection options for the current preferences.
func (s *State) Options() projection.Options {
	return projection.Options{
		Mode:         s.Mode(),
		ParticleSize: s.ParticleSize,
		Color:        s.ParticleColor,
		Scale:        s.ScaleMap(),
		Hidden:       s.HiddenParticles,
	}
}

// VisibleRows lists the cached particles that are not hidden, in fetch
// order.
func (s *State) VisibleRows() []simapi.Particle {
	return projection.Filter(s.LatestParticlesData, s.HiddenParticles)
}

// Particle looks up a cached particle by id.
func (s *State) Particle(id int) (simapi.Particle, bool) {
	for _, p := range s.LatestParticlesData {
		if p.ID == id {
			return p, true
		}
	}
	return simapi.Particle{}, false
}

// HiddenIDs returns the hidden set sorted.
func (s *State) HiddenIDs() []int {
	ids := make([]int, 0, len(s.HiddenParticles))
	for id := range s.HiddenParticles {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Snapshot is a read-only copy of the state published after every command,
// served to the control panel.
type Snapshot struct {
	ParticleSize         float64             `json:"particle_size"`
	ParticleColor        string              `json:"particle_color"`
	RenderMode           string              `json:"render_mode"`
	DontUpdateWhenPaused bool                `json:"dont_update_when_paused"`
	ScaleEnabled         bool                `json:"scale_enabled"`
	ScaleBox             simapi.BoundingBox  `json:"scale_box"`
	RealBox              *simapi.BoundingBox `json:"real_box,omitempty"`
	Hidden               []int               `json:"hidden"`
	SelectedID           *int                `json:"selected_id,omitempty"`
	HoveredID            *int                `json:"hovered_id,omitempty"`
	Popup                string              `json:"popup,omitempty"`
	Settings             *simapi.Settings    `json:"settings,omitempty"`
	ParticleCount        int                 `json:"particle_count"`
	VisibleCount         int                 `json:"visible_count"`
	UploadStatus         string              `json:"upload_status"`
	HasUploadedSave      bool                `json:"has_uploaded_save"`
	HistoryResolution    int                 `json:"history_resolution"`
	GUIVisible           bool                `json:"gui_visible"`
	Closed               bool                `json:"closed"`
	Recording            bool                `json:"recording"`
	PollingParticles     bool                `json:"polling_particles"`
	PollingSettings      bool                `json:"polling_settings"`
}

// Paused returns the pause flag of the last settings poll.
func (s *Snapshot) Paused() bool {
	return s.Settings != nil && s.Settings.Paused
}

func (s *State) snapshot() *Snapshot {
	snap := &Snapshot{
		ParticleSize:         s.ParticleSize,
		ParticleColor:        projection.FormatColor(s.ParticleColor),
		RenderMode:           s.Mode().String(),
		DontUpdateWhenPaused: s.DontUpdateWhenPaused,
		ScaleEnabled:         s.ScaleEnabled,
		ScaleBox:             s.ScaleParams,
		Hidden:               s.HiddenIDs(),
		Popup:                s.Popup,
		ParticleCount:        len(s.LatestParticlesData),
		VisibleCount:         len(s.VisibleRows()),
		UploadStatus:         s.UploadStatus,
		HasUploadedSave:      s.ParticlesUploadedSave != nil,
		HistoryResolution:    s.HistoryResolution,
		GUIVisible:           s.GUIVisible,
		Closed:               s.Closed,
	}
	if s.RealBoxSize != nil {
		b := *s.RealBoxSize
		snap.RealBox = &b
	}
	if s.SelectedParticleID != nil {
		id := *s.SelectedParticleID
		snap.SelectedID = &id
	}
	if s.HoveredParticleID != nil {
		id := *s.HoveredParticleID
		snap.HoveredID = &id
	}
	if s.LatestSettings != nil {
		st := *s.LatestSettings
		snap.Settings = &st
	}
	return snap
}
