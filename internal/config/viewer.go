package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/particleview/internal/projection"
	"github.com/banshee-data/particleview/internal/simapi"
)

// DefaultConfigPath is the path to the canonical viewer defaults file.
const DefaultConfigPath = "config/viewer.defaults.json"

// ViewerConfig is the viewer's startup configuration. Every field is
// optional; the Get* accessors supply the defaults for anything unset, so a
// partial file is safe.
type ViewerConfig struct {
	// Backend and listeners
	APIURL         *string `json:"api_url,omitempty"`
	Listen         *string `json:"listen,omitempty"`
	GRPCListen     *string `json:"grpc_listen,omitempty"`
	RequestTimeout *string `json:"request_timeout,omitempty"` // duration string like "2s"

	// Polling and rendering cadence
	ParticlePollInterval *string `json:"particle_poll_interval,omitempty"`
	SettingsPollInterval *string `json:"settings_poll_interval,omitempty"`
	FPS                  *int    `json:"fps,omitempty"`
	ViewportWidth        *int    `json:"viewport_width,omitempty"`
	ViewportHeight       *int    `json:"viewport_height,omitempty"`

	// Render preferences (hot-reloadable)
	ParticleSize         *float64            `json:"particle_size,omitempty"`
	ParticleColor        *string             `json:"particle_color,omitempty"`
	RenderMode           *string             `json:"render_mode,omitempty"` // "mesh" or "points"
	DontUpdateWhenPaused *bool               `json:"dont_update_when_paused,omitempty"`
	ScaleEnabled         *bool               `json:"scale_enabled,omitempty"`
	ScaleBox             *simapi.BoundingBox `json:"scale_box,omitempty"`
	SizeMin              *float64            `json:"size_min,omitempty"`
	SizeMax              *float64            `json:"size_max,omitempty"`
	HistoryResolution    *int                `json:"history_resolution,omitempty"`

	// Timers
	StatusClearDelay *string `json:"status_clear_delay,omitempty"`
	CloseGrace       *string `json:"close_grace,omitempty"`

	// Recording
	RecordingsDB *string `json:"recordings_db,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Default values, shared by DefaultViewerConfig and the Get* fallbacks.
const (
	defaultAPIURL               = "http://127.0.0.1:8080"
	defaultListen               = ":5000"
	defaultRequestTimeout       = 2 * time.Second
	defaultParticlePollInterval = 200 * time.Millisecond
	defaultSettingsPollInterval = 1000 * time.Millisecond
	defaultFPS                  = 30
	defaultViewportWidth        = 1280
	defaultViewportHeight       = 720
	defaultParticleColor        = "#ffff00"
	defaultStatusClearDelay     = 3 * time.Second
	defaultCloseGrace           = 1 * time.Second
	defaultRecordingsDB         = "recordings.db"
	defaultScaleExtent          = 500.0
)

// DefaultScaleBox is the rescale destination used when none is configured.
func DefaultScaleBox() simapi.BoundingBox {
	e := defaultScaleExtent
	return simapi.BoundingBox{MinX: -e, MinY: -e, MinZ: -e, MaxX: e, MaxY: e, MaxZ: e}
}

// EmptyViewerConfig returns a ViewerConfig with all fields unset.
func EmptyViewerConfig() *ViewerConfig {
	return &ViewerConfig{}
}

// DefaultViewerConfig returns a ViewerConfig with every field set to its
// default.
func DefaultViewerConfig() *ViewerConfig {
	box := DefaultScaleBox()
	return &ViewerConfig{
		APIURL:               ptrString(defaultAPIURL),
		Listen:               ptrString(defaultListen),
		GRPCListen:           ptrString(""),
		RequestTimeout:       ptrString(defaultRequestTimeout.String()),
		ParticlePollInterval: ptrString(defaultParticlePollInterval.String()),
		SettingsPollInterval: ptrString(defaultSettingsPollInterval.String()),
		FPS:                  ptrInt(defaultFPS),
		ViewportWidth:        ptrInt(defaultViewportWidth),
		ViewportHeight:       ptrInt(defaultViewportHeight),
		ParticleSize:         ptrFloat64(projection.DefaultParticleSize),
		ParticleColor:        ptrString(defaultParticleColor),
		RenderMode:           ptrString(projection.ModeMesh.String()),
		DontUpdateWhenPaused: ptrBool(false),
		ScaleEnabled:         ptrBool(false),
		ScaleBox:             &box,
		SizeMin:              ptrFloat64(projection.DefaultSizeRange.Min),
		SizeMax:              ptrFloat64(projection.DefaultSizeRange.Max),
		HistoryResolution:    ptrInt(0),
		StatusClearDelay:     ptrString(defaultStatusClearDelay.String()),
		CloseGrace:           ptrString(defaultCloseGrace.String()),
		RecordingsDB:         ptrString(defaultRecordingsDB),
	}
}

// LoadViewerConfig loads a ViewerConfig from a JSON file. The file must have
// a .json extension and be under 1MB.
func LoadViewerConfig(path string) (*ViewerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyViewerConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *ViewerConfig) Validate() error {
	if c.APIURL != nil {
		u, err := url.Parse(*c.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("api_url must be an http(s) URL, got %q", *c.APIURL)
		}
	}

	durations := map[string]*string{
		"request_timeout":        c.RequestTimeout,
		"particle_poll_interval": c.ParticlePollInterval,
		"settings_poll_interval": c.SettingsPollInterval,
		"status_clear_delay":     c.StatusClearDelay,
		"close_grace":            c.CloseGrace,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.FPS != nil && (*c.FPS <= 0 || *c.FPS > 240) {
		return fmt.Errorf("fps must be between 1 and 240, got %d", *c.FPS)
	}
	if c.ViewportWidth != nil && *c.ViewportWidth <= 0 {
		return fmt.Errorf("viewport_width must be positive, got %d", *c.ViewportWidth)
	}
	if c.ViewportHeight != nil && *c.ViewportHeight <= 0 {
		return fmt.Errorf("viewport_height must be positive, got %d", *c.ViewportHeight)
	}
	if c.ParticleSize != nil && *c.ParticleSize <= 0 {
		return fmt.Errorf("particle_size must be positive, got %f", *c.ParticleSize)
	}
	if c.ParticleColor != nil {
		if _, err := projection.ParseColor(*c.ParticleColor); err != nil {
			return fmt.Errorf("invalid particle_color: %w", err)
		}
	}
	if c.RenderMode != nil {
		if _, err := projection.ParseMode(*c.RenderMode); err != nil {
			return fmt.Errorf("invalid render_mode: %w", err)
		}
	}
	if c.ScaleBox != nil {
		b := c.ScaleBox
		if b.MinX > b.MaxX || b.MinY > b.MaxY || b.MinZ > b.MaxZ {
			return fmt.Errorf("scale_box minimum exceeds maximum: %+v", *b)
		}
	}
	if r := c.GetSizeRange(); r.Min <= 0 || r.Max < r.Min {
		return fmt.Errorf("size range must satisfy 0 < size_min <= size_max, got [%g, %g]", r.Min, r.Max)
	}
	if c.HistoryResolution != nil && *c.HistoryResolution < 0 {
		return fmt.Errorf("history_resolution must not be negative, got %d", *c.HistoryResolution)
	}
	return nil
}

// Merge overlays every field set in o onto c.
func (c *ViewerConfig) Merge(o *ViewerConfig) {
	if o == nil {
		return
	}
	mergeString := func(dst **string, src *string) {
		if src != nil {
			*dst = src
		}
	}
	mergeString(&c.APIURL, o.APIURL)
	mergeString(&c.Listen, o.Listen)
	mergeString(&c.GRPCListen, o.GRPCListen)
	mergeString(&c.RequestTimeout, o.RequestTimeout)
	mergeString(&c.ParticlePollInterval, o.ParticlePollInterval)
	mergeString(&c.SettingsPollInterval, o.SettingsPollInterval)
	mergeString(&c.ParticleColor, o.ParticleColor)
	mergeString(&c.RenderMode, o.RenderMode)
	mergeString(&c.StatusClearDelay, o.StatusClearDelay)
	mergeString(&c.CloseGrace, o.CloseGrace)
	mergeString(&c.RecordingsDB, o.RecordingsDB)
	if o.FPS != nil {
		c.FPS = o.FPS
	}
	if o.ViewportWidth != nil {
		c.ViewportWidth = o.ViewportWidth
	}
	if o.ViewportHeight != nil {
		c.ViewportHeight = o.ViewportHeight
	}
	if o.ParticleSize != nil {
		c.ParticleSize = o.ParticleSize
	}
	if o.DontUpdateWhenPaused != nil {
		c.DontUpdateWhenPaused = o.DontUpdateWhenPaused
	}
	if o.ScaleEnabled != nil {
		c.ScaleEnabled = o.ScaleEnabled
	}
	if o.ScaleBox != nil {
		c.ScaleBox = o.ScaleBox
	}
	if o.SizeMin != nil {
		c.SizeMin = o.SizeMin
	}
	if o.SizeMax != nil {
		c.SizeMax = o.SizeMax
	}
	if o.HistoryResolution != nil {
		c.HistoryResolution = o.HistoryResolution
	}
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetAPIURL returns the backend base URL.
func (c *ViewerConfig) GetAPIURL() string {
	if c.APIURL == nil || *c.APIURL == "" {
		return defaultAPIURL
	}
	return *c.APIURL
}

// GetListen returns the HTTP listen address.
func (c *ViewerConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return defaultListen
	}
	return *c.Listen
}

// GetGRPCListen returns the gRPC health listen address; empty disables it.
func (c *ViewerConfig) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return ""
	}
	return *c.GRPCListen
}

// GetRequestTimeout returns the backend request timeout.
func (c *ViewerConfig) GetRequestTimeout() time.Duration {
	return durationOr(c.RequestTimeout, defaultRequestTimeout)
}

// GetParticlePollInterval returns the particle poll period.
func (c *ViewerConfig) GetParticlePollInterval() time.Duration {
	return durationOr(c.ParticlePollInterval, defaultParticlePollInterval)
}

// GetSettingsPollInterval returns the settings poll period.
func (c *ViewerConfig) GetSettingsPollInterval() time.Duration {
	return durationOr(c.SettingsPollInterval, defaultSettingsPollInterval)
}

// GetFPS returns the render loop rate.
func (c *ViewerConfig) GetFPS() int {
	if c.FPS == nil || *c.FPS <= 0 {
		return defaultFPS
	}
	return *c.FPS
}

// GetViewport returns the initial viewport size in pixels.
func (c *ViewerConfig) GetViewport() (width, height int) {
	width, height = defaultViewportWidth, defaultViewportHeight
	if c.ViewportWidth != nil && *c.ViewportWidth > 0 {
		width = *c.ViewportWidth
	}
	if c.ViewportHeight != nil && *c.ViewportHeight > 0 {
		height = *c.ViewportHeight
	}
	return width, height
}

// GetParticleSize returns the base particle size.
func (c *ViewerConfig) GetParticleSize() float64 {
	if c.ParticleSize == nil || *c.ParticleSize <= 0 {
		return projection.DefaultParticleSize
	}
	return *c.ParticleSize
}

// GetParticleColor returns the default particle colour as 0xRRGGBB.
func (c *ViewerConfig) GetParticleColor() uint32 {
	if c.ParticleColor == nil {
		return projection.DefaultColor
	}
	col, err := projection.ParseColor(*c.ParticleColor)
	if err != nil {
		return projection.DefaultColor
	}
	return col
}

// GetRenderMode returns mesh or points.
func (c *ViewerConfig) GetRenderMode() projection.Mode {
	if c.RenderMode == nil {
		return projection.ModeMesh
	}
	m, err := projection.ParseMode(*c.RenderMode)
	if err != nil {
		return projection.ModeMesh
	}
	return m
}

// GetDontUpdateWhenPaused reports whether polling stops while paused.
func (c *ViewerConfig) GetDontUpdateWhenPaused() bool {
	if c.DontUpdateWhenPaused == nil {
		return false
	}
	return *c.DontUpdateWhenPaused
}

// GetScaleEnabled reports whether rescaling starts enabled.
func (c *ViewerConfig) GetScaleEnabled() bool {
	if c.ScaleEnabled == nil {
		return false
	}
	return *c.ScaleEnabled
}

// GetScaleBox returns the rescale destination box.
func (c *ViewerConfig) GetScaleBox() simapi.BoundingBox {
	if c.ScaleBox == nil {
		return DefaultScaleBox()
	}
	return *c.ScaleBox
}

// GetSizeRange returns the display size range.
func (c *ViewerConfig) GetSizeRange() projection.SizeRange {
	r := projection.DefaultSizeRange
	if c.SizeMin != nil {
		r.Min = *c.SizeMin
	}
	if c.SizeMax != nil {
		r.Max = *c.SizeMax
	}
	return r
}

// GetHistoryResolution returns the history_resolution query value; 0 omits
// it.
func (c *ViewerConfig) GetHistoryResolution() int {
	if c.HistoryResolution == nil || *c.HistoryResolution < 0 {
		return 0
	}
	return *c.HistoryResolution
}

// GetStatusClearDelay returns how long upload status text stays visible.
func (c *ViewerConfig) GetStatusClearDelay() time.Duration {
	return durationOr(c.StatusClearDelay, defaultStatusClearDelay)
}

// GetCloseGrace returns the delay between closing and process exit.
func (c *ViewerConfig) GetCloseGrace() time.Duration {
	return durationOr(c.CloseGrace, defaultCloseGrace)
}

// GetRecordingsDB returns the recorder database path.
func (c *ViewerConfig) GetRecordingsDB() string {
	if c.RecordingsDB == nil || *c.RecordingsDB == "" {
		return defaultRecordingsDB
	}
	return *c.RecordingsDB
}
