package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/particleview/internal/config"
	"github.com/banshee-data/particleview/internal/projection"
	"github.com/banshee-data/particleview/internal/scene"
	"github.com/banshee-data/particleview/internal/simapi"
	"github.com/banshee-data/particleview/internal/timeutil"
)

var (
	// ErrNotConfirmed is returned by destructive commands called without
	// confirmation.
	ErrNotConfirmed = errors.New("action requires confirmation")
	// ErrClosed is returned once the viewer has been closed.
	ErrClosed = errors.New("viewer is closed")
	// ErrInvalidUpload is returned when an uploaded file is not JSON.
	ErrInvalidUpload = errors.New("invalid particle file")
	// ErrNoRecorder is returned by ToggleRecording when recording is not
	// configured.
	ErrNoRecorder = errors.New("recording is not configured")
	// ErrUnknownParticle is returned by SelectID for ids not in the batch.
	ErrUnknownParticle = errors.New("unknown particle")
	// ErrInvalidInput wraps rejected form values.
	ErrInvalidInput = errors.New("invalid input")
)

// MaxUploadBytes bounds an uploaded particle file.
const MaxUploadBytes = 32 << 20

// Render form keys.
const (
	FormParticleSize     = "particle_size"
	FormParticleColor    = "particle_color"
	FormRenderType       = "render_type"
	FormUpdateWhenPaused = "update_when_paused"
)

// SubmitSettings posts the filled simulation fields of form, then re-fetches
// the settings. An empty form sends nothing and returns simapi.ErrEmptyForm.
func (c *Controller) SubmitSettings(ctx context.Context, form map[string]string) error {
	return c.submitUpdate(ctx, "settings", form, simapi.SimulationFields)
}

// SubmitBox posts the filled bounding-box fields of form, then re-fetches
// the settings.
func (c *Controller) SubmitBox(ctx context.Context, form map[string]string) error {
	return c.submitUpdate(ctx, "box", form, simapi.BoxFields)
}

func (c *Controller) submitUpdate(ctx context.Context, name string, form map[string]string, fields []string) error {
	c.metrics.Command(name)
	if err := c.checkOpen(); err != nil {
		return err
	}
	update, err := simapi.ParseSettingsUpdate(form, fields)
	if err != nil {
		return err
	}
	if err := c.client.UpdateSettings(ctx, update); err != nil {
		return c.wrap("update "+name, err)
	}
	c.refetch(true, false)
	return nil
}

// TogglePause resumes the simulation when the last poll saw it paused and
// pauses it otherwise, then re-fetches the settings.
func (c *Controller) TogglePause(ctx context.Context) error {
	c.metrics.Command("pause")
	if err := c.checkOpen(); err != nil {
		return err
	}
	var err error
	if c.Snapshot().Paused() {
		err = c.client.Resume(ctx)
	} else {
		err = c.client.Pause(ctx)
	}
	if err != nil {
		return c.wrap("toggle pause", err)
	}
	c.refetch(true, false)
	return nil
}

// Rewind rolls the simulation back by seconds and re-fetches everything.
func (c *Controller) Rewind(ctx context.Context, seconds float64) error {
	c.metrics.Command("rewind")
	if err := c.checkOpen(); err != nil {
		return err
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return fmt.Errorf("%w: rewind time must be a non-negative number, got %v", ErrInvalidInput, seconds)
	}
	if err := c.client.Rewind(ctx, seconds); err != nil {
		return c.wrap("rewind", err)
	}
	c.refetch(true, true)
	return nil
}

// Reset restores the simulation. When a particle file was uploaded it is
// replayed; otherwise the backend is reset and the viewer reloads from its
// configured defaults.
func (c *Controller) Reset(ctx context.Context, confirmed bool) error {
	c.metrics.Command("reset")
	if !confirmed {
		return ErrNotConfirmed
	}
	if err := c.checkOpen(); err != nil {
		return err
	}

	var saved json.RawMessage
	if err := c.exec.Do(ctx, func() error {
		saved = c.state.ParticlesUploadedSave
		return nil
	}); err != nil {
		return err
	}

	if saved != nil {
		if err := c.client.UploadParticles(ctx, saved); err != nil {
			return c.wrap("replay upload", err)
		}
		c.refetch(true, true)
		return nil
	}

	if err := c.client.Reset(ctx); err != nil {
		return c.wrap("reset", err)
	}
	return c.exec.Do(ctx, func() error {
		c.reload()
		c.publish()
		return nil
	})
}

// reload is the equivalent of reopening the page: fresh state, empty scene,
// polling restarted and an immediate fetch.
func (c *Controller) reload() {
	c.stopPolling()
	if c.statusTimer != nil {
		c.statusTimer.Stop()
		c.statusTimer = nil
	}
	c.state = NewState(c.prefs)
	c.scene.Clear()
	c.startPolling()
	c.fetchSettings()
	c.fetchParticles()
}

// Close stops polling, asks the backend to stop and marks the viewer
// closed. Done is closed after the configured grace period.
func (c *Controller) Close(ctx context.Context, confirmed bool) error {
	c.metrics.Command("close")
	if !confirmed {
		return ErrNotConfirmed
	}
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.exec.Do(ctx, func() error {
		c.stopPolling()
		c.publish()
		return nil
	}); err != nil {
		return err
	}

	if err := c.client.Stop(ctx); err != nil {
		return c.wrap("stop backend", err)
	}

	if err := c.do(ctx, func(s *State) error {
		s.Closed = true
		return nil
	}); err != nil {
		return err
	}
	c.logf("application stopped")

	t := c.clock.NewTimer(c.cfg.GetCloseGrace())
	go func() {
		select {
		case <-t.C():
			c.finish()
		case <-c.life.Done():
			t.Stop()
		}
	}()
	return nil
}

// Upload validates r as JSON and posts it as the new particle set. The
// upload status text reflects the outcome and clears itself after a delay.
func (c *Controller) Upload(ctx context.Context, r io.Reader) error {
	c.metrics.Command("upload")
	if err := c.checkOpen(); err != nil {
		return err
	}
	raw, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return c.wrap("read upload", err)
	}
	if len(raw) > MaxUploadBytes || !json.Valid(raw) {
		c.setStatus(ctx, StatusInvalidFile)
		return ErrInvalidUpload
	}

	if err := c.client.UploadParticles(ctx, raw); err != nil {
		c.setStatus(ctx, StatusImportFailed)
		return c.wrap("upload particles", err)
	}

	if err := c.do(ctx, func(s *State) error {
		s.ParticlesUploadedSave = json.RawMessage(raw)
		c.setUploadStatus(StatusImportSucceeded)
		return nil
	}); err != nil {
		return err
	}
	c.refetch(false, true)
	return nil
}

func (c *Controller) setStatus(ctx context.Context, text string) {
	_ = c.do(ctx, func(*State) error {
		c.setUploadStatus(text)
		return nil
	})
}

// setUploadStatus runs on the executor. A newer status cancels the pending
// clear of an older one.
func (c *Controller) setUploadStatus(text string) {
	c.state.UploadStatus = text
	if c.statusTimer != nil {
		c.statusTimer.Stop()
	}
	t := c.clock.NewTimer(c.cfg.GetStatusClearDelay())
	c.statusTimer = t
	go c.clearStatusAfter(t)
}

func (c *Controller) clearStatusAfter(t timeutil.Timer) {
	select {
	case <-t.C():
	case <-c.life.Done():
		return
	}
	c.exec.Post(func() {
		if c.statusTimer != t {
			return
		}
		c.statusTimer = nil
		c.state.UploadStatus = ""
		c.publish()
	})
}

// Download writes the mirrored batch as indented JSON.
func (c *Controller) Download(ctx context.Context, w io.Writer) error {
	c.metrics.Command("download")
	var data []simapi.Particle
	if err := c.exec.Do(ctx, func() error {
		data = append([]simapi.Particle{}, c.state.LatestParticlesData...)
		return nil
	}); err != nil {
		return err
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return c.wrap("encode particles", err)
	}
	_, err = w.Write(b)
	return err
}

// SetRender applies the render form: blank fields keep their value. The
// cached batch is re-projected and polling is re-evaluated against the
// pause preference.
func (c *Controller) SetRender(ctx context.Context, form map[string]string) error {
	c.metrics.Command("render")

	var (
		size   *float64
		color  *uint32
		mode   *projection.Mode
		update *bool
	)
	if v := strings.TrimSpace(form[FormParticleSize]); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %s %q", ErrInvalidInput, FormParticleSize, v)
		}
		size = &f
	}
	if v := strings.TrimSpace(form[FormParticleColor]); v != "" {
		col, err := projection.ParseColor(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidInput, FormParticleColor, err)
		}
		color = &col
	}
	if v := strings.TrimSpace(form[FormRenderType]); v != "" {
		m, err := projection.ParseMode(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidInput, FormRenderType, err)
		}
		mode = &m
	}
	if v := strings.TrimSpace(form[FormUpdateWhenPaused]); v != "" {
		b, err := parseCheckbox(v)
		if err != nil {
			return fmt.Errorf("%w: %s %q", ErrInvalidInput, FormUpdateWhenPaused, v)
		}
		update = &b
	}

	return c.do(ctx, func(s *State) error {
		if size != nil {
			s.ParticleSize = *size
		}
		if color != nil {
			s.ParticleColor = *color
		}
		if mode != nil {
			s.ParticleAsMesh = *mode == projection.ModeMesh
		}
		if update != nil {
			s.DontUpdateWhenPaused = !*update
		}
		c.render()
		c.reconcilePolling()
		return nil
	})
}

func parseCheckbox(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(v)
}

// ApplyConfig replaces the render preferences with those of cfg, as after
// a config file edit, and re-projects.
func (c *Controller) ApplyConfig(ctx context.Context, cfg *config.ViewerConfig) error {
	return c.do(ctx, func(s *State) error {
		c.prefs = cfg
		s.ParticleSize = cfg.GetParticleSize()
		s.ParticleColor = cfg.GetParticleColor()
		s.ParticleAsMesh = cfg.GetRenderMode() == projection.ModeMesh
		s.DontUpdateWhenPaused = cfg.GetDontUpdateWhenPaused()
		s.ScaleEnabled = cfg.GetScaleEnabled()
		s.ScaleParams = cfg.GetScaleBox()
		if r := cfg.GetSizeRange(); r != s.SizeRange {
			s.SizeRange = r
			projection.AssignDisplaySizes(s.LatestParticlesData, r)
		}
		c.drawBox()
		c.render()
		c.reconcilePolling()
		return nil
	})
}

// ToggleScale flips rescaling and re-projects the cached batch.
func (c *Controller) ToggleScale(ctx context.Context) (bool, error) {
	c.metrics.Command("scale_toggle")
	var enabled bool
	err := c.do(ctx, func(s *State) error {
		s.ScaleEnabled = !s.ScaleEnabled
		enabled = s.ScaleEnabled
		c.drawBox()
		c.render()
		return nil
	})
	return enabled, err
}

// SetScale sets the rescale destination box. Blank fields fall back to the
// default box.
func (c *Controller) SetScale(ctx context.Context, form map[string]string) error {
	c.metrics.Command("scale")
	box := config.DefaultScaleBox()
	targets := map[string]*float64{
		"MIN_X": &box.MinX, "MIN_Y": &box.MinY, "MIN_Z": &box.MinZ,
		"MAX_X": &box.MaxX, "MAX_Y": &box.MaxY, "MAX_Z": &box.MaxZ,
	}
	for _, key := range simapi.BoxFields {
		v := strings.TrimSpace(form[key])
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %s %q", ErrInvalidInput, key, v)
		}
		*targets[key] = f
	}
	if box.MinX > box.MaxX || box.MinY > box.MaxY || box.MinZ > box.MaxZ {
		return fmt.Errorf("%w: scale box minimum exceeds maximum", ErrInvalidInput)
	}

	return c.do(ctx, func(s *State) error {
		s.ScaleParams = box
		c.drawBox()
		c.render()
		return nil
	})
}

// Hide removes a particle from the projection. The mirrored data is left
// untouched.
func (c *Controller) Hide(ctx context.Context, id int) error {
	c.metrics.Command("hide")
	return c.do(ctx, func(s *State) error {
		s.HiddenParticles[id] = true
		if s.HoveredParticleID != nil && *s.HoveredParticleID == id {
			s.HoveredParticleID = nil
		}
		c.render()
		return nil
	})
}

// Show restores a hidden particle.
func (c *Controller) Show(ctx context.Context, id int) error {
	c.metrics.Command("show")
	return c.do(ctx, func(s *State) error {
		delete(s.HiddenParticles, id)
		c.render()
		return nil
	})
}

// ShowAll clears the hidden set.
func (c *Controller) ShowAll(ctx context.Context) error {
	c.metrics.Command("show_all")
	return c.do(ctx, func(s *State) error {
		clear(s.HiddenParticles)
		c.render()
		return nil
	})
}

// VisibleRows returns the particle list rows: the mirrored batch minus the
// hidden ids.
func (c *Controller) VisibleRows(ctx context.Context) ([]simapi.Particle, error) {
	var rows []simapi.Particle
	err := c.exec.Do(ctx, func() error {
		rows = c.state.VisibleRows()
		return nil
	})
	return rows, err
}

// Particle returns a mirrored particle by id.
func (c *Controller) Particle(ctx context.Context, id int) (simapi.Particle, bool, error) {
	var (
		p  simapi.Particle
		ok bool
	)
	err := c.exec.Do(ctx, func() error {
		p, ok = c.state.Particle(id)
		return nil
	})
	return p, ok, err
}

// Hover picks the particle under screen pixel (sx, sy) and shows its info
// popup. A miss clears the hover.
func (c *Controller) Hover(ctx context.Context, sx, sy float64) (int, bool, error) {
	var (
		id  int
		hit bool
	)
	err := c.do(ctx, func(s *State) error {
		id, hit = scene.Pick(c.scene.Snapshot(), c.scene.Camera().State(), sx, sy)
		if hit {
			s.HoveredParticleID = &id
		} else {
			s.HoveredParticleID = nil
		}
		c.updateFocus()
		return nil
	})
	return id, hit, err
}

// Select picks the particle under screen pixel (sx, sy), showing its popup
// and trail. A miss clears the selection.
func (c *Controller) Select(ctx context.Context, sx, sy float64) (int, bool, error) {
	c.metrics.Command("select")
	var (
		id  int
		hit bool
	)
	err := c.do(ctx, func(s *State) error {
		id, hit = scene.Pick(c.scene.Snapshot(), c.scene.Camera().State(), sx, sy)
		if hit {
			s.SelectedParticleID = &id
		} else {
			s.SelectedParticleID = nil
		}
		c.updateFocus()
		return nil
	})
	return id, hit, err
}

// SelectID selects a particle from the list by id.
func (c *Controller) SelectID(ctx context.Context, id int) error {
	c.metrics.Command("select")
	return c.do(ctx, func(s *State) error {
		if _, ok := s.Particle(id); !ok {
			return fmt.Errorf("%w: %d", ErrUnknownParticle, id)
		}
		s.SelectedParticleID = &id
		c.updateFocus()
		return nil
	})
}

// ClearSelection drops the hovered and selected particles.
func (c *Controller) ClearSelection(ctx context.Context) error {
	return c.do(ctx, func(s *State) error {
		s.SelectedParticleID = nil
		s.HoveredParticleID = nil
		c.updateFocus()
		return nil
	})
}

// ToggleRecording starts a recording session when idle and stops the
// current one otherwise. It returns whether a session is now active.
func (c *Controller) ToggleRecording(ctx context.Context) (bool, error) {
	c.metrics.Command("record")
	if c.recorder == nil {
		return false, ErrNoRecorder
	}
	var err error
	if c.recorder.Recording() {
		err = c.recorder.Stop(ctx)
	} else {
		_, err = c.recorder.Start(ctx)
	}
	if perr := c.do(ctx, func(*State) error { return nil }); perr != nil && err == nil {
		err = perr
	}
	return c.recorder.Recording(), err
}

// ToggleGUI flips the control panel visibility flag.
func (c *Controller) ToggleGUI(ctx context.Context) (bool, error) {
	var visible bool
	err := c.do(ctx, func(s *State) error {
		s.GUIVisible = !s.GUIVisible
		visible = s.GUIVisible
		return nil
	})
	return visible, err
}

// Resize changes the viewport used by the camera and renderers.
func (c *Controller) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: viewport %dx%d", ErrInvalidInput, width, height)
	}
	c.scene.Resize(width, height)
	return nil
}
