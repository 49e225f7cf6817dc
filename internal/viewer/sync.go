package viewer

import (
	"github.com/banshee-data/particleview/internal/monitoring"
	"github.com/banshee-data/particleview/internal/projection"
	"github.com/banshee-data/particleview/internal/simapi"
)

var pollLogf = monitoring.Component("Poller")

// fetchParticles starts a particle fetch. It runs on the executor; the
// request runs on its own goroutine and posts the result back. Requests
// overlap when the backend is slower than the poll interval.
func (c *Controller) fetchParticles() {
	res := c.state.HistoryResolution
	c.pending.Add(1)
	go func() {
		defer c.pending.Add(-1)
		start := c.clock.Now()
		data, err := c.client.ListParticles(c.life, res)
		c.metrics.ObservePoll(monitoring.StreamParticles, err, c.clock.Since(start))
		c.exec.Post(func() {
			c.applyParticles(data, err)
			c.publish()
		})
	}()
}

// fetchSettings starts a settings fetch the same way.
func (c *Controller) fetchSettings() {
	c.pending.Add(1)
	go func() {
		defer c.pending.Add(-1)
		start := c.clock.Now()
		s, err := c.client.GetSettings(c.life)
		c.metrics.ObservePoll(monitoring.StreamSettings, err, c.clock.Since(start))
		c.exec.Post(func() {
			c.applySettings(s, err)
			c.publish()
		})
	}()
}

// refetch queues fetches from outside the executor.
func (c *Controller) refetch(settings, particles bool) {
	c.exec.Post(func() {
		if settings {
			c.fetchSettings()
		}
		if particles {
			c.fetchParticles()
		}
	})
}

// applyParticles replaces the mirrored batch wholesale. A failed fetch
// leaves the previous batch in place until the next tick.
func (c *Controller) applyParticles(data []simapi.Particle, err error) {
	if err != nil {
		if !c.particlesErr {
			pollLogf("particles fetch failed: %v", err)
			c.particlesErr = true
		}
		return
	}
	if c.particlesErr {
		pollLogf("particles fetch recovered")
		c.particlesErr = false
	}
	if c.state.Closed {
		return
	}

	projection.AssignDisplaySizes(data, c.state.SizeRange)
	c.state.LatestParticlesData = data
	c.render()
}

// applySettings mirrors the backend settings, redraws the box only when it
// changed, and suspends or resumes polling around pauses.
func (c *Controller) applySettings(s simapi.Settings, err error) {
	if err != nil {
		c.healthy.Store(false)
		if !c.settingsErr {
			pollLogf("settings fetch failed: %v", err)
			c.settingsErr = true
		}
		return
	}
	c.healthy.Store(true)
	if c.settingsErr {
		pollLogf("settings fetch recovered")
		c.settingsErr = false
	}
	if c.state.Closed {
		return
	}

	c.state.LatestSettings = &s
	if s.HistoryResolution > 0 {
		c.state.HistoryResolution = s.HistoryResolution
	}

	if s.Closed {
		pollLogf("backend reports closed, stopping polling")
		c.state.Closed = true
		c.stopPolling()
		return
	}

	if box, ok := s.Box(); ok {
		if c.state.RealBoxSize == nil || !c.state.RealBoxSize.Equal(box) {
			c.state.RealBoxSize = &box
			c.drawBox()
			// The rescale source moved.
			if c.state.ScaleEnabled {
				c.render()
			}
		}
	}

	if c.state.DontUpdateWhenPaused {
		c.reconcilePolling()
	}
}

// render re-projects the cached batch into the scene. It never fetches.
func (c *Controller) render() {
	frame := projection.Project(c.state.LatestParticlesData, c.state.Options())
	c.scene.Apply(frame)
	c.metrics.SetVisible(frame.Count())
	c.updateFocus()
}

func (c *Controller) drawBox() {
	if c.state.RealBoxSize == nil {
		c.scene.ClearBox()
		return
	}
	c.scene.SetBox(*c.state.RealBoxSize, c.state.ScaleMap())
}

// updateFocus refreshes the popup and trail for the focused particle:
// the hovered one, else the selected one. Trails follow the selection.
func (c *Controller) updateFocus() {
	c.state.Popup = ""
	focus := c.state.HoveredParticleID
	if focus == nil {
		focus = c.state.SelectedParticleID
	}
	if focus != nil {
		if p, ok := c.state.Particle(*focus); ok {
			c.state.Popup = projection.Info(p)
		}
	}

	var trail projection.Polyline
	if id := c.state.SelectedParticleID; id != nil {
		if p, ok := c.state.Particle(*id); ok && !c.state.HiddenParticles[p.ID] {
			trail = projection.Trail(p, c.state.ScaleMap())
		}
	}
	c.scene.SetTrail(trail)
}

// reconcilePolling stops both tasks while closed or while paused with
// dontUpdateWhenPaused, and otherwise starts whichever is stopped.
func (c *Controller) reconcilePolling() {
	if c.state.Closed || (c.state.DontUpdateWhenPaused && c.state.Paused()) {
		c.stopPolling()
		return
	}
	c.startPolling()
}

func (c *Controller) startPolling() {
	c.exec.StartTask(TaskParticles)
	c.exec.StartTask(TaskSettings)
}

func (c *Controller) stopPolling() {
	c.exec.StopTask(TaskParticles)
	c.exec.StopTask(TaskSettings)
}
