package scene

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/particleview/internal/monitoring"
	"github.com/banshee-data/particleview/internal/timeutil"
)

// DefaultFPS is the render loop rate.
const DefaultFPS = 30

// RenderFrame is what renderers receive each tick.
type RenderFrame struct {
	Index  uint64
	Time   time.Time
	View   *View
	Camera CameraState
}

// Renderer consumes render frames. Render is called from the loop goroutine
// and should not block for long.
type Renderer interface {
	Render(f *RenderFrame) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(f *RenderFrame) error

// Render calls fn(f).
func (fn RendererFunc) Render(f *RenderFrame) error { return fn(f) }

// Loop drives the camera and fans scene snapshots out to renderers at a
// fixed rate.
type Loop struct {
	scene    *Scene
	clock    timeutil.Clock
	interval time.Duration
	metrics  *monitoring.Metrics

	mu        sync.RWMutex
	renderers map[string]Renderer

	index  atomic.Uint64
	latest atomic.Pointer[RenderFrame]
}

// NewLoop returns a loop rendering s at fps frames per second. fps <= 0
// selects DefaultFPS.
func NewLoop(s *Scene, clock timeutil.Clock, fps int, metrics *monitoring.Metrics) *Loop {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Loop{
		scene:     s,
		clock:     clock,
		interval:  time.Second / time.Duration(fps),
		metrics:   metrics,
		renderers: make(map[string]Renderer),
	}
}

// Attach registers r under name, replacing any renderer with that name.
func (l *Loop) Attach(name string, r Renderer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.renderers[name] = r
}

// Detach removes the renderer registered under name.
func (l *Loop) Detach(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.renderers, name)
}

// Latest returns the last rendered frame, or nil before the first tick.
func (l *Loop) Latest() *RenderFrame { return l.latest.Load() }

// Run renders one frame per tick until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			l.RenderOnce()
		}
	}
}

// RenderOnce advances the camera and delivers one frame to every renderer.
func (l *Loop) RenderOnce() *RenderFrame {
	cam := l.scene.Camera()
	cam.Update()

	f := &RenderFrame{
		Index:  l.index.Add(1),
		Time:   l.clock.Now(),
		View:   l.scene.Snapshot(),
		Camera: cam.State(),
	}
	l.latest.Store(f)

	l.mu.RLock()
	names := make([]string, 0, len(l.renderers))
	for name := range l.renderers {
		names = append(names, name)
	}
	sort.Strings(names)
	renderers := make([]Renderer, len(names))
	for i, name := range names {
		renderers[i] = l.renderers[name]
	}
	l.mu.RUnlock()

	for i, r := range renderers {
		if err := r.Render(f); err != nil {
			monitoring.Logf("[Render] %s frame %d: %v", names[i], f.Index, err)
		}
	}
	l.metrics.FrameRendered()
	return f
}
