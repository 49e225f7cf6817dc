// Package viewer is the viewer client: it mirrors the simulation backend by
// polling, projects the mirrored particles into the scene, and turns control
// panel actions into backend calls followed by a re-fetch.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/particleview/internal/config"
	"github.com/banshee-data/particleview/internal/monitoring"
	"github.com/banshee-data/particleview/internal/scene"
	"github.com/banshee-data/particleview/internal/simapi"
	"github.com/banshee-data/particleview/internal/timeutil"
)

// Periodic task names.
const (
	TaskParticles = "particles"
	TaskSettings  = "settings"
)

// Recorder is the recording state machine driven by ToggleRecording.
type Recorder interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) error
	Recording() bool
}

// Options configures a Controller.
type Options struct {
	Config   *config.ViewerConfig
	Client   *simapi.Client
	Clock    timeutil.Clock
	Metrics  *monitoring.Metrics
	Recorder Recorder
}

// Controller owns the viewer state, the scene and the executor that
// serialises every change to them.
type Controller struct {
	cfg      *config.ViewerConfig
	client   *simapi.Client
	clock    timeutil.Clock
	metrics  *monitoring.Metrics
	recorder Recorder
	logf     func(format string, v ...interface{})

	exec  *Executor
	scene *scene.Scene
	loop  *scene.Loop

	// Executor-owned.
	prefs        *config.ViewerConfig
	state        *State
	statusTimer  timeutil.Timer
	particlesErr bool
	settingsErr  bool

	snap       atomic.Pointer[Snapshot]
	healthy    atomic.Bool
	pending    atomic.Int64
	life       context.Context
	cancelLife context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
}

// New builds a controller. Polling does not start until Run.
func New(opts Options) (*Controller, error) {
	if opts.Client == nil {
		return nil, errors.New("viewer: backend client is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultViewerConfig()
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	w, h := cfg.GetViewport()
	sc := scene.New(scene.NewCamera(w, h))

	c := &Controller{
		cfg:      cfg,
		client:   opts.Client,
		clock:    clock,
		metrics:  opts.Metrics,
		recorder: opts.Recorder,
		logf:     monitoring.Component("Viewer"),
		exec:     NewExecutor(clock),
		scene:    sc,
		loop:     scene.NewLoop(sc, clock, cfg.GetFPS(), opts.Metrics),
		prefs:    cfg,
		state:    NewState(cfg),
		done:     make(chan struct{}),
	}
	c.life, c.cancelLife = context.WithCancel(context.Background())
	c.exec.AddTask(TaskParticles, cfg.GetParticlePollInterval(), c.fetchParticles)
	c.exec.AddTask(TaskSettings, cfg.GetSettingsPollInterval(), c.fetchSettings)

	// Initial fetch, then the periodic tasks. Queued now so it runs first.
	c.exec.Post(func() {
		c.fetchSettings()
		c.fetchParticles()
		c.reconcilePolling()
		c.publish()
	})
	c.publish()
	return c, nil
}

// Scene returns the scene graph. Its camera may be steered from any
// goroutine; everything else is mutated by the controller only.
func (c *Controller) Scene() *scene.Scene { return c.scene }

// Loop returns the render loop. Attach renderers before Run.
func (c *Controller) Loop() *scene.Loop { return c.loop }

// Client returns the backend client.
func (c *Controller) Client() *simapi.Client { return c.client }

// Snapshot returns the state as of the last command. Never nil.
func (c *Controller) Snapshot() *Snapshot { return c.snap.Load() }

// Healthy reports whether the last settings poll succeeded.
func (c *Controller) Healthy() bool { return c.healthy.Load() }

// Done is closed once a confirmed Close has finished its grace period.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Run starts polling and the render loop, then processes commands until ctx
// is cancelled or the viewer is closed.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.cancelLife()

	var wg sync.WaitGroup
	errc := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errc <- c.exec.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		errc <- c.loop.Run(ctx)
	}()

	c.logf("polling %s every %s (particles) and %s (settings)",
		c.client.BaseURL(), c.cfg.GetParticlePollInterval(), c.cfg.GetSettingsPollInterval())

	var err error
	select {
	case <-ctx.Done():
	case <-c.done:
		c.logf("closed, shutting down")
	case err = <-errc:
	}
	cancel()
	wg.Wait()
	if c.recorder != nil && c.recorder.Recording() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := c.recorder.Stop(stopCtx); serr != nil {
			c.logf("failed to stop recording: %v", serr)
		}
		stopCancel()
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Settle waits until no fetch is in flight and every queued command has
// run.
func (c *Controller) Settle(ctx context.Context) error {
	noop := func() error { return nil }
	for {
		if c.pending.Load() == 0 {
			if err := c.exec.Do(ctx, noop); err != nil {
				return err
			}
			if c.pending.Load() == 0 {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// do runs fn on the executor and publishes a fresh snapshot afterwards.
func (c *Controller) do(ctx context.Context, fn func(s *State) error) error {
	return c.exec.Do(ctx, func() error {
		err := fn(c.state)
		c.publish()
		return err
	})
}

func (c *Controller) publish() {
	snap := c.state.snapshot()
	snap.PollingParticles = c.exec.TaskRunning(TaskParticles)
	snap.PollingSettings = c.exec.TaskRunning(TaskSettings)
	if c.recorder != nil {
		snap.Recording = c.recorder.Recording()
	}
	c.snap.Store(snap)
}

func (c *Controller) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// checkOpen returns ErrClosed once the viewer has been closed.
func (c *Controller) checkOpen() error {
	if c.Snapshot().Closed {
		return ErrClosed
	}
	return nil
}

func (c *Controller) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
