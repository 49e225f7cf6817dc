package viewer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/particleview/internal/timeutil"
)

// ErrStopped is returned when a command is submitted after the executor has
// shut down.
var ErrStopped = errors.New("executor stopped")

// Executor runs every state mutation on a single goroutine. Work arrives
// from two places: a FIFO command queue (Post/Do) and named periodic tasks
// whose ticks are turned into queued commands.
type Executor struct {
	clock timeutil.Clock
	queue chan func()

	quit     chan struct{}
	quitOnce sync.Once

	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	interval time.Duration
	fn       func()
	ticker   timeutil.Ticker
	stop     chan struct{}
}

// NewExecutor returns an executor whose periodic tasks tick on clock.
func NewExecutor(clock timeutil.Clock) *Executor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Executor{
		clock: clock,
		queue: make(chan func(), 64),
		quit:  make(chan struct{}),
		tasks: make(map[string]*task),
	}
}

// Run executes queued commands until ctx is cancelled. All periodic tasks
// are stopped on return and later submissions fail with ErrStopped.
func (e *Executor) Run(ctx context.Context) error {
	defer e.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-e.queue:
			fn()
		}
	}
}

func (e *Executor) shutdown() {
	e.StopTasks()
	e.quitOnce.Do(func() { close(e.quit) })
}

// Post queues fn without waiting for it. It reports false if the executor
// has stopped.
func (e *Executor) Post(fn func()) bool {
	select {
	case <-e.quit:
		return false
	default:
	}
	select {
	case e.queue <- fn:
		return true
	case <-e.quit:
		return false
	}
}

// Do queues fn and waits for its result. It must not be called from the
// executor goroutine itself.
func (e *Executor) Do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if !e.Post(func() { res <- fn() }) {
		return ErrStopped
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.quit:
		select {
		case err := <-res:
			return err
		default:
			return ErrStopped
		}
	}
}

// AddTask registers a periodic task in the stopped state, replacing any
// task with the same name.
func (e *Executor) AddTask(name string, interval time.Duration, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.tasks[name]; ok {
		e.stopLocked(old)
	}
	e.tasks[name] = &task{interval: interval, fn: fn}
}

// StartTask starts the named task. Starting a running task is a no-op, so a
// task never has more than one ticker. Reports whether a ticker was created.
func (e *Executor) StartTask(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[name]
	if !ok || t.ticker != nil {
		return false
	}
	select {
	case <-e.quit:
		return false
	default:
	}

	t.ticker = e.clock.NewTicker(t.interval)
	t.stop = make(chan struct{})
	go e.tick(t.ticker, t.stop, t.fn)
	return true
}

// StopTask stops the named task. Reports whether it was running.
func (e *Executor) StopTask(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[name]
	if !ok || t.ticker == nil {
		return false
	}
	e.stopLocked(t)
	return true
}

// StopTasks stops every running task.
func (e *Executor) StopTasks() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.tasks {
		e.stopLocked(t)
	}
}

// TaskRunning reports whether the named task currently has a ticker.
func (e *Executor) TaskRunning(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[name]
	return ok && t.ticker != nil
}

func (e *Executor) stopLocked(t *task) {
	if t.ticker == nil {
		return
	}
	t.ticker.Stop()
	close(t.stop)
	t.ticker, t.stop = nil, nil
}

// tick forwards ticks to the command queue. A tick already queued when the
// task stops is dropped on the executor side.
func (e *Executor) tick(tk timeutil.Ticker, stop <-chan struct{}, fn func()) {
	for {
		select {
		case <-stop:
			return
		case <-e.quit:
			return
		case <-tk.C():
			ok := e.Post(func() {
				select {
				case <-stop:
				default:
					fn()
				}
			})
			if !ok {
				return
			}
		}
	}
}
