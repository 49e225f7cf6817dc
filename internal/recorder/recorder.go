// Package recorder captures rendered frames into sqlite-backed sessions.
//
// A Recorder is Idle or Recording. While recording it is attached to the
// render loop as a scene.Renderer: every frame whose scene content or camera
// changed is rasterised to PNG and stored with a structpb metadata blob.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/particleview/internal/monitoring"
	"github.com/banshee-data/particleview/internal/scene"
	"github.com/banshee-data/particleview/internal/timeutil"
)

var (
	// ErrNotRecording is returned by Stop when no session is open.
	ErrNotRecording = errors.New("not recording")
	// ErrAlreadyRecording is returned by Start when a session is open.
	ErrAlreadyRecording = errors.New("already recording")
)

var logf = monitoring.Component("Recorder")

// State is the recorder's mode.
type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

// Recorder writes frames to a Store between Start and Stop.
type Recorder struct {
	store     *Store
	clock     timeutil.Clock
	metrics   *monitoring.Metrics
	rasterize func(*scene.RenderFrame) ([]byte, error)

	mu      sync.Mutex
	state   State
	session string
	frames  int
	lastSeq uint64
	lastCam scene.CameraState
}

// New returns an idle recorder writing to store.
func New(store *Store, clock timeutil.Clock, metrics *monitoring.Metrics) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{
		store:     store,
		clock:     clock,
		metrics:   metrics,
		rasterize: scene.Rasterize,
	}
}

// Store returns the backing store.
func (r *Recorder) Store() *Store { return r.store }

// State returns the current mode.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Recording reports whether a session is open.
func (r *Recorder) Recording() bool { return r.State() == Recording }

// Session returns the open session id, or "" when idle.
func (r *Recorder) Session() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Start opens a new session and returns its id.
func (r *Recorder) Start(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Recording {
		return r.session, ErrAlreadyRecording
	}

	id := uuid.NewString()
	if err := r.store.createSession(ctx, id, r.clock.Now()); err != nil {
		return "", err
	}
	r.state = Recording
	r.session = id
	r.frames = 0
	r.lastSeq = 0
	r.lastCam = scene.CameraState{}
	logf("session %s started", id)
	return id, nil
}

// Stop finalises the open session.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Recording {
		return ErrNotRecording
	}

	id, frames := r.session, r.frames
	r.state = Idle
	r.session = ""
	if err := r.store.finishSession(ctx, id, r.clock.Now(), frames); err != nil {
		return err
	}
	logf("session %s stopped after %d frames", id, frames)
	return nil
}

// Render implements scene.Renderer. Idle recorders and frames identical to
// the last captured one are skipped.
func (r *Recorder) Render(f *scene.RenderFrame) error {
	if f == nil || f.View == nil || !r.wants(f) {
		return nil
	}
	png, err := r.rasterize(f)
	if err != nil {
		return fmt.Errorf("rasterise frame %d: %w", f.Index, err)
	}
	return r.Capture(context.Background(), png, f)
}

func (r *Recorder) wants(f *scene.RenderFrame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Recording {
		return false
	}
	return r.frames == 0 || f.View.Seq != r.lastSeq || f.Camera != r.lastCam
}

// Capture appends png to the open session. It is a no-op when idle.
func (r *Recorder) Capture(ctx context.Context, png []byte, f *scene.RenderFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Recording {
		return nil
	}

	meta, err := frameMeta(f)
	if err != nil {
		return err
	}
	var seq uint64
	if f != nil && f.View != nil {
		seq = f.View.Seq
	}
	if err := r.store.insertFrame(ctx, r.session, r.frames, r.clock.Now(), seq, png, meta); err != nil {
		return err
	}
	r.frames++
	r.lastSeq = seq
	if f != nil {
		r.lastCam = f.Camera
	}
	r.metrics.FrameRecorded()
	return nil
}

// Frames returns the number of frames captured in the open session.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func frameMeta(f *scene.RenderFrame) (*structpb.Struct, error) {
	if f == nil || f.View == nil {
		return nil, nil
	}
	cam := f.Camera
	m := map[string]interface{}{
		"index":     float64(f.Index),
		"seq":       float64(f.View.Seq),
		"mode":      f.View.Mode.String(),
		"particles": float64(f.View.Count()),
		"width":     float64(cam.Width),
		"height":    float64(cam.Height),
		"camera": map[string]interface{}{
			"position": []interface{}{cam.Position.X, cam.Position.Y, cam.Position.Z},
			"target":   []interface{}{cam.Target.X, cam.Target.Y, cam.Target.Z},
			"fov":      cam.FOV,
		},
		"box":   f.View.Box != nil,
		"trail": float64(len(f.View.Trail)),
	}
	if !f.Time.IsZero() {
		m["time"] = f.Time.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build frame metadata: %w", err)
	}
	return s, nil
}

var _ scene.Renderer = (*Recorder)(nil)
