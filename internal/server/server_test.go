package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/particleview/internal/httputil"
	"github.com/banshee-data/particleview/internal/monitoring"
	"github.com/banshee-data/particleview/internal/recorder"
	"github.com/banshee-data/particleview/internal/simapi"
	"github.com/banshee-data/particleview/internal/timeutil"
	"github.com/banshee-data/particleview/internal/viewer"
)

const (
	backendParticles = `[{"id":1,"x":100,"y":100,"z":100,"mass":1,"name":"p1"},` +
		`{"id":2,"x":500,"y":500,"z":500,"mass":8,"colorHex":"#ff0000"}]`
	backendSettings = `{"dt":0.01,"t_total":10,"current_time":0,"nb_particles":2,"paused":false,` +
		`"MIN_X":0,"MIN_Y":0,"MIN_Z":0,"MAX_X":1000,"MAX_Y":1000,"MAX_Z":1000}`
)

type backendCall struct {
	Method string
	Path   string
	Body   string
}

// fakeBackend is a minimal simulation REST API.
type fakeBackend struct {
	mu    sync.Mutex
	calls []backendCall
	srv   *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	b := &fakeBackend{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.calls = append(b.calls, backendCall{Method: r.Method, Path: r.URL.Path, Body: string(body)})
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/particles":
			io.WriteString(w, backendParticles)
		case r.Method == http.MethodGet && r.URL.Path == "/api/settings":
			io.WriteString(w, backendSettings)
		case r.Method == http.MethodPost:
			io.WriteString(w, `{"status":"ok"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) posts(path string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.calls {
		if c.Method == http.MethodPost && c.Path == path {
			out = append(out, c.Body)
		}
	}
	return out
}

type testEnv struct {
	t       *testing.T
	backend *fakeBackend
	ctrl    *viewer.Controller
	srv     *Server
	handler http.Handler
	store   *recorder.Store
}

func newTestEnv(t *testing.T, withRecorder bool) *testEnv {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	env := &testEnv{t: t, backend: newFakeBackend(t)}
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	metrics := monitoring.NewMetrics()

	client, err := simapi.NewClient(env.backend.srv.URL, httputil.NewStandardClient(nil, 2*time.Second))
	require.NoError(t, err)

	opts := viewer.Options{Client: client, Clock: clock, Metrics: metrics}
	if withRecorder {
		env.store, err = recorder.OpenStore(filepath.Join(t.TempDir(), "rec.db"))
		require.NoError(t, err)
		t.Cleanup(func() { env.store.Close() })
		opts.Recorder = recorder.New(env.store, clock, metrics)
	}
	env.ctrl, err = viewer.New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = env.ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	env.srv, err = New(Options{Controller: env.ctrl, Store: env.store, Metrics: metrics})
	require.NoError(t, err)
	env.handler = env.srv.ServeMux()
	env.settle()
	return env
}

func (e *testEnv) settle() {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(e.t, e.ctrl.Settle(ctx))
}

func (e *testEnv) do(method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, target, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestNew_RequiresController(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestServer_State(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/viewer/state", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap viewer.Snapshot
	decode(t, rec, &snap)
	assert.Equal(t, 2, snap.ParticleCount)
	assert.Equal(t, "mesh", snap.RenderMode)
	require.NotNil(t, snap.Settings)
	assert.Equal(t, 0.01, snap.Settings.Dt)
}

func TestServer_ProxiesBackendAPI(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/api/settings", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, backendSettings, rec.Body.String())

	rec = env.do(http.MethodPost, "/api/pause", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.backend.posts("/api/pause"), 1)
}

func TestServer_SettingsSendsOnlyFilledFields(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.postForm("/viewer/settings", url.Values{"dt": {"0.5"}, "t_total": {""}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	posts := env.backend.posts("/api/settings")
	require.Len(t, posts, 1)
	assert.JSONEq(t, `{"dt":0.5}`, posts[0])

	rec = env.postForm("/viewer/settings", url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postForm("/viewer/settings", url.Values{"nb_particles": {"many"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_JSONBody(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodPost, "/viewer/box", strings.NewReader(`{"MAX_X": 2000}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	posts := env.backend.posts("/api/settings")
	require.Len(t, posts, 1)
	assert.JSONEq(t, `{"MAX_X":2000}`, posts[0])
}

func TestServer_DestructiveActionsNeedConfirmation(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodPost, "/viewer/reset", nil, "")
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
	assert.Empty(t, env.backend.posts("/api/reset"))

	rec = env.do(http.MethodPost, "/viewer/close", nil, "")
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
	assert.Empty(t, env.backend.posts("/api/stop"))

	rec = env.do(http.MethodPost, "/viewer/reset?confirm=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, env.backend.posts("/api/reset"), 1)
}

func TestServer_PauseAndRewind(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodPost, "/viewer/pause", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.backend.posts("/api/pause"), 1)

	rec = env.postForm("/viewer/rewind", url.Values{"rewind_time": {"1.5"}})
	require.Equal(t, http.StatusOK, rec.Code)
	rewinds := env.backend.posts("/api/rewind")
	require.Len(t, rewinds, 1)
	assert.JSONEq(t, `{"rewind_time":1.5}`, rewinds[0])

	rec = env.postForm("/viewer/rewind", url.Values{"rewind_time": {"-1"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.postForm("/viewer/rewind", url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_HideAndShow(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.postForm("/viewer/hide", url.Values{"id": {"1"}})
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []simapi.Particle
	decode(t, env.do(http.MethodGet, "/viewer/particles", nil, ""), &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].ID)

	rec = env.do(http.MethodPost, "/viewer/show?all=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, env.do(http.MethodGet, "/viewer/particles", nil, ""), &rows)
	assert.Len(t, rows, 2)

	rec = env.postForm("/viewer/hide", url.Values{"id": {"x"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Particle(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/viewer/particles/1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Particle simapi.Particle `json:"particle"`
		Info     string          `json:"info"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "p1", body.Particle.Name)
	assert.Contains(t, body.Info, "ID: 1")

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/viewer/particles/42", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/viewer/particles/abc", nil, "").Code)
}

func TestServer_RenderForm(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.postForm("/viewer/render", url.Values{"render_type": {"points"}, "particle_color": {"#00ff00"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := env.ctrl.Snapshot()
	assert.Equal(t, "points", snap.RenderMode)
	assert.Equal(t, "#00ff00", snap.ParticleColor)

	rec = env.postForm("/viewer/render", url.Values{"particle_size": {"abc"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ScaleToggle(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodPost, "/viewer/scale/toggle", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]bool
	decode(t, rec, &body)
	assert.True(t, body["scale_enabled"])

	rec = env.postForm("/viewer/scale", url.Values{"MIN_X": {"10"}, "MAX_X": {"5"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Upload(t *testing.T) {
	env := newTestEnv(t, false)

	payload := `[{"id":7,"x":1,"y":2,"z":3,"mass":1}]`
	rec := env.do(http.MethodPost, "/viewer/upload", strings.NewReader(payload), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{payload}, env.backend.posts("/api/particles"))
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, viewer.StatusImportSucceeded, body["status"])

	rec = env.do(http.MethodPost, "/viewer/upload", strings.NewReader("not json"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_UploadMultipart(t *testing.T) {
	env := newTestEnv(t, false)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "particles.json")
	require.NoError(t, err)
	io.WriteString(fw, `[{"id":9,"x":0,"y":0,"z":0,"mass":2}]`)
	require.NoError(t, mw.Close())

	rec := env.do(http.MethodPost, "/viewer/upload", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, env.backend.posts("/api/particles"), 1)
}

func TestServer_Download(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/viewer/download", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "particles.json")

	var rows []simapi.Particle
	decode(t, rec, &rows)
	assert.Len(t, rows, 2)
}

func TestServer_RecordWithoutRecorder(t *testing.T) {
	env := newTestEnv(t, false)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/viewer/record", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/viewer/recordings", nil, "").Code)
}

func TestServer_Recordings(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(http.MethodPost, "/viewer/record", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]bool
	decode(t, rec, &body)
	assert.True(t, body["recording"])

	rec = env.do(http.MethodPost, "/viewer/record", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &body)
	assert.False(t, body["recording"])

	var sessions []recorder.Session
	decode(t, env.do(http.MethodGet, "/viewer/recordings", nil, ""), &sessions)
	require.Len(t, sessions, 1)

	rec = env.do(http.MethodGet, "/viewer/recordings/"+sessions[0].ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("SQLite format 3")))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), sessions[0].ID)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/viewer/recordings/nope", nil, "").Code)
}

func TestServer_SnapshotPNG(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/viewer/snapshot.png", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestServer_CameraAndResize(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.postForm("/viewer/resize", url.Values{"width": {"640"}, "height": {"480"}})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.postForm("/viewer/resize", url.Values{"width": {"0"}, "height": {"480"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postForm("/viewer/camera", url.Values{"rotate_theta": {"0.1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var cam CameraMessage
	decode(t, rec, &cam)
	assert.Equal(t, 640, cam.Width)
	assert.Equal(t, 480, cam.Height)

	rec = env.postForm("/viewer/camera", url.Values{"zoom": {"-2"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_PickMissAndSelect(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.postForm("/viewer/pick", url.Values{"x": {"-100000"}, "y": {"-100000"}, "action": {"select"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, false, body["hit"])

	rec = env.postForm("/viewer/select", url.Values{"id": {"2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.ctrl.Snapshot().SelectedID)
	assert.Equal(t, 2, *env.ctrl.Snapshot().SelectedID)

	rec = env.postForm("/viewer/select", url.Values{"id": {"99"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.postForm("/viewer/pick", url.Values{"action": {"clear"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, env.ctrl.Snapshot().SelectedID)

	rec = env.postForm("/viewer/pick", url.Values{"x": {"1"}, "y": {"1"}, "action": {"poke"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GUIToggle(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodPost, "/viewer/gui", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]bool
	decode(t, rec, &body)
	assert.False(t, body["gui_visible"])
}

func TestServer_Pages(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "particleview")
	assert.Contains(t, rec.Body.String(), `name="dt"`)

	rec = env.do(http.MethodGet, "/viewer/chart", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/nowhere", nil, "").Code)
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(http.MethodPost, "/viewer/gui", nil, "")

	rec := env.do(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "particleview_poll_requests_total")
}

func TestServer_MethodRouting(t *testing.T) {
	env := newTestEnv(t, false)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodGet, "/viewer/pause", nil, "").Code)
}

func TestLoggingMiddleware(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, strings.TrimSpace(fmt.Sprintf(format, v...)))
	})
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/viewer/state?x=1", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "418")
	assert.Contains(t, lines[0], "/viewer/state?x=1")
}
