package recorder

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/particleview/internal/monitoring"
	"github.com/banshee-data/particleview/internal/projection"
	"github.com/banshee-data/particleview/internal/scene"
	"github.com/banshee-data/particleview/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupRecorder(t *testing.T) (*Recorder, *timeutil.MockClock, *monitoring.Metrics) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	store, err := OpenStore(filepath.Join(t.TempDir(), "recordings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := timeutil.NewMockClock(epoch)
	metrics := monitoring.NewMetrics()
	r := New(store, clock, metrics)
	r.rasterize = func(f *scene.RenderFrame) ([]byte, error) {
		return []byte{0x89, 'P', 'N', 'G', byte(f.Index)}, nil
	}
	return r, clock, metrics
}

func frame(index, seq uint64) *scene.RenderFrame {
	return &scene.RenderFrame{
		Index: index,
		Time:  epoch,
		View: &scene.View{
			Seq:  seq,
			Mode: projection.ModeMesh,
			Spheres: []projection.Sphere{
				{ID: 1, Center: r3.Vec{X: 1}, Radius: 5, Color: 0xffff00},
			},
		},
		Camera: scene.NewCamera(320, 200).State(),
	}
}

func TestOpenStore_Migrates(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "r.db"))
	require.NoError(t, err)
	defer store.Close()

	version, dirty, err := store.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	// Re-running is a no-op.
	require.NoError(t, store.MigrateUp())
}

func TestRecorder_StateMachine(t *testing.T) {
	r, _, _ := setupRecorder(t)
	ctx := context.Background()

	assert.Equal(t, Idle, r.State())
	assert.ErrorIs(t, r.Stop(ctx), ErrNotRecording)

	id, err := r.Start(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, r.Recording())
	assert.Equal(t, id, r.Session())

	again, err := r.Start(ctx)
	assert.ErrorIs(t, err, ErrAlreadyRecording)
	assert.Equal(t, id, again)

	require.NoError(t, r.Stop(ctx))
	assert.Equal(t, Idle, r.State())
	assert.Equal(t, "", r.Session())
}

func TestRecorder_IdleIgnoresFrames(t *testing.T) {
	r, _, metrics := setupRecorder(t)

	require.NoError(t, r.Render(frame(1, 1)))
	require.NoError(t, r.Capture(context.Background(), []byte("png"), frame(2, 1)))

	var n int
	require.NoError(t, r.store.QueryRow(`SELECT COUNT(*) FROM frames`).Scan(&n))
	assert.Equal(t, 0, n)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.RecordedFrame))
}

func TestRecorder_CapturesChangedFrames(t *testing.T) {
	r, clock, metrics := setupRecorder(t)
	ctx := context.Background()

	id, err := r.Start(ctx)
	require.NoError(t, err)

	require.NoError(t, r.Render(frame(1, 7)))
	clock.Advance(time.Second)
	require.NoError(t, r.Render(frame(2, 7))) // unchanged, skipped
	require.NoError(t, r.Render(frame(3, 8)))

	moved := frame(4, 8)
	moved.Camera.Position = r3.Vec{X: 10, Y: 10, Z: 10}
	require.NoError(t, r.Render(moved))

	assert.Equal(t, 3, r.Frames())
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.RecordedFrame))
	require.NoError(t, r.Stop(ctx))

	sessions, err := r.store.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, 3, sessions[0].FrameCount)
	assert.True(t, sessions[0].StartedAt.Equal(epoch))
	require.NotNil(t, sessions[0].StoppedAt)
	assert.True(t, sessions[0].StoppedAt.Equal(epoch.Add(time.Second)))

	png, meta, err := r.store.Frame(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G', 3}, png)
	assert.Equal(t, 8.0, meta.Fields["seq"].GetNumberValue())
	assert.Equal(t, "mesh", meta.Fields["mode"].GetStringValue())
	assert.Equal(t, 1.0, meta.Fields["particles"].GetNumberValue())
	cam := meta.Fields["camera"].GetStructValue()
	require.NotNil(t, cam)
	assert.Len(t, cam.Fields["position"].GetListValue().GetValues(), 3)

	_, _, err = r.store.Frame(ctx, id, 9)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestRecorder_RasterError(t *testing.T) {
	r, _, _ := setupRecorder(t)
	boom := errors.New("no viewport")
	r.rasterize = func(*scene.RenderFrame) ([]byte, error) { return nil, boom }

	_, err := r.Start(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, r.Render(frame(1, 1)), boom)
	assert.Equal(t, 0, r.Frames())
}

func TestStore_SessionsNewestFirst(t *testing.T) {
	r, clock, _ := setupRecorder(t)
	ctx := context.Background()

	first, err := r.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Stop(ctx))
	clock.Advance(time.Minute)
	second, err := r.Start(ctx)
	require.NoError(t, err)

	sessions, err := r.store.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second, sessions[0].ID)
	assert.Nil(t, sessions[0].StoppedAt)
	assert.Equal(t, first, sessions[1].ID)
}

func TestStore_ExportKeepsOneSession(t *testing.T) {
	r, clock, _ := setupRecorder(t)
	ctx := context.Background()

	keep, err := r.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Render(frame(1, 1)))
	require.NoError(t, r.Render(frame(2, 2)))
	require.NoError(t, r.Stop(ctx))

	clock.Advance(time.Minute)
	_, err = r.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Render(frame(3, 3)))
	require.NoError(t, r.Stop(ctx))

	var buf bytes.Buffer
	require.NoError(t, r.store.Export(ctx, keep, &buf))
	require.NotZero(t, buf.Len())

	path := filepath.Join(t.TempDir(), "export.db")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var sessions, frames int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM frames WHERE session_id = ?`, keep).Scan(&frames))
	assert.Equal(t, 1, sessions)
	assert.Equal(t, 2, frames)

	assert.ErrorIs(t, r.store.Export(ctx, "missing", &buf), ErrUnknownSession)
}

func TestStore_AdminRoutes(t *testing.T) {
	r, _, _ := setupRecorder(t)
	mux := http.NewServeMux()
	require.NoError(t, r.store.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	// tsweb may refuse non-tailnet callers; the route must still exist.
	require.NotEqual(t, http.StatusNotFound, rec.Code)
	if rec.Code == http.StatusOK {
		assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("SQLite format 3")))
	}
}
