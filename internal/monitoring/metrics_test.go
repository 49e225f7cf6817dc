package monitoring

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObservePoll(t *testing.T) {
	m := NewMetrics()

	m.ObservePoll(StreamParticles, nil, 20*time.Millisecond)
	m.ObservePoll(StreamParticles, errors.New("refused"), time.Millisecond)
	m.ObservePoll(StreamSettings, nil, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollRequests.WithLabelValues(StreamParticles, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollRequests.WithLabelValues(StreamParticles, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollRequests.WithLabelValues(StreamSettings, "ok")))
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.FrameRendered()
	m.FrameRendered()
	m.Command("pause")
	m.SetVisible(42)
	m.FrameRecorded()
	m.SetWSClients(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesRender))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("pause")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.Visible))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordedFrame))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.WSClients))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObservePoll(StreamSettings, nil, time.Second)
	m.FrameRendered()
	m.Command("x")
	m.SetVisible(1)
	m.FrameRecorded()
	m.SetWSClients(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.Command("reset")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), `particleview_commands_total{command="reset"} 1`))
}
