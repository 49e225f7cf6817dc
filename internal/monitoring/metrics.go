package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll stream labels.
const (
	StreamParticles = "particles"
	StreamSettings  = "settings"
)

// Metrics holds the viewer's prometheus collectors. A nil *Metrics is valid
// and records nothing, so packages can be used without wiring metrics.
type Metrics struct {
	registry *prometheus.Registry

	PollRequests  *prometheus.CounterVec
	PollLatency   *prometheus.HistogramVec
	FramesRender  prometheus.Counter
	Commands      *prometheus.CounterVec
	Visible       prometheus.Gauge
	RecordedFrame prometheus.Counter
	WSClients     prometheus.Gauge
}

// NewMetrics registers the viewer collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		PollRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "particleview",
			Name:      "poll_requests_total",
			Help:      "Backend poll requests by stream and outcome.",
		}, []string{"stream", "outcome"}),
		PollLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "particleview",
			Name:      "poll_latency_seconds",
			Help:      "Backend poll round-trip latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1, 2},
		}, []string{"stream"}),
		FramesRender: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "particleview",
			Name:      "frames_rendered_total",
			Help:      "Render loop frames delivered to renderers.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "particleview",
			Name:      "commands_total",
			Help:      "Control panel commands by name.",
		}, []string{"command"}),
		Visible: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "particleview",
			Name:      "particles_visible",
			Help:      "Particles in the last projected frame.",
		}),
		RecordedFrame: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "particleview",
			Name:      "recorded_frames_total",
			Help:      "Frames written to recording sessions.",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "particleview",
			Name:      "ws_clients",
			Help:      "Connected frame stream clients.",
		}),
	}
	reg.MustRegister(m.PollRequests, m.PollLatency, m.FramesRender, m.Commands,
		m.Visible, m.RecordedFrame, m.WSClients)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePoll records one poll round trip.
func (m *Metrics) ObservePoll(stream string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.PollRequests.WithLabelValues(stream, outcome).Inc()
	m.PollLatency.WithLabelValues(stream).Observe(d.Seconds())
}

// FrameRendered counts one render loop frame.
func (m *Metrics) FrameRendered() {
	if m == nil {
		return
	}
	m.FramesRender.Inc()
}

// Command counts one control panel command.
func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(name).Inc()
}

// SetVisible records the size of the last projected frame.
func (m *Metrics) SetVisible(n int) {
	if m == nil {
		return
	}
	m.Visible.Set(float64(n))
}

// FrameRecorded counts one frame persisted by the recorder.
func (m *Metrics) FrameRecorded() {
	if m == nil {
		return
	}
	m.RecordedFrame.Inc()
}

// SetWSClients records the number of frame stream subscribers.
func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}
