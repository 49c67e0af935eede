package monitoring

import (
	"lancast/internal/core/domain"
	"lancast/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ ports.SessionMetrics = (*PrometheusCollector)(nil)

var sessionStates = []domain.SessionState{
	domain.StateIdle,
	domain.StateCasting,
	domain.StateReceiving,
}

type PrometheusCollector struct {
	// Gauges
	viewersConnected prometheus.Gauge
	sessionState     *prometheus.GaugeVec

	// Counters
	viewerConnectionsTotal prometheus.Counter
	stateTransitionsTotal  *prometheus.CounterVec
	pipelineFailuresTotal  *prometheus.CounterVec
	framesTotal            *prometheus.CounterVec
	eventPublishFailures   prometheus.Counter

	// Histograms
	frameSize *prometheus.HistogramVec
}

// NewPrometheusCollector registers the session metrics with reg. A nil reg
// uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		viewersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lancast_viewers_connected",
			Help: "Number of receivers currently watching this caster",
		}),

		sessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lancast_session_state",
			Help: "Current session state (1 for the active state, 0 otherwise)",
		}, []string{"role", "state"}),

		viewerConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "lancast_viewer_connections_total",
			Help: "Total number of receivers that joined a cast",
		}),

		stateTransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lancast_session_transitions_total",
			Help: "Total number of session state transitions",
		}, []string{"role", "state"}),

		pipelineFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lancast_pipeline_failures_total",
			Help: "Total number of media pipeline command failures",
		}, []string{"role", "op"}),

		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lancast_frames_total",
			Help: "Total number of frames captured or received",
		}, []string{"role"}),

		eventPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "lancast_event_publish_failures_total",
			Help: "Total number of session events that could not be published",
		}),

		frameSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lancast_frame_size_bytes",
			Help:    "Size of encoded frames",
			Buckets: prometheus.ExponentialBuckets(4<<10, 2, 8),
		}, []string{"role"}),
	}
}

func (p *PrometheusCollector) ViewerJoined() {
	p.viewersConnected.Inc()
	p.viewerConnectionsTotal.Inc()
}

func (p *PrometheusCollector) ViewerLeft() {
	p.viewersConnected.Dec()
}

func (p *PrometheusCollector) StateChanged(role domain.Role, state domain.SessionState) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		p.sessionState.WithLabelValues(string(role), string(s)).Set(v)
	}
	p.stateTransitionsTotal.WithLabelValues(string(role), string(state)).Inc()
}

func (p *PrometheusCollector) PipelineFailed(role domain.Role, op string) {
	p.pipelineFailuresTotal.WithLabelValues(string(role), op).Inc()
}

func (p *PrometheusCollector) FrameDelivered(role domain.Role, size int) {
	p.framesTotal.WithLabelValues(string(role)).Inc()
	p.frameSize.WithLabelValues(string(role)).Observe(float64(size))
}

func (p *PrometheusCollector) EventPublishFailed() {
	p.eventPublishFailures.Inc()
}
