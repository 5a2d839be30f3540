package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the gateway.
type Metrics struct {
	ActiveInterviews prometheus.Gauge
	InterviewEvents  *prometheus.CounterVec
	DispatchOutcomes *prometheus.CounterVec
	SpeechEvents     *prometheus.CounterVec
	BackendErrors    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	DispatchLatency  prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveInterviews: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_interviews",
			Help:      "Number of interviews currently in the active state.",
		}),
		InterviewEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interview_events_total",
			Help:      "Interview lifecycle events by type.",
		}, []string{"event"}),
		DispatchOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_outcomes_total",
			Help:      "Message dispatch outcomes by result.",
		}, []string{"outcome"}),
		SpeechEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_events_total",
			Help:      "Speech adapter events by type.",
		}, []string{"event"}),
		BackendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Backend call failures by operation.",
		}, []string{"operation"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_ms",
			Help:      "Latency of the backend interview-turn call in milliseconds.",
			Buckets:   []float64{200, 500, 1000, 2000, 4000, 8000, 15000},
		}),
	}
}

func (m *Metrics) ObserveDispatchLatency(d time.Duration) {
	m.DispatchLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
