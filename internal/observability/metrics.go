package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	EngineCalls       *prometheus.CounterVec
	EngineCallLatency prometheus.Histogram
	EngineRestarts    prometheus.Counter
	QueueOperations   *prometheus.CounterVec
	UndoOperations    *prometheus.CounterVec
	ResyncReplays     *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		EngineCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_calls_total",
			Help:      "Engine bridge calls by action and outcome.",
		}, []string{"action", "outcome"}),
		EngineCallLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_call_latency_ms",
			Help:      "Engine bridge round-trip latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		EngineRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_restarts_total",
			Help:      "Engine process respawns after unexpected exits.",
		}),
		QueueOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_operations_total",
			Help:      "Queue manager operations by op and outcome.",
		}, []string{"op", "outcome"}),
		UndoOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "undo_operations_total",
			Help:      "Undo manager operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ResyncReplays: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resync_replays_total",
			Help:      "Startup queue replays into the engine by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveEngineCall(action, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.EngineCalls.WithLabelValues(action, outcome).Inc()
	m.EngineCallLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
