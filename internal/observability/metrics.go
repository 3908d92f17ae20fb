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
	GenerationsTotal   *prometheus.CounterVec
	GenerationRetries  prometheus.Counter
	ActiveGenerations  prometheus.Gauge
	QueueDepth         prometheus.Gauge
	GenerationDuration prometheus.Histogram
	EventsPublished    *prometheus.CounterVec
	BusSubscribers     prometheus.Gauge
	WSMessages         *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		GenerationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crs_generations_total",
			Help:      "Finished CRS generations by result.",
		}, []string{"result"}),
		GenerationRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crs_generation_retries_total",
			Help:      "Generation attempts that failed and were retried.",
		}),
		ActiveGenerations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "crs_active_generations",
			Help:      "Number of generations currently executing.",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "crs_queue_depth",
			Help:      "Generation tasks admitted but not yet started.",
		}),
		GenerationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crs_generation_duration_seconds",
			Help:      "Wall time of one generation including retries.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crs_events_published_total",
			Help:      "Events published to the session event bus by type.",
		}, []string{"type"}),
		BusSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_bus_subscribers",
			Help:      "Live event bus subscribers across all sessions.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
	}
}

func (m *Metrics) ObserveGeneration(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(result).Inc()
	m.GenerationDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
