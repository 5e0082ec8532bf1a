package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ingestion and notification
// pipeline. NotFound/Cancelled counters are separate from delivery failures
// so data problems stay distinguishable from downstream availability
// problems.
type Metrics struct {
	EventsReceived  *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	RecordsUpserted prometheus.Counter
	RecordsDeleted  prometheus.Counter
	ReconcileErrors *prometheus.CounterVec

	Regenerations    *prometheus.CounterVec
	RegenerationTime prometheus.Histogram

	NotificationsSent    prometheus.Counter
	DeliveryFailures     prometheus.Counter
	EndpointUnresolvable prometheus.Counter
	ActiveSubscriptions  prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aton_service_events_received_total",
			Help: "Inbound change events by kind (changed, removed)",
		}, []string{"kind"}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aton_service_events_dropped_total",
			Help: "Inbound events discarded by reason (malformed, outside_area)",
		}, []string{"reason"}),
		RecordsUpserted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aton_service_records_upserted_total",
			Help: "AtoN records created or updated by the reconciler",
		}),
		RecordsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aton_service_records_deleted_total",
			Help: "AtoN records removed by the reconciler",
		}),
		ReconcileErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aton_service_reconcile_errors_total",
			Help: "Reconciler failures by class (not_found, store)",
		}, []string{"class"}),
		Regenerations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aton_service_content_regenerations_total",
			Help: "Dataset content regenerations by operation kind",
		}, []string{"operation"}),
		RegenerationTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aton_service_content_regeneration_seconds",
			Help:    "Latency of a full dataset content regeneration pass",
			Buckets: prometheus.DefBuckets,
		}),
		NotificationsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aton_service_notifications_sent_total",
			Help: "Payloads successfully delivered to subscribers",
		}),
		DeliveryFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aton_service_delivery_failures_total",
			Help: "Subscriber deliveries that failed or timed out",
		}),
		EndpointUnresolvable: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aton_service_endpoint_unresolvable_total",
			Help: "Notifications skipped because no endpoint was resolvable",
		}),
		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aton_service_active_subscriptions",
			Help: "Currently registered subscriptions",
		}),
	}
}

// ObserveRegeneration records one completed content regeneration.
func (m *Metrics) ObserveRegeneration(operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Regenerations.WithLabelValues(operation).Inc()
	m.RegenerationTime.Observe(elapsed.Seconds())
}
