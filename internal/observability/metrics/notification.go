package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics tracks pest alert delivery.
type NotificationMetrics struct {
	deliveriesTotal  *prometheus.CounterVec
	deliveryDuration prometheus.Histogram
	suppressedTotal  prometheus.Counter
}

// NewNotificationMetrics creates and registers notification metrics.
func NewNotificationMetrics(registry prometheus.Registerer) (*NotificationMetrics, error) {
	m := &NotificationMetrics{
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Total number of pest alert deliveries",
		}, []string{"status"}),
		deliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notification_delivery_duration_seconds",
			Help:    "Time taken to deliver a pest alert to all services",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount10),
		}),
		suppressedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_suppressed_total",
			Help: "Total number of pest alerts dropped by the cooldown",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements the Collector interface
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.deliveriesTotal.Describe(ch)
	ch <- m.deliveryDuration.Desc()
	ch <- m.suppressedTotal.Desc()
}

// Collect implements the Collector interface
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.deliveriesTotal.Collect(ch)
	ch <- m.deliveryDuration
	ch <- m.suppressedTotal
}

// RecordDelivery records one alert attempt.
func (m *NotificationMetrics) RecordDelivery(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(status).Inc()
	m.deliveryDuration.Observe(duration.Seconds())
}

// RecordSuppressed counts an alert skipped by the cooldown.
func (m *NotificationMetrics) RecordSuppressed() {
	if m != nil {
		m.suppressedTotal.Inc()
	}
}
