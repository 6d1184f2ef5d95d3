package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PollerMetrics tracks the background record processor.
type PollerMetrics struct {
	ticksTotal     *prometheus.CounterVec
	recordsTotal   *prometheus.CounterVec
	skippedTotal   *prometheus.CounterVec
	streamEvents   *prometheus.CounterVec
	lastProcessed  prometheus.Gauge
	streamSessions prometheus.Counter
}

// NewPollerMetrics creates and registers poller metrics.
func NewPollerMetrics(registry prometheus.Registerer) (*PollerMetrics, error) {
	m := &PollerMetrics{
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poller_ticks_total",
			Help: "Total number of poller iterations, by mode",
		}, []string{"mode"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poller_records_processed_total",
			Help: "Total number of records run through detection",
		}, []string{"status"}),
		skippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poller_records_skipped_total",
			Help: "Total number of records not processed, by reason",
		}, []string{"reason"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poller_stream_events_total",
			Help: "Total number of record store stream events received, by type",
		}, []string{"event"}),
		lastProcessed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poller_last_processed_timestamp_seconds",
			Help: "Unix time of the last successfully processed record",
		}),
		streamSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poller_stream_sessions_total",
			Help: "Total number of record store stream connections opened",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements the Collector interface
func (m *PollerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ticksTotal.Describe(ch)
	m.recordsTotal.Describe(ch)
	m.skippedTotal.Describe(ch)
	m.streamEvents.Describe(ch)
	ch <- m.lastProcessed.Desc()
	ch <- m.streamSessions.Desc()
}

// Collect implements the Collector interface
func (m *PollerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ticksTotal.Collect(ch)
	m.recordsTotal.Collect(ch)
	m.skippedTotal.Collect(ch)
	m.streamEvents.Collect(ch)
	ch <- m.lastProcessed
	ch <- m.streamSessions
}

// RecordTick counts one iteration.
func (m *PollerMetrics) RecordTick(mode string) {
	if m == nil {
		return
	}
	m.ticksTotal.WithLabelValues(mode).Inc()
}

// RecordProcessed counts one processed record; success also stamps the last processed time.
func (m *PollerMetrics) RecordProcessed(status string) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues(status).Inc()
	if status == StatusSuccess {
		m.lastProcessed.SetToCurrentTime()
	}
}

// RecordSkipped counts a record the idempotency guard rejected.
func (m *PollerMetrics) RecordSkipped(reason string) {
	if m == nil {
		return
	}
	m.skippedTotal.WithLabelValues(reason).Inc()
}

// RecordStreamEvent counts one server-sent event.
func (m *PollerMetrics) RecordStreamEvent(event string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(event).Inc()
}

// RecordStreamSession counts one stream (re)connection.
func (m *PollerMetrics) RecordStreamSession() {
	if m == nil {
		return
	}
	m.streamSessions.Inc()
}
