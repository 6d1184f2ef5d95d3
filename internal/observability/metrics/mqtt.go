package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains all Prometheus metrics related to MQTT operations.
type MQTTMetrics struct {
	ConnectionStatus  prometheus.Gauge
	MessagesDelivered prometheus.Counter
	Errors            prometheus.Counter
	ReconnectAttempts prometheus.Counter
	LastConnectTime   prometheus.Gauge
	MessageSize       prometheus.Histogram
	PublishLatency    prometheus.Histogram
}

// NewMQTTMetrics creates and registers MQTT metrics.
func NewMQTTMetrics(registry prometheus.Registerer) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		ConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_connection_status",
			Help: "Current MQTT connection status (1 for connected, 0 for disconnected)",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_messages_delivered_total",
			Help: "Total number of detection messages delivered to the broker",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_errors_total",
			Help: "Total number of MQTT errors encountered",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mqtt_reconnect_attempts_total",
			Help: "Total number of MQTT reconnection attempts",
		}),
		LastConnectTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_last_connect_time_seconds",
			Help: "Timestamp of the last successful MQTT connection",
		}),
		MessageSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqtt_message_size_bytes",
			Help:    "Size of MQTT messages in bytes",
			Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount10),
		}),
		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mqtt_publish_latency_seconds",
			Help:    "Latency of MQTT publish operations in seconds",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// UpdateConnectionStatus updates the connection gauge and, on connect, the last connect time.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.ConnectionStatus.Set(1)
		m.LastConnectTime.SetToCurrentTime()
	} else {
		m.ConnectionStatus.Set(0)
	}
}

func (m *MQTTMetrics) IncrementMessagesDelivered() {
	if m != nil {
		m.MessagesDelivered.Inc()
	}
}

func (m *MQTTMetrics) IncrementErrors() {
	if m != nil {
		m.Errors.Inc()
	}
}

func (m *MQTTMetrics) IncrementReconnectAttempts() {
	if m != nil {
		m.ReconnectAttempts.Inc()
	}
}

// ObservePublish records the payload size and publish latency.
func (m *MQTTMetrics) ObservePublish(sizeBytes int, latency time.Duration) {
	if m == nil {
		return
	}
	m.MessageSize.Observe(float64(sizeBytes))
	m.PublishLatency.Observe(latency.Seconds())
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.ConnectionStatus
	ch <- m.MessagesDelivered
	ch <- m.Errors
	ch <- m.ReconnectAttempts
	ch <- m.LastConnectTime
	ch <- m.MessageSize
	ch <- m.PublishLatency
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.ConnectionStatus.Desc()
	ch <- m.MessagesDelivered.Desc()
	ch <- m.Errors.Desc()
	ch <- m.ReconnectAttempts.Desc()
	ch <- m.LastConnectTime.Desc()
	ch <- m.MessageSize.Desc()
	ch <- m.PublishLatency.Desc()
}
