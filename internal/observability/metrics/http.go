// Package metrics provides HTTP metrics for observability
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics covers the API server and outbound client traffic.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	responseSize    *prometheus.HistogramVec

	outboundTotal    *prometheus.CounterVec
	outboundDuration *prometheus.HistogramVec
}

// NewHTTPMetrics creates and registers HTTP metrics.
func NewHTTPMetrics(registry prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "path", "status_code"}, // path is the route pattern, not the raw URL
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"method", "path"},
	)

	m.responseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes",
			Buckets: prometheus.ExponentialBuckets(BucketStart64B, 4, BucketCount10),
		},
		[]string{"path"},
	)

	m.outboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_client_requests_total",
			Help: "Total number of outbound HTTP requests",
		},
		[]string{"host", "method", "status"}, // status is the code or "error"
	)

	m.outboundDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_client_request_duration_seconds",
			Help:    "Time until outbound HTTP response headers arrive",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		},
		[]string{"host"},
	)
}

// Describe implements the Collector interface
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.requestsTotal.Describe(ch)
	m.requestDuration.Describe(ch)
	m.responseSize.Describe(ch)
	m.outboundTotal.Describe(ch)
	m.outboundDuration.Describe(ch)
}

// Collect implements the Collector interface
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.requestsTotal.Collect(ch)
	m.requestDuration.Collect(ch)
	m.responseSize.Collect(ch)
	m.outboundTotal.Collect(ch)
	m.outboundDuration.Collect(ch)
}

// RecordRequest records one served request.
func (m *HTTPMetrics) RecordRequest(method, path string, status int, size int64, duration time.Duration) {
	if m == nil {
		return
	}
	if path == "" {
		path = "unmatched"
	}
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if size >= 0 {
		m.responseSize.WithLabelValues(path).Observe(float64(size))
	}
}

// RecordOutbound records one outbound request. status 0 means a transport error.
func (m *HTTPMetrics) RecordOutbound(host, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := StatusError
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.outboundTotal.WithLabelValues(host, method, label).Inc()
	m.outboundDuration.WithLabelValues(host).Observe(duration.Seconds())
}
