package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DetectorMetrics tracks inference calls and what they find.
type DetectorMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	detectionsTotal   *prometheus.CounterVec
	pestImagesTotal   prometheus.Counter
	imagesTotal       *prometheus.CounterVec
	healthy           prometheus.Gauge
}

// NewDetectorMetrics creates and registers detector metrics.
func NewDetectorMetrics(registry prometheus.Registerer) (*DetectorMetrics, error) {
	m := &DetectorMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detector_operations_total",
			Help: "Total number of detector operations",
		}, []string{"operation", "status"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "detector_operation_duration_seconds",
			Help:    "Duration of detector operations, including semaphore waits",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		}, []string{"operation"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detector_errors_total",
			Help: "Total number of detector errors by category",
		}, []string{"operation", "error_type"}),
		detectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detector_detections_total",
			Help: "Total number of detections returned, by label",
		}, []string{"label"}),
		pestImagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "detector_pest_images_total",
			Help: "Total number of processed images where the pest label was present",
		}),
		imagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detector_images_total",
			Help: "Total number of images processed, by input source",
		}, []string{"source"}),
		healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "detector_healthy",
			Help: "Result of the last detector health probe (1 healthy, 0 unreachable)",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements the Collector interface
func (m *DetectorMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.operationDuration.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.detectionsTotal.Describe(ch)
	ch <- m.pestImagesTotal.Desc()
	m.imagesTotal.Describe(ch)
	ch <- m.healthy.Desc()
}

// Collect implements the Collector interface
func (m *DetectorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.operationDuration.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.detectionsTotal.Collect(ch)
	ch <- m.pestImagesTotal
	m.imagesTotal.Collect(ch)
	ch <- m.healthy
}

func (m *DetectorMetrics) RecordOperation(operation, status string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

func (m *DetectorMetrics) RecordDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

func (m *DetectorMetrics) RecordError(operation, errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordResult counts the labels found in one image and whether it held the pest.
func (m *DetectorMetrics) RecordResult(source string, labels []string, pest bool) {
	if m == nil {
		return
	}
	m.imagesTotal.WithLabelValues(source).Inc()
	for _, l := range labels {
		m.detectionsTotal.WithLabelValues(l).Inc()
	}
	if pest {
		m.pestImagesTotal.Inc()
	}
}

// SetHealthy records the last probe result.
func (m *DetectorMetrics) SetHealthy(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.healthy.Set(1)
	} else {
		m.healthy.Set(0)
	}
}
