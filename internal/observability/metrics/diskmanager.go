// Package metrics provides disk management metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DiskManagerMetrics contains Prometheus metrics for the image cache and its retention sweeps.
type DiskManagerMetrics struct {
	// Disk usage metrics
	diskUsageBytes            *prometheus.GaugeVec
	diskTotalBytes            *prometheus.GaugeVec
	diskUtilizationPercentage *prometheus.GaugeVec

	// Sweep metrics
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	filesDeletedTotal *prometheus.CounterVec
	bytesFreedTotal   *prometheus.CounterVec
	filesStoredTotal  *prometheus.CounterVec
	managedFiles      *prometheus.GaugeVec
}

// NewDiskManagerMetrics creates and registers new disk manager metrics
func NewDiskManagerMetrics(registry prometheus.Registerer) (*DiskManagerMetrics, error) {
	m := &DiskManagerMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *DiskManagerMetrics) initMetrics() {
	m.diskUsageBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "diskmanager_disk_usage_bytes",
		Help: "Used bytes on the filesystem holding a managed directory",
	}, []string{"dir"})

	m.diskTotalBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "diskmanager_disk_total_bytes",
		Help: "Total bytes on the filesystem holding a managed directory",
	}, []string{"dir"})

	m.diskUtilizationPercentage = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "diskmanager_disk_utilization_percentage",
		Help: "Disk utilization of the filesystem holding a managed directory",
	}, []string{"dir"})

	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskmanager_operations_total",
			Help: "Total number of disk manager operations",
		},
		[]string{"operation", "status"},
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diskmanager_operation_duration_seconds",
			Help:    "Time taken for disk manager operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
		},
		[]string{"operation"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskmanager_errors_total",
			Help: "Total number of disk manager errors",
		},
		[]string{"operation", "error_type"},
	)

	m.filesDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskmanager_files_deleted_total",
			Help: "Total number of files deleted by retention sweeps",
		},
		[]string{"dir"},
	)

	m.bytesFreedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskmanager_bytes_freed_total",
			Help: "Total bytes freed by retention sweeps",
		},
		[]string{"dir"},
	)

	m.filesStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskmanager_files_stored_total",
			Help: "Total number of image files written",
		},
		[]string{"dir"},
	)

	m.managedFiles = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "diskmanager_managed_files",
		Help: "Files present in a managed directory after the last sweep",
	}, []string{"dir"})
}

// Describe implements the Collector interface
func (m *DiskManagerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.diskUsageBytes.Describe(ch)
	m.diskTotalBytes.Describe(ch)
	m.diskUtilizationPercentage.Describe(ch)
	m.operationsTotal.Describe(ch)
	m.operationDuration.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.filesDeletedTotal.Describe(ch)
	m.bytesFreedTotal.Describe(ch)
	m.filesStoredTotal.Describe(ch)
	m.managedFiles.Describe(ch)
}

// Collect implements the Collector interface
func (m *DiskManagerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.diskUsageBytes.Collect(ch)
	m.diskTotalBytes.Collect(ch)
	m.diskUtilizationPercentage.Collect(ch)
	m.operationsTotal.Collect(ch)
	m.operationDuration.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.filesDeletedTotal.Collect(ch)
	m.bytesFreedTotal.Collect(ch)
	m.filesStoredTotal.Collect(ch)
	m.managedFiles.Collect(ch)
}

// UpdateDiskUsage updates disk usage metrics for a managed directory.
func (m *DiskManagerMetrics) UpdateDiskUsage(dir string, usedBytes, totalBytes uint64) {
	if m == nil {
		return
	}
	m.diskUsageBytes.WithLabelValues(dir).Set(float64(usedBytes))
	m.diskTotalBytes.WithLabelValues(dir).Set(float64(totalBytes))

	var utilization float64
	if totalBytes > 0 {
		utilization = float64(usedBytes) / float64(totalBytes) * PercentageFactor
	}
	m.diskUtilizationPercentage.WithLabelValues(dir).Set(utilization)
}

func (m *DiskManagerMetrics) RecordOperation(operation, status string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

func (m *DiskManagerMetrics) RecordDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

func (m *DiskManagerMetrics) RecordError(operation, errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordSweep records the outcome of one sweep.
func (m *DiskManagerMetrics) RecordSweep(dir string, deleted int, freed int64, remaining int) {
	if m == nil {
		return
	}
	m.filesDeletedTotal.WithLabelValues(dir).Add(float64(deleted))
	m.bytesFreedTotal.WithLabelValues(dir).Add(float64(freed))
	m.managedFiles.WithLabelValues(dir).Set(float64(remaining))
}

// RecordFileStored counts a written file.
func (m *DiskManagerMetrics) RecordFileStored(dir string) {
	if m == nil {
		return
	}
	m.filesStoredTotal.WithLabelValues(dir).Inc()
}
