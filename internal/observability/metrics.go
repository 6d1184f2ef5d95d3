// Package observability provides Prometheus metrics for pestwatch.
// Error telemetry lives in the errors package.
package observability

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hydroguard/pestwatch/internal/httpclient"
	"github.com/hydroguard/pestwatch/internal/logger"
	"github.com/hydroguard/pestwatch/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry     *prometheus.Registry
	HTTP         *metrics.HTTPMetrics
	Detector     *metrics.DetectorMetrics
	DiskManager  *metrics.DiskManagerMetrics
	Poller       *metrics.PollerMetrics
	MQTT         *metrics.MQTTMetrics
	Notification *metrics.NotificationMetrics
}

// NewMetrics creates a registry with process and Go collectors plus every
// component collector. It returns an error if any collector fails to register.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{registry: registry}
	var err error

	if m.HTTP, err = metrics.NewHTTPMetrics(registry); err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}
	if m.Detector, err = metrics.NewDetectorMetrics(registry); err != nil {
		return nil, fmt.Errorf("failed to create detector metrics: %w", err)
	}
	if m.DiskManager, err = metrics.NewDiskManagerMetrics(registry); err != nil {
		return nil, fmt.Errorf("failed to create disk manager metrics: %w", err)
	}
	if m.Poller, err = metrics.NewPollerMetrics(registry); err != nil {
		return nil, fmt.Errorf("failed to create poller metrics: %w", err)
	}
	if m.MQTT, err = metrics.NewMQTTMetrics(registry); err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}
	if m.Notification, err = metrics.NewNotificationMetrics(registry); err != nil {
		return nil, fmt.Errorf("failed to create notification metrics: %w", err)
	}

	return m, nil
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{log: logger.Global().Module("telemetry")},
		ErrorHandling: promhttp.HTTPErrorOnError,
		Registry:      m.registry,
	})
}

// InstrumentClient installs hooks on client that count outbound requests by host
// and status and time them until headers arrive.
func (m *Metrics) InstrumentClient(client *httpclient.Client) {
	var started sync.Map // *http.Request -> time.Time

	client.SetBeforeRequestHook(func(req *http.Request) {
		started.Store(req, time.Now())
	})
	client.SetAfterResponseHook(func(req *http.Request, resp *http.Response, err error) {
		var elapsed time.Duration
		if v, ok := started.LoadAndDelete(req); ok {
			elapsed = time.Since(v.(time.Time))
		}
		status := 0
		if err == nil && resp != nil {
			status = resp.StatusCode
		}
		m.HTTP.RecordOutbound(req.URL.Host, req.Method, status, elapsed)
	})
}

// promLogger adapts the module logger to promhttp's Println-style logger.
type promLogger struct {
	log logger.Logger
}

func (l promLogger) Println(v ...any) {
	l.log.Error("metrics handler error", logger.String("detail", fmt.Sprint(v...)))
}
