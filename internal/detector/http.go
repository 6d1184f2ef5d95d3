package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
	"github.com/hydroguard/pestwatch/internal/observability/metrics"
)

const (
	componentName = "detector"

	// DefaultThreshold is the minimum confidence sent to and kept from the model.
	DefaultThreshold = 0.5
	// DefaultTimeout bounds one inference call.
	DefaultTimeout = 30 * time.Second

	healthTTL       = 30 * time.Second
	maxResponseSize = 4 << 20
	maxErrorBody    = 512
)

// Doer executes HTTP requests. *httpclient.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Config configures an HTTPDetector.
type Config struct {
	Endpoint       string        // receives multipart posts
	HealthEndpoint string        // empty derives <scheme>://<host>/health from Endpoint
	Threshold      float64       // detections scoring below are dropped
	Timeout        time.Duration // per call
}

// HTTPDetector sends images to an inference service as multipart posts
// carrying a "file" part and a "conf_threshold" field.
type HTTPDetector struct {
	cfg      Config
	client   Doer
	log      logger.Logger
	recorder metrics.Recorder

	healthMu     sync.Mutex
	healthyUntil time.Time
	now          func() time.Time
}

// Option configures an HTTPDetector.
type Option func(*HTTPDetector)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(d *HTTPDetector) {
		if log != nil {
			d.log = log
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(d *HTTPDetector) {
		if r != nil {
			d.recorder = r
		}
	}
}

// NewHTTPDetector validates cfg and returns a detector using client.
func NewHTTPDetector(cfg Config, client Doer, opts ...Option) (*HTTPDetector, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Newf("invalid detector endpoint %q", cfg.Endpoint).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.HealthEndpoint == "" {
		cfg.HealthEndpoint = (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/health"}).String()
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	d := &HTTPDetector{
		cfg:      cfg,
		client:   client,
		log:      logger.Global().Module(componentName),
		recorder: metrics.NopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Detect posts img to the inference endpoint and returns detections at or
// above the threshold, in the order the service returned them.
func (d *HTTPDetector) Detect(ctx context.Context, img []byte) ([]Detection, error) {
	start := time.Now()
	dets, err := d.detect(ctx, img)
	d.recorder.RecordDuration(metrics.OpDetect, time.Since(start).Seconds())
	if err != nil {
		d.recorder.RecordOperation(metrics.OpDetect, metrics.StatusError)
		d.recorder.RecordError(metrics.OpDetect, string(errors.CategoryOf(err)))
		return nil, err
	}
	d.recorder.RecordOperation(metrics.OpDetect, metrics.StatusSuccess)
	d.log.Debug("inference completed",
		logger.Int("detections", len(dets)),
		logger.Duration("elapsed", time.Since(start)))
	return dets, nil
}

func (d *HTTPDetector) detect(ctx context.Context, img []byte) ([]Detection, error) {
	if len(img) == 0 {
		return nil, errors.Newf("no image data to detect on").
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	body, contentType, err := d.buildForm(img)
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryDetector).
			Context("operation", "build_request").
			Build()
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, body)
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryDetector).
			Context("operation", "build_request").
			Build()
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(ctx, req)
	if err != nil {
		d.markUnhealthy()
		return nil, errors.New(fmt.Errorf("detector request failed: %w", err)).
			Component(componentName).
			Category(errors.CategoryDetector).
			Context("endpoint", d.cfg.Endpoint).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errors.Newf("detector returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)).
			Component(componentName).
			Category(errors.CategoryDetector).
			Context("status", resp.StatusCode).
			Build()
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to read detector response: %w", err)).
			Component(componentName).
			Category(errors.CategoryDetector).
			Build()
	}

	all, err := parseResponse(raw)
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryDetector).
			Context("operation", "parse_response").
			Build()
	}

	kept := all[:0]
	for _, det := range all {
		if det.Score >= d.cfg.Threshold {
			kept = append(kept, det)
		}
	}
	return kept, nil
}

func (d *HTTPDetector) buildForm(img []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(img); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("conf_threshold", strconv.FormatFloat(d.cfg.Threshold, 'f', 3, 64)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// Healthy probes the health endpoint. A success is trusted for 30 seconds;
// failures are not cached so recovery is seen on the next call.
func (d *HTTPDetector) Healthy(ctx context.Context) bool {
	d.healthMu.Lock()
	if d.now().Before(d.healthyUntil) {
		d.healthMu.Unlock()
		return true
	}
	d.healthMu.Unlock()

	ok := d.probe(ctx)
	d.recorder.RecordOperation(metrics.OpHealth, statusLabel(ok))
	if hr, isReporter := d.recorder.(healthReporter); isReporter {
		hr.SetHealthy(ok)
	}

	d.healthMu.Lock()
	if ok {
		d.healthyUntil = d.now().Add(healthTTL)
	} else {
		d.healthyUntil = time.Time{}
	}
	d.healthMu.Unlock()
	return ok
}

func (d *HTTPDetector) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.HealthEndpoint, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(ctx, req)
	if err != nil {
		d.log.Debug("detector health probe failed", logger.Error(err))
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	// Services that report model state must have it loaded.
	var health struct {
		ModelLoaded *bool `json:"model_loaded"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&health); err == nil && health.ModelLoaded != nil {
		return *health.ModelLoaded
	}
	return true
}

// healthReporter is implemented by recorders that keep a health gauge.
type healthReporter interface {
	SetHealthy(ok bool)
}

func (d *HTTPDetector) markUnhealthy() {
	d.healthMu.Lock()
	d.healthyUntil = time.Time{}
	d.healthMu.Unlock()
}

func statusLabel(ok bool) string {
	if ok {
		return metrics.StatusSuccess
	}
	return metrics.StatusError
}
