// Package analysis runs the pest detection pipeline: it ingests an image,
// asks the detector for objects, annotates and stores the result, applies
// retention and hands the outcome to observers.
package analysis

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/hydroguard/pestwatch/internal/annotate"
	"github.com/hydroguard/pestwatch/internal/detector"
	"github.com/hydroguard/pestwatch/internal/diskmanager"
	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/imagesource"
	"github.com/hydroguard/pestwatch/internal/logger"
	"github.com/hydroguard/pestwatch/internal/observability/metrics"
	"github.com/hydroguard/pestwatch/internal/recordstore"
)

const componentName = "analysis"

// OutputRoute is the URL path under which annotated images are served.
const OutputRoute = "/detectedImages"

// Result is the outcome of one detection pass.
type Result struct {
	Detections  []detector.Detection
	PestPresent bool
	OutputFile  string // annotated image name in the output directory
	PhotoURL    string // public URL of the annotated image
	UploadFile  string // stored original, empty when uploads are not kept
	Source      imagesource.Kind
	Width       int
	Height      int
	Record      *recordstore.Key // set for record store passes
	ProcessedAt time.Time
	Duration    time.Duration
}

// PestFlag renders PestPresent as the "true"/"false" string clients expect.
func (r *Result) PestFlag() string {
	if r.PestPresent {
		return "true"
	}
	return "false"
}

// Observer is told about every completed detection. Implementations must not
// block for long; the caller waits for Observe to return.
type Observer interface {
	Observe(ctx context.Context, res *Result)
}

// Config configures a Processor.
type Config struct {
	PestLabel   string
	MaxFiles    int    // files kept per directory after a sweep
	KeepUploads bool   // false deletes the stored original once detection is done
	PublicURL   string // base for photo URLs when the caller supplies none
}

// Processor runs the detection pipeline. It is safe for concurrent use.
type Processor struct {
	cfg        Config
	normalizer *imagesource.Normalizer
	detector   detector.Detector
	uploads    *diskmanager.Store
	outputs    *diskmanager.Store
	records    recordstore.Store
	observers  []Observer
	metrics    *metrics.DetectorMetrics
	log        logger.Logger
	now        func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithRecordStore enables record processing.
func WithRecordStore(s recordstore.Store) Option {
	return func(p *Processor) { p.records = s }
}

// WithObservers adds result observers.
func WithObservers(obs ...Observer) Option {
	return func(p *Processor) {
		for _, o := range obs {
			if o != nil {
				p.observers = append(p.observers, o)
			}
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.DetectorMetrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Processor) {
		if log != nil {
			p.log = log
		}
	}
}

// NewProcessor wires a Processor. uploads and outputs must be distinct stores.
func NewProcessor(cfg Config, nz *imagesource.Normalizer, det detector.Detector, uploads, outputs *diskmanager.Store, opts ...Option) (*Processor, error) {
	if nz == nil || det == nil || uploads == nil || outputs == nil {
		return nil, errors.Newf("processor needs a normalizer, a detector and both image stores").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.MaxFiles < 0 {
		return nil, errors.Newf("max files must not be negative, got %d", cfg.MaxFiles).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.PestLabel == "" {
		cfg.PestLabel = "ulat"
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	p := &Processor{
		cfg:        cfg,
		normalizer: nz,
		detector:   det,
		uploads:    uploads,
		outputs:    outputs,
		log:        logger.Global().Module(componentName),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// HasRecordStore reports whether record processing is available.
func (p *Processor) HasRecordStore() bool { return p.records != nil }

// Detector returns the detector the pipeline uses.
func (p *Processor) Detector() detector.Detector { return p.detector }

// ProcessUpload runs the pipeline on an uploaded file read from r. baseURL is
// the public origin photo URLs are built from; empty falls back to the
// configured one.
func (p *Processor) ProcessUpload(ctx context.Context, r io.Reader, baseURL string) (*Result, error) {
	img, err := p.normalizer.FromReader(r)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, img, baseURL)
}

// ProcessSource runs the pipeline on a URL, data-URI or, where enabled, a
// local path.
func (p *Processor) ProcessSource(ctx context.Context, source, baseURL string) (*Result, error) {
	img, err := p.normalizer.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, img, baseURL)
}

// ProcessRecord runs the pipeline on a record's photo and writes the result
// back onto the record.
func (p *Processor) ProcessRecord(ctx context.Context, rec *recordstore.Record) error {
	_, err := p.DetectRecord(ctx, rec, "")
	return err
}

// DetectRecord is ProcessRecord returning the result.
func (p *Processor) DetectRecord(ctx context.Context, rec *recordstore.Record, baseURL string) (*Result, error) {
	if p.records == nil {
		return nil, errors.Newf("record store is not configured").
			Component(componentName).
			Category(errors.CategoryUnavailable).
			Build()
	}
	if rec.Photo == "" {
		return nil, errors.Newf("record %s has no photo", rec.Key).
			Component(componentName).
			Category(errors.CategoryValidation).
			Context("key", rec.Key.String()).
			Build()
	}

	img, err := p.normalizer.Load(ctx, rec.Photo)
	if err != nil {
		return nil, err
	}
	key := rec.Key
	res, err := p.process(ctx, img, baseURL, &key)
	if err != nil {
		return nil, err
	}

	upd := recordstore.DetectionUpdate{PhotoDetected: res.PhotoURL, PestPresent: res.PestPresent}
	if err := p.records.Update(ctx, rec.Key, upd); err != nil {
		return res, err
	}
	p.notify(ctx, res)
	return res, nil
}

// Process runs the pipeline on an already normalized image.
func (p *Processor) Process(ctx context.Context, img *imagesource.Image, baseURL string) (*Result, error) {
	res, err := p.process(ctx, img, baseURL, nil)
	if err != nil {
		return nil, err
	}
	p.notify(ctx, res)
	return res, nil
}

func (p *Processor) process(ctx context.Context, img *imagesource.Image, baseURL string, key *recordstore.Key) (*Result, error) {
	start := p.now()

	uploadName, err := p.uploads.Save(img.Data, img.Ext)
	if err != nil {
		return nil, err
	}
	if !p.cfg.KeepUploads {
		defer p.discard(uploadName)
	}
	p.sweep(p.uploads)

	payload, err := detectorPayload(img)
	if err != nil {
		return nil, err
	}
	dets, err := p.detector.Detect(ctx, payload)
	if err != nil {
		return nil, err
	}
	dets = detector.Clamp(dets, img.Image.Bounds())

	annotated, err := annotate.EncodeJPEG(img.Image, dets)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to encode annotated image: %w", err)).
			Component(componentName).
			Category(errors.CategoryImageDecode).
			Build()
	}
	outName, err := p.outputs.Save(annotated, ".jpg")
	if err != nil {
		return nil, err
	}
	p.sweep(p.outputs)

	res := &Result{
		Detections:  dets,
		PestPresent: detector.PestPresent(dets, p.cfg.PestLabel),
		OutputFile:  outName,
		PhotoURL:    p.photoURL(baseURL, outName),
		Source:      img.Kind,
		Width:       img.Width(),
		Height:      img.Height(),
		Record:      key,
		ProcessedAt: start,
		Duration:    p.now().Sub(start),
	}
	if p.cfg.KeepUploads {
		res.UploadFile = uploadName
	}
	if res.Detections == nil {
		res.Detections = []detector.Detection{}
	}

	p.metrics.RecordResult(string(img.Kind), detector.Labels(dets), res.PestPresent)
	p.log.Info("image analyzed",
		logger.String("source", string(img.Kind)),
		logger.Int("detections", len(dets)),
		logger.Bool("pest_present", res.PestPresent),
		logger.String("output", outName),
		logger.Duration("duration", res.Duration))
	return res, nil
}

// detectorPayload returns bytes the detector accepts: JPEG and PNG pass
// through, other formats are re-encoded as JPEG.
func detectorPayload(img *imagesource.Image) ([]byte, error) {
	if img.Format == "jpeg" || img.Format == "png" {
		return img.Data, nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img.Image, &jpeg.Options{Quality: annotate.JPEGQuality}); err != nil {
		return nil, errors.New(fmt.Errorf("failed to re-encode %s image: %w", img.Format, err)).
			Component(componentName).
			Category(errors.CategoryImageDecode).
			Build()
	}
	return buf.Bytes(), nil
}

// sweep enforces retention. A failed sweep does not fail the request.
func (p *Processor) sweep(store *diskmanager.Store) {
	if _, err := store.Sweep(p.cfg.MaxFiles); err != nil {
		p.log.Warn("retention sweep failed",
			logger.String("dir", store.Dir()),
			logger.Error(err))
	}
}

func (p *Processor) discard(name string) {
	if err := p.uploads.Remove(name); err != nil {
		p.log.Warn("failed to remove processed upload",
			logger.String("file", name),
			logger.Error(err))
	}
}

func (p *Processor) photoURL(baseURL, name string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = p.cfg.PublicURL
	}
	return base + OutputRoute + "/" + url.PathEscape(name)
}

func (p *Processor) notify(ctx context.Context, res *Result) {
	for _, o := range p.observers {
		o.Observe(ctx, res)
	}
}
