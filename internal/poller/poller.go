// Package poller watches the record store for new camera snapshots and runs
// detection on each new record exactly once.
package poller

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
	"github.com/hydroguard/pestwatch/internal/observability/metrics"
	"github.com/hydroguard/pestwatch/internal/recordstore"
)

const componentName = "poller"

// Modes.
const (
	ModePoll   = "poll"
	ModeStream = "stream"
)

const (
	defaultInterval = time.Second
	defaultTimeout  = 60 * time.Second
	defaultSeenTTL  = 24 * time.Hour

	// failed records are retried after this delay instead of on every tick
	failureRetryDelay = 30 * time.Second

	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second

	// repeated iteration failures are logged at most this often
	failureLogInterval = time.Minute
)

// Skip reasons reported to metrics.
const (
	SkipSeen      = "seen"
	SkipProcessed = "processed"
	SkipEmpty     = "empty"
	SkipNoPhoto   = "no_photo"
)

// RecordProcessor runs detection on a record and writes the result back.
type RecordProcessor interface {
	ProcessRecord(ctx context.Context, rec *recordstore.Record) error
}

// Config configures a Poller.
type Config struct {
	Mode     string
	Interval time.Duration // poll mode tick
	Timeout  time.Duration // budget for one record
	SeenTTL  time.Duration // how long processed keys are remembered
}

// Poller drives RecordProcessor from the record store.
type Poller struct {
	store   recordstore.Store
	proc    RecordProcessor
	cfg     Config
	seen    *cache.Cache
	metrics *metrics.PollerMetrics
	log     logger.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	failureLog rate.Sometimes

	// newest is the latest record key seen on the stream
	newest recordstore.Key
}

// Option configures a Poller.
type Option func(*Poller)

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.PollerMetrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Poller) {
		if log != nil {
			p.log = log
		}
	}
}

// WithReconnectBackoff bounds the delay between stream reconnects.
func WithReconnectBackoff(minDelay, maxDelay time.Duration) Option {
	return func(p *Poller) {
		if minDelay > 0 {
			p.minBackoff = minDelay
		}
		if maxDelay >= p.minBackoff {
			p.maxBackoff = maxDelay
		}
	}
}

// New creates a Poller.
func New(store recordstore.Store, proc RecordProcessor, cfg Config, opts ...Option) (*Poller, error) {
	if store == nil || proc == nil {
		return nil, errors.Newf("poller needs a record store and a processor").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModePoll
	case ModePoll, ModeStream:
	default:
		return nil, errors.Newf("unknown poller mode %q", cfg.Mode).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SeenTTL <= 0 {
		cfg.SeenTTL = defaultSeenTTL
	}

	p := &Poller{
		store:      store,
		proc:       proc,
		cfg:        cfg,
		seen:       cache.New(cfg.SeenTTL, cfg.SeenTTL/2),
		log:        logger.Global().Module(componentName),
		minBackoff: minReconnectDelay,
		maxBackoff: maxReconnectDelay,
		failureLog: rate.Sometimes{First: 1, Interval: failureLogInterval},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run processes records until ctx is done. It returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("poller started",
		logger.String("mode", p.cfg.Mode),
		logger.Duration("interval", p.cfg.Interval))
	defer p.log.Info("poller stopped")

	if p.cfg.Mode == ModeStream {
		p.runStream(ctx)
	} else {
		p.runPoll(ctx)
	}
	return nil
}

func (p *Poller) runPoll(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		p.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) runStream(ctx context.Context) {
	delay := p.minBackoff
	for ctx.Err() == nil {
		connected := p.watchOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			delay = p.minBackoff
		}

		p.log.Debug("record stream closed, reconnecting", logger.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, p.maxBackoff)
	}
}

// watchOnce consumes one stream session and reports whether it delivered any
// events.
func (p *Poller) watchOnce(ctx context.Context) bool {
	events, err := p.store.Watch(ctx)
	if err != nil {
		p.log.Warn("failed to open record stream", logger.Error(err))
		return false
	}
	p.metrics.RecordStreamSession()

	received := false
	for ev := range events {
		received = true
		p.metrics.RecordStreamEvent(string(ev.Type))

		if ev.Terminal() {
			p.log.Warn("record stream closed by server", logger.String("event", string(ev.Type)))
			continue
		}
		if key, ok := p.advance(ev.Keys()); ok {
			p.tickKey(ctx, key)
		}
	}
	return received
}

// advance picks the newest of keys and reports whether it is at least as new
// as anything seen on the stream before. Changes to older records are ignored.
func (p *Poller) advance(keys []recordstore.Key) (recordstore.Key, bool) {
	if len(keys) == 0 {
		return recordstore.Key{}, false
	}
	newest := keys[0]
	for _, k := range keys[1:] {
		if newest.Less(k) {
			newest = k
		}
	}
	if newest.Less(p.newest) {
		return recordstore.Key{}, false
	}
	p.newest = newest
	return newest, true
}

// tick runs one guarded iteration on the newest record.
func (p *Poller) tick(ctx context.Context) {
	p.metrics.RecordTick(p.cfg.Mode)
	_, err := p.ProcessLatest(ctx)
	p.logFailure(ctx, err)
}

// tickKey runs one guarded iteration on the record at key.
func (p *Poller) tickKey(ctx context.Context, key recordstore.Key) {
	p.metrics.RecordTick(p.cfg.Mode)
	_, err := p.ProcessKey(ctx, key)
	p.logFailure(ctx, err)
}

// logFailure logs iteration failures at most once per failureLogInterval.
// They are counted in metrics every time.
func (p *Poller) logFailure(ctx context.Context, err error) {
	if err == nil || ctx.Err() != nil {
		return
	}
	p.failureLog.Do(func() {
		p.log.Error("poll iteration failed", logger.Error(err))
	})
}

// ProcessLatest fetches the newest record and processes it unless it was
// already handled. It reports whether the processor ran.
func (p *Poller) ProcessLatest(ctx context.Context) (bool, error) {
	rec, err := p.store.Latest(ctx)
	return p.processFetched(ctx, rec, err)
}

// ProcessKey fetches the record at key and processes it unless it was
// already handled. It reports whether the processor ran.
func (p *Poller) ProcessKey(ctx context.Context, key recordstore.Key) (bool, error) {
	rec, err := p.store.Get(ctx, key)
	return p.processFetched(ctx, rec, err)
}

func (p *Poller) processFetched(ctx context.Context, rec *recordstore.Record, err error) (bool, error) {
	if err != nil {
		if errors.IsNotFound(err) {
			p.metrics.RecordSkipped(SkipEmpty)
			return false, nil
		}
		p.metrics.RecordProcessed(metrics.StatusError)
		return false, err
	}

	key := rec.Key.String()
	if _, found := p.seen.Get(key); found {
		p.metrics.RecordSkipped(SkipSeen)
		return false, nil
	}
	if rec.Processed() {
		p.seen.SetDefault(key, struct{}{})
		p.metrics.RecordSkipped(SkipProcessed)
		return false, nil
	}
	if rec.Photo == "" {
		p.seen.Set(key, struct{}{}, failureRetryDelay)
		p.metrics.RecordSkipped(SkipNoPhoto)
		p.log.Warn("record has no photo", logger.String("key", key))
		return false, nil
	}

	procCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	if err := p.proc.ProcessRecord(procCtx, rec); err != nil {
		p.seen.Set(key, struct{}{}, failureRetryDelay)
		p.metrics.RecordProcessed(metrics.StatusError)
		return true, errors.New(err).
			Component(componentName).
			Context("key", key).
			Build()
	}

	p.seen.SetDefault(key, struct{}{})
	p.metrics.RecordProcessed(metrics.StatusSuccess)
	p.log.Info("record processed",
		logger.String("key", key),
		logger.Duration("duration", time.Since(start)))
	return true, nil
}
