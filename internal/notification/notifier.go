// Package notification sends pest alerts to push services when an analyzed
// image contains the pest.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hydroguard/pestwatch/internal/analysis"
	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
	"github.com/hydroguard/pestwatch/internal/observability/metrics"
)

const componentName = "notification"

const (
	// DefaultTitle heads every alert.
	DefaultTitle    = "Pest detected"
	defaultCooldown = 15 * time.Minute
	defaultTimeout  = 30 * time.Second
)

// Delivery statuses reported to metrics.
const (
	statusSent        = "sent"
	statusFailed      = "failed"
	statusCircuitOpen = "circuit_open"
)

// Config configures a Notifier.
type Config struct {
	Title    string
	Cooldown time.Duration // minimum gap between alerts
	Timeout  time.Duration // per delivery
	Breaker  CircuitBreakerConfig
}

// Notifier implements analysis.Observer. It alerts on results with the pest
// present, at most once per cooldown, delivering in the background.
type Notifier struct {
	sender  Sender
	cfg     Config
	breaker *CircuitBreaker
	metrics *metrics.NotificationMetrics
	log     logger.Logger
	now     func() time.Time

	mu       sync.Mutex
	lastSent time.Time
	closed   bool
	wg       sync.WaitGroup
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.NotificationMetrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(n *Notifier) {
		if log != nil {
			n.log = log
		}
	}
}

// NewNotifier creates a Notifier delivering through sender.
func NewNotifier(sender Sender, cfg Config, opts ...Option) *Notifier {
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	} else if cfg.Cooldown == 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	n := &Notifier{
		sender:  sender,
		cfg:     cfg,
		breaker: NewCircuitBreaker(cfg.Breaker),
		log:     logger.Global().Module(componentName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Observe alerts when res has the pest and the cooldown has passed.
func (n *Notifier) Observe(ctx context.Context, res *analysis.Result) {
	if !res.PestPresent {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	now := n.now()
	if !n.lastSent.IsZero() && now.Sub(n.lastSent) < n.cfg.Cooldown {
		n.metrics.RecordSuppressed()
		n.log.Debug("pest alert suppressed by cooldown",
			logger.Duration("since_last", now.Sub(n.lastSent)))
		return
	}
	n.lastSent = now

	title, body := n.cfg.Title, FormatAlert(res)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.cfg.Timeout)
		defer cancel()
		n.deliver(sendCtx, title, body)
	}()
}

func (n *Notifier) deliver(ctx context.Context, title, body string) {
	start := time.Now()
	err := n.breaker.Call(ctx, func(ctx context.Context) error {
		return n.sender.Send(ctx, title, body)
	})
	switch {
	case err == nil:
		n.metrics.RecordDelivery(statusSent, time.Since(start))
		n.log.Info("pest alert sent")
	case errors.Is(err, ErrCircuitBreakerOpen):
		n.metrics.RecordDelivery(statusCircuitOpen, time.Since(start))
		n.log.Warn("pest alert skipped, notification services keep failing", logger.Error(err))
	default:
		n.metrics.RecordDelivery(statusFailed, time.Since(start))
		n.log.Error("failed to send pest alert", logger.Error(err))
	}
}

// Close waits for in-flight deliveries; later results are ignored.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
}

// FormatAlert renders the alert body for a result.
func FormatAlert(res *analysis.Result) string {
	counts := map[string]int{}
	var order []string
	for _, d := range res.Detections {
		if counts[d.Label] == 0 {
			order = append(order, d.Label)
		}
		counts[d.Label]++
	}
	parts := make([]string, 0, len(order))
	for _, l := range order {
		parts = append(parts, fmt.Sprintf("%s x%d", l, counts[l]))
	}

	var b strings.Builder
	b.WriteString("Pest found in ")
	if res.Record != nil {
		fmt.Fprintf(&b, "camera snapshot %s %s", res.Record.Date, res.Record.Time)
	} else {
		fmt.Fprintf(&b, "uploaded image (%s)", res.Source)
	}
	if len(parts) > 0 {
		b.WriteString(": " + strings.Join(parts, ", "))
	}
	if res.PhotoURL != "" {
		b.WriteString("\n" + res.PhotoURL)
	}
	return b.String()
}
