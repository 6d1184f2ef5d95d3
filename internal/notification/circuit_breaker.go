package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hydroguard/pestwatch/internal/errors"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed means alerts flow normally.
	StateClosed CircuitState = iota
	// StateHalfOpen means one trial alert is allowed through.
	StateHalfOpen
	// StateOpen means alerts are rejected until the timeout passes.
	StateOpen
)

// String returns the string representation of CircuitState.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrCircuitBreakerOpen is returned while the breaker rejects calls.
var ErrCircuitBreakerOpen = errors.Newf("circuit breaker is open").
	Component(componentName).
	Category(errors.CategoryLimit).
	Build()

// CircuitBreakerConfig holds configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening the circuit.
	MaxFailures int
	// Timeout is how long to wait before transitioning from Open to Half-Open.
	Timeout time.Duration
}

// DefaultCircuitBreakerConfig returns default circuit breaker configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second}
}

// CircuitBreaker stops alert delivery to services that keep failing.
type CircuitBreaker struct {
	config          CircuitBreakerConfig
	state           CircuitState
	failures        int
	lastStateChange time.Time
	halfOpenInUse   bool
	mu              sync.Mutex
	now             func() time.Time
}

// NewCircuitBreaker creates a closed CircuitBreaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	d := DefaultCircuitBreakerConfig()
	if config.MaxFailures < 1 {
		config.MaxFailures = d.MaxFailures
	}
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}
	return &CircuitBreaker{config: config, now: time.Now, lastStateChange: time.Now()}
}

// Call runs fn unless the circuit is open.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return fmt.Errorf("alert rejected (%v, %d consecutive failures): %w", cb.State(), cb.Failures(), err)
	}
	err := fn(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.config.Timeout {
			return ErrCircuitBreakerOpen
		}
		cb.setState(StateHalfOpen)
		cb.halfOpenInUse = true
		return nil
	default:
		if cb.halfOpenInUse {
			return ErrCircuitBreakerOpen
		}
		cb.halfOpenInUse = true
		return nil
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.halfOpenInUse = false

	if err == nil {
		cb.failures = 0
		cb.setState(StateClosed)
		return
	}
	// cancellation says nothing about the service
	if errors.Is(err, context.Canceled) {
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(s CircuitState) {
	if cb.state != s {
		cb.state = s
		cb.lastStateChange = cb.now()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
