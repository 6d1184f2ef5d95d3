package middleware

import (
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hydroguard/pestwatch/internal/errors"
)

// globalIdentifier is the single bucket key shared by every caller.
const globalIdentifier = "global"

// RateLimitConfig configures a global request cap.
type RateLimitConfig struct {
	Requests int           // calls allowed per window
	Window   time.Duration // sliding window length
}

// GlobalRateStore is an echo RateLimiterStore that keeps one sliding window
// log of accepted calls for all callers, so the cap holds regardless of
// client address.
type GlobalRateStore struct {
	mu       sync.Mutex
	requests int
	window   time.Duration
	calls    []time.Time // accepted call times, oldest first
	now      func() time.Time
}

// NewGlobalRateStore creates a store allowing at most cfg.Requests calls in
// any cfg.Window.
func NewGlobalRateStore(cfg RateLimitConfig) *GlobalRateStore {
	if cfg.Requests < 1 {
		cfg.Requests = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &GlobalRateStore{
		requests: cfg.Requests,
		window:   cfg.Window,
		calls:    make([]time.Time, 0, cfg.Requests),
		now:      time.Now,
	}
}

// Allow implements middleware.RateLimiterStore. The identifier is ignored.
func (s *GlobalRateStore) Allow(string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.window)
	expired := 0
	for expired < len(s.calls) && !s.calls[expired].After(cutoff) {
		expired++
	}
	if expired > 0 {
		s.calls = append(s.calls[:0], s.calls[expired:]...)
	}

	if len(s.calls) >= s.requests {
		return false, nil
	}
	s.calls = append(s.calls, now)
	return true, nil
}

// NewRateLimiter creates the echo rate limiter for store. Denied calls become
// CategoryLimit errors so the error handler renders them as 429.
func NewRateLimiter(store middleware.RateLimiterStore, skipper middleware.Skipper) echo.MiddlewareFunc {
	if skipper == nil {
		skipper = middleware.DefaultSkipper
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: skipper,
		Store:   store,
		IdentifierExtractor: func(echo.Context) (string, error) {
			return globalIdentifier, nil
		},
		ErrorHandler: func(_ echo.Context, err error) error {
			return errors.New(err).
				Component("api").
				Category(errors.CategoryGeneric).
				Build()
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return errors.Newf("rate limit exceeded").
				Component("api").
				Category(errors.CategoryLimit).
				Context("path", c.Path()).
				Build()
		},
	})
}
