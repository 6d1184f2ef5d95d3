package detector

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/observability/metrics"
)

// Serialized bounds the number of in-flight Detect calls on a shared detector.
type Serialized struct {
	inner    Detector
	sem      *semaphore.Weighted
	recorder metrics.Recorder
}

// NewSerialized wraps inner so at most width calls run at once. width below 1 means 1.
func NewSerialized(inner Detector, width int64, recorder metrics.Recorder) *Serialized {
	if width < 1 {
		width = 1
	}
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	return &Serialized{inner: inner, sem: semaphore.NewWeighted(width), recorder: recorder}
}

// Detect waits for a free slot, honoring ctx, then delegates.
func (s *Serialized) Detect(ctx context.Context, img []byte) ([]Detection, error) {
	start := time.Now()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.New(fmt.Errorf("gave up waiting for detector: %w", err)).
			Component(componentName).
			Category(errors.CategoryUnavailable).
			Context("operation", "acquire").
			Build()
	}
	defer s.sem.Release(1)
	s.recorder.RecordDuration(metrics.OpQueueWait, time.Since(start).Seconds())

	return s.inner.Detect(ctx, img)
}

// Healthy does not take a slot.
func (s *Serialized) Healthy(ctx context.Context) bool {
	return s.inner.Healthy(ctx)
}
