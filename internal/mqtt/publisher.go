package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hydroguard/pestwatch/internal/analysis"
	"github.com/hydroguard/pestwatch/internal/logger"
)

// DetectionsSubtopic is appended to the configured base topic.
const DetectionsSubtopic = "detections"

// Publisher sends analysis results to the broker. It implements
// analysis.Observer; publishing happens in the background so requests are
// not held up by a slow broker.
type Publisher struct {
	client  Client
	topic   string
	timeout time.Duration
	log     logger.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewPublisher creates a Publisher on topic <baseTopic>/detections.
func NewPublisher(client Client, baseTopic string, timeout time.Duration, log logger.Logger) *Publisher {
	if baseTopic == "" {
		baseTopic = DefaultConfig().Topic
	}
	if timeout <= 0 {
		timeout = DefaultConfig().PublishTimeout
	}
	if log == nil {
		log = logger.Global().Module(componentName)
	}
	return &Publisher{
		client:  client,
		topic:   baseTopic + "/" + DetectionsSubtopic,
		timeout: timeout,
		log:     log,
	}
}

// Topic returns the topic results are published to.
func (p *Publisher) Topic() string { return p.topic }

// Observe publishes res without waiting for the broker.
func (p *Publisher) Observe(ctx context.Context, res *analysis.Result) {
	payload, err := json.Marshal(NewDetectionMessage(res))
	if err != nil {
		p.log.Error("failed to encode detection message", logger.Error(err))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		if err := p.client.Publish(pubCtx, p.topic, payload); err != nil {
			p.log.Warn("failed to publish detection",
				logger.String("topic", p.topic),
				logger.Error(err))
		}
	}()
}

// Close waits for in-flight publishes and disconnects the client.
func (p *Publisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	p.client.Disconnect()
}
