package mqtt

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydroguard/pestwatch/internal/analysis"
	"github.com/hydroguard/pestwatch/internal/detector"
	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
	"github.com/hydroguard/pestwatch/internal/observability/metrics"
	"github.com/hydroguard/pestwatch/internal/recordstore"
)

type fakeClient struct {
	mu           sync.Mutex
	published    map[string][][]byte
	err          error
	delay        time.Duration
	disconnected bool
}

func (f *fakeClient) Connect(context.Context) error { return nil }

func (f *fakeClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.published == nil {
		f.published = map[string][][]byte{}
	}
	f.published[topic] = append(f.published[topic], payload)
	return nil
}

func (f *fakeClient) IsConnected() bool { return true }

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func sampleResult() *analysis.Result {
	return &analysis.Result{
		Detections:  []detector.Detection{{Box: [4]int{1, 2, 3, 4}, Score: 0.9, Label: "ulat"}},
		PestPresent: true,
		PhotoURL:    "http://api.local/detectedImages/a.jpg",
		Source:      "url",
		Width:       640,
		Height:      480,
		Record:      &recordstore.Key{Date: "2026-10-15", Time: "08:30:00"},
		ProcessedAt: time.Date(2026, 10, 15, 8, 30, 1, 0, time.UTC),
		Duration:    1500 * time.Millisecond,
	}
}

func TestPublisher_PublishesDetections(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{delay: 10 * time.Millisecond}
	pub := NewPublisher(fc, "greenhouse/a", time.Second, logger.NewDiscardLogger())
	assert.Equal(t, "greenhouse/a/detections", pub.Topic())

	pub.Observe(t.Context(), sampleResult())
	pub.Close()

	require.Len(t, fc.published["greenhouse/a/detections"], 1, "Close waits for in-flight publishes")
	assert.True(t, fc.disconnected)

	var msg DetectionMessage
	require.NoError(t, json.Unmarshal(fc.published["greenhouse/a/detections"][0], &msg))
	assert.Equal(t, "true", msg.StatusUlat)
	assert.Equal(t, []string{"ulat"}, msg.Labels)
	assert.Equal(t, "2026-10-15", msg.Date)
	assert.Equal(t, "08:30:00", msg.Time)
	assert.Equal(t, int64(1500), msg.ProcessingMs)

	pub.Observe(t.Context(), sampleResult())
	assert.Len(t, fc.published["greenhouse/a/detections"], 1, "closed publishers drop results")
}

func TestPublisher_OutlivesRequestContext(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{delay: 20 * time.Millisecond}
	pub := NewPublisher(fc, "", time.Second, logger.NewDiscardLogger())

	ctx, cancel := context.WithCancel(t.Context())
	pub.Observe(ctx, sampleResult())
	cancel()
	pub.Close()

	assert.Len(t, fc.published["pestwatch/detections"], 1)
}

func TestPublisher_ErrorsAreLogged(t *testing.T) {
	t.Parallel()

	log, buf := logger.NewBufferLogger()
	fc := &fakeClient{err: errors.Newf("not connected").Category(errors.CategoryMQTTPublish).Build()}
	pub := NewPublisher(fc, "t", time.Second, log)
	pub.Observe(t.Context(), sampleResult())
	pub.Close()

	assert.Contains(t, buf.String(), "failed to publish detection")
}

func TestDetectionMessage_EmptyDetections(t *testing.T) {
	t.Parallel()

	msg := NewDetectionMessage(&analysis.Result{Source: "bytes"})
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"detections":[]`)
	assert.Contains(t, string(data), `"status_ulat":"false"`)
	assert.NotContains(t, string(data), `"date"`)
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	for _, broker := range []string{"", "broker.local:1883", "http://broker.local", "tcp://"} {
		_, err := NewClient(Config{Broker: broker}, nil, logger.NewDiscardLogger())
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration), "broker %q", broker)
	}

	_, err := NewClient(Config{Broker: "tcp://127.0.0.1:1883", QoS: 3}, nil, logger.NewDiscardLogger())
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

// closedPort returns a local address nothing listens on.
func closedPort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestClient_ConnectFailure(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewMQTTMetrics(reg)
	require.NoError(t, err)

	c, err := NewClient(Config{
		Broker:         "tcp://" + closedPort(t),
		ClientID:       "pestwatch-test",
		ConnectTimeout: 2 * time.Second,
		ReconnectDelay: time.Hour,
	}, m, logger.NewDiscardLogger())
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)

	err = c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.False(t, c.IsConnected())

	err = c.Connect(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")

	err = c.Publish(t.Context(), "pestwatch/detections", []byte("{}"))
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
	assert.InDelta(t, 3, testutil.ToFloat64(m.Errors), 0)
}

// serveFakeBroker accepts MQTT connections on l and acknowledges every
// CONNECT, discarding whatever the client sends afterwards.
func serveFakeBroker(t *testing.T, l net.Listener) {
	t.Helper()
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer func() { _ = conn.Close() }()
				buf := make([]byte, 1024)
				if _, err := conn.Read(buf); err != nil {
					return
				}
				// CONNACK, session present 0, return code accepted
				if _, err := conn.Write([]byte{0x20, 0x02, 0x00, 0x00}); err != nil {
					return
				}
				_, _ = io.Copy(io.Discard, conn)
			}()
		}
	}()
}

func TestClient_RetriesAfterStartupFailure(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewMQTTMetrics(reg)
	require.NoError(t, err)

	addr := closedPort(t)
	c, err := NewClient(Config{
		Broker:            "tcp://" + addr,
		ClientID:          "pestwatch-retry",
		ConnectTimeout:    2 * time.Second,
		ReconnectDelay:    50 * time.Millisecond,
		MaxReconnectDelay: 100 * time.Millisecond,
	}, m, logger.NewDiscardLogger())
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)

	require.Error(t, c.Connect(t.Context()), "nothing listens yet")
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ReconnectAttempts) >= 1
	}, 5*time.Second, 10*time.Millisecond, "a failed startup connect keeps retrying")

	l, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	serveFakeBroker(t, l)

	assert.Eventually(t, c.IsConnected, 10*time.Second, 20*time.Millisecond,
		"the client connects once the broker comes up")
	assert.NoError(t, c.Publish(t.Context(), "pestwatch/detections", []byte("{}")))
}

func TestClient_DisconnectStopsRetries(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewMQTTMetrics(reg)
	require.NoError(t, err)

	c, err := NewClient(Config{
		Broker:         "tcp://" + closedPort(t),
		ClientID:       "pestwatch-stop",
		ReconnectDelay: 50 * time.Millisecond,
	}, m, logger.NewDiscardLogger())
	require.NoError(t, err)

	require.Error(t, c.Connect(t.Context()))
	c.Disconnect()
	attempts := testutil.ToFloat64(m.ReconnectAttempts)
	time.Sleep(200 * time.Millisecond)
	assert.InDelta(t, attempts, testutil.ToFloat64(m.ReconnectAttempts), 0)
}

func isMosquittoTestServerAvailable() bool {
	conn, err := net.DialTimeout("tcp", "test.mosquitto.org:1883", 5*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func TestClient_PublicBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker round trip in short mode")
	}
	if !isMosquittoTestServerAvailable() {
		t.Skip("Skipping MQTT tests: test.mosquitto.org is not available")
	}

	c, err := NewClient(Config{
		Broker:   "tcp://test.mosquitto.org:1883",
		ClientID: "pestwatch-test-" + time.Now().Format("150405.000"),
	}, nil, logger.NewDiscardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	require.True(t, c.IsConnected())

	pub := NewPublisher(c, "pestwatch-test", 10*time.Second, logger.NewDiscardLogger())
	pub.Observe(ctx, sampleResult())
	pub.Close()
	assert.False(t, c.IsConnected())
}
