package mqtt

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
	"github.com/hydroguard/pestwatch/internal/observability/metrics"
)

const componentName = "mqtt"

// client implements the Client interface.
type client struct {
	config          Config
	internalClient  paho.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	reconnectTimer  *time.Timer
	reconnecting    bool
	reconnectStop   chan struct{}
	stopOnce        sync.Once
	metrics         *metrics.MQTTMetrics
	log             logger.Logger
}

// NewClient creates a new MQTT client with the provided configuration.
func NewClient(cfg Config, m *metrics.MQTTMetrics, log logger.Logger) (Client, error) {
	cfg = cfg.withDefaults()
	if _, err := parseBroker(cfg.Broker); err != nil {
		return nil, err
	}
	if cfg.QoS > 2 {
		return nil, errors.Newf("invalid MQTT QoS %d", cfg.QoS).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logger.Global().Module(componentName)
	}
	return &client{
		config:        cfg,
		reconnectStop: make(chan struct{}),
		metrics:       m,
		log:           log,
	}, nil
}

func parseBroker(broker string) (*url.URL, error) {
	u, err := url.Parse(broker)
	if err != nil || u.Hostname() == "" {
		return nil, errors.Newf("invalid broker URL %q", broker).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
		return u, nil
	default:
		return nil, errors.Newf("unsupported broker scheme %q", u.Scheme).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
// When the attempt fails, reconnecting continues in the background until
// it succeeds or Disconnect is called.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return c.connectError(fmt.Errorf("connection attempt too recent, last attempt was %v ago", since))
	}
	err := c.connect(ctx)
	if err != nil && !errors.IsCategory(err, errors.CategoryConfiguration) {
		c.scheduleReconnect()
	}
	return err
}

// connect dials the broker. The caller must hold c.mu.
func (c *client) connect(ctx context.Context) error {
	c.lastConnAttempt = time.Now()

	u, err := parseBroker(c.config.Broker)
	if err != nil {
		return err
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return c.connectError(fmt.Errorf("failed to resolve hostname %s: %w", host, err))
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	// reconnects are driven by reconnectWithBackoff so they show up in metrics
	opts.SetAutoReconnect(false)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	}
	c.internalClient = paho.NewClient(opts)

	token := c.internalClient.Connect()
	if err := waitToken(ctx, token, c.config.ConnectTimeout); err != nil {
		return c.connectError(err)
	}

	c.metrics.UpdateConnectionStatus(true)
	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected() {
		c.metrics.IncrementErrors()
		c.scheduleReconnect()
		return errors.Newf("not connected to MQTT broker").
			Component(componentName).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	start := time.Now()
	token := c.internalClient.Publish(topic, c.config.QoS, c.config.Retain, payload)
	if err := waitToken(ctx, token, c.config.PublishTimeout); err != nil {
		c.metrics.IncrementErrors()
		return errors.New(fmt.Errorf("publish failed: %w", err)).
			Component(componentName).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	c.metrics.IncrementMessagesDelivered()
	c.metrics.ObservePublish(len(payload), time.Since(start))
	c.log.Debug("published message",
		logger.String("topic", topic),
		logger.Int("bytes", len(payload)))
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected()
}

func (c *client) isConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker and stops reconnecting.
func (c *client) Disconnect() {
	c.stopOnce.Do(func() { close(c.reconnectStop) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	if c.isConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.metrics.UpdateConnectionStatus(false)
	}
}

func (c *client) onConnect(paho.Client) {
	c.log.Info("connected to MQTT broker", logger.String("broker", c.config.Broker))
	c.metrics.UpdateConnectionStatus(true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost",
		logger.String("broker", c.config.Broker),
		logger.Error(err))
	c.metrics.UpdateConnectionStatus(false)
	c.metrics.IncrementErrors()
	c.startReconnectTimer()
}

func (c *client) startReconnectTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleReconnect()
}

// scheduleReconnect starts the backoff loop unless one is already running or
// the client was disconnected. The caller must hold c.mu.
func (c *client) scheduleReconnect() {
	if c.reconnecting {
		return
	}
	select {
	case <-c.reconnectStop:
		return
	default:
	}
	c.reconnecting = true
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, c.reconnectWithBackoff)
}

func (c *client) reconnectWithBackoff() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()
	backoff := c.config.ReconnectDelay

	for {
		select {
		case <-c.reconnectStop:
			return
		default:
		}

		c.metrics.IncrementReconnectAttempts()
		ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
		c.mu.Lock()
		err := c.connect(ctx)
		c.mu.Unlock()
		cancel()

		if err == nil {
			c.log.Info("reconnected to MQTT broker")
			return
		}

		c.log.Warn("failed to reconnect to MQTT broker",
			logger.Error(err),
			logger.Duration("retry_in", backoff))

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, c.config.MaxReconnectDelay)
		case <-c.reconnectStop:
			return
		}
	}
}

func (c *client) connectError(err error) error {
	c.metrics.IncrementErrors()
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryNetwork).
		Context("broker", c.config.Broker).
		Build()
}

// waitToken waits for token completion, the timeout or ctx, whichever comes first.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timed out after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
