package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang with NodeLink-specific functionality.
//
// It provides connection management, message publishing, subscription handling,
// and automatic reconnection with exponential backoff.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Client struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	clientID string
	timeouts timeouts

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state.
	connected bool
	closed    bool
	connMu    sync.RWMutex

	// reconnectMu serialises reconnect attempts. lastFailure is the time
	// of the last failed on-demand attempt; callers arriving within
	// retry.initial of it fail fast instead of dialling again.
	reconnectMu sync.Mutex
	lastFailure time.Time
	retry       retryPolicy
	now         func() time.Time

	// done stops the background reconnect loop.
	done      chan struct{}
	closeOnce sync.Once

	// Callbacks for connection events (optional, set via SetOnConnect/SetOnDisconnect).
	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on paho's delivery goroutine and should not block for
// extended periods. A returned error is logged and does not affect the
// acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// pahoFactory builds the underlying paho client. Tests replace it.
type pahoFactory func(opts *pahomqtt.ClientOptions) pahomqtt.Client

// Connect creates a client and makes the initial connection attempt.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Configures Last Will and Testament (LWT) for offline detection
//  3. Attempts the initial connection within the connect timeout
//  4. Publishes online status to nodelink/system/status
//
// When the initial attempt fails the returned error wraps
// ErrConnectionFailed, and the returned *Client is still usable: it stays
// disconnected and Publish/Subscribe make their own reconnect attempt.
// Callers that prefer a hard failure can ignore the client.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	return connectWith(cfg, pahomqtt.NewClient)
}

func connectWith(cfg config.MQTTConfig, factory pahoFactory) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		clientID:      clientID(cfg.Broker),
		timeouts:      resolveTimeouts(cfg.Timeouts),
		retry:         resolveRetry(cfg.Reconnect),
		now:           time.Now,
		subscriptions: make(map[string]subscription),
		done:          make(chan struct{}),
	}

	opts := buildClientOptions(cfg, c.clientID, c.timeouts)
	configureLWT(opts, c.clientID)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Info("MQTT reconnecting", "broker", brokerURL(cfg.Broker))
		}
	})

	c.client = factory(opts)
	if err := c.dial(); err != nil {
		// paho only auto-reconnects after a first successful connection.
		go c.reconnectLoop()
		return c, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

// dial performs one connection attempt bounded by the connect timeout.
func (c *Client) dial() error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.timeouts.connect) {
		return fmt.Errorf("timeout after %v", c.timeouts.connect)
	}
	if err := token.Error(); err != nil {
		return err
	}
	if !c.client.IsConnected() {
		return errors.New("broker connection not established")
	}

	// The OnConnectHandler runs asynchronously and may not have executed
	// yet, so the state is set here as well.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return nil
}

// ensureConnected returns nil when the client is connected. Otherwise it
// makes at most one reconnect attempt and reports ErrNotConnected if that
// attempt does not restore the connection. Within retry.initial of a
// failed attempt it returns ErrNotConnected without dialling, so a burst
// of callers against a dead broker costs one connect timeout, not one each.
func (c *Client) ensureConnected() error {
	if c.IsConnected() {
		return nil
	}
	if c.isClosed() {
		return fmt.Errorf("%w: client closed", ErrNotConnected)
	}

	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	// Another caller may have reconnected while we waited.
	if c.IsConnected() {
		return nil
	}
	if !c.lastFailure.IsZero() && c.now().Sub(c.lastFailure) < c.retry.initial {
		return fmt.Errorf("%w: broker unreachable, retry pending", ErrNotConnected)
	}

	if err := c.dial(); err != nil {
		c.lastFailure = c.now()
		return fmt.Errorf("%w: reconnect attempt failed: %w", ErrNotConnected, err)
	}
	c.lastFailure = time.Time{}

	if logger := c.getLogger(); logger != nil {
		logger.Info("MQTT reconnected on demand", "broker", brokerURL(c.cfg.Broker))
	}
	return nil
}

// reconnectLoop dials with exponential backoff until the client connects
// or is closed. It covers a broker that is down at start-up, which paho's
// own auto-reconnect does not. Tracked subscriptions are restored by
// handleConnect once a dial succeeds.
func (c *Client) reconnectLoop() {
	delay := c.retry.initial
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-timer.C:
		}

		if c.redial() {
			return
		}

		delay *= 2
		if delay > c.retry.max {
			delay = c.retry.max
		}
		timer.Reset(delay)
	}
}

// redial makes one background attempt and reports whether the client is
// connected afterwards.
func (c *Client) redial() bool {
	if c.isClosed() {
		return true
	}

	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	if c.IsConnected() {
		return true
	}
	if err := c.dial(); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT connect attempt failed", "broker", brokerURL(c.cfg.Broker), "error", err)
		}
		return false
	}
	c.lastFailure = time.Time{}

	if logger := c.getLogger(); logger != nil {
		logger.Info("MQTT connected after retry", "broker", brokerURL(c.cfg.Broker))
	}
	return true
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()
	c.publishOnlineStatus()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.subMu.RUnlock()

	for _, sub := range subs {
		token := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
		go c.logRestoreResult(sub.topic, token)
	}
}

// logRestoreResult waits for a restored subscription off the paho callback
// goroutine and logs failures.
func (c *Client) logRestoreResult(topic string, token pahomqtt.Token) {
	if !token.WaitTimeout(c.timeouts.subscribe) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT resubscribe timed out", "topic", topic)
		}
		return
	}
	if err := token.Error(); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT resubscribe failed", "topic", topic, "error", err)
		}
	}
}

// publishOnlineStatus publishes the service's online status to the system status topic.
func (c *Client) publishOnlineStatus() {
	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, buildOnlinePayload(c.clientID))
}

// Close gracefully disconnects from the MQTT broker.
//
// It publishes a graceful offline status (different from the LWT crash
// status) when connected, then disconnects with a quiesce period for
// pending operations. Close is idempotent and safe on a client whose
// initial connection failed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.connMu.Lock()
		c.closed = true
		c.connMu.Unlock()
		if c.done != nil {
			close(c.done)
		}

		if c.client == nil {
			return
		}

		if c.client.IsConnected() {
			payload := buildOfflinePayload(c.clientID)
			token := c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, payload)
			token.WaitTimeout(c.timeouts.publish)
		}

		c.client.Disconnect(defaultDisconnectQuiesce)

		c.connMu.Lock()
		c.connected = false
		c.connMu.Unlock()
	})

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && !c.closed && c.client != nil && c.client.IsConnected()
}

func (c *Client) isClosed() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.closed
}

// ClientID returns the identifier presented to the broker.
func (c *Client) ClientID() string {
	return c.clientID
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection events and handler failures.
// If not set, they are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}

// waitToken waits for token within limit or until ctx is done.
func waitToken(ctx context.Context, token pahomqtt.Token, limit time.Duration) error {
	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timeout after %v", limit)
	case <-ctx.Done():
		return ctx.Err()
	}
}
