package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for a connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultSubscribeTimeout is the maximum time to wait for a SUBACK.
	defaultSubscribeTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// clientIDSuffixLen is the number of random characters appended to the client ID.
	clientIDSuffixLen = 8

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// timeouts holds the resolved per-operation limits for a client.
type timeouts struct {
	connect   time.Duration
	publish   time.Duration
	subscribe time.Duration
}

// resolveTimeouts converts configured seconds into durations, falling back
// to the package defaults for unset values.
func resolveTimeouts(cfg config.MQTTTimeoutConfig) timeouts {
	pick := func(seconds int, def time.Duration) time.Duration {
		if seconds <= 0 {
			return def
		}
		return time.Duration(seconds) * time.Second
	}
	return timeouts{
		connect:   pick(cfg.Connect, defaultConnectTimeout),
		publish:   pick(cfg.Publish, defaultPublishTimeout),
		subscribe: pick(cfg.Subscribe, defaultSubscribeTimeout),
	}
}

// Reconnect backoff defaults, used when the config leaves them unset.
const (
	defaultRetryInitial = 1 * time.Second
	defaultRetryMax     = 60 * time.Second
)

// retryPolicy bounds the background reconnect loop. initial is also the
// fail-fast window after a failed on-demand reconnect.
type retryPolicy struct {
	initial time.Duration
	max     time.Duration
}

func resolveRetry(cfg config.MQTTReconnectConfig) retryPolicy {
	p := retryPolicy{initial: defaultRetryInitial, max: defaultRetryMax}
	if cfg.InitialDelay > 0 {
		p.initial = time.Duration(cfg.InitialDelay) * time.Second
	}
	if cfg.MaxDelay > 0 {
		p.max = time.Duration(cfg.MaxDelay) * time.Second
	}
	if p.max < p.initial {
		p.max = p.initial
	}
	return p
}

// brokerURL returns the configured broker URL, building it from host and
// port when no explicit URL is set.
func brokerURL(cfg config.MQTTBrokerConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)
}

// clientID returns the client identifier to present to the broker.
func clientID(cfg config.MQTTBrokerConfig) string {
	if !cfg.RandomSuffix {
		return cfg.ClientID
	}
	return cfg.ClientID + "-" + uuid.NewString()[:clientIDSuffixLen]
}

// buildClientOptions creates paho MQTT options from NodeLink config.
//
// This configures:
//   - Broker URL (explicit, or tcp:// / ssl:// from host and port)
//   - Client ID, optionally with a random suffix
//   - Authentication credentials (if provided)
//   - Auto-reconnect with exponential backoff after the first connection
//   - TLS configuration (if enabled)
//   - Clean session mode
//
// paho's ConnectRetry is off so the initial attempt reports its failure to
// the caller. Until a first connection exists the client's own backoff
// loop keeps dialling; after that paho's auto-reconnect takes over.
func buildClientOptions(cfg config.MQTTConfig, id string, t timeouts) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(id)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	if cfg.Reconnect.InitialDelay > 0 {
		opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	}
	if cfg.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	}

	opts.SetConnectTimeout(t.connect)
	opts.SetKeepAlive(defaultKeepAlive)

	// Subscriptions are restored by the client itself after reconnect.
	opts.SetResumeSubs(false)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// Topic: nodelink/system/status
// QoS: 1 (guaranteed delivery)
// Retained: true (new subscribers see last status)
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	willPayload := fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"unexpected_disconnect","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)

	opts.SetWill(Topics{}.SystemStatus(), willPayload, 1, true)
}

// buildOnlinePayload creates the JSON payload for online status messages.
func buildOnlinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"online","client_id":"%s","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// buildOfflinePayload creates the JSON payload for graceful offline status.
func buildOfflinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"graceful_shutdown","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}
