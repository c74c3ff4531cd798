package mqtt

import (
	"errors"
	"fmt"
)

// ErrTransport is the category of every failure raised by this package.
// Callers outside the transport layer match on it with errors.Is to tell
// broker problems apart from registry errors.
var ErrTransport = errors.New("mqtt: transport error")

// Domain-specific errors for MQTT operations.
// Each one wraps ErrTransport. Use errors.Is() to check for them.
var (
	// ErrNotConnected is returned when the client is disconnected and a
	// single reconnect attempt did not restore the connection.
	ErrNotConnected = transportError("client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = transportError("connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = transportError("publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = transportError("subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = transportError("unsubscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = transportError("invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or invalid topic is provided.
	ErrInvalidTopic = transportError("topic cannot be empty")
)

func transportError(msg string) error {
	return fmt.Errorf("%w: %s", ErrTransport, msg)
}
