package influxdb

import (
	"errors"
	"fmt"
)

// ErrTelemetry is the category of every failure raised by the telemetry
// sink. Match on it to tell time-series problems apart from registry or
// transport errors.
var ErrTelemetry = errors.New("influxdb: telemetry error")

// Each of these wraps ErrTelemetry.
var (
	// ErrDisabled is returned by Connect when the sink is switched off.
	ErrDisabled = sinkError("disabled in configuration")

	// ErrUnreachable is returned when the server does not answer a ping.
	ErrUnreachable = sinkError("server unreachable")

	// ErrClosed is returned by HealthCheck once the client is closed.
	ErrClosed = sinkError("client closed")

	// ErrWriteRejected wraps batch failures passed to the OnError callback.
	ErrWriteRejected = sinkError("write rejected")
)

func sinkError(msg string) error {
	return fmt.Errorf("%w: %s", ErrTelemetry, msg)
}
