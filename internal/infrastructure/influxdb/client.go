package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/config"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
	pingTimeout          = 5 * time.Second
)

// Stats counts what the sink has done since Connect.
type Stats struct {
	// Queued is the number of node messages handed to the write buffer.
	Queued uint64 `json:"queued"`

	// RejectedBatches is the number of batches the server refused.
	RejectedBatches uint64 `json:"rejected_batches"`
}

// Client stores inbound node messages in an InfluxDB v2 bucket.
//
// Writes go to a batching buffer and never block the caller; failed
// batches are reported through the SetOnError callback. A Client whose
// Close has run drops further writes silently.
type Client struct {
	raw    influxdb2.Client
	writer api.WriteAPI

	closed   atomic.Bool
	queued   atomic.Uint64
	rejected atomic.Uint64

	onErrorMu sync.RWMutex
	onError   func(err error)
}

// Connect pings the server and opens a batching writer for cfg.Bucket.
//
// It returns ErrDisabled when cfg.Enabled is false and an error wrapping
// ErrUnreachable when the ping fails within ctx and the ping timeout.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	raw := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))
	if err := ping(ctx, raw); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, cfg.URL, err)
	}

	c := &Client{
		raw:    raw,
		writer: raw.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go c.drainErrors(c.writer.Errors())

	return c, nil
}

// clientOptions maps the batch settings, falling back to the defaults for
// unset or negative values.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := defaultBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).                    //nolint:gosec // positive by construction
		SetFlushInterval(uint(flush.Milliseconds())) //nolint:gosec // positive by construction
}

func ping(ctx context.Context, raw influxdb2.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	ready, err := raw.Ping(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return errors.New("server not ready")
	}
	return nil
}

// drainErrors forwards batch failures until the writer closes its
// error channel on Close.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.rejected.Add(1)

		c.onErrorMu.RLock()
		callback := c.onError
		c.onErrorMu.RUnlock()

		if callback != nil {
			callback(fmt.Errorf("%w: %w", ErrWriteRejected, err))
		}
	}
}

// Close flushes buffered points and releases the client. Later calls
// are no-ops.
func (c *Client) Close() error {
	if c.raw == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writer.Flush()
	c.raw.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrClosed
	}
	if err := ping(ctx, c.raw); err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return nil
}

// IsConnected reports whether the client is open. It does not contact the
// server; use HealthCheck for that.
func (c *Client) IsConnected() bool {
	return c.raw != nil && !c.closed.Load()
}

// SetOnError sets the callback for failed batches. Errors wrap
// ErrWriteRejected.
func (c *Client) SetOnError(callback func(err error)) {
	c.onErrorMu.Lock()
	c.onError = callback
	c.onErrorMu.Unlock()
}

// Flush sends buffered points now and blocks until they are written.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writer.Flush()
	}
}

// Stats returns the sink counters.
func (c *Client) Stats() Stats {
	return Stats{
		Queued:          c.queued.Load(),
		RejectedBatches: c.rejected.Load(),
	}
}
