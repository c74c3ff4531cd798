package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/nodelink-core/internal/node"
)

const (
	// DefaultTimeout bounds a publish when the caller's context has no
	// earlier deadline.
	DefaultTimeout = 5 * time.Second

	commandQoS byte = 1
)

// ErrEmptyMessage is returned when the command text is blank.
var ErrEmptyMessage = fmt.Errorf("%w: message is required", node.ErrValidation)

// Publisher is the subset of the MQTT client the dispatcher needs.
// *mqtt.Client satisfies it.
type Publisher interface {
	PublishContext(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
}

// NodeReader loads nodes. *node.Registry satisfies it.
type NodeReader interface {
	Get(ctx context.Context, id string) (*node.Node, error)
}

// Logger defines the logging interface used by the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Acknowledgement is returned to the caller after a command is published.
type Acknowledgement struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Dispatcher publishes node commands.
//
// Thread Safety: safe for concurrent use.
type Dispatcher struct {
	nodes     NodeReader
	publisher Publisher
	timeout   time.Duration
	logger    Logger
}

// New creates a dispatcher. publisher may be nil when MQTT is unavailable;
// SendMessage then fails with mqtt.ErrNotConnected after the node checks.
// A non-positive timeout uses DefaultTimeout.
func New(nodes NodeReader, publisher Publisher, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{nodes: nodes, publisher: publisher, timeout: timeout}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SendMessage publishes message, upper-cased, to {nodeID}/{subDevice}.
//
// Errors:
//   - node.ErrNodeNotFound when the node does not exist
//   - node.ErrSubDeviceNotFound when the node has no such sub-device
//   - ErrEmptyMessage when message is blank
//   - an error wrapping mqtt.ErrTransport when the publish fails
func (d *Dispatcher) SendMessage(ctx context.Context, nodeID, subDevice, message, language string) (*Acknowledgement, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	n, err := d.nodes.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if !node.DeviceExists(n, subDevice) {
		return nil, fmt.Errorf("%w: %q on node %s", node.ErrSubDeviceNotFound, subDevice, nodeID)
	}

	if d.publisher == nil {
		return nil, mqtt.ErrNotConnected
	}

	topic := mqtt.Topics{}.NodeCommand(n.ID, subDevice)
	payload := strings.ToUpper(message)

	pubCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.publisher.PublishContext(pubCtx, topic, []byte(payload), commandQoS, false); err != nil {
		if d.logger != nil {
			d.logger.Warn("command publish failed", "node_id", nodeID, "topic", topic, "error", err)
		}
		return nil, fmt.Errorf("sending %s to %s: %w", payload, topic, err)
	}

	if d.logger != nil {
		d.logger.Info("command sent", "node_id", nodeID, "topic", topic, "command", payload)
	}

	return &Acknowledgement{Success: true, Message: Localize(message, language)}, nil
}
