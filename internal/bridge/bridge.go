package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/nodelink-core/internal/node"
)

// EventNodeMessage is the broadcast channel for inbound node messages.
const EventNodeMessage = "node.message"

// defaultQoS is used for node subscriptions when Options.QoS is unset.
const defaultQoS byte = 1

// Transport is the subset of the MQTT client the bridge needs.
// *mqtt.Client satisfies it.
type Transport interface {
	// Subscribe registers handler for topic, replacing any previous one.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// Unsubscribe stops delivery for topic.
	Unsubscribe(topic string) error
}

// Registry is the subset of node.Registry the bridge needs.
type Registry interface {
	ListAll(ctx context.Context) ([]node.Node, error)
	RecordMessage(ctx context.Context, id, payload string, seenAt time.Time) (*node.Node, error)
}

// Telemetry stores inbound messages as time-series points. Optional.
// *influxdb.Client satisfies it.
type Telemetry interface {
	WriteNodeMessage(nodeID, topic, payload string, at time.Time)
}

// Broadcaster pushes events to live listeners. Optional.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageEvent is the payload broadcast on EventNodeMessage.
type MessageEvent struct {
	NodeID    string    `json:"node_id"`
	AccountID string    `json:"account_id"`
	Topic     string    `json:"topic"`
	Message   string    `json:"message"`
	LastSeen  time.Time `json:"last_seen"`
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Registry is required.
	Registry Registry

	// Transport may be nil when MQTT is unavailable; Start and Watch then
	// fail with mqtt.ErrNotConnected.
	Transport Transport

	// QoS for node subscriptions. Zero means QoS 1.
	QoS byte

	// Telemetry and Broadcaster are optional sinks.
	Telemetry   Telemetry
	Broadcaster Broadcaster

	Logger Logger

	// Now overrides the clock used for last_seen. Defaults to time.Now in UTC.
	Now func() time.Time
}

// Bridge subscribes each registered node's inbound topic and records the
// messages it receives.
//
// Thread Safety: All methods are safe for concurrent use. Transport calls
// are made without holding the bridge lock.
type Bridge struct {
	registry    Registry
	transport   Transport
	qos         byte
	telemetry   Telemetry
	broadcaster Broadcaster
	now         func() time.Time

	mu        sync.Mutex
	started   bool
	topics    map[string]map[string]struct{} // topic -> node IDs
	nodeTopic map[string]string              // node ID -> topic

	// ctx outlives Start's caller and is cancelled by Stop.
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. Call Start to subscribe.
func New(opts Options) (*Bridge, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	qos := opts.QoS
	if qos == 0 {
		qos = defaultQoS
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Bridge{
		registry:    opts.Registry,
		transport:   opts.Transport,
		qos:         qos,
		telemetry:   opts.Telemetry,
		broadcaster: opts.Broadcaster,
		now:         now,
		topics:      make(map[string]map[string]struct{}),
		nodeTopic:   make(map[string]string),
		ctx:         ctx,
		cancel:      cancel,
		logger:      opts.Logger,
	}, nil
}

// Start subscribes the inbound topic of every registered node, whatever
// its status. It runs once; later calls return ErrAlreadyStarted.
//
// A failed subscription does not stop the others. Start returns the
// number of nodes whose topic is subscribed and the joined per-node
// failures. Nodes deferred because the broker is down are not counted
// but remain watched; their errors wrap ErrSubscriptionDeferred.
func (b *Bridge) Start(ctx context.Context) (int, error) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return 0, ErrAlreadyStarted
	}
	b.started = true
	b.mu.Unlock()

	nodes, err := b.registry.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing nodes: %w", err)
	}

	var (
		subscribed, deferred int
		errs                 []error
	)
	for i := range nodes {
		err := b.watch(&nodes[i])
		switch {
		case err == nil:
			subscribed++
			continue
		case errors.Is(err, ErrSubscriptionDeferred):
			deferred++
			b.logWarn("node subscription deferred until broker connects", "node_id", nodes[i].ID)
		default:
			b.logError("subscribing node failed", err, "node_id", nodes[i].ID)
		}
		errs = append(errs, fmt.Errorf("node %s: %w", nodes[i].ID, err))
	}

	b.logInfo("bridge started",
		"nodes", len(nodes),
		"subscribed", subscribed,
		"deferred", deferred,
		"failed", len(errs)-deferred,
	)
	return subscribed, errors.Join(errs...)
}

// Watch subscribes the inbound topic of n, typically a node created or
// re-topiced after Start. A node already watched on another topic is
// moved to the new one.
func (b *Bridge) Watch(_ context.Context, n *node.Node) error {
	if n == nil {
		return fmt.Errorf("watching node: %w", node.ErrInvalidNode)
	}

	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	return b.watch(n)
}

// Stop unsubscribes every node topic and cancels in-flight registry
// writes. It is safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.cancel()

		b.mu.Lock()
		topics := make([]string, 0, len(b.topics))
		for topic := range b.topics {
			topics = append(topics, topic)
		}
		b.topics = make(map[string]map[string]struct{})
		b.nodeTopic = make(map[string]string)
		b.mu.Unlock()

		if b.transport != nil {
			for _, topic := range topics {
				if err := b.transport.Unsubscribe(topic); err != nil {
					b.logDebug("unsubscribe on stop failed", "topic", topic, "error", err)
				}
			}
		}

		b.logInfo("bridge stopped", "topics", len(topics))
	})
}

// TopicCount returns the number of subscribed topics.
func (b *Bridge) TopicCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

// IsWatched reports whether nodeID is attached to a topic. The topic may
// still be awaiting a broker connection.
func (b *Bridge) IsWatched(nodeID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.nodeTopic[nodeID]
	return ok
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// watch attaches n to its inbound topic, subscribing when it is the
// topic's first node.
//
// When the transport reports it is not connected the node is attached
// anyway: the transport keeps the subscription and restores it on
// reconnect, and the handler resolves node IDs at delivery time.
func (b *Bridge) watch(n *node.Node) error {
	if b.transport == nil {
		return mqtt.ErrNotConnected
	}

	topic := mqtt.Topics{}.NodeInbound(n.ID, n.TopicSub)

	b.mu.Lock()
	previous, hadPrevious := b.nodeTopic[n.ID]
	if hadPrevious && previous == topic {
		b.mu.Unlock()
		return nil
	}
	_, topicLive := b.topics[topic]
	b.mu.Unlock()

	var pending error
	if !topicLive {
		if err := b.transport.Subscribe(topic, b.qos, b.handlerFor(topic)); err != nil {
			if !errors.Is(err, mqtt.ErrNotConnected) {
				return fmt.Errorf("subscribing %s: %w", topic, err)
			}
			pending = fmt.Errorf("%w: %s: %w", ErrSubscriptionDeferred, topic, err)
		}
	}

	b.mu.Lock()
	ids, ok := b.topics[topic]
	if !ok {
		ids = make(map[string]struct{})
		b.topics[topic] = ids
	}
	ids[n.ID] = struct{}{}
	b.nodeTopic[n.ID] = topic

	orphaned := ""
	if hadPrevious {
		if old := b.topics[previous]; old != nil {
			delete(old, n.ID)
			if len(old) == 0 {
				delete(b.topics, previous)
				orphaned = previous
			}
		}
	}
	b.mu.Unlock()

	if orphaned != "" {
		if err := b.transport.Unsubscribe(orphaned); err != nil {
			b.logDebug("unsubscribing old topic failed", "topic", orphaned, "error", err)
		}
	}

	b.logDebug("watching node", "node_id", n.ID, "topic", topic, "pending", pending != nil)
	return pending
}

// handlerFor returns the transport handler for topic. The node set is
// read at delivery time so nodes added later on the same topic are seen.
func (b *Bridge) handlerFor(topic string) mqtt.MessageHandler {
	return func(_ string, payload []byte) error {
		b.mu.Lock()
		ids := make([]string, 0, len(b.topics[topic]))
		for id := range b.topics[topic] {
			ids = append(ids, id)
		}
		b.mu.Unlock()

		seenAt := b.now()
		message := string(payload)

		var errs []error
		for _, id := range ids {
			if err := b.record(id, topic, message, seenAt); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// record writes one inbound message to the registry and the sinks.
func (b *Bridge) record(nodeID, topic, message string, seenAt time.Time) error {
	n, err := b.registry.RecordMessage(b.ctx, nodeID, message, seenAt)
	if err != nil {
		if errors.Is(err, node.ErrNodeNotFound) {
			b.logWarn("message for unknown node", "node_id", nodeID, "topic", topic)
		} else {
			b.logError("recording node message failed", err, "node_id", nodeID, "topic", topic)
		}
		return fmt.Errorf("recording message for node %s: %w", nodeID, err)
	}

	b.logDebug("node message recorded", "node_id", nodeID, "topic", topic, "bytes", len(message))

	if b.telemetry != nil {
		b.telemetry.WriteNodeMessage(nodeID, topic, message, seenAt)
	}
	if b.broadcaster != nil {
		b.broadcaster.Broadcast(EventNodeMessage, MessageEvent{
			NodeID:    n.ID,
			AccountID: n.AccountID,
			Topic:     topic,
			Message:   message,
			LastSeen:  seenAt,
		})
	}
	return nil
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
