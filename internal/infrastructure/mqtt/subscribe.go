package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for messages on the specified topic.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "+/relay1" matches that sub-device on every node
//   - # (multi-level): "nodelink/#" matches all service topics
//
// As with Publish, a disconnected client makes one reconnect attempt first.
// If that fails the error wraps ErrNotConnected but the subscription stays
// tracked and is made as soon as the client connects. A broker that
// rejects the subscription leaves nothing tracked. Subscribing again to
// the same topic replaces the handler.
//
// Example:
//
//	err := client.Subscribe(node.TopicSub, 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	// Track first: a subscription made while the broker is away must still
	// be restored when the connection comes up.
	c.subMu.Lock()
	previous, hadPrevious := c.subscriptions[topic]
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	if err := c.ensureConnected(); err != nil {
		if c.isClosed() {
			c.untrack(topic, previous, hadPrevious)
		}
		return err
	}

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(c.timeouts.subscribe) {
		c.untrack(topic, previous, hadPrevious)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, c.timeouts.subscribe)
	}
	if err := token.Error(); err != nil {
		c.untrack(topic, previous, hadPrevious)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// untrack reverts the tracking entry for a failed subscribe.
func (c *Client) untrack(topic string, previous subscription, hadPrevious bool) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if hadPrevious {
		c.subscriptions[topic] = previous
		return
	}
	delete(c.subscriptions, topic)
}

// Unsubscribe removes a subscription and stops receiving messages for a topic.
//
// After unsubscribing, the handler will no longer be called for new messages
// on this topic. Any messages in flight may still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	// Forget the topic first so a later reconnect does not restore it.
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(c.timeouts.subscribe) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, c.timeouts.subscribe)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
