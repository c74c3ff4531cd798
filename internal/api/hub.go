package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/config"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/logging"
)

// Hub fans bridge events out to connected WebSocket listeners.
// *Hub satisfies bridge.Broadcaster.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu        sync.RWMutex
	listeners map[*listener]struct{}
}

// NewHub creates an empty hub. Run must be started for shutdown to
// disconnect listeners.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:       cfg,
		logger:    logger,
		listeners: make(map[*listener]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every listener.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	all := make([]*listener, 0, len(h.listeners))
	for l := range h.listeners {
		all = append(all, l)
	}
	h.listeners = make(map[*listener]struct{})
	h.mu.Unlock()

	for _, l := range all {
		l.shut()
		if l.conn != nil {
			l.conn.Close() //nolint:errcheck,gosec // shutting down
		}
	}
}

// Broadcast sends payload on channel to every listener whose selection
// accepts it. A listener whose buffer is full misses the event.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := json.Marshal(Frame{
		Type:      FrameEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*listener, 0, len(h.listeners))
	for l := range h.listeners {
		targets = append(targets, l)
	}
	h.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, l := range targets {
		if !l.accepts(channel, payload) {
			continue
		}
		if l.enqueue(frame) {
			delivered++
		} else {
			dropped++
		}
	}
	if delivered > 0 || dropped > 0 {
		h.logger.Debug("websocket event sent", "channel", channel, "delivered", delivered, "dropped", dropped)
	}
}

// ClientCount returns the number of connected listeners.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

func (h *Hub) attach(l *listener) {
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	n := len(h.listeners)
	h.mu.Unlock()
	h.logger.Debug("websocket listener connected", "listeners", n)
}

func (h *Hub) detach(l *listener) {
	h.mu.Lock()
	delete(h.listeners, l)
	n := len(h.listeners)
	h.mu.Unlock()

	l.shut()
	h.logger.Debug("websocket listener disconnected", "listeners", n)
}
