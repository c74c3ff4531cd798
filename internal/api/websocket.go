package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/nodelink-core/internal/bridge"
	"github.com/nerrad567/nodelink-core/internal/infrastructure/config"
)

// Frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameEvent       = "event"
	FrameResponse    = "response"
	FrameError       = "error"
)

// listenerBuffer is the number of frames queued per listener before
// events are dropped for it.
const listenerBuffer = 256

// Frame is one JSON message on the /ws stream, in either direction.
type Frame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Selection is what a listener receives. Channels name event types.
// NodeIDs and AccountIDs narrow node.message events: when either is set,
// an event passes if its node or its account is listed.
type Selection struct {
	Channels   []string `json:"channels,omitempty"`
	NodeIDs    []string `json:"node_ids,omitempty"`
	AccountIDs []string `json:"account_ids,omitempty"`
}

// controlFrame is an inbound client message.
type controlFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the request and streams events.
//
// Query parameters seed the selection: channels (default node.message),
// node_id and account_id, each comma-separated. Clients change it later
// with subscribe and unsubscribe frames carrying a Selection payload.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sel := selectionFromQuery(r.URL.Query())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	l := newListener(s.hub, conn)
	l.add(sel)
	s.hub.attach(l)

	go l.writeLoop(s.wsCfg)
	go l.readLoop(s.wsCfg)
}

func selectionFromQuery(q url.Values) Selection {
	sel := Selection{
		Channels:   splitList(q.Get("channels")),
		NodeIDs:    splitList(q.Get("node_id")),
		AccountIDs: splitList(q.Get("account_id")),
	}
	if len(sel.Channels) == 0 {
		sel.Channels = []string{bridge.EventNodeMessage}
	}
	return sel
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// listener is one connected WebSocket client.
type listener struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte

	mu       sync.RWMutex
	closed   bool
	channels map[string]struct{}
	nodes    map[string]struct{}
	accounts map[string]struct{}
}

func newListener(hub *Hub, conn *websocket.Conn) *listener {
	return &listener{
		hub:      hub,
		conn:     conn,
		out:      make(chan []byte, listenerBuffer),
		channels: make(map[string]struct{}),
		nodes:    make(map[string]struct{}),
		accounts: make(map[string]struct{}),
	}
}

// accepts reports whether an event on channel with payload matches the
// listener's selection.
func (l *listener) accepts(channel string, payload any) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.channels[channel]; !ok {
		return false
	}
	if len(l.nodes) == 0 && len(l.accounts) == 0 {
		return true
	}

	var evt bridge.MessageEvent
	switch p := payload.(type) {
	case bridge.MessageEvent:
		evt = p
	case *bridge.MessageEvent:
		if p == nil {
			return false
		}
		evt = *p
	default:
		return true
	}

	_, byNode := l.nodes[evt.NodeID]
	_, byAccount := l.accounts[evt.AccountID]
	return byNode || byAccount
}

// enqueue queues a frame without blocking. It reports false when the
// listener is closed or its buffer is full.
func (l *listener) enqueue(frame []byte) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	select {
	case l.out <- frame:
		return true
	default:
		return false
	}
}

// shut closes the outbound queue once, which ends writeLoop.
func (l *listener) shut() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.out)
	}
}

func (l *listener) add(sel Selection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	addAll(l.channels, sel.Channels)
	addAll(l.nodes, sel.NodeIDs)
	addAll(l.accounts, sel.AccountIDs)
}

func (l *listener) remove(sel Selection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range sel.Channels {
		delete(l.channels, k)
	}
	for _, k := range sel.NodeIDs {
		delete(l.nodes, k)
	}
	for _, k := range sel.AccountIDs {
		delete(l.accounts, k)
	}
}

// selection returns the current selection with sorted lists.
func (l *listener) selection() Selection {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Selection{
		Channels:   sortedKeys(l.channels),
		NodeIDs:    sortedKeys(l.nodes),
		AccountIDs: sortedKeys(l.accounts),
	}
}

func addAll(set map[string]struct{}, keys []string) {
	for _, k := range keys {
		set[k] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// readLoop handles control frames until the connection fails, then
// detaches the listener.
func (l *listener) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		l.hub.detach(l)
		l.conn.Close() //nolint:errcheck,gosec // already failing
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return l.conn.SetReadDeadline(time.Now().Add(idle)) }

	l.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck,gosec // a failed deadline surfaces on read
	l.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers that ignore protocol pings still keep the stream open
		// by sending frames.
		extend() //nolint:errcheck,gosec // a failed deadline surfaces on read
		l.handle(data)
	}
}

// writeLoop drains the outbound queue and sends keepalive pings.
func (l *listener) writeLoop(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		l.conn.Close() //nolint:errcheck,gosec // loop is ending
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) error {
		l.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck,gosec // write reports it
		return l.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame, open := <-l.out:
			if !open {
				write(websocket.CloseMessage, nil) //nolint:errcheck,gosec // best effort
				return
			}
			if write(websocket.TextMessage, frame) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

// handle answers one control frame.
func (l *listener) handle(data []byte) {
	var in controlFrame
	if err := json.Unmarshal(data, &in); err != nil {
		l.reply("", FrameError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch in.Type {
	case FramePing:
		l.reply(in.ID, FramePong, nil)
	case FrameSubscribe, FrameUnsubscribe:
		var sel Selection
		if len(in.Payload) > 0 {
			if err := json.Unmarshal(in.Payload, &sel); err != nil {
				l.reply(in.ID, FrameError, map[string]string{"message": "invalid " + in.Type + " payload"})
				return
			}
		}
		if in.Type == FrameSubscribe {
			l.add(sel)
		} else {
			l.remove(sel)
		}
		l.reply(in.ID, FrameResponse, l.selection())
	default:
		l.reply(in.ID, FrameError, map[string]string{"message": "unknown message type: " + in.Type})
	}
}

func (l *listener) reply(id, kind string, payload any) {
	frame, err := json.Marshal(Frame{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	l.enqueue(frame)
}
