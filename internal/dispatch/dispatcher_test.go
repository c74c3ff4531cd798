package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/nodelink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/nodelink-core/internal/node"
)

type published struct {
	topic    string
	payload  string
	qos      byte
	retained bool
	deadline time.Time
}

// mockPublisher implements Publisher for testing.
type mockPublisher struct {
	mu    sync.Mutex
	calls []published
	err   error
}

func (m *mockPublisher) PublishContext(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline, _ := ctx.Deadline()
	m.calls = append(m.calls, published{topic, string(payload), qos, retained, deadline})
	return m.err
}

// mapReader implements NodeReader over a fixed set of nodes.
type mapReader map[string]*node.Node

func (m mapReader) Get(_ context.Context, id string) (*node.Node, error) {
	n, ok := m[id]
	if !ok {
		return nil, node.ErrNodeNotFound
	}
	return n.DeepCopy(), nil
}

func testNodes(t *testing.T) mapReader {
	t.Helper()
	n := &node.Node{ID: "n-1", AccountID: "acct", Name: "Hub"}
	if err := node.AddDevice(n, "Relay1", "switch"); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	return mapReader{"n-1": n}
}

func TestSendMessage(t *testing.T) {
	pub := &mockPublisher{}
	d := New(testNodes(t), pub, 0)

	start := time.Now()
	ack, err := d.SendMessage(context.Background(), "n-1", "relay1", "turn_on", "en")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if !ack.Success || ack.Message != "The device is turned on." {
		t.Errorf("ack = %+v", ack)
	}

	if len(pub.calls) != 1 {
		t.Fatalf("publishes = %d, want 1", len(pub.calls))
	}
	call := pub.calls[0]
	if call.topic != "n-1/relay1" {
		t.Errorf("topic = %q, want n-1/relay1", call.topic)
	}
	if call.payload != "TURN_ON" {
		t.Errorf("payload = %q, want TURN_ON", call.payload)
	}
	if call.qos != 1 || call.retained {
		t.Errorf("qos = %d retained = %v, want 1 false", call.qos, call.retained)
	}
	if call.deadline.IsZero() || call.deadline.After(start.Add(DefaultTimeout+time.Second)) {
		t.Errorf("deadline = %v, want within %v", call.deadline, DefaultTimeout)
	}
}

func TestSendMessage_UnknownCommandPassesThrough(t *testing.T) {
	d := New(testNodes(t), &mockPublisher{}, time.Second)

	ack, err := d.SendMessage(context.Background(), "n-1", "Relay1", "blink", "vi")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if ack.Message != "blink" {
		t.Errorf("ack.Message = %q, want blink", ack.Message)
	}
}

func TestSendMessage_Errors(t *testing.T) {
	tests := []struct {
		name      string
		nodeID    string
		subDevice string
		message   string
		pubErr    error
		want      []error
		published bool
	}{
		{"unknown node", "missing", "relay1", "on", nil, []error{node.ErrNodeNotFound, node.ErrNotFound}, false},
		{"unknown sub-device", "n-1", "fan", "on", nil, []error{node.ErrSubDeviceNotFound, node.ErrValidation, node.ErrNotFound}, false},
		{"blank message", "n-1", "relay1", "  ", nil, []error{ErrEmptyMessage, node.ErrValidation}, false},
		{"transport failure", "n-1", "relay1", "on", mqtt.ErrNotConnected, []error{mqtt.ErrNotConnected, mqtt.ErrTransport}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{err: tt.pubErr}
			d := New(testNodes(t), pub, time.Second)

			ack, err := d.SendMessage(context.Background(), tt.nodeID, tt.subDevice, tt.message, "en")
			if ack != nil {
				t.Errorf("ack = %+v, want nil", ack)
			}
			for _, want := range tt.want {
				if !errors.Is(err, want) {
					t.Errorf("SendMessage() error = %v, want %v", err, want)
				}
			}
			if got := len(pub.calls) > 0; got != tt.published {
				t.Errorf("published = %v, want %v", got, tt.published)
			}
		})
	}
}

func TestSendMessage_NoTransport(t *testing.T) {
	d := New(testNodes(t), nil, time.Second)

	if _, err := d.SendMessage(context.Background(), "n-1", "relay1", "on", "en"); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("SendMessage() error = %v, want ErrNotConnected", err)
	}
}

func TestSendMessage_CallerDeadlineWins(t *testing.T) {
	pub := &mockPublisher{}
	d := New(testNodes(t), pub, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := d.SendMessage(ctx, "n-1", "relay1", "off", "en"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	want, _ := ctx.Deadline()
	if !pub.calls[0].deadline.Equal(want) {
		t.Errorf("deadline = %v, want caller deadline %v", pub.calls[0].deadline, want)
	}
}
