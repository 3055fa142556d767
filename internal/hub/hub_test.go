package hub

import (
	"context"
	"sync"
	"testing"

	"github.com/septivank/water-flow-monitor/internal/events"
	"go.uber.org/zap"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	state  State
	full   bool
	frames [][]byte
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) Enqueue(msg []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateOpen || f.full {
		return false
	}
	f.frames = append(f.frames, msg)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateClosed
}

func TestBroadcast_SkipsAndRemovesClosedConnection(t *testing.T) {
	h := New(zap.NewNop())
	a := &fakeConn{id: "a", state: StateOpen}
	b := &fakeConn{id: "b", state: StateOpen}
	c := &fakeConn{id: "c", state: StateClosed}
	h.Register(a)
	h.Register(b)
	h.Register(c)

	delivered := h.Broadcast([]byte(`{"type":"sensorReading"}`))
	if delivered != 2 {
		t.Errorf("Expected 2 deliveries, got %d", delivered)
	}
	if h.Count() != 2 {
		t.Errorf("Expected closed connection to be removed, got %d clients", h.Count())
	}
	if len(a.frames) != 1 || len(b.frames) != 1 {
		t.Errorf("Expected one frame per open connection, got %d and %d", len(a.frames), len(b.frames))
	}
}

func TestBroadcast_FullQueueDoesNotBlockOthers(t *testing.T) {
	h := New(zap.NewNop())
	slow := &fakeConn{id: "slow", state: StateOpen, full: true}
	fast := &fakeConn{id: "fast", state: StateOpen}
	h.Register(slow)
	h.Register(fast)

	if delivered := h.Broadcast([]byte(`{}`)); delivered != 1 {
		t.Errorf("Expected 1 delivery, got %d", delivered)
	}
	if slow.State() != StateClosed {
		t.Errorf("Expected slow connection to be closed, got %s", slow.State())
	}
	if h.Count() != 1 {
		t.Errorf("Expected 1 remaining client, got %d", h.Count())
	}
}

func TestPublish_SerializesEnvelope(t *testing.T) {
	h := New(zap.NewNop())
	a := &fakeConn{id: "a", state: StateOpen}
	h.Register(a)

	err := h.Publish(context.Background(), events.Envelope{
		Type: events.TypeValveStatusChanged,
		Data: events.ToggleValve{IsOpen: false},
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(a.frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(a.frames))
	}
	expected := `{"type":"valveStatusChanged","data":{"isOpen":false}}`
	if string(a.frames[0]) != expected {
		t.Errorf("Expected %s, got %s", expected, a.frames[0])
	}
}

func TestUnregister_UnknownIsNoop(t *testing.T) {
	h := New(zap.NewNop())
	h.Unregister(&fakeConn{id: "ghost"})
	if h.Count() != 0 {
		t.Errorf("Expected 0 clients, got %d", h.Count())
	}
}

func TestClient_StateMachine(t *testing.T) {
	c := newClient("x", nil, zap.NewNop())
	if c.State() != StateConnecting {
		t.Fatalf("Expected connecting, got %s", c.State())
	}
	if c.Enqueue([]byte("early")) {
		t.Error("Expected enqueue to fail before open")
	}
	if !c.markOpen() {
		t.Fatal("Expected transition to open")
	}
	if !c.Enqueue([]byte("hello")) {
		t.Error("Expected enqueue to succeed when open")
	}
	c.Close()
	c.Close()
	if c.State() != StateClosed {
		t.Errorf("Expected closed, got %s", c.State())
	}
	if c.markOpen() {
		t.Error("Expected closed connection not to reopen")
	}
	if c.Enqueue([]byte("late")) {
		t.Error("Expected enqueue to fail after close")
	}
}

func TestCloseAll(t *testing.T) {
	h := New(zap.NewNop())
	a := &fakeConn{id: "a", state: StateOpen}
	b := &fakeConn{id: "b", state: StateOpen}
	h.Register(a)
	h.Register(b)

	h.CloseAll()
	if h.Count() != 0 {
		t.Errorf("Expected 0 clients, got %d", h.Count())
	}
	if a.State() != StateClosed || b.State() != StateClosed {
		t.Error("Expected every connection to be closed")
	}
}
