package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/huddle/internal/protocol"
	"github.com/1ureka/huddle/internal/relaytest"
)

func TestBuildURL(t *testing.T) {
	testCases := []struct {
		name   string
		base   string
		room   string
		secure bool
		want   string
	}{
		{"bare host", "relay.example.com", "standup", false, "ws://relay.example.com/ws/standup"},
		{"bare host secure", "relay.example.com", "standup", true, "wss://relay.example.com/ws/standup"},
		{"https upgrades", "https://relay.example.com", "standup", false, "wss://relay.example.com/ws/standup"},
		{"ws with port", "ws://127.0.0.1:8000", "r1", false, "ws://127.0.0.1:8000/ws/r1"},
		{"ws upgraded when secure", "ws://127.0.0.1:8000", "r1", true, "wss://127.0.0.1:8000/ws/r1"},
		{"existing /ws path", "wss://relay.example.com/ws", "r1", false, "wss://relay.example.com/ws/r1"},
		{"sub-path kept", "https://example.com/huddle/", "r1", false, "wss://example.com/huddle/ws/r1"},
		{"room escaped", "ws://h", "team a", false, "ws://h/ws/team%20a"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BuildURL(tc.base, tc.room, tc.secure)
			if err != nil {
				t.Fatalf("BuildURL: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildURLInvalid(t *testing.T) {
	if _, err := BuildURL("", "room", false); err == nil {
		t.Error("expected error for empty base")
	}
	if _, err := BuildURL("ws://host", "  ", false); err == nil {
		t.Error("expected error for empty room")
	}
}

// ---------------------------------------------------------------------------
// Channel against the in-process relay
// ---------------------------------------------------------------------------

// recorder collects what a Channel reports.
type recorder struct {
	mu       sync.Mutex
	msgs     []protocol.Message
	connects chan bool
	msgCh    chan protocol.Message
}

func newRecorder() *recorder {
	return &recorder{
		connects: make(chan bool, 8),
		msgCh:    make(chan protocol.Message, 32),
	}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnConnect: func(reconnect bool) { r.connects <- reconnect },
		OnMessage: func(m protocol.Message) {
			r.mu.Lock()
			r.msgs = append(r.msgs, m)
			r.mu.Unlock()
			r.msgCh <- m
		},
	}
}

func (r *recorder) waitConnect(t *testing.T) bool {
	t.Helper()
	select {
	case re := <-r.connects:
		return re
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for relay connection")
	}
	return false
}

func (r *recorder) waitMessage(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case m := <-r.msgCh:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for relay message")
	}
	return nil
}

func startChannel(t *testing.T, hub *relaytest.Hub, room string, r *recorder) (*Channel, func()) {
	t.Helper()
	url, err := BuildURL(hub.URL(), room, false)
	if err != nil {
		t.Fatalf("BuildURL: %v", err)
	}
	ch := New(Options{URL: url, RejoinDelay: 50 * time.Millisecond}, r.handlers())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	return ch, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("Run did not return after cancel")
		}
	}
}

func TestChannelRelaysWithinRoom(t *testing.T) {
	hub := relaytest.NewHub()
	defer hub.Close()

	ra, rb, rc := newRecorder(), newRecorder(), newRecorder()
	a, stopA := startChannel(t, hub, "room1", ra)
	defer stopA()
	_, stopB := startChannel(t, hub, "room1", rb)
	defer stopB()
	_, stopC := startChannel(t, hub, "other", rc)
	defer stopC()

	if ra.waitConnect(t) || rb.waitConnect(t) || rc.waitConnect(t) {
		t.Fatal("first connection must not be reported as a reconnect")
	}

	if err := a.Send(&protocol.Join{From: "a1", Name: "Ann", AudioEnabled: true}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msg := rb.waitMessage(t)
	join, ok := msg.(*protocol.Join)
	if !ok || join.From != "a1" || join.Name != "Ann" {
		t.Fatalf("unexpected message: %#v", msg)
	}

	select {
	case m := <-rc.msgCh:
		t.Fatalf("message leaked across rooms: %#v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannelReconnectsAfterClosure(t *testing.T) {
	hub := relaytest.NewHub()
	defer hub.Close()

	r := newRecorder()
	_, stop := startChannel(t, hub, "room1", r)
	defer stop()

	if r.waitConnect(t) {
		t.Fatal("first connection must not be reported as a reconnect")
	}

	hub.Kick("room1")
	if !r.waitConnect(t) {
		t.Fatal("second connection should be reported as a reconnect")
	}
}

func TestChannelUserLeft(t *testing.T) {
	hub := relaytest.NewHub()
	defer hub.Close()

	ra, rb := newRecorder(), newRecorder()
	a, stopA := startChannel(t, hub, "room1", ra)
	_, stopB := startChannel(t, hub, "room1", rb)
	defer stopB()
	ra.waitConnect(t)
	rb.waitConnect(t)

	if err := a.Send(&protocol.Join{From: "a1", Name: "Ann", AudioEnabled: true}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	rb.waitMessage(t)

	a.Close()
	stopA()

	msg := rb.waitMessage(t)
	left, ok := msg.(*protocol.UserLeft)
	if !ok || left.ID != "a1" {
		t.Fatalf("expected user-left for a1, got %#v", msg)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	ch := New(Options{URL: "ws://127.0.0.1:1/ws/x"}, Handlers{})
	err := ch.Send(&protocol.Join{From: "a1"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if ch.Connected() {
		t.Fatal("Connected should be false before Run")
	}
}

func TestCloseStopsRun(t *testing.T) {
	ch := New(Options{URL: "ws://127.0.0.1:1/ws/x", RejoinDelay: 10 * time.Millisecond}, Handlers{})
	done := make(chan error, 1)
	go func() { done <- ch.Run(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	ch.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after Close should return nil, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after Close")
	}
}
