package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubscribe_SendsAckThenSnapshot(t *testing.T) {
	h := New(Config{
		Snapshotters: []Snapshotter{
			snapshotFunc(func(ctx context.Context, projectID string) []Event {
				return []Event{
					{Type: EventPreviewStatus, Data: map[string]any{"state": "idle"}},
					{Type: EventRequestStatus, Data: map[string]any{"activeCount": 0}},
				}
			}),
		},
	})
	defer h.Close()

	sink := NewChannelSink(16)
	conn, err := h.Subscribe(context.Background(), "p1", sink)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Ack and snapshot are queued before Subscribe returns.
	ack := recvEvent(t, sink)
	if ack.Type != EventConnected {
		t.Fatalf("Expected connected ack first, got %q", ack.Type)
	}
	if ack.Data["connectionId"] != conn.ID {
		t.Errorf("Ack should carry the connection id")
	}
	if ack.Data["projectId"] != "p1" {
		t.Errorf("Ack should carry the project id")
	}

	if e := recvEvent(t, sink); e.Type != EventPreviewStatus {
		t.Errorf("Expected preview_status snapshot, got %q", e.Type)
	}
	if e := recvEvent(t, sink); e.Type != EventRequestStatus {
		t.Errorf("Expected request_status snapshot, got %q", e.Type)
	}
}

func TestPublish_DeliversInOrder(t *testing.T) {
	h := New(Config{})
	defer h.Close()

	sink := NewChannelSink(16)
	if _, err := h.Subscribe(context.Background(), "p1", sink); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	recvEvent(t, sink) // ack

	for i := 0; i < 5; i++ {
		h.Publish("p1", Event{Type: EventLog, Data: map[string]any{"seq": i}})
	}

	for i := 0; i < 5; i++ {
		e := recvEvent(t, sink)
		if e.Data["seq"] != i {
			t.Fatalf("Expected seq %d, got %v", i, e.Data["seq"])
		}
	}
}

func TestPublish_ProjectIsolation(t *testing.T) {
	h := New(Config{})
	defer h.Close()

	sink1 := NewChannelSink(16)
	sink2 := NewChannelSink(16)
	if _, err := h.Subscribe(context.Background(), "p1", sink1); err != nil {
		t.Fatalf("Subscribe p1 failed: %v", err)
	}
	if _, err := h.Subscribe(context.Background(), "p2", sink2); err != nil {
		t.Fatalf("Subscribe p2 failed: %v", err)
	}
	recvEvent(t, sink1)
	recvEvent(t, sink2)

	h.Publish("p1", Event{Type: EventStatus, Data: map[string]any{"status": "ready"}})

	if e := recvEvent(t, sink1); e.Type != EventStatus {
		t.Errorf("p1 connection should receive the status event, got %q", e.Type)
	}
	select {
	case e := <-sink2.Events():
		t.Fatalf("p2 connection received event for p1: %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_WriteFailureRemovesOnlyThatConnection(t *testing.T) {
	h := New(Config{})
	defer h.Close()

	failing := &failingSink{}
	healthy := NewChannelSink(16)

	if _, err := h.Subscribe(context.Background(), "p1", healthy); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	recvEvent(t, healthy)

	// failingSink accepts the ack then fails every later write.
	if _, err := h.Subscribe(context.Background(), "p1", failing); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if got := h.ConnectionCount("p1"); got != 2 {
		t.Fatalf("Expected 2 connections, got %d", got)
	}

	h.Publish("p1", Event{Type: EventLog})

	if e := recvEvent(t, healthy); e.Type != EventLog {
		t.Errorf("Healthy connection should still receive events, got %q", e.Type)
	}
	if got := h.ConnectionCount("p1"); got != 1 {
		t.Errorf("Failing connection should be removed, have %d", got)
	}
	if !failing.closed.Load() {
		t.Error("Failing sink should be closed on removal")
	}
}

func TestPublish_SlowConsumerIsDropped(t *testing.T) {
	h := New(Config{})
	defer h.Close()

	// Buffer of one: the ack fills it and nothing drains.
	sink := NewChannelSink(1)
	if _, err := h.Subscribe(context.Background(), "p1", sink); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	h.Publish("p1", Event{Type: EventLog})

	if got := h.ConnectionCount("p1"); got != 0 {
		t.Errorf("Slow consumer should be dropped, have %d connections", got)
	}
}

func TestUnsubscribe_NoEventsAfterRemoval(t *testing.T) {
	h := New(Config{})
	defer h.Close()

	sink := NewChannelSink(16)
	conn, err := h.Subscribe(context.Background(), "p1", sink)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	recvEvent(t, sink)

	h.Publish("p1", Event{Type: EventLog, Data: map[string]any{"seq": 0}})
	recvEvent(t, sink)

	h.Unsubscribe(conn)
	h.Publish("p1", Event{Type: EventLog, Data: map[string]any{"seq": 1}})

	if _, ok := <-sink.Events(); ok {
		t.Error("Channel should be closed with no further events after unsubscribe")
	}
	if got := h.ConnectionCount("p1"); got != 0 {
		t.Errorf("Expected 0 connections, got %d", got)
	}

	// Idempotent.
	h.Unsubscribe(conn)
}

func TestUnsubscribe_ConcurrentWithPublish(t *testing.T) {
	h := New(Config{})
	defer h.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sink := NewChannelSink(256)
		conn, err := h.Subscribe(context.Background(), "p1", sink)
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		go func() {
			for range sink.Events() {
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Unsubscribe(conn)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			h.Publish("p1", Event{Type: EventLog})
		}
	}()

	wg.Wait()
	if got := h.ConnectionCount("p1"); got != 0 {
		t.Errorf("Expected 0 connections after concurrent unsubscribe, got %d", got)
	}
}

func TestHeartbeat_CarriesConnectionID(t *testing.T) {
	h := New(Config{HeartbeatInterval: 20 * time.Millisecond})
	defer h.Close()

	sink := NewChannelSink(16)
	conn, err := h.Subscribe(context.Background(), "p1", sink)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	recvEvent(t, sink)

	deadline := time.After(time.Second)
	for {
		select {
		case e := <-sink.Events():
			if e.Type != EventHeartbeat {
				continue
			}
			if e.Data["connectionId"] != conn.ID {
				t.Errorf("Heartbeat should carry connection id %q, got %v", conn.ID, e.Data["connectionId"])
			}
			if _, ok := e.Data["timestamp"]; !ok {
				t.Error("Heartbeat should carry a timestamp")
			}
			return
		case <-deadline:
			t.Fatal("Timeout waiting for heartbeat")
		}
	}
}

func TestHeartbeat_WriteFailureDropsConnection(t *testing.T) {
	h := New(Config{HeartbeatInterval: 10 * time.Millisecond})
	defer h.Close()

	failing := &failingSink{}
	if _, err := h.Subscribe(context.Background(), "p1", failing); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for h.ConnectionCount("p1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Connection not removed after heartbeat write failure")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !failing.closed.Load() {
		t.Error("Sink should be closed after heartbeat failure")
	}
}

func TestSubscribe_AckFailureReturnsError(t *testing.T) {
	h := New(Config{})
	defer h.Close()

	sink := &failingSink{failAck: true}
	if _, err := h.Subscribe(context.Background(), "p1", sink); err == nil {
		t.Fatal("Expected error when ack write fails")
	}
	if got := h.ConnectionCount("p1"); got != 0 {
		t.Errorf("Failed connection should not remain registered, have %d", got)
	}
}

func TestSubscribe_PublishDuringSubscribeNeverPrecedesAck(t *testing.T) {
	h := New(Config{})
	defer h.Close()

	// The sink publishes a live event the instant the ack write begins,
	// reproducing a publisher racing the registration. That event must not
	// land in this connection's queue ahead of the ack.
	inner := NewChannelSink(16)
	sink := &publishOnAckSink{inner: inner}
	sink.publish = func() {
		h.Publish("p1", Event{Type: EventLog, Data: map[string]any{"message": "early"}})
	}

	if _, err := h.Subscribe(context.Background(), "p1", sink); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	first := recvEvent(t, inner)
	if first.Type != EventConnected {
		t.Fatalf("First event must be the connected ack, got %q", first.Type)
	}

	// The connection is live after Subscribe returns.
	h.Publish("p1", Event{Type: EventLog, Data: map[string]any{"message": "late"}})
	next := recvEvent(t, inner)
	if next.Type != EventLog || next.Data["message"] != "late" {
		t.Fatalf("Expected the post-subscribe publish, got %q %v", next.Type, next.Data)
	}
}

// publishOnAckSink triggers a hub publish from inside the ack write, then
// forwards every event to the wrapped channel sink.
type publishOnAckSink struct {
	inner   *ChannelSink
	publish func()
	fired   atomic.Bool
}

func (s *publishOnAckSink) Send(e Event) error {
	if e.Type == EventConnected && !s.fired.Swap(true) {
		s.publish()
	}
	return s.inner.Send(e)
}

func (s *publishOnAckSink) Close() error { return s.inner.Close() }

func recvEvent(t *testing.T, sink *ChannelSink) Event {
	t.Helper()
	select {
	case e, ok := <-sink.Events():
		if !ok {
			t.Fatal("Sink closed while waiting for event")
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
		return Event{}
	}
}

type snapshotFunc func(ctx context.Context, projectID string) []Event

func (f snapshotFunc) Snapshot(ctx context.Context, projectID string) []Event {
	return f(ctx, projectID)
}

// failingSink accepts the first write (the ack) unless failAck is set, and
// fails everything afterward.
type failingSink struct {
	failAck bool
	sent    atomic.Bool
	closed  atomic.Bool
}

func (s *failingSink) Send(Event) error {
	if s.failAck {
		return errors.New("write failed")
	}
	if s.sent.Swap(true) {
		return errors.New("write failed")
	}
	return nil
}

func (s *failingSink) Close() error {
	s.closed.Store(true)
	return nil
}
