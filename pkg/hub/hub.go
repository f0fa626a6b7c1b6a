// Package hub multiplexes published events to every live connection of a
// logical project. Delivery is best-effort, at-most-once, in publish order
// per connection. There is no buffering or replay beyond the snapshot a new
// connection receives at subscribe time: events published while nobody is
// subscribed are simply not delivered.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/codeloft/stagehand/pkg/logging"
)

// EventType identifies the kind of event on the wire.
type EventType string

const (
	EventConnected     EventType = "connected"
	EventHeartbeat     EventType = "heartbeat"
	EventStatus        EventType = "status"
	EventPreviewStatus EventType = "preview_status"
	EventRequestStatus EventType = "request_status"
	EventLog           EventType = "log"
	EventError         EventType = "error"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
)

// Event is a published message. Immutable once published.
type Event struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Sink is the write side of a connection, decoupled from the transport.
// SSE, WebSocket, and in-process channel backings all satisfy it. Send must
// return promptly: a bounded attempt is fine, a permanent block is not.
type Sink interface {
	Send(Event) error
	Close() error
}

// Snapshotter supplies the current-state events a freshly subscribed
// connection receives, closing the race where a client that connects
// between two publishes would never learn the current state.
type Snapshotter interface {
	Snapshot(ctx context.Context, projectID string) []Event
}

// Connection is a registered subscriber handle. It is owned by the Hub for
// its lifetime: created on Subscribe, destroyed on disconnect, write
// failure, or explicit Unsubscribe.
type Connection struct {
	ID        string
	ProjectID string

	sink Sink
	stop chan struct{}

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
}

// LastSeen reports the time of the last successful write.
func (c *Connection) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// close tears down the sink and heartbeat exactly once.
func (c *Connection) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	_ = c.sink.Close()
}

// Config configures a Hub.
type Config struct {
	// HeartbeatInterval is the period between heartbeat events per
	// connection. Defaults to 30s.
	HeartbeatInterval time.Duration

	// Snapshotters supply subscribe-time state (preview status, request
	// summary). Order is preserved.
	Snapshotters []Snapshotter

	// Logger receives connection lifecycle and drop events. Optional.
	Logger *logging.Logger
}

// Hub is the per-project connection registry and broadcaster.
// All methods are safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	projects map[string]map[string]*Connection

	heartbeatEvery time.Duration
	snapshotters   []Snapshotter
	logger         *logging.Logger
}

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("hub: closed")

// New constructs a Hub.
func New(cfg Config) *Hub {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Hub{
		projects:       make(map[string]map[string]*Connection),
		heartbeatEvery: cfg.HeartbeatInterval,
		snapshotters:   cfg.Snapshotters,
		logger:         cfg.Logger,
	}
}

// SetSnapshotters replaces the snapshot sources. Called during wiring
// when a source (the preview supervisor) itself publishes into the hub
// and so cannot exist before it. Not safe once subscribers are live.
func (h *Hub) SetSnapshotters(snapshotters []Snapshotter) {
	h.snapshotters = snapshotters
}

// Subscribe registers sink as a new connection for projectID. Before the
// connection becomes visible to Publish it sends the connection ack and the
// state snapshot, in that order, so the ack is always the first event a
// subscriber reads. The returned Connection is the handle for Unsubscribe.
//
// If the ack or snapshot write fails the subscription is abandoned and the
// write error returned.
func (h *Hub) Subscribe(ctx context.Context, projectID string, sink Sink) (*Connection, error) {
	if h == nil {
		return nil, ErrHubClosed
	}

	conn := &Connection{
		ID:        ulid.Make().String(),
		ProjectID: projectID,
		sink:      sink,
		stop:      make(chan struct{}),
		lastSeen:  time.Now(),
	}

	h.mu.RLock()
	accepting := h.projects != nil
	h.mu.RUnlock()
	if !accepting {
		return nil, ErrHubClosed
	}

	ack := Event{Type: EventConnected, Data: map[string]any{
		"projectId":    projectID,
		"timestamp":    time.Now().UTC(),
		"connectionId": conn.ID,
	}}
	if err := sink.Send(ack); err != nil {
		conn.close()
		return nil, err
	}

	for _, snap := range h.snapshotters {
		for _, event := range snap.Snapshot(ctx, projectID) {
			if err := sink.Send(event); err != nil {
				conn.close()
				return nil, err
			}
		}
	}
	conn.touch()

	h.mu.Lock()
	if h.projects == nil {
		h.mu.Unlock()
		conn.close()
		return nil, ErrHubClosed
	}
	conns := h.projects[projectID]
	if conns == nil {
		conns = make(map[string]*Connection)
		h.projects[projectID] = conns
	}
	conns[conn.ID] = conn
	h.mu.Unlock()

	metricConnectionsActive.Inc()
	h.logEvent(logging.LevelInfo, "connection_opened", projectID, map[string]any{"connectionId": conn.ID})

	go h.heartbeatLoop(conn)

	return conn, nil
}

// Publish delivers event to every live connection for projectID. A write
// failure removes only that connection: it never affects delivery to other
// connections and never surfaces to the publisher.
func (h *Hub) Publish(projectID string, event Event) {
	if h == nil {
		return
	}

	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.projects[projectID]))
	for _, c := range h.projects[projectID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	metricEventsPublished.Inc()

	for _, conn := range conns {
		if err := conn.sink.Send(event); err != nil {
			h.drop(conn, "publish write failed")
			continue
		}
		conn.touch()
	}
}

// Unsubscribe removes conn explicitly, used on graceful disconnect. Safe
// to call concurrently with Publish for the same project, and idempotent.
func (h *Hub) Unsubscribe(conn *Connection) {
	if h == nil || conn == nil {
		return
	}
	h.drop(conn, "unsubscribed")
}

// ConnectionCount reports the number of live connections for a project.
func (h *Hub) ConnectionCount(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.projects[projectID])
}

// Close tears down every connection and rejects future subscribes.
func (h *Hub) Close() {
	h.mu.Lock()
	projects := h.projects
	h.projects = nil
	h.mu.Unlock()

	for _, conns := range projects {
		for _, conn := range conns {
			conn.close()
			metricConnectionsActive.Dec()
		}
	}
}

// drop removes conn from the registry and tears it down. The registry
// delete is the single authoritative point: whichever caller removes the
// entry first performs the teardown.
func (h *Hub) drop(conn *Connection, reason string) {
	h.mu.Lock()
	conns := h.projects[conn.ProjectID]
	if _, ok := conns[conn.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(conns, conn.ID)
	if len(conns) == 0 {
		delete(h.projects, conn.ProjectID)
	}
	h.mu.Unlock()

	conn.close()
	metricConnectionsActive.Dec()
	metricConnectionsDropped.Inc()
	h.logEvent(logging.LevelInfo, "connection_closed", conn.ProjectID, map[string]any{
		"connectionId": conn.ID,
		"reason":       reason,
	})
}

// heartbeatLoop sends a periodic heartbeat on conn. A write failure takes
// the same removal path as a publish failure and ends the loop, so no
// timer outlives its connection.
func (h *Hub) heartbeatLoop(conn *Connection) {
	ticker := time.NewTicker(h.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-conn.stop:
			return
		case <-ticker.C:
			beat := Event{Type: EventHeartbeat, Data: map[string]any{
				"timestamp":    time.Now().UTC(),
				"connectionId": conn.ID,
			}}
			if err := conn.sink.Send(beat); err != nil {
				h.drop(conn, "heartbeat write failed")
				return
			}
			conn.touch()
		}
	}
}

func (h *Hub) logEvent(level logging.Level, eventType, projectID string, details map[string]any) {
	h.logger.Log(level, logging.CategoryHub, eventType, projectID, "", details)
}
