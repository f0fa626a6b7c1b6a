// Package approval gates agent actions behind an asynchronous human
// decision. The execution engine registers a pending permission and
// suspends on the returned future; a human resolves it through the API, or
// a fail-closed timer denies it. Exactly one of the two wins: removal from
// the registry is the mutual-exclusion point, and whichever path takes the
// entry first is authoritative.
package approval

import (
	"sort"
	"sync"
	"time"

	"github.com/codeloft/stagehand/pkg/logging"
)

// DefaultTimeout is how long a pending permission waits for a human
// decision before it is denied.
const DefaultTimeout = 60 * time.Second

// DefaultConsumedRetention is how long a decided permission id stays
// recognizable as "already decided" rather than "never existed".
const DefaultConsumedRetention = 10 * time.Minute

// Pending describes one outstanding approval request.
type Pending struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// entry pairs a Pending with its one-shot outcome handle. The outcome
// channel is buffered so the resolving side never blocks on a caller that
// has not yet begun waiting.
type entry struct {
	Pending
	outcome chan bool
	timer   *time.Timer
}

// Config configures a Broker.
type Config struct {
	// Timeout before an unresolved permission is denied. Defaults to
	// DefaultTimeout.
	Timeout time.Duration

	// ConsumedRetention bounds how long decided ids are remembered.
	// Defaults to DefaultConsumedRetention.
	ConsumedRetention time.Duration

	// Logger is optional.
	Logger *logging.Logger
}

// Broker is the process-wide pending-permission registry. It is
// constructed once at startup and passed into every handler and engine
// that needs it; there is no ambient global.
type Broker struct {
	mu            sync.Mutex
	pending       map[string]*entry
	consumed      map[string]struct{}
	consumedOrder []consumedRecord

	timeout   time.Duration
	retention time.Duration
	logger    *logging.Logger
}

// consumedRecord remembers when an id was decided so the set can be
// evicted in insertion order.
type consumedRecord struct {
	id string
	at time.Time
}

// New constructs a Broker.
func New(cfg Config) *Broker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConsumedRetention <= 0 {
		cfg.ConsumedRetention = DefaultConsumedRetention
	}
	return &Broker{
		pending:   make(map[string]*entry),
		consumed:  make(map[string]struct{}),
		timeout:   cfg.Timeout,
		retention: cfg.ConsumedRetention,
		logger:    cfg.Logger,
	}
}

// Create registers a pending permission under the caller-supplied id and
// returns the future the caller suspends on. The id must be globally
// unique; a collision is a caller bug. The future resolves to the human
// decision, or to false once the timeout elapses with no decision.
func (b *Broker) Create(id, kind string, payload map[string]any) <-chan bool {
	e := &entry{
		Pending: Pending{
			ID:        id,
			Kind:      kind,
			Payload:   payload,
			CreatedAt: time.Now(),
		},
		outcome: make(chan bool, 1),
	}

	b.mu.Lock()
	e.timer = time.AfterFunc(b.timeout, func() { b.expire(id) })
	b.pending[id] = e
	b.mu.Unlock()

	metricPermissionsPending.Inc()
	b.logger.Log(logging.LevelInfo, logging.CategoryApproval, "permission_created", "", kind, map[string]any{"permissionId": id})

	return e.outcome
}

// Resolve fulfills the pending permission with the human decision. It
// returns false when the id is unknown, already resolved, or already timed
// out; callers must treat that as "too late", not as a failure.
func (b *Broker) Resolve(id string, approved bool) bool {
	e := b.take(id)
	if e == nil {
		return false
	}

	e.timer.Stop()
	e.outcome <- approved

	b.logger.Log(logging.LevelInfo, logging.CategoryApproval, "permission_resolved", "", e.Kind, map[string]any{
		"permissionId": id,
		"approved":     approved,
	})
	metricPermissionsResolved.Inc()
	return true
}

// List returns a snapshot of currently pending entries, oldest first.
// Resolved and timed-out entries never appear.
func (b *Broker) List() []Pending {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Pending, 0, len(b.pending))
	for _, e := range b.pending {
		out = append(out, e.Pending)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Consumed reports whether id was once pending and has since been resolved
// or timed out. It lets the transport distinguish "never existed" from
// "already decided" when Resolve returns false.
func (b *Broker) Consumed(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.consumed[id]
	return ok
}

// take removes and returns the entry for id, or nil if it was already
// taken. This is the single atomic consume shared by Resolve and the
// timeout path.
func (b *Broker) take(id string) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)
	b.remember(id)
	metricPermissionsPending.Dec()
	return e
}

// remember records a decided id and evicts ones past retention, keeping
// the consumed set bounded on a long-running server. Caller holds b.mu.
func (b *Broker) remember(id string) {
	now := time.Now()
	b.consumed[id] = struct{}{}
	b.consumedOrder = append(b.consumedOrder, consumedRecord{id: id, at: now})
	for len(b.consumedOrder) > 0 && now.Sub(b.consumedOrder[0].at) > b.retention {
		delete(b.consumed, b.consumedOrder[0].id)
		b.consumedOrder = b.consumedOrder[1:]
	}
}

// expire denies a permission that outlived the timeout. Absence of a
// decision is never treated as approval.
func (b *Broker) expire(id string) {
	e := b.take(id)
	if e == nil {
		return
	}

	e.outcome <- false
	metricPermissionsTimedOut.Inc()
	b.logger.Log(logging.LevelWarn, logging.CategoryApproval, "permission_timeout", "", e.Kind, map[string]any{"permissionId": id})
}
