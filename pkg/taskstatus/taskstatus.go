// Package taskstatus derives a cheap activity summary for a project from
// the request store. It keeps no state of its own: every call reflects the
// store's current rows, filtered by the open-status set the store owns.
package taskstatus

import (
	"context"
	"time"

	"github.com/codeloft/stagehand/pkg/hub"
)

// Request is the minimal view of a stored request this package needs.
type Request struct {
	ID        string
	ProjectID string
	Status    string
	CreatedAt time.Time
}

// RequestStore is the queryable contract the tracker consumes. The open
// status set belongs to the store's domain and is passed through, not
// redefined here.
type RequestStore interface {
	ListRequests(ctx context.Context, projectID string) ([]Request, error)
	OpenStatuses() []string
}

// Summary is the derived activity snapshot for a project.
type Summary struct {
	HasActiveRequests bool `json:"hasActiveRequests"`
	ActiveCount       int  `json:"activeCount"`
}

// Tracker computes summaries on demand.
type Tracker struct {
	store RequestStore
}

// NewTracker constructs a Tracker over the given store.
func NewTracker(store RequestStore) *Tracker {
	return &Tracker{store: store}
}

// Summary counts the project's requests whose status is in the store's
// open set.
func (t *Tracker) Summary(ctx context.Context, projectID string) (Summary, error) {
	requests, err := t.store.ListRequests(ctx, projectID)
	if err != nil {
		return Summary{}, err
	}

	open := make(map[string]struct{})
	for _, status := range t.store.OpenStatuses() {
		open[status] = struct{}{}
	}

	count := 0
	for _, req := range requests {
		if _, ok := open[req.Status]; ok {
			count++
		}
	}
	return Summary{HasActiveRequests: count > 0, ActiveCount: count}, nil
}

// Snapshot implements hub.Snapshotter: new connections learn the current
// request activity immediately. A store error yields no snapshot event
// rather than failing the subscribe.
func (t *Tracker) Snapshot(ctx context.Context, projectID string) []hub.Event {
	summary, err := t.Summary(ctx, projectID)
	if err != nil {
		return nil
	}
	return []hub.Event{{Type: hub.EventRequestStatus, Data: map[string]any{
		"hasActiveRequests": summary.HasActiveRequests,
		"activeCount":       summary.ActiveCount,
	}}}
}
