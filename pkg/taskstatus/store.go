package taskstatus

import (
	"context"

	"github.com/codeloft/stagehand/pkg/storage"
)

// sqlStore adapts the SQLite store to the RequestStore interface.
type sqlStore struct {
	store *storage.Store
}

// NewStoreTracker builds a Tracker backed by the SQLite request store.
func NewStoreTracker(store *storage.Store) *Tracker {
	return NewTracker(sqlStore{store: store})
}

func (s sqlStore) ListRequests(ctx context.Context, projectID string) ([]Request, error) {
	rows, err := s.store.ListRequestsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	requests := make([]Request, 0, len(rows))
	for _, row := range rows {
		requests = append(requests, Request{
			ID:        row.ID,
			ProjectID: row.ProjectID,
			Status:    row.Status,
			CreatedAt: row.CreatedAt,
		})
	}
	return requests, nil
}

func (s sqlStore) OpenStatuses() []string {
	return storage.OpenRequestStatuses()
}
