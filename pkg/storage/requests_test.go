package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "stagehand.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndGetRequest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.SaveRequest(ctx, Request{
		ID:        "req-1",
		ProjectID: "proj-a",
		Content:   "add a login page",
	})
	require.NoError(t, err)

	got, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "proj-a", got.ProjectID)
	assert.Equal(t, "user", got.Role)
	assert.Equal(t, RequestStatusPending, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSaveRequestValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, store.SaveRequest(ctx, Request{ProjectID: "proj-a"}))
	assert.Error(t, store.SaveRequest(ctx, Request{ID: "req-1"}))
}

func TestUpdateRequestStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRequest(ctx, Request{ID: "req-1", ProjectID: "proj-a"}))
	require.NoError(t, store.UpdateRequestStatus(ctx, "req-1", RequestStatusProcessing))

	got, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, RequestStatusProcessing, got.Status)
}

func TestUpdateRequestStatusNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateRequestStatus(context.Background(), "missing", RequestStatusCompleted)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetRequestNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRequest(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListRequestsByProject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"req-1", "req-2"} {
		require.NoError(t, store.SaveRequest(ctx, Request{ID: id, ProjectID: "proj-a"}))
	}
	require.NoError(t, store.SaveRequest(ctx, Request{ID: "req-3", ProjectID: "proj-b"}))

	requests, err := store.ListRequestsByProject(ctx, "proj-a")
	require.NoError(t, err)
	require.Len(t, requests, 2)
	assert.Equal(t, "req-1", requests[0].ID)
	assert.Equal(t, "req-2", requests[1].ID)

	empty, err := store.ListRequestsByProject(ctx, "proj-c")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOpenRequestStatuses(t *testing.T) {
	assert.Equal(t, []string{RequestStatusPending, RequestStatusProcessing}, OpenRequestStatuses())
}

func TestStoreReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stagehand.db")
	ctx := context.Background()

	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveRequest(ctx, Request{ID: "req-1", ProjectID: "proj-a"}))
	require.NoError(t, store.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	requests, err := reopened.ListRequestsByProject(ctx, "proj-a")
	require.NoError(t, err)
	assert.Len(t, requests, 1)
}

func TestSchemaVersion(t *testing.T) {
	store := newTestStore(t)

	version, err := store.GetSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}
