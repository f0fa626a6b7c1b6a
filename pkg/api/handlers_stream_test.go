package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeloft/stagehand/pkg/hub"
)

// sseReader pulls decoded events off a "data: <json>" stream.
type sseReader struct {
	scanner *bufio.Scanner
}

func (r *sseReader) next(t *testing.T) hub.Event {
	t.Helper()
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event hub.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		return event
	}
	t.Fatal("stream ended before an event arrived")
	return hub.Event{}
}

func TestStreamDeliversAckThenPublished(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/projects/proj-a/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := &sseReader{scanner: bufio.NewScanner(resp.Body)}

	ack := reader.next(t)
	require.Equal(t, hub.EventConnected, ack.Type)
	assert.Equal(t, "proj-a", ack.Data["projectId"])
	assert.NotEmpty(t, ack.Data["connectionId"])

	// The task tracker snapshot follows the ack
	snapshot := reader.next(t)
	require.Equal(t, hub.EventRequestStatus, snapshot.Type)
	assert.Equal(t, false, snapshot.Data["hasActiveRequests"])

	s.hub.Publish("proj-a", hub.Event{
		Type: hub.EventLog,
		Data: map[string]any{"line": "compiled successfully"},
	})

	event := reader.next(t)
	require.Equal(t, hub.EventLog, event.Type)
	assert.Equal(t, "compiled successfully", event.Data["line"])
}

func TestStreamIgnoresOtherProjects(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/projects/proj-a/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := &sseReader{scanner: bufio.NewScanner(resp.Body)}
	reader.next(t) // ack
	reader.next(t) // snapshot

	s.hub.Publish("proj-b", hub.Event{Type: hub.EventLog, Data: map[string]any{"line": "other"}})
	s.hub.Publish("proj-a", hub.Event{Type: hub.EventLog, Data: map[string]any{"line": "mine"}})

	event := reader.next(t)
	assert.Equal(t, "mine", event.Data["line"])
}

func TestStreamDisconnectUnsubscribes(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/projects/proj-a/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool {
		return s.hub.ConnectionCount("proj-a") == 1
	}, time.Second, 5*time.Millisecond)

	cancel()

	require.Eventually(t, func() bool {
		return s.hub.ConnectionCount("proj-a") == 0
	}, time.Second, 5*time.Millisecond)
}
