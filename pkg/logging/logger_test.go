package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesEvents(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir)
	require.NoError(t, err)

	err = logger.Log(LevelInfo, CategoryHub, "connection_opened", "p1", "", map[string]any{"connectionId": "c1"})
	require.NoError(t, err)
	require.NoError(t, logger.Close())

	events := readEvents(t, filepath.Join(dir, "stagehand.jsonl"))
	require.Len(t, events, 1)
	assert.Equal(t, "connection_opened", events[0].EventType)
	assert.Equal(t, CategoryHub, events[0].Category)
	assert.Equal(t, "p1", events[0].ProjectID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestLogger_ErrorsMirroredToErrorLog(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir)
	require.NoError(t, err)

	require.NoError(t, logger.Log(LevelInfo, CategoryAPI, "request", "", "", nil))
	require.NoError(t, logger.Error(CategoryPreview, "spawn_failed", "p1", os.ErrNotExist, nil))
	require.NoError(t, logger.Close())

	events := readEvents(t, filepath.Join(dir, "stagehand.jsonl"))
	assert.Len(t, events, 2)

	errors := readEvents(t, filepath.Join(dir, "errors.jsonl"))
	require.Len(t, errors, 1)
	assert.Equal(t, "spawn_failed", errors[0].EventType)
	assert.Equal(t, LevelError, errors[0].Level)
}

func TestLogger_MinLevelFiltersDebug(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir)
	require.NoError(t, err)

	require.NoError(t, logger.Log(LevelDebug, CategoryHub, "noise", "", "", nil))
	logger.SetMinLevel(LevelDebug)
	require.NoError(t, logger.Log(LevelDebug, CategoryHub, "signal", "", "", nil))
	require.NoError(t, logger.Close())

	events := readEvents(t, filepath.Join(dir, "stagehand.jsonl"))
	require.Len(t, events, 1)
	assert.Equal(t, "signal", events[0].EventType)
}

func TestLogger_NilReceiverIsSafe(t *testing.T) {
	var logger *Logger
	assert.NoError(t, logger.Log(LevelInfo, CategoryHub, "x", "", "", nil))
	assert.NoError(t, logger.Close())
	logger.SetMinLevel(LevelDebug)
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())
	return events
}
