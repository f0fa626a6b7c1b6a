// Package logging writes structured JSONL events for the stagehand server.
// Every event carries a severity, the subsystem that produced it, and an
// optional project scope. Errors are additionally mirrored to a dedicated
// error log so operators can tail failures without the full firehose.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the subsystem generating the log
type Category string

const (
	CategoryHub      Category = "hub"
	CategoryApproval Category = "approval"
	CategoryPreview  Category = "preview"
	CategoryPorts    Category = "ports"
	CategoryAPI      Category = "api"
	CategoryStorage  Category = "storage"
	CategoryServer   Category = "server"
)

// Event represents a structured log event
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	EventType string         `json:"type"`
	ProjectID string         `json:"project_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Logger writes structured events to the server log, mirroring errors to a
// separate file. All methods are safe on a nil receiver so callers can
// treat the logger as optional.
type Logger struct {
	mu        sync.Mutex
	baseDir   string
	eventFile *os.File
	errorFile *os.File
	minLevel  Level
}

// NewLogger creates a logger writing under baseDir.
func NewLogger(baseDir string) (*Logger, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	eventFile, err := os.OpenFile(
		filepath.Join(baseDir, "stagehand.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0644,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	errorFile, err := os.OpenFile(
		filepath.Join(baseDir, "errors.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0644,
	)
	if err != nil {
		eventFile.Close()
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	return &Logger{
		baseDir:   baseDir,
		eventFile: eventFile,
		errorFile: errorFile,
		minLevel:  LevelInfo,
	}, nil
}

// SetMinLevel sets the minimum log level
func (l *Logger) SetMinLevel(level Level) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// LogEvent writes an event to the appropriate destinations.
func (l *Logger) LogEvent(event Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if !l.shouldLog(event.Level) {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	if l.eventFile != nil {
		if _, err := l.eventFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to event log: %w", err)
		}
	}

	if event.Level == LevelError && l.errorFile != nil {
		if _, err := l.errorFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to error log: %w", err)
		}
	}

	return nil
}

// Log is shorthand for LogEvent with the common fields.
func (l *Logger) Log(level Level, category Category, eventType, projectID, message string, details map[string]any) error {
	return l.LogEvent(Event{
		Level:     level,
		Category:  category,
		EventType: eventType,
		ProjectID: projectID,
		Message:   message,
		Details:   details,
	})
}

// Error logs an error-level event.
func (l *Logger) Error(category Category, eventType, projectID string, err error, details map[string]any) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return l.Log(LevelError, category, eventType, projectID, message, details)
}

// shouldLog checks if event should be logged based on level
func (l *Logger) shouldLog(level Level) bool {
	levels := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[l.minLevel]
}

// Close flushes and closes the log files.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.eventFile != nil {
		if err := l.eventFile.Close(); err != nil {
			firstErr = err
		}
		l.eventFile = nil
	}
	if l.errorFile != nil {
		if err := l.errorFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.errorFile = nil
	}
	return firstErr
}
