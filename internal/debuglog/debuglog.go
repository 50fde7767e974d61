// Package debuglog records raw completion traffic as JSONL for debugging
// protocol issues against OpenAI-compatible endpoints.
package debuglog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cerechat/internal/api"
)

// Logger appends one JSON object per line to a log file. All methods are
// safe on a nil receiver, so callers never need to branch on whether debug
// logging is enabled.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	closed bool
}

// Open creates (or truncates) the log file at path, creating parent
// directories as needed.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}
	return &Logger{file: file}, nil
}

type entry struct {
	Time    string           `json:"time"`
	Type    string           `json:"type"`
	Request *api.ChatRequest `json:"request,omitempty"`
	Event   *eventRecord     `json:"event,omitempty"`
	Error   string           `json:"error,omitempty"`
}

type eventRecord struct {
	Type  string    `json:"type"`
	Delta string    `json:"delta,omitempty"`
	Meta  *api.Meta `json:"meta,omitempty"`
}

func eventTypeName(t api.EventType) string {
	switch t {
	case api.EventDelta:
		return "delta"
	case api.EventMeta:
		return "meta"
	case api.EventDone:
		return "done"
	case api.EventError:
		return "error"
	}
	return "unknown"
}

func (l *Logger) write(e entry) {
	if l == nil {
		return
	}
	e.Time = time.Now().UTC().Format(time.RFC3339Nano)
	line, err := json.Marshal(e)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.file.Write(append(line, '\n'))
}

// LogRequest records an outbound completion request.
func (l *Logger) LogRequest(req api.ChatRequest) {
	l.write(entry{Type: "request", Request: &req})
}

// LogEvent records one normalized stream event.
func (l *Logger) LogEvent(event api.Event) {
	rec := &eventRecord{Type: eventTypeName(event.Type), Delta: event.Delta, Meta: event.Meta}
	e := entry{Type: "event", Event: rec}
	if event.Err != nil {
		e.Error = event.Err.Error()
	}
	l.write(e)
}

// LogError records a transport-level failure.
func (l *Logger) LogError(err error) {
	if err == nil {
		return
	}
	l.write(entry{Type: "error", Error: err.Error()})
}

// Close flushes and closes the log file. Idempotent and nil-safe.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}
