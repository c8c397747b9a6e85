// Package audit provides append-only JSONL audit logging for agent actions,
// provider failovers, and self-improvement operations.
//
// Every entry is serialized to a single line and written with one write
// call, so concurrent writers interleave at record granularity. Entries are
// never rewritten; the audit log is the system's tamper-evident history.
package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one audit record. Action is required; Details carries free-form
// fields merged into the JSON object at the top level.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"-"`
}

// MarshalJSON flattens Details into the top-level object alongside the
// fixed fields.
func (e Entry) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Details)+2)
	for k, v := range e.Details {
		obj[k] = v
	}
	obj["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	obj["action"] = e.Action
	return json.Marshal(obj)
}

// Logger appends audit entries to a JSONL file.
type Logger struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewLogger creates an audit logger writing to path. The slog logger
// receives a mirror of each record for operational visibility; pass nil to
// disable mirroring.
func NewLogger(path string, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Logger{path: path, logger: logger.With("component", "audit")}
}

// Log appends one record. Failures to write are reported through slog only;
// audit logging must never fail the operation being audited.
func (l *Logger) Log(action string, details map[string]any) {
	entry := Entry{
		Timestamp: time.Now(),
		Action:    action,
		Details:   details,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		l.logger.Warn("audit marshal failed", "action", action, "error", err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		l.logger.Warn("audit directory create failed", "error", err)
		return
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Warn("audit open failed", "error", err)
		return
	}
	defer f.Close()

	// One write call per record keeps concurrent appends atomic.
	if _, err := f.Write(line); err != nil {
		l.logger.Warn("audit write failed", "error", err)
	}
}

// ReadAll parses every record in the log, skipping malformed lines.
// Intended for tests and operator tooling, not the hot path.
func (l *Logger) ReadAll() ([]map[string]any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []map[string]any
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			if i > start {
				var rec map[string]any
				if json.Unmarshal(data[start:i], &rec) == nil {
					records = append(records, rec)
				}
			}
			start = i + 1
		}
	}
	return records, nil
}
