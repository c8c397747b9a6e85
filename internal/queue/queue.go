// Package queue implements the persistent improvement queue: a priority
// ordered, JSON-file-backed list of self-improvement requests processed by a
// small worker pool.
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a queue item lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPlanning   Status = "planning"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// IsTerminal reports whether the status is final. Terminal items are never
// reopened; reprocessing requires a new item.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Source identifies who enqueued an item.
type Source string

const (
	SourceUser       Source = "user"
	SourceLearner    Source = "learner"
	SourceSupervisor Source = "supervisor"
	SourceSystem     Source = "system"
)

// Item is one improvement request. Lower Priority values run earlier.
type Item struct {
	ID            string         `json:"id"`
	Request       string         `json:"request"`
	Source        Source         `json:"source"`
	Priority      int            `json:"priority"`
	Status        Status         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at"`
	ResultMessage string         `json:"result_message,omitempty"`
	Success       *bool          `json:"success"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Stats summarizes queue state.
type Stats struct {
	Total         int `json:"total"`
	Pending       int `json:"pending"`
	Planning      int `json:"planning"`
	InProgress    int `json:"in_progress"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Skipped       int `json:"skipped"`
	MaxWorkers    int `json:"max_workers"`
	ActiveWorkers int `json:"active_workers"`
}

// Queue is the persistent improvement queue. All mutations hold mu and flush
// the whole file, so picking an item and persisting its transition are one
// critical section.
type Queue struct {
	mu     sync.Mutex
	path   string
	items  []*Item
	logger *slog.Logger

	maxWorkers int
	active     int
	stopCh     chan struct{}
	wg         sync.WaitGroup
	running    bool

	now func() time.Time
}

// Option customizes a Queue.
type Option func(*Queue)

// WithWorkers sets the worker pool size (default 1).
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n >= 1 {
			q.maxWorkers = n
		}
	}
}

// WithClock replaces the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Open loads (or creates) the queue at path. Items found in planning or
// in_progress are reset to pending: partial work from a crashed worker is
// discarded, which is safe because evolution runs are git-guarded.
func Open(path string, logger *slog.Logger, opts ...Option) (*Queue, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	q := &Queue{
		path:       path,
		logger:     logger.With("component", "queue"),
		maxWorkers: 1,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) load() error {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read queue file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &q.items); err != nil {
		return fmt.Errorf("failed to parse queue file: %w", err)
	}

	recovered := 0
	for _, item := range q.items {
		if item.Status == StatusPlanning || item.Status == StatusInProgress {
			item.Status = StatusPending
			item.StartedAt = nil
			recovered++
		}
	}
	if recovered > 0 {
		q.logger.Info("recovered interrupted items", "count", recovered)
		return q.flushLocked()
	}
	return nil
}

// flushLocked writes the full item list. Callers hold mu (or are in Open).
func (q *Queue) flushLocked() error {
	data, err := json.MarshalIndent(q.items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write queue file: %w", err)
	}
	return os.Rename(tmp, q.path)
}

// Add appends a new pending item. Priority defaults to 5 and is clamped to
// 1..10.
func (q *Queue) Add(request string, source Source, priority int, metadata map[string]any) (*Item, error) {
	if priority == 0 {
		priority = 5
	}
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}

	item := &Item{
		ID:        uuid.New().String(),
		Request:   request,
		Source:    source,
		Priority:  priority,
		Status:    StatusPending,
		CreatedAt: q.now().UTC(),
		Metadata:  metadata,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	if err := q.flushLocked(); err != nil {
		q.items = q.items[:len(q.items)-1]
		return nil, err
	}
	q.logger.Info("item queued", "id", item.ID, "source", source, "priority", priority)
	out := *item
	return &out, nil
}

// List returns items, optionally filtered by status, newest first, up to
// limit (0 means no limit).
func (q *Queue) List(status Status, limit int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, 0, len(q.items))
	for i := len(q.items) - 1; i >= 0; i-- {
		item := q.items[i]
		if status != "" && item.Status != status {
			continue
		}
		out = append(out, *item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Get returns the item by id.
func (q *Queue) Get(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.ID == id {
			return *item, true
		}
	}
	return Item{}, false
}

// Cancel transitions a pending item to skipped. Items already picked or
// finished cannot be cancelled.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.ID != id {
			continue
		}
		if item.Status != StatusPending {
			return false
		}
		item.Status = StatusSkipped
		now := q.now().UTC()
		item.FinishedAt = &now
		item.ResultMessage = "cancelled"
		if err := q.flushLocked(); err != nil {
			q.logger.Warn("failed to persist cancel", "id", id, "error", err)
		}
		return true
	}
	return false
}

// Stats returns current counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Total: len(q.items), MaxWorkers: q.maxWorkers, ActiveWorkers: q.active}
	for _, item := range q.items {
		switch item.Status {
		case StatusPending:
			s.Pending++
		case StatusPlanning:
			s.Planning++
		case StatusInProgress:
			s.InProgress++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// PruneOld drops terminal items finished more than keepDays ago. Returns
// how many were removed.
func (q *Queue) PruneOld(keepDays int) int {
	if keepDays <= 0 {
		keepDays = 30
	}
	cutoff := q.now().UTC().AddDate(0, 0, -keepDays)

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if item.Status.IsTerminal() && item.FinishedAt != nil && item.FinishedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	q.items = kept
	if removed > 0 {
		if err := q.flushLocked(); err != nil {
			q.logger.Warn("failed to persist prune", "error", err)
		}
	}
	return removed
}

// pickItem selects the best pending item (lowest priority, oldest first) and
// transitions it to planning. The whole selection is one critical section so
// two workers can never pick the same item.
func (q *Queue) pickItem() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *Item
	for _, item := range q.items {
		if item.Status != StatusPending {
			continue
		}
		if best == nil ||
			item.Priority < best.Priority ||
			(item.Priority == best.Priority && item.CreatedAt.Before(best.CreatedAt)) {
			best = item
		}
	}
	if best == nil {
		return nil
	}

	best.Status = StatusPlanning
	now := q.now().UTC()
	best.StartedAt = &now
	if err := q.flushLocked(); err != nil {
		q.logger.Warn("failed to persist pick", "id", best.ID, "error", err)
	}
	out := *best
	return &out
}

// transition moves an item to a new status with optional result fields.
func (q *Queue) transition(id string, status Status, resultMessage string, success *bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.ID != id {
			continue
		}
		item.Status = status
		if resultMessage != "" {
			item.ResultMessage = resultMessage
		}
		if success != nil {
			item.Success = success
		}
		if status.IsTerminal() {
			now := q.now().UTC()
			item.FinishedAt = &now
		}
		if err := q.flushLocked(); err != nil {
			q.logger.Warn("failed to persist transition", "id", id, "status", status, "error", err)
		}
		return
	}
}

// sortedPending returns pending items in pick order. Used by tests and the
// CLI listing.
func (q *Queue) sortedPending() []Item {
	items := q.List(StatusPending, 0)
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}
