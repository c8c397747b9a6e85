package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestQueue(t *testing.T, opts ...Option) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "improvement_queue.json")
	q, err := Open(path, nil, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return q, path
}

func TestAddAndGet(t *testing.T) {
	q, path := newTestQueue(t)

	item, err := q.Add("improve error messages", SourceUser, 0, map[string]any{"origin": "chat"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if item.Priority != 5 {
		t.Errorf("default priority %d", item.Priority)
	}
	if item.Status != StatusPending {
		t.Errorf("status %s", item.Status)
	}

	got, ok := q.Get(item.ID)
	if !ok || got.Request != "improve error messages" {
		t.Errorf("Get: %+v ok=%v", got, ok)
	}

	// Persisted to disk immediately.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read queue file: %v", err)
	}
	var onDisk []Item
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("parse queue file: %v", err)
	}
	if len(onDisk) != 1 || onDisk[0].ID != item.ID {
		t.Errorf("on-disk state: %+v", onDisk)
	}
}

func TestPriorityClamping(t *testing.T) {
	q, _ := newTestQueue(t)
	low, _ := q.Add("a", SourceSystem, -3, nil)
	high, _ := q.Add("b", SourceSystem, 99, nil)
	if low.Priority != 1 || high.Priority != 10 {
		t.Errorf("clamped priorities: %d, %d", low.Priority, high.Priority)
	}
}

func TestPickOrder(t *testing.T) {
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	now := base
	q, _ := newTestQueue(t, WithClock(func() time.Time { return now }))

	a, _ := q.Add("A", SourceUser, 5, nil)
	now = now.Add(time.Minute)
	b, _ := q.Add("B", SourceUser, 2, nil)
	now = now.Add(time.Minute)
	c, _ := q.Add("C", SourceUser, 2, nil)

	// Lowest priority first; ties broken by oldest created_at.
	want := []string{b.ID, c.ID, a.ID}
	for i, id := range want {
		picked := q.pickItem()
		if picked == nil || picked.ID != id {
			t.Fatalf("pick %d: got %+v, want id %s", i, picked, id)
		}
		if picked.Status != StatusPlanning {
			t.Errorf("pick %d status %s", i, picked.Status)
		}
	}
	if q.pickItem() != nil {
		t.Error("empty queue should pick nothing")
	}
}

func TestCancel(t *testing.T) {
	q, _ := newTestQueue(t)
	item, _ := q.Add("x", SourceUser, 5, nil)

	if !q.Cancel(item.ID) {
		t.Fatal("cancel of pending item failed")
	}
	got, _ := q.Get(item.ID)
	if got.Status != StatusSkipped || got.FinishedAt == nil {
		t.Errorf("cancelled item: %+v", got)
	}

	// Terminal items cannot be cancelled again.
	if q.Cancel(item.ID) {
		t.Error("cancel of terminal item succeeded")
	}

	picked, _ := q.Add("y", SourceUser, 5, nil)
	q.pickItem()
	if q.Cancel(picked.ID) {
		t.Error("cancel of picked item succeeded")
	}
}

func TestLoadRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	started := time.Now().UTC()
	items := []Item{
		{ID: "1", Request: "a", Status: StatusPlanning, StartedAt: &started, CreatedAt: started},
		{ID: "2", Request: "b", Status: StatusInProgress, StartedAt: &started, CreatedAt: started},
		{ID: "3", Request: "c", Status: StatusCompleted, CreatedAt: started},
		{ID: "4", Request: "d", Status: StatusPending, CreatedAt: started},
	}
	data, _ := json.Marshal(items)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	q, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	stats := q.Stats()
	if stats.Pending != 3 {
		t.Errorf("pending %d, want 3 (two recovered)", stats.Pending)
	}
	if stats.Completed != 1 {
		t.Errorf("completed %d", stats.Completed)
	}
	one, _ := q.Get("1")
	if one.StartedAt != nil {
		t.Error("recovered item kept started_at")
	}
}

func TestStats(t *testing.T) {
	q, _ := newTestQueue(t, WithWorkers(3))
	q.Add("a", SourceUser, 5, nil)
	q.Add("b", SourceLearner, 5, nil)
	q.pickItem()

	s := q.Stats()
	if s.Total != 2 || s.Pending != 1 || s.Planning != 1 {
		t.Errorf("stats: %+v", s)
	}
	if s.MaxWorkers != 3 {
		t.Errorf("max workers %d", s.MaxWorkers)
	}
}

func TestPruneOld(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	now := base
	q, _ := newTestQueue(t, WithClock(func() time.Time { return now }))

	old, _ := q.Add("old", SourceUser, 5, nil)
	fresh, _ := q.Add("fresh", SourceUser, 5, nil)
	stillPending, _ := q.Add("pending", SourceUser, 5, nil)

	done := true
	q.transition(old.ID, StatusCompleted, "done", &done)
	now = now.Add(35 * 24 * time.Hour)
	q.transition(fresh.ID, StatusCompleted, "done", &done)

	removed := q.PruneOld(30)
	if removed != 1 {
		t.Errorf("removed %d, want 1", removed)
	}
	if _, ok := q.Get(old.ID); ok {
		t.Error("old terminal item survived prune")
	}
	if _, ok := q.Get(fresh.ID); !ok {
		t.Error("fresh terminal item pruned")
	}
	if _, ok := q.Get(stillPending.ID); !ok {
		t.Error("pending item pruned")
	}
}

// countingProcessor records which requests it handled.
type countingProcessor struct {
	mu       sync.Mutex
	handled  []string
	succeed  bool
	message  string
	err      error
	handledC chan struct{}
}

func (p *countingProcessor) ImplementImprovement(ctx context.Context, request string) (bool, string, error) {
	p.mu.Lock()
	p.handled = append(p.handled, request)
	p.mu.Unlock()
	if p.handledC != nil {
		p.handledC <- struct{}{}
	}
	return p.succeed, p.message, p.err
}

func TestWorkerProcessesItems(t *testing.T) {
	q, _ := newTestQueue(t)
	b, _ := q.Add("B", SourceUser, 2, nil)
	a, _ := q.Add("A", SourceUser, 5, nil)

	proc := &countingProcessor{succeed: true, message: "applied", handledC: make(chan struct{}, 4)}
	q.startWorkers(proc, workerConfig{idle: 10 * time.Millisecond, cooldown: time.Millisecond})

	for i := 0; i < 2; i++ {
		select {
		case <-proc.handledC:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not process items in time")
		}
	}
	q.StopWorkers()

	if proc.handled[0] != "B" || proc.handled[1] != "A" {
		t.Errorf("processing order: %v", proc.handled)
	}

	gotB, _ := q.Get(b.ID)
	if gotB.Status != StatusCompleted || gotB.Success == nil || !*gotB.Success {
		t.Errorf("item B: %+v", gotB)
	}
	if gotB.ResultMessage != "applied" || gotB.FinishedAt == nil {
		t.Errorf("item B result: %+v", gotB)
	}
	gotA, _ := q.Get(a.ID)
	if gotA.Status != StatusCompleted {
		t.Errorf("item A status %s", gotA.Status)
	}
}

func TestWorkerRecordsFailure(t *testing.T) {
	q, _ := newTestQueue(t)
	item, _ := q.Add("x", SourceUser, 5, nil)

	proc := &countingProcessor{err: errors.New("plan rejected"), handledC: make(chan struct{}, 1)}
	q.startWorkers(proc, workerConfig{idle: 10 * time.Millisecond, cooldown: time.Millisecond})
	select {
	case <-proc.handledC:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not run")
	}
	q.StopWorkers()

	got, _ := q.Get(item.ID)
	if got.Status != StatusFailed {
		t.Errorf("status %s", got.Status)
	}
	if got.ResultMessage != "Error: plan rejected" {
		t.Errorf("result message %q", got.ResultMessage)
	}
}

func TestStartWorkersIdempotent(t *testing.T) {
	q, _ := newTestQueue(t)
	proc := &countingProcessor{succeed: true}
	cfg := workerConfig{idle: 10 * time.Millisecond, cooldown: time.Millisecond}
	q.startWorkers(proc, cfg)
	q.startWorkers(proc, cfg) // no-op
	q.StopWorkers()
	q.StopWorkers() // no-op
}
