package safety

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// MaxRepairAttempts caps repairs for one crash signature before it is
	// rejected until a success clears it.
	MaxRepairAttempts = 3

	// MaxRestartsPerWindow caps restarts inside the sliding window.
	MaxRestartsPerWindow = 5

	// RestartWindow is the sliding window for restart rate limiting.
	RestartWindow = 600 * time.Second
)

// repairState is the persisted form.
type repairState struct {
	RepairCounts map[string]int `json:"repair_counts"`
	RestartTimes []time.Time    `json:"restart_times"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// RepairTracker rate-limits repair attempts per crash signature and process
// restarts. State lives on disk; the tracker is the sole writer.
type RepairTracker struct {
	mu    sync.Mutex
	path  string
	state repairState
	now   func() time.Time
}

// NewRepairTracker loads (or initializes) the state at path.
func NewRepairTracker(path string) (*RepairTracker, error) {
	t := &RepairTracker{
		path: path,
		state: repairState{
			RepairCounts: make(map[string]int),
		},
		now: time.Now,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("failed to read repair state: %w", err)
	}
	if err := json.Unmarshal(data, &t.state); err != nil {
		// Corrupt state resets rather than blocking repairs forever.
		t.state = repairState{RepairCounts: make(map[string]int)}
	}
	if t.state.RepairCounts == nil {
		t.state.RepairCounts = make(map[string]int)
	}
	return t, nil
}

// CanAttemptRepair reports whether the crash behind stderr is still under
// the per-signature attempt cap.
func (t *RepairTracker) CanAttemptRepair(stderr string) bool {
	sig := CrashSignature(stderr)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.RepairCounts[sig] < MaxRepairAttempts
}

// RecordRepairAttempt increments the signature's count and persists. Both
// successful and failed attempts count toward the cap; a success only
// resets it through ClearRepairCount.
func (t *RepairTracker) RecordRepairAttempt(stderr string, success bool) {
	sig := CrashSignature(stderr)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.RepairCounts[sig]++
	t.persistLocked()
}

// ClearRepairCount resets the signature after a successful repair.
func (t *RepairTracker) ClearRepairCount(stderr string) {
	sig := CrashSignature(stderr)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state.RepairCounts, sig)
	t.persistLocked()
}

// CanRestart prunes restarts outside the window and checks the cap.
func (t *RepairTracker) CanRestart() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneRestartsLocked()
	return len(t.state.RestartTimes) < MaxRestartsPerWindow
}

// RecordRestart appends a restart timestamp and persists.
func (t *RepairTracker) RecordRestart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneRestartsLocked()
	t.state.RestartTimes = append(t.state.RestartTimes, t.now())
	t.persistLocked()
}

func (t *RepairTracker) pruneRestartsLocked() {
	cutoff := t.now().Add(-RestartWindow)
	kept := t.state.RestartTimes[:0]
	for _, ts := range t.state.RestartTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.state.RestartTimes = kept
}

func (t *RepairTracker) persistLocked() {
	t.state.UpdatedAt = t.now()
	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, t.path)
}
