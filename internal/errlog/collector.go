// Package errlog provides a bounded JSONL sink for runtime tool errors.
// Entries are consumed later by the self-improvement learner; the collector
// is fire-and-forget and never surfaces I/O failures to callers.
package errlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	// MaxEntries is the soft cap on retained error records.
	MaxEntries = 500

	// pruneThreshold triggers a rewrite once the file grows past 1.5x the cap.
	pruneThreshold = MaxEntries + MaxEntries/2

	// argsPreviewLimit bounds how much of the tool arguments is recorded.
	argsPreviewLimit = 200
)

// Entry is a single recorded runtime error.
type Entry struct {
	Timestamp   time.Time `json:"timestamp"`
	ToolName    string    `json:"tool_name"`
	Error       string    `json:"error"`
	ArgsPreview string    `json:"args_preview,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Channel     string    `json:"channel,omitempty"`
}

// Summary aggregates the collected errors.
type Summary struct {
	Total        int            `json:"total"`
	CountsByTool map[string]int `json:"counts_by_tool"`
	TopErrors    []ErrorCount   `json:"top_errors"`
}

// ErrorCount pairs an error message with its occurrence count.
type ErrorCount struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// Collector appends error entries to a JSONL file, pruning the file back to
// MaxEntries once it exceeds 1.5x the cap.
type Collector struct {
	mu   sync.Mutex
	path string
}

// NewCollector creates a collector writing to the given JSONL path.
func NewCollector(path string) *Collector {
	return &Collector{path: path}
}

// Record appends one error entry. Arguments are truncated to a short
// preview. I/O failures are swallowed; recording errors must never break
// the request path that produced them.
func (c *Collector) Record(toolName, errText, args, userID, channel string) {
	if len(args) > argsPreviewLimit {
		args = args[:argsPreviewLimit]
	}
	entry := Entry{
		Timestamp:   time.Now().UTC(),
		ToolName:    toolName,
		Error:       errText,
		ArgsPreview: args,
		UserID:      userID,
		Channel:     channel,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
	_ = f.Close()

	c.pruneLocked()
}

// pruneLocked rewrites the file keeping only the newest MaxEntries lines
// once the total exceeds the prune threshold.
func (c *Collector) pruneLocked() {
	lines, err := c.readLines()
	if err != nil || len(lines) <= pruneThreshold {
		return
	}
	keep := lines[len(lines)-MaxEntries:]
	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return
	}
	w := bufio.NewWriter(f)
	for _, line := range keep {
		_, _ = w.WriteString(line)
		_ = w.WriteByte('\n')
	}
	_ = w.Flush()
	_ = f.Close()
	_ = os.Rename(tmp, c.path)
}

// ReadRecent returns up to limit entries from the tail of the log,
// oldest first.
func (c *Collector) ReadRecent(limit int) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines, err := c.readLines()
	if err != nil {
		return nil
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		var e Entry
		if json.Unmarshal([]byte(line), &e) == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

// Summarize aggregates all retained entries into per-tool counts and the
// most frequent error messages.
func (c *Collector) Summarize() Summary {
	entries := c.ReadRecent(0)

	summary := Summary{
		Total:        len(entries),
		CountsByTool: make(map[string]int),
	}
	errCounts := make(map[string]int)
	for _, e := range entries {
		summary.CountsByTool[e.ToolName]++
		errCounts[e.Error]++
	}

	for msg, count := range errCounts {
		summary.TopErrors = append(summary.TopErrors, ErrorCount{Error: msg, Count: count})
	}
	sort.Slice(summary.TopErrors, func(i, j int) bool {
		if summary.TopErrors[i].Count != summary.TopErrors[j].Count {
			return summary.TopErrors[i].Count > summary.TopErrors[j].Count
		}
		return summary.TopErrors[i].Error < summary.TopErrors[j].Error
	})
	if len(summary.TopErrors) > 10 {
		summary.TopErrors = summary.TopErrors[:10]
	}
	return summary
}

func (c *Collector) readLines() ([]string, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
