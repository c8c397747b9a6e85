package evolve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nousworks/nous/internal/audit"
	"github.com/nousworks/nous/internal/llm"
	"github.com/nousworks/nous/internal/safety"
)

const planningSystemPrompt = `You are a senior engineer planning a minimal, safe code change.
Respond with STRICT JSON only, no prose, in this shape:
{"summary": "...", "changes": [{"action": "create"|"modify", "file": "relative/path", "description": "...", "content": "...", "old_text": "...", "new_text": "..."}], "test_suggestions": ["..."], "risk": "low"|"medium"|"high"}
For "create" provide "content". For "modify" provide "old_text" (verbatim, unique in the file) and "new_text".
Prefer small, low-risk changes. If the request is unsafe or too broad, return an empty "changes" list.`

// Planner is the LLM surface the engine plans with.
type Planner interface {
	Quick(ctx context.Context, prompt, system string, complexity llm.Complexity) (string, error)
}

// Engine implements improvement requests end to end. A global lock
// serializes pipelines: only one evolution may touch the source tree at a
// time.
type Engine struct {
	mu       sync.Mutex
	planner  Planner
	guard    *safety.Guard
	repoDir  string
	auditLog *audit.Logger
	logger   *slog.Logger

	// Push publishes commits after a successful run; disabled in tests.
	Push bool
}

// NewEngine creates an evolution engine over the repository at repoDir.
func NewEngine(planner Planner, guard *safety.Guard, repoDir string, auditLog *audit.Logger, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		planner:  planner,
		guard:    guard,
		repoDir:  repoDir,
		auditLog: auditLog,
		logger:   logger.With("component", "evolve"),
		Push:     true,
	}
}

// ImplementImprovement runs the full pipeline for one request: plan, refuse
// risky or empty plans, snapshot, apply, test, commit or roll back.
func (e *Engine) ImplementImprovement(ctx context.Context, request string) (bool, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Info("planning improvement", "request", truncate(request, 120))

	raw, err := e.planner.Quick(ctx, request, planningSystemPrompt, llm.ComplexityComplex)
	if err != nil {
		return false, "", fmt.Errorf("planning failed: %w", err)
	}
	plan, err := ParsePlan(raw)
	if err != nil {
		return false, "", fmt.Errorf("plan unusable: %w", err)
	}

	if len(plan.Changes) == 0 {
		return false, "plan proposed no changes: " + plan.Summary, nil
	}
	if plan.Risk == "high" {
		e.audit("evolution_refused", map[string]any{"risk": plan.Risk, "summary": plan.Summary})
		return false, "refused high-risk plan: " + plan.Summary, nil
	}

	if err := e.guard.Stash(ctx, "pre-evolution-backup"); err != nil {
		return false, "", fmt.Errorf("snapshot failed: %w", err)
	}

	applied, skipped, err := e.applyChanges(plan.Changes)
	if err != nil {
		_ = e.guard.HardReset(ctx)
		return false, "", fmt.Errorf("apply failed: %w", err)
	}
	if applied == 0 {
		_ = e.guard.HardReset(ctx)
		return false, "no change could be applied: " + strings.Join(skipped, "; "), nil
	}

	passed, output := e.guard.RunTests(ctx)
	if !passed {
		_ = e.guard.HardReset(ctx)
		e.audit("evolution_rolled_back", map[string]any{"summary": plan.Summary})
		return false, "tests failed, rolled back: " + tail(output, 1500), nil
	}

	commitMsg := "Self-improvement: " + plan.Summary
	if err := e.guard.Commit(ctx, commitMsg); err != nil {
		_ = e.guard.HardReset(ctx)
		return false, "", fmt.Errorf("commit failed: %w", err)
	}
	if e.Push {
		if err := e.guard.Push(ctx); err != nil {
			// Commit landed locally; pushing later is recoverable.
			e.logger.Warn("push failed", "error", err)
		}
	}

	e.audit("evolution_applied", map[string]any{
		"summary": plan.Summary,
		"applied": applied,
		"skipped": len(skipped),
	})

	message := plan.Summary
	if len(skipped) > 0 {
		message += " (skipped: " + strings.Join(skipped, "; ") + ")"
	}
	return true, message, nil
}

// applyChanges applies each change in order. A modify whose old_text is
// missing or matches more than once is skipped and recorded, not fatal.
func (e *Engine) applyChanges(changes []Change) (applied int, skipped []string, err error) {
	for _, c := range changes {
		path := filepath.Join(e.repoDir, c.File)

		switch c.Action {
		case ActionCreate:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return applied, skipped, err
			}
			if err := os.WriteFile(path, []byte(c.Content), 0o644); err != nil {
				return applied, skipped, err
			}
			applied++

		case ActionModify:
			data, err := os.ReadFile(path)
			if err != nil {
				skipped = append(skipped, fmt.Sprintf("%s: %v", c.File, err))
				continue
			}
			content := string(data)
			switch strings.Count(content, c.OldText) {
			case 0:
				skipped = append(skipped, c.File+": old_text not found")
				continue
			case 1:
				// Unique match required; ambiguous edits are unsafe.
			default:
				skipped = append(skipped, c.File+": old_text is ambiguous")
				continue
			}
			updated := strings.Replace(content, c.OldText, c.NewText, 1)
			if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
				return applied, skipped, err
			}
			applied++
		}
	}
	return applied, skipped, nil
}

func (e *Engine) audit(action string, details map[string]any) {
	if e.auditLog != nil {
		e.auditLog.Log(action, details)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
