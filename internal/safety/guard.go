package safety

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/nousworks/nous/internal/audit"
)

const (
	// TestTimeout is the wall clock for one test suite run.
	TestTimeout = 120 * time.Second

	// gitTimeout bounds individual git subprocess calls.
	gitTimeout = 60 * time.Second
)

// Guard wraps the git and test subprocess operations the evolution engine
// relies on. It is the only component that shells out to git.
type Guard struct {
	repoDir  string
	testCmd  []string
	auditLog *audit.Logger
}

// NewGuard creates a guard over the repository at repoDir. testCmd is the
// command line that runs the test suite; empty defaults to "go test ./...".
func NewGuard(repoDir string, testCmd []string, auditLog *audit.Logger) *Guard {
	if len(testCmd) == 0 {
		testCmd = []string{"go", "test", "./..."}
	}
	return &Guard{repoDir: repoDir, testCmd: testCmd, auditLog: auditLog}
}

func (g *Guard) git(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Stash saves the working tree under the given message.
func (g *Guard) Stash(ctx context.Context, message string) error {
	_, err := g.git(ctx, "stash", "push", "-u", "-m", message)
	g.audit("git_stash", map[string]any{"message": message, "ok": err == nil})
	return err
}

// StashPop restores the most recent stash.
func (g *Guard) StashPop(ctx context.Context) error {
	_, err := g.git(ctx, "stash", "pop")
	g.audit("git_stash_pop", map[string]any{"ok": err == nil})
	return err
}

// Commit stages everything and commits with the given message.
func (g *Guard) Commit(ctx context.Context, message string) error {
	if _, err := g.git(ctx, "add", "-A"); err != nil {
		return err
	}
	_, err := g.git(ctx, "commit", "-m", message)
	g.audit("git_commit", map[string]any{"message": message, "ok": err == nil})
	return err
}

// Push publishes the current branch.
func (g *Guard) Push(ctx context.Context) error {
	_, err := g.git(ctx, "push")
	g.audit("git_push", map[string]any{"ok": err == nil})
	return err
}

// HardReset discards all working tree changes.
func (g *Guard) HardReset(ctx context.Context) error {
	_, err := g.git(ctx, "checkout", ".")
	g.audit("git_hard_reset", map[string]any{"ok": err == nil})
	return err
}

// RunTests executes the test suite with the standard timeout. A timeout
// counts as a failure with the partial output.
func (g *Guard) RunTests(ctx context.Context) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, TestTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.testCmd[0], g.testCmd[1:]...)
	cmd.Dir = g.repoDir
	out, err := cmd.CombinedOutput()
	passed := err == nil

	g.audit("tests_run", map[string]any{"passed": passed})
	return passed, string(out)
}

// ApplyPatchSafely replaces one file's content under git protection: it
// verifies the on-disk content still matches original, stashes, writes the
// patch, runs tests, and commits on pass or reverts on fail.
func (g *Guard) ApplyPatchSafely(ctx context.Context, file, original, patched, commitMessage string) (bool, string) {
	current, err := os.ReadFile(file)
	if err != nil {
		return false, fmt.Sprintf("cannot read %s: %v", file, err)
	}
	if string(current) != original {
		return false, fmt.Sprintf("%s changed since the patch was prepared", file)
	}

	if err := g.Stash(ctx, "pre-patch-backup"); err != nil {
		return false, fmt.Sprintf("stash failed: %v", err)
	}

	if err := os.WriteFile(file, []byte(patched), 0o644); err != nil {
		_ = g.StashPop(ctx)
		return false, fmt.Sprintf("write failed: %v", err)
	}

	passed, output := g.RunTests(ctx)
	if !passed {
		if err := g.HardReset(ctx); err == nil {
			_ = g.StashPop(ctx)
		}
		return false, "tests failed after patch: " + tail(output, 2000)
	}

	if err := g.Commit(ctx, commitMessage); err != nil {
		_ = g.HardReset(ctx)
		return false, fmt.Sprintf("commit failed: %v", err)
	}
	return true, "patch applied and committed"
}

func (g *Guard) audit(action string, details map[string]any) {
	if g.auditLog != nil {
		g.auditLog.Log(action, details)
	}
}

// tail returns the last n bytes of s, whole string if shorter.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
