// Package supervisor implements the Sub-agent Supervisor: delegation
// validation, isolated git-worktree provisioning, the spawn/retry/merge
// lifecycle, and top-down cancellation propagation (spec.md §4.10).
//
// The git plumbing is adapted from dev.GitManager (branch naming,
// os/exec invocation style, combined-output error wrapping) but
// retargeted from the teacher's "autonomous self-commit" domain onto
// per-sub-agent isolated worktrees addressed by branch and base ref.
package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// WorktreeManager creates and tears down isolated git worktrees for
// sub-agents, one per spawn, branched off the owning run's base ref.
type WorktreeManager struct {
	RepoRoot string
}

// NewWorktreeManager binds a manager to a repository root.
func NewWorktreeManager(repoRoot string) *WorktreeManager {
	return &WorktreeManager{RepoRoot: repoRoot}
}

// Create provisions a new worktree at <RepoRoot>/.orchestrix/worktrees/<id>
// on a fresh branch named orchestrix/<subAgentID> off baseRef.
func (w *WorktreeManager) Create(ctx context.Context, subAgentID, baseRef string) (path, branch string, err error) {
	branch = fmt.Sprintf("orchestrix/%s", subAgentID)
	path = fmt.Sprintf("%s/.orchestrix/worktrees/%s", w.RepoRoot, subAgentID)

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, path, baseRef)
	cmd.Dir = w.RepoRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", "", fmt.Errorf("create worktree: %w, output: %s", err, string(out))
	}
	return path, branch, nil
}

// Remove tears down a worktree after it has been merged or abandoned.
func (w *WorktreeManager) Remove(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", path)
	cmd.Dir = w.RepoRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("remove worktree: %w, output: %s", err, string(out))
	}
	return nil
}

// MergeOutcome describes the result of attempting to merge a sub-agent's
// branch back into its run's base ref.
type MergeOutcome struct {
	Strategy        string
	Succeeded       bool
	ConflictedPaths []string
}

// Merge attempts strategies in order: fast-forward, then rebase. On
// conflict it records the conflicted paths (via `git diff --name-only
// --diff-filter=U`) and does not attempt to auto-resolve or escalate.
func (w *WorktreeManager) Merge(ctx context.Context, branch, baseRef string) (MergeOutcome, error) {
	if out, err := w.run(ctx, "merge", "--ff-only", branch); err == nil {
		_ = out
		return MergeOutcome{Strategy: "fast-forward", Succeeded: true}, nil
	}

	if out, err := w.run(ctx, "rebase", baseRef, branch); err != nil {
		_ = out
		paths, _ := w.conflictedPaths(ctx)
		_, _ = w.run(ctx, "rebase", "--abort")
		return MergeOutcome{Strategy: "rebase", Succeeded: false, ConflictedPaths: paths}, nil
	}
	if out, err := w.run(ctx, "merge", "--ff-only", branch); err != nil {
		_ = out
		paths, _ := w.conflictedPaths(ctx)
		return MergeOutcome{Strategy: "rebase", Succeeded: false, ConflictedPaths: paths}, nil
	}
	return MergeOutcome{Strategy: "rebase", Succeeded: true}, nil
}

func (w *WorktreeManager) conflictedPaths(ctx context.Context) ([]string, error) {
	out, err := w.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			paths = append(paths, l)
		}
	}
	return paths, nil
}

func (w *WorktreeManager) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.RepoRoot
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// DiffSummary renders a short unified-diff-style summary between two text
// blobs with go-diff, for in-memory comparisons without shelling out to
// `git diff`. Merge does not call it; conflicted paths come from
// conflictedPaths.
func DiffSummary(a, b string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	return dmp.DiffPrettyText(diffs)
}

// AttemptTimeout bounds a single sub-agent attempt, per spec.md §4.10
// ("each attempt has a timeout").
const AttemptTimeout = 10 * time.Minute
