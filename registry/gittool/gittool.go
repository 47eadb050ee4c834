// Package gittool implements git.diff and git.commit: read-only status
// inspection and a scoped commit tool a Build-mode worker can use within
// its own sub-agent worktree. Grounded on supervisor.WorktreeManager's
// os/exec git invocation style, adapted from worktree-lifecycle plumbing
// into a worker-facing tool pair.
package gittool

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/ifBars/orchestrix/policy"
	"github.com/ifBars/orchestrix/registry"
)

// Diff implements git.diff: a read-only tool reporting the workspace's
// unstaged changes (plain `git diff`; staged changes are not shown).
type Diff struct {
	RepoRoot string
}

func (t *Diff) Name() string        { return "git.diff" }
func (t *Diff) Description() string { return "Show the current unified diff of the workspace." }
func (t *Diff) Scope() policy.Scope { return policy.ScopeRead }
func (t *Diff) Mode() registry.Mode { return registry.ModeBoth }

func (t *Diff) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *Diff) Call(ctx *registry.Context, args map[string]any) (map[string]any, error) {
	cmd := exec.CommandContext(ctx, "git", "diff")
	cmd.Dir = t.RepoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git diff: %w, output: %s", err, string(out))
	}
	return map[string]any{"diff": string(out)}, nil
}

// Commit implements git.commit: stages all changes and commits them with
// the given message. Build-mode only and scoped write since it mutates
// the sub-agent's worktree history.
type Commit struct {
	RepoRoot string
}

func (t *Commit) Name() string        { return "git.commit" }
func (t *Commit) Description() string { return "Stage all changes in the workspace and commit them." }
func (t *Commit) Scope() policy.Scope { return policy.ScopeWrite }
func (t *Commit) Mode() registry.Mode { return registry.ModeBuild }

func (t *Commit) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string", "description": "commit message"},
		},
		"required": []string{"message"},
	}
}

func (t *Commit) Call(ctx *registry.Context, args map[string]any) (map[string]any, error) {
	message, _ := args["message"].(string)
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("git.commit: message must not be blank")
	}

	add := exec.CommandContext(ctx, "git", "add", "-A")
	add.Dir = t.RepoRoot
	if out, err := add.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git add: %w, output: %s", err, string(out))
	}

	commit := exec.CommandContext(ctx, "git", "commit", "-m", message)
	commit.Dir = t.RepoRoot
	out, err := commit.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git commit: %w, output: %s", err, string(out))
	}
	return map[string]any{"output": string(out)}, nil
}
