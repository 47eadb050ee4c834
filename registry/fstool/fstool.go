// Package fstool implements the workspace-scoped file read/write tools:
// fs.read and fs.write. Grounded on the registry.CallableTool shape and
// the scope classification in spec.md §4.4/§4.6.
package fstool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ifBars/orchestrix/policy"
	"github.com/ifBars/orchestrix/registry"
)

// Read implements fs.read: a read-only tool available in both modes.
type Read struct {
	WorkspaceRoot string
}

func (t *Read) Name() string        { return "fs.read" }
func (t *Read) Description() string { return "Read the contents of a file within the workspace." }
func (t *Read) Scope() policy.Scope { return policy.ScopeRead }
func (t *Read) Mode() registry.Mode { return registry.ModeBoth }

func (t *Read) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "workspace-relative file path"},
		},
		"required": []string{"path"},
	}
}

func (t *Read) Call(ctx *registry.Context, args map[string]any) (map[string]any, error) {
	path, _ := args["path"].(string)
	full, err := resolve(t.WorkspaceRoot, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return map[string]any{"path": path, "content": string(data)}, nil
}

// Write implements fs.write: a write-scoped tool, Build-mode only (the
// dedicated agent.create_artifact tool is the only write-like tool in
// Plan mode, per spec.md §4.11).
type Write struct {
	WorkspaceRoot string
}

func (t *Write) Name() string        { return "fs.write" }
func (t *Write) Description() string { return "Write content to a file within the workspace, creating parent directories as needed." }
func (t *Write) Scope() policy.Scope { return policy.ScopeWrite }
func (t *Write) Mode() registry.Mode { return registry.ModeBuild }

func (t *Write) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "workspace-relative file path"},
			"content": map[string]any{"type": "string", "description": "full file content to write"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *Write) Call(ctx *registry.Context, args map[string]any) (map[string]any, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	full, err := resolve(t.WorkspaceRoot, path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return map[string]any{"path": path, "bytes_written": len(content)}, nil
}

// resolve joins path onto root and rejects any escape via "..".
func resolve(root, path string) (string, error) {
	clean := filepath.Clean("/" + path)
	full := filepath.Join(root, clean)
	if !strings.HasPrefix(full, filepath.Clean(root)+string(os.PathSeparator)) && full != filepath.Clean(root) {
		return "", fmt.Errorf("path %q escapes workspace root", path)
	}
	return full, nil
}
