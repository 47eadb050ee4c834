// Package config (this file): agent presets, spec.md §6. A preset is a
// markdown file with a YAML front-matter block delimited by `---`; the
// front matter carries the fields the Worker Loop and Policy Engine need
// to run that agent (model, step budget, tool allow-list, permission
// class), and the markdown body is the agent's system prompt. Front-matter
// values are taken literally: no `${VAR}` environment expansion is applied
// to them. Grounded on spec.md §6's own field list; no
// single teacher file parses this exact markdown+front-matter shape; the
// parsing logic itself is new, built in the teacher's validate-then-
// collect-issues style (config/types.go's Validate/SetDefaults pattern).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ifBars/orchestrix/policy"
)

// PresetMode is the closed set of roles a preset can fill.
type PresetMode string

const (
	PresetPrimary  PresetMode = "primary"
	PresetSubAgent PresetMode = "subagent"
)

// ToolPermission is the per-tool allow/deny/inherit setting a preset can
// declare, narrowing (never widening) the registry's own mode filter.
type ToolPermission string

const (
	ToolAllow   ToolPermission = "allow"
	ToolDeny    ToolPermission = "deny"
	ToolInherit ToolPermission = "inherit"
)

// Preset is one parsed agent-preset file.
type Preset struct {
	ID               string
	Name             string            `yaml:"name"`
	Description      string            `yaml:"description"`
	Mode             PresetMode        `yaml:"mode"`
	Model            string            `yaml:"model"`
	Temperature      float64           `yaml:"temperature"`
	Steps            int               `yaml:"steps"`
	Tools            map[string]string `yaml:"tools"`
	Permission       []string          `yaml:"permission"`
	Tags             []string          `yaml:"tags"`
	SystemPrompt     string
	ValidationIssues []string
	SourcePath       string
}

// ParsePreset parses one preset file's content. Malformed or
// out-of-range fields are recorded in ValidationIssues rather than
// failing the parse, per spec.md §6 ("Invalid fields become
// validation_issues on the preset; they do not fail loading").
func ParsePreset(path string, content []byte) (Preset, error) {
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	p := Preset{ID: id, SourcePath: path}

	frontMatter, body, err := splitFrontMatter(string(content))
	if err != nil {
		return Preset{}, fmt.Errorf("config: parse preset %s: %w", path, err)
	}
	p.SystemPrompt = strings.TrimSpace(body)

	if frontMatter != "" {
		if err := yaml.Unmarshal([]byte(frontMatter), &p); err != nil {
			return Preset{}, fmt.Errorf("config: parse preset %s front matter: %w", path, err)
		}
	}

	p.validate()
	return p, nil
}

// splitFrontMatter extracts the YAML block between the first pair of
// `---` delimiters and the remaining body.
func splitFrontMatter(content string) (frontMatter, body string, err error) {
	trimmed := strings.TrimLeft(content, "\n")
	if !strings.HasPrefix(trimmed, "---") {
		return "", content, nil
	}
	rest := trimmed[3:]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return "", "", fmt.Errorf("unterminated front-matter block")
	}
	frontMatter = rest[:end]
	after := rest[end+4:]
	if nl := strings.IndexByte(after, '\n'); nl != -1 {
		body = after[nl+1:]
	}
	return frontMatter, body, nil
}

// validate applies spec.md §6's field constraints, collecting violations
// into ValidationIssues and clamping or defaulting the field rather than
// rejecting the whole preset.
func (p *Preset) validate() {
	if p.Name == "" {
		p.Name = p.ID
	}
	if p.Mode == "" {
		p.Mode = PresetPrimary
	}
	if p.Mode != PresetPrimary && p.Mode != PresetSubAgent {
		p.ValidationIssues = append(p.ValidationIssues, fmt.Sprintf("unrecognized mode %q, defaulting to %q", p.Mode, PresetPrimary))
		p.Mode = PresetPrimary
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		p.ValidationIssues = append(p.ValidationIssues, fmt.Sprintf("temperature %.2f out of range [0,2], clamped", p.Temperature))
		p.Temperature = clamp(p.Temperature, 0, 2)
	}
	if p.Steps < 0 || p.Steps > 1000 {
		p.ValidationIssues = append(p.ValidationIssues, fmt.Sprintf("steps %d out of range [0,1000], clamped", p.Steps))
		p.Steps = int(clamp(float64(p.Steps), 0, 1000))
	}
	for tool, perm := range p.Tools {
		switch ToolPermission(perm) {
		case ToolAllow, ToolDeny, ToolInherit:
		default:
			p.ValidationIssues = append(p.ValidationIssues, fmt.Sprintf("tool %q has unrecognized permission %q, treated as inherit", tool, perm))
			p.Tools[tool] = string(ToolInherit)
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// permissionScopes maps spec.md §6's opencode-style permission vocabulary
// (edit/bash/write/webfetch) onto policy.Scope.
var permissionScopes = map[string]policy.Scope{
	"edit":    policy.ScopeWrite,
	"write":   policy.ScopeWrite,
	"bash":    policy.ScopeShell,
	"webfetch": policy.ScopeNetwork,
}

// ToPermission derives a policy.Permission from the preset's declared
// permission list: every scope it names is allowed without approval,
// read is always allowed, and destructive always requires approval
// unless explicitly named.
func (p Preset) ToPermission() policy.Permission {
	perm := policy.Permission{
		AllowedScopes:  map[policy.Scope]bool{policy.ScopeRead: true},
		ApprovalScopes: map[policy.Scope]bool{policy.ScopeDestructive: true},
		DeniedScopes:   map[policy.Scope]bool{},
	}
	for _, name := range p.Permission {
		if scope, ok := permissionScopes[strings.ToLower(name)]; ok {
			perm.AllowedScopes[scope] = true
		}
	}
	return perm
}

// DefaultPresetDirs returns the precedence order spec.md §6 names:
// workspace-local agent directories first (most specific wins), then
// global config variants.
func DefaultPresetDirs() []string {
	dirs := []string{
		".agents/agents",
		".agent/agents",
		".opencode/agents",
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(home, ".config", "orchestrix", "agents"),
			filepath.Join(home, ".orchestrix", "agents"),
		)
	}
	return dirs
}

// LoadPresets scans dirs in precedence order and returns one Preset per
// distinct id, first match winning (spec.md §6: workspace directories
// take precedence over global ones, so dirs should be passed in that
// order, e.g. DefaultPresetDirs()). This is a one-shot scan, not a
// watcher; see DESIGN.md Open Question 3 for why hot-reload is out of
// scope here.
func LoadPresets(dirs []string) ([]Preset, error) {
	seen := make(map[string]bool)
	var out []Preset

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue // a missing/unreadable directory is not fatal
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			id := strings.TrimSuffix(entry.Name(), ".md")
			if seen[id] {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("config: read preset %s: %w", path, err)
			}
			preset, err := ParsePreset(path, data)
			if err != nil {
				return nil, err
			}
			seen[id] = true
			out = append(out, preset)
		}
	}
	return out, nil
}
