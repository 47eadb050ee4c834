// Package decision implements the Decision Normalizer (spec.md §4.8): a
// pure, deterministic function turning a provider.Response into a
// canonical WorkerDecision, insulating the worker loop from provider
// dialects (native tool_calls vs legacy markup-embedded JSON actions).
// Grounded on reasoning/extension_service.go's DefaultExtensionService.
// ParseJSON and reasoning/tool_extension.go's ToolExtension.parseToolCall
// (regex/line-scan markup stripping, then best-effort JSON decode) for the
// overall "try structured, then fall back to text-mined" strategy.
package decision

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/ifBars/orchestrix/provider"
)

// Kind distinguishes the WorkerDecision variants.
type Kind int

const (
	KindToolCalls Kind = iota
	KindComplete
	KindDelegate
)

// Call is one normalized tool invocation. ID is the provider-issued
// tool-call id (provider.ToolCall.ID) when the call came from the native
// tool-call channel; legacy markup-derived calls carry no such id since the
// provider never assigned one.
type Call struct {
	ID        string
	Name      string
	Args      map[string]any
	Rationale string
}

// Delegate is the legacy sub-agent-spawn action shape, converted by the
// worker loop into a subagent.spawn tool call.
type Delegate struct {
	Name    string
	Goal    string
	BaseRef string
}

// WorkerDecision is the canonical, provider-independent shape the worker
// loop dispatches on.
type WorkerDecision struct {
	Kind     Kind
	Calls    []Call // KindToolCalls
	Summary  string // KindComplete
	Delegate Delegate
}

var markupPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<minimax:tool_call>.*?</minimax:tool_call>`),
	regexp.MustCompile(`(?s)<tool_call>.*?</tool_call>`),
	regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```"),
}

// stripMarkup removes known tool-call wrapper markup, leaving fenced-code
// bodies in place (the third pattern captures group 1, everything else is
// dropped wholesale since it carries no payload worth keeping).
func stripMarkup(s string) string {
	out := s
	for i, re := range markupPatterns {
		if i == len(markupPatterns)-1 {
			out = re.ReplaceAllString(out, "$1")
			continue
		}
		out = re.ReplaceAllString(out, "")
	}
	return strings.TrimSpace(out)
}

// legacyAction is the shape reasoning text sometimes carries when a
// provider ignores the native tool-call channel.
type legacyAction struct {
	Action   string         `mapstructure:"action"`
	ToolName string         `mapstructure:"tool_name"`
	ToolArgs map[string]any `mapstructure:"tool_args"`

	Name    string `mapstructure:"name"`
	Goal    string `mapstructure:"goal"`
	BaseRef string `mapstructure:"base_ref"`
}

// namedFields are the legacy action's own control keys; everything else in
// the raw JSON object is tool-argument payload, collected by
// collectToolArgs rather than decoded onto a struct field.
var namedFields = map[string]bool{
	"action": true, "tool_name": true, "tool_args": true,
	"name": true, "goal": true, "base_ref": true,
}

// Normalize implements the full §4.8 decision tree.
func Normalize(resp provider.Response) WorkerDecision {
	if calls := normalizeNativeCalls(resp.ToolCalls); len(calls) > 0 {
		return WorkerDecision{Kind: KindToolCalls, Calls: calls}
	}

	content := stripMarkup(resp.Content)
	reasoning := stripMarkup(resp.Reasoning)

	if content == "" {
		la, ok := parseLegacyAction(reasoning)
		if !ok {
			// Stripping drops <tool_call> wrappers wholesale; a legacy JSON
			// action carried inside one is mined from the raw reasoning.
			la, ok = parseLegacyAction(resp.Reasoning)
		}
		if ok {
			if d, isDelegate := la.asDelegate(); isDelegate {
				return WorkerDecision{Kind: KindDelegate, Delegate: d}
			}
			if c, ok := la.asCall(); ok {
				return WorkerDecision{Kind: KindToolCalls, Calls: []Call{c}}
			}
		}
	}

	summary := content
	if summary == "" {
		summary = "Task complete."
	}
	return WorkerDecision{Kind: KindComplete, Summary: summary}
}

func normalizeNativeCalls(calls []provider.ToolCall) []Call {
	var out []Call
	for _, tc := range calls {
		if tc.Name == "" {
			continue
		}
		args := tc.Args
		if args == nil {
			args = map[string]any{}
		}
		out = append(out, Call{ID: tc.ID, Name: tc.Name, Args: args})
	}
	return out
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// parseLegacyAction finds the first JSON object embedded in s and decodes
// it into the legacy action shape, collapsing key aliases.
func parseLegacyAction(s string) (legacyAction, bool) {
	match := jsonObjectPattern.FindString(s)
	if match == "" {
		return legacyAction{}, false
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return legacyAction{}, false
	}

	var la legacyAction
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &la, WeaklyTypedInput: true})
	if err != nil {
		return legacyAction{}, false
	}
	if err := dec.Decode(raw); err != nil {
		return legacyAction{}, false
	}

	la.ToolArgs = collectToolArgs(raw, la.ToolArgs)

	// An action naming a concrete tool directly ({"action":"fs.write",...})
	// is itself the tool name; "delegate" and the generic "tool_call"
	// wrapper are markers, not tool names, so those fall through to the
	// argument-shape inference below.
	if la.ToolName == "" && la.Action != "" && la.Action != "delegate" && la.Action != "tool_call" {
		la.ToolName = la.Action
	}
	if la.ToolName == "" {
		la.ToolName = inferToolName(la.ToolArgs)
	}
	if la.ToolName == "" && la.Action == "" && la.Goal == "" {
		return legacyAction{}, false
	}
	return la, true
}

// collectToolArgs merges the tool_args alias keys (args/input/parameters,
// when map-shaped) and every other top-level key raw carries into one
// argument map. spec.md §8's own examples embed arguments as flat sibling
// keys ({"action":"fs.write","path":"x","content":"y"}) or under a
// non-map "args" key holding the literal argument value itself
// ({"action":"tool_call","cmd":"ls","args":["-la"]}), neither of which
// fits the nested-object alias case tool_args normally covers.
func collectToolArgs(raw map[string]any, toolArgs map[string]any) map[string]any {
	merged := map[string]any{}
	for k, v := range toolArgs {
		merged[k] = v
	}
	for _, key := range []string{"args", "input", "parameters"} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if m, isMap := v.(map[string]any); isMap {
			for k, vv := range m {
				merged[k] = vv
			}
			continue
		}
		merged[key] = v
	}
	for k, v := range raw {
		if namedFields[k] || k == "args" || k == "input" || k == "parameters" {
			continue
		}
		merged[k] = v
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

// inferToolName applies spec.md §4.8's argument-shape heuristics when the
// legacy payload omits tool_name outright.
func inferToolName(args map[string]any) string {
	if args == nil {
		return ""
	}
	_, hasCmd := args["cmd"]
	_, hasArgs := args["args"]
	if hasCmd && hasArgs {
		return "cmd.exec"
	}
	_, hasPath := args["path"]
	_, hasContent := args["content"]
	if hasPath && hasContent {
		return "fs.write"
	}
	if hasPath {
		return "fs.read"
	}
	return ""
}

// asDelegate reports whether this legacy action is the sub-agent spawn
// variant (action == "delegate" or a goal was supplied with no tool name).
func (la legacyAction) asDelegate() (Delegate, bool) {
	if la.Action != "delegate" && la.Goal == "" {
		return Delegate{}, false
	}
	return Delegate{Name: la.Name, Goal: la.Goal, BaseRef: la.BaseRef}, true
}

func (la legacyAction) asCall() (Call, bool) {
	if la.ToolName == "" {
		return Call{}, false
	}
	args := la.ToolArgs
	if args == nil {
		args = map[string]any{}
	}
	return Call{Name: la.ToolName, Args: args}, true
}
