package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifBars/orchestrix/provider"
)

func TestNormalize_NativeToolCalls(t *testing.T) {
	resp := provider.Response{
		ToolCalls: []provider.ToolCall{
			{ID: "1", Name: "fs.read", Args: map[string]any{"path": "main.go"}},
		},
	}
	d := Normalize(resp)
	require.Equal(t, KindToolCalls, d.Kind)
	require.Len(t, d.Calls, 1)
	assert.Equal(t, "fs.read", d.Calls[0].Name)
	assert.Equal(t, "main.go", d.Calls[0].Args["path"])
}

func TestNormalize_NativeToolCalls_SkipsUnnamed(t *testing.T) {
	resp := provider.Response{
		ToolCalls: []provider.ToolCall{{ID: "1", Name: ""}},
	}
	d := Normalize(resp)
	assert.Equal(t, KindComplete, d.Kind)
}

func TestNormalize_PlainTextIsComplete(t *testing.T) {
	resp := provider.Response{Content: "All done, the feature works."}
	d := Normalize(resp)
	assert.Equal(t, KindComplete, d.Kind)
	assert.Equal(t, "All done, the feature works.", d.Summary)
}

func TestNormalize_EmptyContentDefaultsSummary(t *testing.T) {
	d := Normalize(provider.Response{})
	assert.Equal(t, KindComplete, d.Kind)
	assert.Equal(t, "Task complete.", d.Summary)
}

func TestNormalize_LegacyMarkupToolCall(t *testing.T) {
	resp := provider.Response{
		Reasoning: "<tool_call>{\"tool_name\": \"fs.read\", \"tool_args\": {\"path\": \"x.go\"}}</tool_call>",
	}
	d := Normalize(resp)
	require.Equal(t, KindToolCalls, d.Kind)
	require.Len(t, d.Calls, 1)
	assert.Equal(t, "fs.read", d.Calls[0].Name)
	assert.Equal(t, "x.go", d.Calls[0].Args["path"])
}

func TestNormalize_LegacyDelegateAction(t *testing.T) {
	resp := provider.Response{
		Reasoning: "```json\n{\"action\": \"delegate\", \"name\": \"worker-1\", \"goal\": \"fix bug\"}\n```",
	}
	d := Normalize(resp)
	require.Equal(t, KindDelegate, d.Kind)
	assert.Equal(t, "worker-1", d.Delegate.Name)
	assert.Equal(t, "fix bug", d.Delegate.Goal)
}

func TestNormalize_InferToolNameFromArgShape(t *testing.T) {
	resp := provider.Response{
		Reasoning: "<tool_call>{\"tool_args\": {\"path\": \"a.go\", \"content\": \"package a\"}}</tool_call>",
	}
	d := Normalize(resp)
	require.Equal(t, KindToolCalls, d.Kind)
	assert.Equal(t, "fs.write", d.Calls[0].Name)
}

func TestNormalize_InferToolNameCmdExec(t *testing.T) {
	resp := provider.Response{
		Reasoning: "<tool_call>{\"tool_args\": {\"cmd\": \"go\", \"args\": [\"test\"]}}</tool_call>",
	}
	d := Normalize(resp)
	require.Equal(t, KindToolCalls, d.Kind)
	assert.Equal(t, "cmd.exec", d.Calls[0].Name)
}

func TestNormalize_NativeToolCalls_PreservesProviderCallID(t *testing.T) {
	resp := provider.Response{
		ToolCalls: []provider.ToolCall{
			{ID: "call_abc123", Name: "fs.read", Args: map[string]any{"path": "main.go"}},
		},
	}
	d := Normalize(resp)
	require.Len(t, d.Calls, 1)
	assert.Equal(t, "call_abc123", d.Calls[0].ID)
}

func TestNormalize_LegacyFlatActionFields(t *testing.T) {
	resp := provider.Response{
		Reasoning: `{"action":"fs.write","path":"x","content":"y"}`,
	}
	d := Normalize(resp)
	require.Equal(t, KindToolCalls, d.Kind)
	require.Len(t, d.Calls, 1)
	assert.Equal(t, "fs.write", d.Calls[0].Name)
	assert.Equal(t, "x", d.Calls[0].Args["path"])
	assert.Equal(t, "y", d.Calls[0].Args["content"])
}

func TestNormalize_LegacyToolCallWithArrayArgs(t *testing.T) {
	resp := provider.Response{
		Reasoning: `{"action":"tool_call","cmd":"ls","args":["-la"]}`,
	}
	d := Normalize(resp)
	require.Equal(t, KindToolCalls, d.Kind)
	require.Len(t, d.Calls, 1)
	assert.Equal(t, "cmd.exec", d.Calls[0].Name)
}

func TestNormalize_NativeCallsTakePriorityOverLegacyMarkup(t *testing.T) {
	resp := provider.Response{
		ToolCalls: []provider.ToolCall{{ID: "1", Name: "fs.read", Args: map[string]any{"path": "a.go"}}},
		Reasoning: "<tool_call>{\"tool_name\": \"fs.write\"}</tool_call>",
	}
	d := Normalize(resp)
	require.Equal(t, KindToolCalls, d.Kind)
	assert.Equal(t, "fs.read", d.Calls[0].Name)
}

func TestStripMarkup_FencedCodeKeepsBody(t *testing.T) {
	out := stripMarkup("```json\n{\"a\": 1}\n```")
	assert.Equal(t, "{\"a\": 1}", out)
}

func TestStripMarkup_RemovesToolCallWrapper(t *testing.T) {
	out := stripMarkup("prefix <tool_call>{\"a\":1}</tool_call> suffix")
	assert.Equal(t, "prefix  suffix", out)
}
