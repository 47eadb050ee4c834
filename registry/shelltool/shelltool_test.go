package shelltool

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifBars/orchestrix/registry"
)

func testCtx() *registry.Context {
	return &registry.Context{Context: context.Background(), RunID: "run-1"}
}

func TestExec_Call_RunsCommandAndCapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell command")
	}
	dir := t.TempDir()
	tool := &Exec{WorkingDir: dir}
	out, err := tool.Call(testCtx(), map[string]any{"cmd": "echo", "args": []any{"hello"}})
	require.NoError(t, err)
	assert.Contains(t, out["stdout"], "hello")
	assert.Equal(t, 0, out["exit_code"])
}

func TestExec_Call_NonZeroExitReturnsErrorAndResult(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell command")
	}
	dir := t.TempDir()
	tool := &Exec{WorkingDir: dir}
	out, err := tool.Call(testCtx(), map[string]any{"cmd": "false"})
	require.Error(t, err)
	assert.NotEqual(t, 0, out["exit_code"])
}

func TestExec_ScopeAndMode(t *testing.T) {
	tool := &Exec{}
	assert.Equal(t, "cmd.exec", tool.Name())
	assert.Equal(t, registry.ModeBuild, tool.Mode())
}
