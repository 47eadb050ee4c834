package searchtool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifBars/orchestrix/index"
	"github.com/ifBars/orchestrix/registry"
)

func testCtx() *registry.Context {
	return &registry.Context{Context: context.Background(), RunID: "run-1"}
}

func buildIndex(t *testing.T) *index.Index {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "widget.go"), []byte("package widget\n\nfunc DoWidgetThing() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gadget.go"), []byte("package gadget\n\nfunc DoGadgetThing() {}\n"), 0o644))

	idx := index.New(dir, index.NewHashEmbedder(0))
	_, err := idx.Build(context.Background())
	require.NoError(t, err)
	return idx
}

func TestTool_Call_ReturnsRankedMatches(t *testing.T) {
	tool := &Tool{Index: buildIndex(t)}
	out, err := tool.Call(testCtx(), map[string]any{"query": "widget", "max_results": float64(2)})
	require.NoError(t, err)
	matches := out["matches"].([]map[string]any)
	require.NotEmpty(t, matches)
	assert.Contains(t, matches[0]["file"], "widget.go")
}

func TestTool_Call_RequiresQuery(t *testing.T) {
	tool := &Tool{Index: buildIndex(t)}
	_, err := tool.Call(testCtx(), map[string]any{})
	require.Error(t, err)
}

func TestTool_ScopeAndMode(t *testing.T) {
	tool := &Tool{}
	assert.Equal(t, "code.search", tool.Name())
	assert.Equal(t, registry.ModeBoth, tool.Mode())
}
