// Package searchtool implements code.search: a read-only tool exposing
// the workspace's index.Index over the registry contract, grounded on
// v2/rag/search.go's SearchEngine.Search method signature adapted from
// a standalone RAG call into a worker-facing tool.
package searchtool

import (
	"fmt"

	"github.com/ifBars/orchestrix/index"
	"github.com/ifBars/orchestrix/policy"
	"github.com/ifBars/orchestrix/registry"
)

// Tool implements code.search.
type Tool struct {
	Index *index.Index
}

func (t *Tool) Name() string        { return "code.search" }
func (t *Tool) Description() string { return "Semantic search over the workspace's indexed source files." }
func (t *Tool) Scope() policy.Scope { return policy.ScopeRead }
func (t *Tool) Mode() registry.Mode { return registry.ModeBoth }

func (t *Tool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":     map[string]any{"type": "string", "description": "natural language or code search query"},
			"max_results": map[string]any{"type": "integer", "description": "maximum matches to return", "default": 8},
		},
		"required": []string{"query"},
	}
}

func (t *Tool) Call(ctx *registry.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("code.search: query is required")
	}
	topK := 8
	if n, ok := args["max_results"].(float64); ok && n > 0 {
		topK = int(n)
	}

	results, err := t.Index.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	matches := make([]map[string]any, len(results))
	for i, r := range results {
		matches[i] = map[string]any{
			"file":       r.Chunk.FilePath,
			"start_line": r.Chunk.StartLine,
			"end_line":   r.Chunk.EndLine,
			"content":    r.Chunk.Content,
			"score":      r.Score,
		}
	}
	return map[string]any{"matches": matches}, nil
}
