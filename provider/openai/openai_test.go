package openai

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifBars/orchestrix/provider"
)

func sseBody(chunks ...string) string {
	out := ""
	for _, c := range chunks {
		out += "data: " + c + "\n\n"
	}
	return out + "data: [DONE]\n\n"
}

func TestAdapter_Complete_AccumulatesContentDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"choices":[{"delta":{"content":"Hello"}}]}`,
			`{"choices":[{"delta":{"content":", world"}}]}`,
		))
	}))
	defer srv.Close()

	a := New("gpt-4", srv.URL, "sk-test")
	var deltas []string
	resp, err := a.Complete(t.Context(), provider.Request{SystemPrompt: "sys"}, func(d provider.Delta) {
		deltas = append(deltas, d.Text)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", resp.Content)
	assert.Equal(t, []string{"Hello", ", world"}, deltas)
}

func TestAdapter_Complete_AccumulatesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseBody(
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call-1","function":{"name":"fs.","arguments":""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"read","arguments":"{\"path\""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"a.go\"}"}}]}}]}`,
		))
	}))
	defer srv.Close()

	a := New("gpt-4", srv.URL, "sk-test")
	resp, err := a.Complete(t.Context(), provider.Request{SystemPrompt: "sys"}, nil)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "fs.read", resp.ToolCalls[0].Name)
	assert.Equal(t, "a.go", resp.ToolCalls[0].Args["path"])
}

func TestAdapter_Complete_AuthErrorIsNotRetried(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid key"}`)
	}))
	defer srv.Close()

	a := New("gpt-4", srv.URL, "sk-bad")
	_, err := a.Complete(t.Context(), provider.Request{SystemPrompt: "sys"}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestAdapter_Complete_RateLimitRetriesThenSucceeds(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"rate limited"}`)
			return
		}
		fmt.Fprint(w, sseBody(`{"choices":[{"delta":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	a := New("gpt-4", srv.URL, "sk-test")
	a.Retry.Backoff = 0
	resp, err := a.Complete(t.Context(), provider.Request{SystemPrompt: "sys"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, attempts)
}

func TestNormalizeModelName(t *testing.T) {
	assert.Equal(t, "glm-4", NormalizeModelName("GLM-4"))
	assert.Equal(t, "glm-4", NormalizeModelName("Glm-4"))
	assert.Equal(t, "gpt-4", NormalizeModelName("gpt-4"))
}
