// Package codeendpoint implements the stricter OpenAI-compatible
// "code endpoint" variant referenced in spec.md §4.7 and §8's scenario 6
// (GLM-4.7 fallback): reversible tool-name escaping, JSON-schema keyword
// filtering, and a model-name-normalization retry on "invalid parameter"
// responses. Grounded on llms/openai.go's wire shapes (reused via the
// openai adapter's wireRequest-equivalent) and on original_source's GLM
// client (model/providers/glm/client.rs), which is the only place in the
// retrieved pack showing the invalid-parameter + model-casing fallback
// this adapter must reproduce in Go.
package codeendpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ifBars/orchestrix/orcherr"
	"github.com/ifBars/orchestrix/provider"
)

// knownGoodModel is the fallback used when model-name normalization alone
// does not resolve an invalid-parameter response.
const knownGoodModel = "glm-4.6"

// Adapter talks to a strict OpenAI-compatible endpoint (e.g. a
// GLM/Kimi/Minimax-style code completion gateway).
type Adapter struct {
	Model      string
	BaseURL    string
	APIKey     string
	MaxTokens  int
	HTTPClient *http.Client
}

// New constructs an Adapter with sane defaults.
func New(model, baseURL, apiKey string) *Adapter {
	return &Adapter{
		Model:      model,
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *Adapter) Name() string { return "codeendpoint" }

type wireMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []wireCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type wireCall struct {
	Index    int          `json:"index"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireToolFunc `json:"function"`
}

type wireToolFunc struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
	Tools       []wireTool    `json:"tools,omitempty"`
}

type wireStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string     `json:"content,omitempty"`
			ToolCalls []wireCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

func buildMessages(req provider.Request) []wireMessage {
	out := []wireMessage{{Role: "system", Content: req.SystemPrompt}}
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for i, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			wm.ToolCalls = append(wm.ToolCalls, wireCall{
				Index: i, ID: tc.ID, Type: "function",
				Function: wireFunction{Name: provider.EscapeToolName(tc.Name), Arguments: string(args)},
			})
		}
		out = append(out, wm)
	}
	return out
}

// buildTools applies both code-endpoint-specific transforms required by
// spec.md §4.7: reversible name escaping and schema keyword filtering.
func buildTools(descs []provider.ToolDescriptor) []wireTool {
	var out []wireTool
	for _, d := range descs {
		out = append(out, wireTool{
			Type: "function",
			Function: wireToolFunc{
				Name:        provider.EscapeToolName(d.Name),
				Description: d.Description,
				Parameters:  provider.FilterSchemaKeywords(d.InputSchema),
			},
		})
	}
	return out
}

// isInvalidParameter reports whether a response body looks like the
// endpoint's "invalid parameter" rejection class (distinct from a plain
// 4xx/5xx, since this triggers the model-name fallback rather than a
// generic retry).
func isInvalidParameter(status int, body []byte) bool {
	if status != 400 {
		return false
	}
	return bytes.Contains(bytes.ToLower(body), []byte("invalid_parameter")) ||
		bytes.Contains(bytes.ToLower(body), []byte("invalid parameter"))
}

// Complete implements provider.Adapter, retrying once with a normalized
// model name on an invalid-parameter response, and once more with a
// known-good model if normalization does not change the name or the
// normalized retry also fails.
func (a *Adapter) Complete(ctx context.Context, req provider.Request, sink provider.DeltaSink) (provider.Response, error) {
	model := a.Model
	resp, err := a.attempt(ctx, model, req, sink)
	if err == nil {
		return resp, nil
	}

	if !orcherr.Is(err, orcherr.AdapterRequest) || !strings.Contains(err.Error(), "invalid_parameter_marker") {
		return provider.Response{}, err
	}

	normalized := normalizeModelName(model)
	if normalized != model {
		if resp, err2 := a.attempt(ctx, normalized, req, sink); err2 == nil {
			return resp, nil
		}
	}
	return a.attempt(ctx, knownGoodModel, req, sink)
}

func normalizeModelName(model string) string {
	if strings.HasPrefix(model, "GLM-") {
		return "glm-" + strings.ToLower(strings.TrimPrefix(model, "GLM-"))
	}
	return strings.ToLower(model)
}

func (a *Adapter) attempt(ctx context.Context, model string, req provider.Request, sink provider.DeltaSink) (provider.Response, error) {
	maxTokens, clamped := provider.ClampMaxTokens(req.MaxTokens, a.MaxTokens)
	if clamped {
		slog.Warn("codeendpoint: max_tokens clamped to deployment cap", "requested", req.MaxTokens, "cap", a.MaxTokens)
	}
	wreq := wireRequest{
		Model:       model,
		Messages:    buildMessages(req),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      true,
		Tools:       buildTools(req.Tools),
	}
	body, err := json.Marshal(wreq)
	if err != nil {
		return provider.Response{}, orcherr.New(orcherr.AdapterRequest, "codeendpoint", "marshal", "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return provider.Response{}, orcherr.New(orcherr.AdapterRequest, "codeendpoint", "build_request", "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.APIKey)

	resp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return provider.Response{}, orcherr.New(orcherr.AdapterRequest, "codeendpoint", "do_request", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		kind := provider.ClassifyHTTPStatus(resp.StatusCode)
		if kind == orcherr.Auth {
			return provider.Response{}, orcherr.New(orcherr.Auth, "codeendpoint", "http_status", fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody)), nil)
		}
		if isInvalidParameter(resp.StatusCode, respBody) {
			return provider.Response{}, orcherr.New(orcherr.AdapterRequest, "codeendpoint", "http_status", "invalid_parameter_marker: "+string(respBody), nil)
		}
		return provider.Response{}, orcherr.New(kind, "codeendpoint", "http_status", fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Response{}, orcherr.New(orcherr.AdapterRequest, "codeendpoint", "read_body", "mid-stream disconnect", err)
	}

	var content string
	acc := provider.NewToolCallAccumulator()
	scanErr := provider.ScanSSE(ctx, respBody, func(line provider.SSELine) error {
		if line.Done {
			return nil
		}
		var chunk wireStreamChunk
		if err := json.Unmarshal(line.Data, &chunk); err != nil {
			return nil
		}
		if chunk.Error != nil {
			return orcherr.New(orcherr.AdapterRequest, "codeendpoint", "stream_error", chunk.Error.Message, nil)
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content += delta.Content
			if sink != nil {
				sink(provider.Delta{Kind: provider.DeltaContent, Text: delta.Content})
			}
		}
		for _, tc := range delta.ToolCalls {
			acc.Add(tc.Index, tc.ID, provider.UnescapeToolName(tc.Function.Name), tc.Function.Arguments)
		}
		return nil
	})
	if scanErr != nil {
		return provider.Response{}, orcherr.New(orcherr.AdapterRequest, "codeendpoint", "stream_parse", "stream parse error", scanErr)
	}

	return provider.Response{Content: content, ToolCalls: acc.Finalize()}, nil
}
