// Package anthropic implements provider.Adapter against the Anthropic
// Messages API. Grounded on llms/anthropic.go's RetryStrategy /
// RateLimitInfo / extractAnthropicRateLimitHeaders pattern, adapted to
// provider.Request/Response and the shared SSE/tool-call-accumulator
// helpers in package provider instead of duplicating them.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ifBars/orchestrix/orcherr"
	"github.com/ifBars/orchestrix/provider"
)

// Adapter talks to the Anthropic /v1/messages endpoint.
type Adapter struct {
	Model      string
	BaseURL    string
	APIKey     string
	MaxTokens  int
	HTTPClient *http.Client
	Retry      provider.RetryPolicy
}

// New constructs an Adapter with sane defaults.
func New(model, baseURL, apiKey string) *Adapter {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &Adapter{
		Model:      model,
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		Retry:      provider.DefaultRetryPolicy(),
	}
}

func (a *Adapter) Name() string { return "anthropic" }

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type wireContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
	// tool_result fields, used when rendering observation messages
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type wireMessage struct {
	Role    string             `json:"role"`
	Content []wireContentBlock `json:"content"`
}

type wireRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
	Tools     []wireTool    `json:"tools,omitempty"`
}

// buildMessages maps provider.Request's role-based history onto
// Anthropic's content-block messages; tool_calls become tool_use blocks
// on assistant turns and tool results become tool_result blocks on user
// turns, preserving the strict historical order the spec requires.
func buildMessages(req provider.Request) (system string, out []wireMessage) {
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system += m.Content
		case "assistant":
			blocks := []wireContentBlock{}
			if m.Content != "" {
				blocks = append(blocks, wireContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, wireContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Args})
			}
			out = append(out, wireMessage{Role: "assistant", Content: blocks})
		case "tool":
			out = append(out, wireMessage{Role: "user", Content: []wireContentBlock{
				{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content},
			}})
		default:
			out = append(out, wireMessage{Role: "user", Content: []wireContentBlock{{Type: "text", Text: m.Content}}})
		}
	}
	return system, out
}

func buildTools(descs []provider.ToolDescriptor) []wireTool {
	var out []wireTool
	for _, d := range descs {
		out = append(out, wireTool{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}
	return out
}

type wireStreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta,omitempty"`
	ContentBlock *wireContentBlock `json:"content_block,omitempty"`
	Index        int               `json:"index"`
	Error        *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete implements provider.Adapter.
func (a *Adapter) Complete(ctx context.Context, req provider.Request, sink provider.DeltaSink) (provider.Response, error) {
	maxTokens, clamped := provider.ClampMaxTokens(req.MaxTokens, a.MaxTokens)
	if clamped {
		slog.Warn("anthropic: max_tokens clamped to deployment cap", "requested", req.MaxTokens, "cap", a.MaxTokens)
	}
	system, msgs := buildMessages(req)
	wreq := wireRequest{
		Model:     a.Model,
		System:    system,
		Messages:  msgs,
		MaxTokens: maxTokens,
		Stream:    true,
		Tools:     buildTools(req.Tools),
	}

	op := func() (provider.Response, error) {
		return a.attempt(ctx, wreq, sink)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.Retry.Backoff
	b.MaxElapsedTime = 0

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(a.Retry.MaxRateLimitRetries+1)),
	)
}

func (a *Adapter) attempt(ctx context.Context, wreq wireRequest, sink provider.DeltaSink) (provider.Response, error) {
	body, err := json.Marshal(wreq)
	if err != nil {
		return provider.Response{}, backoff.Permanent(orcherr.New(orcherr.AdapterRequest, "anthropic", "marshal", "failed to marshal request", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return provider.Response{}, backoff.Permanent(orcherr.New(orcherr.AdapterRequest, "anthropic", "build_request", "failed to build request", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return provider.Response{}, orcherr.New(orcherr.AdapterRequest, "anthropic", "do_request", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		kind := classify(resp)
		wrapped := orcherr.New(kind, "anthropic", "http_status", fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody)), nil)
		if kind == orcherr.Auth {
			return provider.Response{}, backoff.Permanent(wrapped)
		}
		return provider.Response{}, wrapped
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Response{}, orcherr.New(orcherr.AdapterRequest, "anthropic", "read_body", "mid-stream disconnect", err)
	}

	var content, reasoning string
	acc := provider.NewToolCallAccumulator()
	blockNames := map[int]string{}
	blockIDs := map[int]string{}

	scanErr := provider.ScanSSE(ctx, respBody, func(line provider.SSELine) error {
		if line.Done {
			return nil
		}
		var evt wireStreamEvent
		if err := json.Unmarshal(line.Data, &evt); err != nil {
			return nil
		}
		if evt.Error != nil {
			return orcherr.New(orcherr.AdapterRequest, "anthropic", "stream_error", evt.Error.Message, nil)
		}
		switch evt.Type {
		case "content_block_start":
			if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
				blockNames[evt.Index] = evt.ContentBlock.Name
				blockIDs[evt.Index] = evt.ContentBlock.ID
				acc.Add(evt.Index, evt.ContentBlock.ID, evt.ContentBlock.Name, "")
			}
		case "content_block_delta":
			if evt.Delta == nil {
				return nil
			}
			switch evt.Delta.Type {
			case "text_delta":
				content += evt.Delta.Text
				if sink != nil {
					sink(provider.Delta{Kind: provider.DeltaContent, Text: evt.Delta.Text})
				}
			case "thinking_delta":
				reasoning += evt.Delta.Text
				if sink != nil {
					sink(provider.Delta{Kind: provider.DeltaReasoning, Text: evt.Delta.Text})
				}
			case "input_json_delta":
				acc.Add(evt.Index, blockIDs[evt.Index], "", evt.Delta.PartialJSON)
				_ = blockNames[evt.Index]
			}
		}
		return nil
	})
	if scanErr != nil {
		return provider.Response{}, orcherr.New(orcherr.AdapterRequest, "anthropic", "stream_parse", "stream parse error", scanErr)
	}

	return provider.Response{Content: content, Reasoning: reasoning, ToolCalls: acc.Finalize()}, nil
}

func classify(resp *http.Response) orcherr.Kind {
	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return orcherr.Auth
	}
	if resp.StatusCode == 429 {
		return orcherr.RateLimit
	}
	if retryAfter := resp.Header.Get("retry-after"); retryAfter != "" {
		if _, err := strconv.Atoi(retryAfter); err == nil {
			return orcherr.RateLimit
		}
	}
	return orcherr.AdapterRequest
}
