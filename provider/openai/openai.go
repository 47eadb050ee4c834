// Package openai implements provider.Adapter against an OpenAI-compatible
// chat completions endpoint. Grounded directly on llms/openai.go's
// request construction and makeStreamingRequest's SSE loop and
// index-keyed tool-call accumulation, generalized onto provider.Request
// instead of hector's internal message/tool types.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ifBars/orchestrix/orcherr"
	"github.com/ifBars/orchestrix/provider"
)

// Adapter talks to an OpenAI-compatible /chat/completions endpoint.
type Adapter struct {
	Model      string
	BaseURL    string
	APIKey     string
	MaxTokens  int // per-deployment cap, 0 = no cap
	HTTPClient *http.Client
	Retry      provider.RetryPolicy
}

// New constructs an Adapter with sane defaults.
func New(model, baseURL, apiKey string) *Adapter {
	return &Adapter{
		Model:      model,
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		Retry:      provider.DefaultRetryPolicy(),
	}
}

func (a *Adapter) Name() string { return "openai" }

type wireMessage struct {
	Role       string      `json:"role"`
	Content    string      `json:"content,omitempty"`
	ToolCalls  []wireCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
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
			Reasoning string     `json:"reasoning_content,omitempty"`
			ToolCalls []wireCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		Message *struct {
			Content   string     `json:"content,omitempty"`
			ToolCalls []wireCall `json:"tool_calls,omitempty"`
		} `json:"message,omitempty"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// buildMessages renders provider.Request into the strict historical order
// [system, user, assistant-with-tool-calls*, tool*] the spec requires.
func buildMessages(req provider.Request) []wireMessage {
	out := []wireMessage{{Role: "system", Content: req.SystemPrompt}}
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for i, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			wm.ToolCalls = append(wm.ToolCalls, wireCall{
				Index: i, ID: tc.ID, Type: "function",
				Function: wireFunction{Name: tc.Name, Arguments: string(args)},
			})
		}
		out = append(out, wm)
	}
	return out
}

func buildTools(descs []provider.ToolDescriptor) []wireTool {
	var out []wireTool
	for _, d := range descs {
		out = append(out, wireTool{
			Type: "function",
			Function: wireToolFunc{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		})
	}
	return out
}

// Complete implements provider.Adapter.
func (a *Adapter) Complete(ctx context.Context, req provider.Request, sink provider.DeltaSink) (provider.Response, error) {
	maxTokens, clamped := provider.ClampMaxTokens(req.MaxTokens, a.MaxTokens)
	if clamped {
		slog.Warn("openai: max_tokens clamped to deployment cap", "requested", req.MaxTokens, "cap", a.MaxTokens)
	}

	wreq := wireRequest{
		Model:       a.Model,
		Messages:    buildMessages(req),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      true,
		Tools:       buildTools(req.Tools),
	}

	op := func() (provider.Response, error) {
		return a.attempt(ctx, wreq, sink)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.Retry.Backoff
	b.MaxElapsedTime = 0

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(a.Retry.MaxRateLimitRetries+1)),
		backoff.WithNotify(func(err error, d time.Duration) {}),
	)
	return resp, err
}

// attempt performs exactly one HTTP round trip and stream consumption. It
// returns a *backoff.PermanentError wrapping auth errors so the retry
// loop never retries them, and a plain error for rate-limit/transient
// classes so the backoff policy retries.
func (a *Adapter) attempt(ctx context.Context, wreq wireRequest, sink provider.DeltaSink) (provider.Response, error) {
	body, err := json.Marshal(wreq)
	if err != nil {
		return provider.Response{}, backoff.Permanent(orcherr.New(orcherr.AdapterRequest, "openai", "marshal", "failed to marshal request", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return provider.Response{}, backoff.Permanent(orcherr.New(orcherr.AdapterRequest, "openai", "build_request", "failed to build request", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.APIKey)

	resp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return provider.Response{}, orcherr.New(orcherr.AdapterRequest, "openai", "do_request", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		kind := provider.ClassifyHTTPStatus(resp.StatusCode)
		wrapped := orcherr.New(kind, "openai", "http_status", fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody)), nil)
		if kind == orcherr.Auth {
			return provider.Response{}, backoff.Permanent(wrapped)
		}
		return provider.Response{}, wrapped
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Response{}, orcherr.New(orcherr.AdapterRequest, "openai", "read_body", "mid-stream disconnect", err)
	}

	var content, reasoning string
	var haveDelta, haveMessage bool
	var msgContent string
	var msgCalls []wireCall
	acc := provider.NewToolCallAccumulator()

	scanErr := provider.ScanSSE(ctx, respBody, func(line provider.SSELine) error {
		if line.Done {
			return nil
		}
		var chunk wireStreamChunk
		if err := json.Unmarshal(line.Data, &chunk); err != nil {
			return nil // skip malformed chunk
		}
		if chunk.Error != nil {
			return orcherr.New(orcherr.AdapterRequest, "openai", "stream_error", chunk.Error.Message, nil)
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			haveDelta = true
			content += choice.Delta.Content
			if sink != nil {
				sink(provider.Delta{Kind: provider.DeltaContent, Text: choice.Delta.Content})
			}
		}
		if choice.Delta.Reasoning != "" {
			haveDelta = true
			reasoning += choice.Delta.Reasoning
			if sink != nil {
				sink(provider.Delta{Kind: provider.DeltaReasoning, Text: choice.Delta.Reasoning})
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			haveDelta = true
			acc.Add(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
		}
		// Full-message fallback is kept aside and only used when no delta
		// was observed for this stream at all (spec.md §4.7: "delta wins").
		if choice.Message != nil {
			haveMessage = true
			msgContent = choice.Message.Content
			msgCalls = choice.Message.ToolCalls
		}
		return nil
	})
	if scanErr != nil {
		return provider.Response{}, orcherr.New(orcherr.AdapterRequest, "openai", "stream_parse", "stream parse error", scanErr)
	}
	if !haveDelta && haveMessage {
		content = msgContent
		for i, tc := range msgCalls {
			acc.Add(i, tc.ID, tc.Function.Name, tc.Function.Arguments)
		}
	}

	return provider.Response{
		Content:   content,
		Reasoning: reasoning,
		ToolCalls: acc.Finalize(),
	}, nil
}

// NormalizeModelName applies the code-endpoint fallback rule
// ("upper-case GLM-* -> lower-case glm-*") to the model-name prefix. The
// codeendpoint adapter does not call it; it has its own normalizeModelName.
func NormalizeModelName(model string) string {
	if len(model) >= 4 && (model[:4] == "GLM-" || model[:4] == "Glm-") {
		return "glm-" + model[4:]
	}
	return model
}
