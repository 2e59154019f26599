// Package real implements domain.LLM against an OpenAI-compatible chat
// completions endpoint (tool calling, streaming via server-sent events).
package real

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sheetsight/analytics-backend/internal/domain"
	obs "github.com/sheetsight/analytics-backend/internal/observability"
)

// BackoffConfig supplies the retry schedule for transient chat-completion
// failures; internal/config.Config.GetLLMBackoffConfig satisfies it.
type BackoffConfig func() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64)

// Client calls a single OpenAI-compatible chat completions endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	backoffCfg BackoffConfig
}

// New builds a real client. baseURL is the provider's API root (e.g.
// "https://api.openai.com/v1"), model the chat model handle.
func New(baseURL, apiKey, model string, timeout time.Duration, backoffCfg BackoffConfig) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "llm." + r.Method + " " + r.URL.Path
		}),
	)
	return &Client{
		httpClient: &http.Client{Transport: transport},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		timeout:    timeout,
		backoffCfg: backoffCfg,
	}
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolCallFunc `json:"function"`
}

type wireToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete implements domain.LLM, retrying transient failures per backoffCfg.
func (c *Client) Complete(ctx domain.Context, messages []domain.Message, tools []domain.ToolSpec) (domain.CompletionResult, error) {
	req := chatRequest{Model: c.model, Messages: toWireMessages(messages), Tools: toWireTools(tools)}

	var result domain.CompletionResult
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.doChat(callCtx, req)
		if err != nil {
			if isPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = toCompletionResult(resp)
		return nil
	}

	bo := backoff.WithContext(c.newBackoff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return domain.CompletionResult{}, fmt.Errorf("op=llm.real.Complete: %w", err)
	}
	return result, nil
}

// Stream implements domain.LLM by opening a server-sent-events chat
// completion and forwarding each delta as it arrives.
func (c *Client) Stream(ctx domain.Context, messages []domain.Message, tools []domain.ToolSpec) (<-chan domain.StreamChunk, error) {
	req := chatRequest{Model: c.model, Messages: toWireMessages(messages), Tools: toWireTools(tools), Stream: true}

	httpResp, err := c.postChat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("op=llm.real.Stream: %w", err)
	}

	out := make(chan domain.StreamChunk)
	go func() {
		defer close(out)
		defer httpResp.Body.Close()

		var textSoFar strings.Builder
		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				out <- domain.StreamChunk{Done: true, Final: domain.CompletionResult{Text: textSoFar.String()}}
				return
			}
			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				obs.LoggerFromContext(ctx).Warn("llm: malformed stream chunk", slog.Any("error", err))
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			textSoFar.WriteString(delta)
			out <- domain.StreamChunk{TokenDelta: delta}
		}
		if err := scanner.Err(); err != nil {
			obs.LoggerFromContext(ctx).Warn("llm: stream read failed", slog.Any("error", err))
		}
	}()
	return out, nil
}

func (c *Client) newBackoff() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsed, initial, maxInterval, multiplier := c.backoffCfg()
	expo.MaxElapsedTime = maxElapsed
	expo.InitialInterval = initial
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return expo
}

func (c *Client) doChat(ctx context.Context, req chatRequest) (chatResponse, error) {
	httpResp, err := c.postChat(ctx, req)
	if err != nil {
		return chatResponse{}, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return chatResponse{}, err
	}
	if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests {
		return chatResponse{}, fmt.Errorf("chat status %d: %s", httpResp.StatusCode, string(body))
	}
	if httpResp.StatusCode >= 400 {
		return chatResponse{}, backoff.Permanent(fmt.Errorf("chat status %d: %s", httpResp.StatusCode, string(body)))
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return chatResponse{}, backoff.Permanent(fmt.Errorf("decode chat response: %w", err))
	}
	return resp, nil
}

func (c *Client) postChat(ctx context.Context, req chatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("encode chat request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

func toWireMessages(messages []domain.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == domain.RoleTool {
			wm.ToolCallID = m.Metadata.ToolCallCorrelationID
		}
		for _, tc := range m.Metadata.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Args)
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireToolCallFunc{
					Name:      tc.Name,
					Arguments: string(argsJSON),
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(tools []domain.ToolSpec) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{
			Type: "function",
			Function: wireToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		})
	}
	return out
}

func toCompletionResult(resp chatResponse) domain.CompletionResult {
	result := domain.CompletionResult{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) == 0 {
		return result
	}
	choice := resp.Choices[0]
	result.Text = choice.Message.Content
	result.FinishReason = choice.FinishReason
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		result.ToolCalls = append(result.ToolCalls, domain.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return result
}
