// Package stub provides a deterministic domain.LLM implementation used in
// dev and test environments where no model provider credentials are
// configured.
package stub

import (
	"context"
	"fmt"
	"strings"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

// Client answers every completion from fixed rules over the last user
// message, with no network calls and no randomness.
type Client struct{}

// New builds a stub client.
func New() *Client { return &Client{} }

// Complete implements domain.LLM. When tools are offered and the last user
// message looks like a data question, it requests the first tool with an
// empty argument object; otherwise it returns a canned Vietnamese reply.
func (c *Client) Complete(_ context.Context, messages []domain.Message, tools []domain.ToolSpec) (domain.CompletionResult, error) {
	last := lastUserText(messages)
	system := systemPrompt(messages)

	// The classifier system prompt asks for exactly one bare intent label;
	// every other system prompt expects a human-facing reply.
	if strings.Contains(system, "bộ phân loại ý định") {
		switch {
		case looksLikeDataQuery(last):
			return domain.CompletionResult{Text: "data_query", FinishReason: "stop"}, nil
		case containsAny(last, "xin chào", "chào", "cảm ơn"):
			return domain.CompletionResult{Text: "chat", FinishReason: "stop"}, nil
		case last == "":
			return domain.CompletionResult{Text: "unclear", FinishReason: "stop"}, nil
		default:
			return domain.CompletionResult{Text: "chat", FinishReason: "stop"}, nil
		}
	}

	if len(tools) > 0 && looksLikeDataQuery(last) && !alreadyCalledTool(messages) {
		return domain.CompletionResult{
			ToolCalls: []domain.ToolCall{{
				ID:   "stub-call-1",
				Name: tools[0].Name,
				Args: map[string]any{},
			}},
			FinishReason: "tool_calls",
		}, nil
	}

	return domain.CompletionResult{
		Text:         fmt.Sprintf("Đây là phản hồi mẫu cho: %s", last),
		FinishReason: "stop",
	}, nil
}

func systemPrompt(messages []domain.Message) string {
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			return m.Content
		}
	}
	return ""
}

// Stream implements domain.LLM by emitting the non-streamed Complete result
// as a single terminal chunk.
func (c *Client) Stream(ctx context.Context, messages []domain.Message, tools []domain.ToolSpec) (<-chan domain.StreamChunk, error) {
	result, err := c.Complete(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	ch := make(chan domain.StreamChunk, 1)
	ch <- domain.StreamChunk{TokenDelta: result.Text, Done: true, Final: result}
	close(ch)
	return ch, nil
}

func lastUserText(messages []domain.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			return strings.ToLower(strings.TrimSpace(messages[i].Content))
		}
	}
	return ""
}

func alreadyCalledTool(messages []domain.Message) bool {
	for _, m := range messages {
		if m.Role == domain.RoleTool {
			return true
		}
	}
	return false
}

func looksLikeDataQuery(text string) bool {
	return containsAny(text, "doanh thu", "đơn hàng", "sản phẩm", "tồn kho")
}

func containsAny(text string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
