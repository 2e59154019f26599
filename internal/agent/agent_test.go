package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetsight/analytics-backend/internal/domain"
	"github.com/sheetsight/analytics-backend/internal/tools"
)

type scriptedLLM struct {
	turns []domain.CompletionResult
	calls int
}

func (l *scriptedLLM) Complete(context.Context, []domain.Message, []domain.ToolSpec) (domain.CompletionResult, error) {
	if l.calls >= len(l.turns) {
		return domain.CompletionResult{Text: "done"}, nil
	}
	r := l.turns[l.calls]
	l.calls++
	return r, nil
}

func (l *scriptedLLM) Stream(context.Context, []domain.Message, []domain.ToolSpec) (<-chan domain.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

type fakeTool struct {
	name   string
	result string
	err    error
	calls  int
}

func (f *fakeTool) Spec() domain.ToolSpec {
	return domain.ToolSpec{Name: f.name, Description: "test tool"}
}

func (f *fakeTool) Call(context.Context, []domain.Connection, json.RawMessage) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

var _ tools.Tool = (*fakeTool)(nil)

func TestRunner_FinalAnswerWithNoToolCalls(t *testing.T) {
	llm := &scriptedLLM{turns: []domain.CompletionResult{{Text: "xin chào"}}}
	r, err := New(llm, nil, 10, 0)
	require.NoError(t, err)

	state, err := r.Run(context.Background(), "system", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "xin chào", state.AssistantResponse)
	assert.Empty(t, state.ToolTrace)
}

func TestRunner_ExecutesToolThenReturnsFinalAnswer(t *testing.T) {
	tool := &fakeTool{name: "schema", result: `{"fields":[]}`}
	llm := &scriptedLLM{turns: []domain.CompletionResult{
		{ToolCalls: []domain.ToolCall{{ID: "1", Name: "schema", Args: map[string]any{}}}},
		{Text: "kết quả"},
	}}
	r, err := New(llm, []tools.Tool{tool}, 10, 0)
	require.NoError(t, err)

	state, err := r.Run(context.Background(), "system", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "kết quả", state.AssistantResponse)
	require.Len(t, state.ToolTrace, 1)
	assert.Equal(t, `{"fields":[]}`, state.ToolTrace[0].Result)
	assert.Equal(t, 1, tool.calls)
}

func TestRunner_AbortsAfterThreeConsecutiveToolFailures(t *testing.T) {
	tool := &fakeTool{name: "aggregate", err: errors.New("boom")}
	turns := make([]domain.CompletionResult, 0)
	for i := 0; i < 5; i++ {
		turns = append(turns, domain.CompletionResult{
			ToolCalls: []domain.ToolCall{{ID: "1", Name: "aggregate", Args: map[string]any{}}},
		})
	}
	llm := &scriptedLLM{turns: turns}
	r, err := New(llm, []tools.Tool{tool}, 10, 0)
	require.NoError(t, err)

	state, err := r.Run(context.Background(), "system", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, tool.calls)
	assert.Contains(t, state.AssistantResponse, "Xin lỗi")
	assert.Equal(t, "tool_failure_limit", state.ErrorText)
}

func TestRunner_StopsAtIterationCap(t *testing.T) {
	tool := &fakeTool{name: "schema", result: "ok"}
	turns := make([]domain.CompletionResult, 0)
	for i := 0; i < 20; i++ {
		turns = append(turns, domain.CompletionResult{
			ToolCalls: []domain.ToolCall{{ID: "1", Name: "schema", Args: map[string]any{}}},
		})
	}
	llm := &scriptedLLM{turns: turns}
	r, err := New(llm, []tools.Tool{tool}, 3, 0)
	require.NoError(t, err)

	state, err := r.Run(context.Background(), "system", nil, nil)
	require.NoError(t, err)
	assert.Contains(t, state.AssistantResponse, "quá nhiều bước")
	assert.Equal(t, 3, tool.calls)
}

func TestRunner_UnknownToolRecordsFailure(t *testing.T) {
	llm := &scriptedLLM{turns: []domain.CompletionResult{
		{ToolCalls: []domain.ToolCall{{ID: "1", Name: "nonexistent", Args: map[string]any{}}}},
		{Text: "fallback"},
	}}
	r, err := New(llm, nil, 10, 0)
	require.NoError(t, err)

	state, err := r.Run(context.Background(), "system", nil, nil)
	require.NoError(t, err)
	require.Len(t, state.ToolTrace, 1)
	require.Error(t, state.ToolTrace[0].Err)
	assert.Contains(t, state.ToolTrace[0].Err.Error(), "unknown tool")
}
