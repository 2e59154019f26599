// Package agent implements the bounded ReAct loop: a model call, zero-or-
// more tool calls fed back as tool-role messages, repeated until a final
// answer, the iteration cap, or a run of tool failures ends the loop.
package agent

import (
	"encoding/json"
	"fmt"

	"github.com/sheetsight/analytics-backend/internal/adapter/observability"
	"github.com/sheetsight/analytics-backend/internal/domain"
	"github.com/sheetsight/analytics-backend/internal/tools"
)

// RunOption customizes a single Run call, e.g. to observe tool invocations
// for streaming.
type RunOption func(*runConfig)

type runConfig struct {
	onToolStart func(domain.ToolCall)
	onToolDone  func(domain.ToolCallRecord)
}

// WithToolStartHook fires right before a tool call is dispatched.
func WithToolStartHook(fn func(domain.ToolCall)) RunOption {
	return func(c *runConfig) { c.onToolStart = fn }
}

// WithToolDoneHook fires right after a tool call (success or failure) is recorded.
func WithToolDoneHook(fn func(domain.ToolCallRecord)) RunOption {
	return func(c *runConfig) { c.onToolDone = fn }
}

const (
	defaultMaxIterations   = 10
	maxConsecutiveFailures = 3
	defaultTokenBudget     = 6000

	tooManyFailuresMessage = "Xin lỗi, tôi đã gặp lỗi nhiều lần liên tiếp khi truy vấn dữ liệu. Vui lòng thử lại hoặc diễn đạt câu hỏi khác."
	noFinalAnswerMessage   = "Yêu cầu của bạn cần quá nhiều bước để xử lý. Vui lòng chia nhỏ câu hỏi."
)

// Runner drives the ReAct loop over a fixed tool set.
type Runner struct {
	llm           domain.LLM
	toolset       []tools.Tool
	toolSpecs     []domain.ToolSpec
	toolByName    map[string]tools.Tool
	maxIterations int
	tokenBudget   int
	tokens        *tokenCounter
}

// New builds a Runner. maxIterations and tokenBudget default to 10 and 6000
// when <= 0.
func New(llm domain.LLM, toolset []tools.Tool, maxIterations, tokenBudget int) (*Runner, error) {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	if tokenBudget <= 0 {
		tokenBudget = defaultTokenBudget
	}
	tokens, err := newTokenCounter()
	if err != nil {
		return nil, fmt.Errorf("op=agent.New: %w", err)
	}

	specs := make([]domain.ToolSpec, 0, len(toolset))
	byName := make(map[string]tools.Tool, len(toolset))
	for _, t := range toolset {
		spec := t.Spec()
		specs = append(specs, spec)
		byName[spec.Name] = t
	}

	return &Runner{
		llm:           llm,
		toolset:       toolset,
		toolSpecs:     specs,
		toolByName:    byName,
		maxIterations: maxIterations,
		tokenBudget:   tokenBudget,
		tokens:        tokens,
	}, nil
}

// Run executes the bounded loop given a system prompt, conversation history,
// and the caller's own connections (passed through unmodified to every tool
// call so isolation holds regardless of which tool runs).
func (r *Runner) Run(ctx domain.Context, systemPrompt string, history []domain.Message, userConnections []domain.Connection, opts ...RunOption) (domain.WorkflowState, error) {
	cfg := &runConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	messages := make([]domain.Message, 0, len(history)+1)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: systemPrompt})
	messages = append(messages, history...)

	state := domain.WorkflowState{UserID: connectionsUserID(userConnections)}
	consecutiveFailures := 0

	iterations := 0
	for i := 0; i < r.maxIterations; i++ {
		iterations = i + 1
		messages = r.tokens.trimToBudget(messages, r.tokenBudget)

		if err := ctx.Err(); err != nil {
			state.ErrorText = "failed"
			observability.RecordAgentIterations(iterations)
			return state, err
		}

		result, err := r.llm.Complete(ctx, messages, r.toolSpecs)
		if err != nil {
			state.ErrorText = fmt.Sprintf("model call failed: %v", err)
			observability.RecordAgentIterations(iterations)
			return state, fmt.Errorf("op=agent.Run: %w", err)
		}

		if len(result.ToolCalls) == 0 {
			state.AssistantResponse = result.Text
			observability.RecordAgentIterations(iterations)
			return state, nil
		}

		messages = append(messages, domain.Message{
			Role:    domain.RoleAssistant,
			Content: result.Text,
			Metadata: domain.MessageMetadata{
				ToolCalls: result.ToolCalls,
			},
		})

		for _, tc := range result.ToolCalls {
			if cfg.onToolStart != nil {
				cfg.onToolStart(tc)
			}

			record := domain.ToolCallRecord{CorrelationID: tc.ID, Name: tc.Name, Args: tc.Args}

			t, ok := r.toolByName[tc.Name]
			if !ok {
				record.Err = fmt.Errorf("unknown tool %q", tc.Name)
				consecutiveFailures++
			} else {
				argsJSON, marshalErr := json.Marshal(tc.Args)
				if marshalErr != nil {
					record.Err = marshalErr
					consecutiveFailures++
				} else {
					out, callErr := t.Call(ctx, userConnections, argsJSON)
					if callErr != nil {
						record.Err = callErr
						consecutiveFailures++
					} else {
						record.Result = out
						consecutiveFailures = 0
					}
				}
			}

			outcome := "success"
			if record.Err != nil {
				outcome = "failure"
			}
			observability.RecordToolCall(tc.Name, outcome)

			state.ToolTrace = append(state.ToolTrace, record)
			messages = append(messages, toolResultMessage(record))
			if cfg.onToolDone != nil {
				cfg.onToolDone(record)
			}

			if consecutiveFailures >= maxConsecutiveFailures {
				state.AssistantResponse = tooManyFailuresMessage
				state.ErrorText = "tool_failure_limit"
				observability.RecordAgentIterations(iterations)
				return state, nil
			}
		}
	}

	state.AssistantResponse = noFinalAnswerMessage
	observability.RecordAgentIterations(iterations)
	return state, nil
}

func toolResultMessage(record domain.ToolCallRecord) domain.Message {
	content := record.Result
	if record.Err != nil {
		content = record.Err.Error()
	}
	return domain.Message{
		Role:    domain.RoleTool,
		Content: content,
		Metadata: domain.MessageMetadata{
			ToolCallCorrelationID: record.CorrelationID,
		},
	}
}

func connectionsUserID(conns []domain.Connection) string {
	if len(conns) == 0 {
		return ""
	}
	return conns[0].UserID
}
