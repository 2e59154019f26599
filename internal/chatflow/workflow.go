// Package chatflow implements the chat request state machine: classify
// intent, branch to the matching node, format the response, persist it, and
// stream lifecycle events — an explicit switch-driven state machine rather
// than a graph-library DAG, so every transition is a plain Go function call.
package chatflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sheetsight/analytics-backend/internal/adapter/observability"
	"github.com/sheetsight/analytics-backend/internal/agent"
	"github.com/sheetsight/analytics-backend/internal/domain"
	obs "github.com/sheetsight/analytics-backend/internal/observability"
	"github.com/sheetsight/analytics-backend/internal/tools"
)

// modelTimeout bounds every single-shot model call in this package
// (classify/chat/clarify), independent of the overall request deadline.
const modelTimeout = 30 * time.Second

const (
	classifierSystemPrompt = "Bạn là bộ phân loại ý định cho một trợ lý dữ liệu bán hàng. " +
		"Chỉ trả lời chính xác một trong ba từ: data_query, chat, unclear."
	chatSystemPrompt = "Bạn là trợ lý trò chuyện thân thiện cho người bán hàng trên các sàn " +
		"thương mại điện tử. Trả lời ngắn gọn bằng tiếng Việt."
	clarifySystemPrompt = "Yêu cầu của người dùng chưa rõ ràng. Hãy hỏi lại để làm rõ, kèm " +
		"ví dụ cụ thể, bằng tiếng Việt."
	dataAgentSystemPromptTemplate = "Bạn là trợ lý phân tích dữ liệu bán hàng. Các kết nối dữ " +
		"liệu hiện có của người dùng này: %s. Luôn dùng công cụ để truy vấn dữ liệu thật " +
		"trước khi trả lời, không tự suy đoán số liệu. Trả lời bằng tiếng Việt."
)

// state names the chat graph's explicit states, used only for logging —
// transitions are ordinary Go control flow, not a runtime dispatch table.
type state string

const (
	stateClassifying  state = "classifying"
	stateChatting     state = "chatting"
	stateClarifying   state = "clarifying"
	stateAgentRunning state = "agent_running"
	stateFormatting   state = "formatting"
	stateStreaming    state = "streaming"
	stateDone         state = "done"
	stateFailed       state = "failed"
)

// Workflow drives one chat request through intent_classifier →
// {chat, data_agent, clarify} → response_formatter → end.
type Workflow struct {
	conversations domain.ConversationRepo
	messages      domain.MessageRepo
	connections   domain.ConnectionRepo
	llm           domain.LLM
	dataAgent     *agent.Runner
	notifier      domain.Notifier
}

// New builds a Workflow, constructing its own internal ReAct agent over the
// five data-query tools.
func New(
	conversations domain.ConversationRepo,
	messages domain.MessageRepo,
	connections domain.ConnectionRepo,
	llm domain.LLM,
	rows domain.SheetRowRepo,
	notifier domain.Notifier,
	maxIterations, tokenBudget int,
) (*Workflow, error) {
	runner, err := agent.New(llm, tools.All(rows), maxIterations, tokenBudget)
	if err != nil {
		return nil, fmt.Errorf("op=chatflow.New: %w", err)
	}
	return &Workflow{
		conversations: conversations,
		messages:      messages,
		connections:   connections,
		llm:           llm,
		dataAgent:     runner,
		notifier:      notifier,
	}, nil
}

// Handle runs the full state machine for one inbound user message and
// returns the final workflow state. The caller's ctx deadline bounds the
// whole request; a cancellation mid-flight discards the partial trace and
// emits message:failed rather than message:completed.
func (w *Workflow) Handle(ctx context.Context, conversationID, userID, userText string) (domain.WorkflowState, error) {
	lg := obs.LoggerFromContext(ctx).With(slog.String("component", "chat"), slog.String("conversation_id", conversationID))

	cur := domain.WorkflowState{UserID: userID}
	st := stateClassifying

	w.emit(ctx, userID, domain.EventMessageStarted, map[string]any{"conversation_id": conversationID})
	observability.RecordChatEvent(domain.EventMessageStarted)

	if _, err := w.messages.Append(ctx, domain.Message{
		ConvID: conversationID, Role: domain.RoleUser, Content: userText, IsComplete: true,
	}); err != nil {
		return w.failState(ctx, st, cur, userID, fmt.Errorf("op=chatflow.Handle: %w", err))
	}

	history, err := w.history(ctx, conversationID)
	if err != nil {
		return w.failState(ctx, st, cur, userID, fmt.Errorf("op=chatflow.Handle: %w", err))
	}
	cur.Messages = history

	intent, err := w.classify(ctx, userText)
	if err != nil {
		return w.failState(ctx, st, cur, userID, fmt.Errorf("op=chatflow.Handle: %w", err))
	}
	cur.Intent = intent
	lg.Info("chat intent classified", slog.String("intent", string(intent)))

	var branchErr error
	switch intent {
	case domain.IntentDataQuery:
		st = stateAgentRunning
		cur, branchErr = w.runDataAgent(ctx, conversationID, userID, history)
	case domain.IntentChat:
		st = stateChatting
		cur, branchErr = w.runSingleTurn(ctx, chatSystemPrompt, history, userID)
	default:
		st = stateClarifying
		cur, branchErr = w.runSingleTurn(ctx, clarifySystemPrompt, history, userID)
	}
	if branchErr != nil {
		return w.failState(ctx, st, cur, userID, fmt.Errorf("op=chatflow.Handle: %w", branchErr))
	}

	st = stateFormatting
	cur.FormattedResponse = FormatResponse(cur.AssistantResponse)

	st = stateStreaming
	msgID, err := w.messages.Append(ctx, domain.Message{
		ConvID: conversationID, Role: domain.RoleAssistant, Content: cur.FormattedResponse, IsComplete: true,
	})
	if err != nil {
		return w.failState(ctx, st, cur, userID, fmt.Errorf("op=chatflow.Handle: %w", err))
	}

	w.emit(ctx, userID, domain.EventMessageCompleted, map[string]any{
		"conversation_id": conversationID,
		"message_id":      msgID,
		"text":            cur.FormattedResponse,
	})
	observability.RecordChatEvent(domain.EventMessageCompleted)

	st = stateDone
	_ = st
	return cur, nil
}

func (w *Workflow) failState(ctx context.Context, st state, cur domain.WorkflowState, userID string, err error) (domain.WorkflowState, error) {
	cur.ErrorText = err.Error()
	w.emit(ctx, userID, domain.EventMessageFailed, map[string]any{"error": cur.ErrorText, "state": string(st)})
	observability.RecordChatEvent(domain.EventMessageFailed)
	return cur, err
}

// classify runs the single-LLM-call intent_classifier node, coercing any
// output other than the two known intents to IntentUnclear.
func (w *Workflow) classify(ctx context.Context, userText string) (domain.Intent, error) {
	cctx, cancel := context.WithTimeout(ctx, modelTimeout)
	defer cancel()

	result, err := w.llm.Complete(cctx, []domain.Message{
		{Role: domain.RoleSystem, Content: classifierSystemPrompt},
		{Role: domain.RoleUser, Content: userText},
	}, nil)
	if err != nil {
		return domain.IntentUnclear, fmt.Errorf("op=chatflow.classify: %w", err)
	}

	switch strings.TrimSpace(strings.ToLower(result.Text)) {
	case string(domain.IntentDataQuery):
		return domain.IntentDataQuery, nil
	case string(domain.IntentChat):
		return domain.IntentChat, nil
	default:
		return domain.IntentUnclear, nil
	}
}

// runSingleTurn implements the chat and clarify nodes: one model call, no
// tools, just a system prompt plus the conversation history so far.
func (w *Workflow) runSingleTurn(ctx context.Context, systemPrompt string, history []domain.Message, userID string) (domain.WorkflowState, error) {
	cctx, cancel := context.WithTimeout(ctx, modelTimeout)
	defer cancel()

	messages := make([]domain.Message, 0, len(history)+1)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: systemPrompt})
	messages = append(messages, history...)

	state := domain.WorkflowState{UserID: userID}
	result, err := w.llm.Complete(cctx, messages, nil)
	if err != nil {
		return state, fmt.Errorf("op=chatflow.runSingleTurn: %w", err)
	}
	state.AssistantResponse = result.Text
	return state, nil
}

// runDataAgent implements the data_agent node: the caller's own connections
// are loaded and handed to the bounded ReAct loop, with each tool call
// streamed as a tool_start/tool_end event pair as it happens.
func (w *Workflow) runDataAgent(ctx context.Context, conversationID, userID string, history []domain.Message) (domain.WorkflowState, error) {
	conns, err := w.connections.ListByUser(ctx, userID)
	if err != nil {
		return domain.WorkflowState{UserID: userID}, fmt.Errorf("op=chatflow.runDataAgent: %w", err)
	}

	systemPrompt := fmt.Sprintf(dataAgentSystemPromptTemplate, connectionNames(conns))

	state, err := w.dataAgent.Run(ctx, systemPrompt, history, conns,
		agent.WithToolStartHook(func(tc domain.ToolCall) {
			w.emit(ctx, userID, domain.EventMessageToolStart, map[string]any{
				"conversation_id": conversationID, "tool": tc.Name, "correlation_id": tc.ID,
			})
			observability.RecordChatEvent(domain.EventMessageToolStart)
		}),
		agent.WithToolDoneHook(func(rec domain.ToolCallRecord) {
			payload := map[string]any{
				"conversation_id": conversationID, "tool": rec.Name, "correlation_id": rec.CorrelationID,
			}
			if rec.Err != nil {
				payload["error"] = rec.Err.Error()
			}
			w.emit(ctx, userID, domain.EventMessageToolEnd, payload)
			observability.RecordChatEvent(domain.EventMessageToolEnd)
		}),
	)
	if err != nil {
		return state, fmt.Errorf("op=chatflow.runDataAgent: %w", err)
	}
	return state, nil
}

func (w *Workflow) history(ctx context.Context, conversationID string) ([]domain.Message, error) {
	msgs, err := w.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("op=chatflow.history: %w", err)
	}
	return msgs, nil
}

func (w *Workflow) emit(ctx context.Context, userID, event string, payload map[string]any) {
	if w.notifier == nil {
		return
	}
	_ = w.notifier.EmitToUser(ctx, userID, event, payload)
}

func connectionNames(conns []domain.Connection) string {
	names := make([]string, 0, len(conns))
	for _, c := range conns {
		names = append(names, c.TabName)
	}
	return strings.Join(names, ", ")
}
