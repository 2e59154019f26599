package domain

import (
	"context"
	"time"
)

// Context is a type alias to stdlib context.Context so domain ports read as pure
// interfaces without importing adapter-level concerns.
type Context = context.Context

// DataType enumerates the coercion target for a column mapping.
type DataType string

// Column mapping data types.
const (
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeInteger DataType = "integer"
	DataTypeDate    DataType = "date"
)

// ColumnMapping binds a system field to a sheet column and its coercion rule.
//
//go:generate mockery --name=ConnectionRepo --with-expecter --filename=connection_repo_mock.go
//go:generate mockery --name=SyncStateRepo --with-expecter --filename=syncstate_repo_mock.go
//go:generate mockery --name=SheetRowRepo --with-expecter --filename=sheetrow_repo_mock.go
//go:generate mockery --name=ConversationRepo --with-expecter --filename=conversation_repo_mock.go
//go:generate mockery --name=MessageRepo --with-expecter --filename=message_repo_mock.go
//go:generate mockery --name=Queue --with-expecter --filename=queue_mock.go
//go:generate mockery --name=Cache --with-expecter --filename=cache_mock.go
//go:generate mockery --name=SheetClient --with-expecter --filename=sheetclient_mock.go
//go:generate mockery --name=LLM --with-expecter --filename=llm_mock.go
//go:generate mockery --name=Notifier --with-expecter --filename=notifier_mock.go
type ColumnMapping struct {
	// SystemField is the canonical document key this column maps to.
	SystemField string
	// SheetColumn is either a column letter ("A", "AA", ...) or a header-name string.
	SheetColumn string
	// DataType is the coercion target applied to every cell under this mapping.
	DataType DataType
	// Required fails the whole sync when the column cannot be resolved.
	Required bool
}

// Connection is a user's binding to one external sheet tab.
type Connection struct {
	ID           string
	UserID       string
	SheetID      string
	TabName      string
	Mappings     []ColumnMapping
	HeaderRow    int
	DataStartRow int
	SyncEnabled  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// IsDeleted reports whether the connection has been soft-deleted.
func (c Connection) IsDeleted() bool { return c.DeletedAt != nil }

// SheetType classifies a connection by its tab name for analytics strategy selection.
type SheetType string

// Known sheet types; any other tab name defaults to SheetTypeOrders.
const (
	SheetTypeOrders     SheetType = "orders"
	SheetTypeOrderItems SheetType = "order_items"
	SheetTypeCustomers  SheetType = "customers"
	SheetTypeProducts   SheetType = "products"
)

// SyncStatus enumerates the lifecycle of a connection's sync-state.
type SyncStatus string

// Sync-state statuses.
const (
	SyncPending SyncStatus = "pending"
	SyncSyncing SyncStatus = "syncing"
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
)

// SyncState is the per-connection singleton progress cursor.
type SyncState struct {
	ConnectionID    string
	LastSyncedRow   int
	LastSyncTime    time.Time
	Status          SyncStatus
	LastErrorText   string
	TotalRowsSynced int64
}

// SheetRow is one persisted row identified by (connection, row_number).
type SheetRow struct {
	ConnectionID string
	RowNumber    int
	Document     map[string]any
	RawRow       []string
	SyncedAt     time.Time
}

// ConversationStatus enumerates a conversation's lifecycle.
type ConversationStatus string

// Conversation statuses.
const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
)

// Conversation owns its messages.
type Conversation struct {
	ID            string
	UserID        string
	Title         string
	Status        ConversationStatus
	MessageCount  int
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// IsDeleted reports whether the conversation has been soft-deleted.
func (c Conversation) IsDeleted() bool { return c.DeletedAt != nil }

// MessageRole enumerates who produced a message.
type MessageRole string

// Message roles.
const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// ToolCall is a single model-requested tool invocation.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// MessageMetadata carries model/telemetry details alongside a message.
type MessageMetadata struct {
	ModelName             string
	PromptTokens           int
	CompletionTokens       int
	LatencyMS              int64
	ToolCalls              []ToolCall
	ToolCallCorrelationID  string
}

// Message is one turn in a conversation.
type Message struct {
	ID          string
	ConvID      string
	Role        MessageRole
	Content     string
	Attachments []string
	Metadata    MessageMetadata
	IsComplete  bool
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// IsDeleted reports whether the message has been soft-deleted.
func (m Message) IsDeleted() bool { return m.DeletedAt != nil }

// SyncTask is the transient queue payload driving one crawler attempt.
type SyncTask struct {
	ConnectionID string
	UserID       string
	QueuedAt     time.Time
	RetryCount   int
}

// Intent is the classified purpose of a chat request.
type Intent string

// Recognized chat intents; any other model output is coerced to IntentUnclear.
const (
	IntentDataQuery Intent = "data_query"
	IntentChat      Intent = "chat"
	IntentUnclear   Intent = "unclear"
)

// WorkflowState threads through the chat graph for a single request.
type WorkflowState struct {
	Messages          []Message
	UserID            string
	Connection        *Connection
	Intent            Intent
	ToolTrace         []ToolCallRecord
	AssistantResponse string
	FormattedResponse string
	ErrorText         string
}

// ToolCallRecord is one entry in a request's tool-call trace, used for streaming.
type ToolCallRecord struct {
	CorrelationID string
	Name          string
	Args          map[string]any
	Result        string
	Err           error
}

// Repositories (ports)

// ConnectionRepo manages Connection persistence.
type ConnectionRepo interface {
	Create(ctx Context, c Connection) (string, error)
	Get(ctx Context, id string) (Connection, error)
	Update(ctx Context, c Connection) error
	Delete(ctx Context, id string) error
	ListByUser(ctx Context, userID string) ([]Connection, error)
	ListEnabled(ctx Context) ([]Connection, error)
}

// SyncStateRepo manages the per-connection sync-state singleton.
type SyncStateRepo interface {
	Get(ctx Context, connectionID string) (SyncState, error)
	Upsert(ctx Context, s SyncState) error
}

// SheetRowRepo manages persisted sheet rows.
type SheetRowRepo interface {
	Upsert(ctx Context, row SheetRow) error
	Find(ctx Context, connectionID string, f RowFilter) ([]SheetRow, int64, error)
	Aggregate(ctx Context, connectionID string, stages []Stage) ([]map[string]any, error)
}

// RowFilter captures the paginated/sortable/searchable query shape used by the
// data endpoint.
type RowFilter struct {
	Search       string
	SearchFields []string
	SortField    string
	SortDesc     bool
	DateField    string
	DateFrom     *time.Time
	DateTo       *time.Time
	Page         int
	PageSize     int
}

// ConversationRepo manages Conversation persistence.
type ConversationRepo interface {
	Create(ctx Context, c Conversation) (string, error)
	Get(ctx Context, id string) (Conversation, error)
	GetIncludeDeleted(ctx Context, id string) (Conversation, error)
	Update(ctx Context, c Conversation) error
	SoftDelete(ctx Context, id string) error
	ListByUser(ctx Context, userID string) ([]Conversation, error)
}

// MessageRepo manages Message persistence.
type MessageRepo interface {
	// Append inserts a message and atomically updates the owning conversation's
	// message_count/last_message_at/title (first-message auto-title).
	Append(ctx Context, m Message) (string, error)
	Get(ctx Context, id string) (Message, error)
	GetIncludeDeleted(ctx Context, id string) (Message, error)
	SoftDelete(ctx Context, id string) error
	ListByConversation(ctx Context, convID string) ([]Message, error)
	MarkComplete(ctx Context, id string) error
}

// Queue (port)

// Queue enqueues sync tasks for asynchronous processing.
type Queue interface {
	EnqueueSync(ctx Context, task SyncTask) (string, error)
}

// Cache (port)

// Cache abstracts the key/value + pub/sub collaborator used by the analytics cache
// and the crawler's cache invalidation. The notifier publishes through its own
// Redis client, not through this port.
type Cache interface {
	Get(ctx Context, key string) (string, bool, error)
	SetEX(ctx Context, key string, ttlSeconds int, value string) error
	Keys(ctx Context, pattern string) ([]string, error)
	Delete(ctx Context, keys ...string) error
	Publish(ctx Context, channel string, payload string) error
	Subscribe(ctx Context, channel string) (<-chan string, func(), error)
}

// SheetClient (port)

// SheetClient abstracts the source-sheet collaborator.
type SheetClient interface {
	GetMetadata(ctx Context, sheetID string) (SheetMetadata, error)
	GetValues(ctx Context, sheetID, tab string, startRow int) ([][]string, error)
	CheckAccess(ctx Context, sheetID string) (bool, error)
}

// SheetMetadata is the sheet-level info needed to resolve header columns.
type SheetMetadata struct {
	Title string
	Tabs  []string
}

// LLM (port)

// ToolSpec describes one tool exposed to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// CompletionResult is the model's response to a single turn.
type CompletionResult struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	PromptTokens int
	CompletionTokens int
}

// StreamChunk is one increment of a streamed completion.
type StreamChunk struct {
	TokenDelta    string
	ToolCallDelta *ToolCall
	Done          bool
	Final         CompletionResult
}

// LLM abstracts the model provider.
type LLM interface {
	Complete(ctx Context, messages []Message, tools []ToolSpec) (CompletionResult, error)
	Stream(ctx Context, messages []Message, tools []ToolSpec) (<-chan StreamChunk, error)
}

// Notifier (port)

// Notifier is the single cross-process notification capability, backed by either a
// writer-only or full handle depending on the process.
type Notifier interface {
	EmitToUser(ctx Context, userID, event string, payload map[string]any) error
	EmitToRoom(ctx Context, room, event string, payload map[string]any) error
	Broadcast(ctx Context, event string, payload map[string]any) error
}

// Event names, bit-exact for client compatibility.
const (
	EventSyncStarted   = "sheet:sync:started"
	EventSyncCompleted = "sheet:sync:completed"
	EventSyncFailed    = "sheet:sync:failed"

	EventMessageStarted   = "chat:message:started"
	EventMessageToken     = "chat:message:token"
	EventMessageToolStart = "chat:message:tool_start"
	EventMessageToolEnd   = "chat:message:tool_end"
	EventMessageCompleted = "chat:message:completed"
	EventMessageFailed    = "chat:message:failed"
)

// UserRoom returns the broker room a given user's events are published to.
func UserRoom(userID string) string { return "user:" + userID }

// Stage is one aggregation-pipeline stage, keyed by its top-level operator
// ("match", "group", "sort", "limit", "project", "lookup", "unwind", "count", ...).
type Stage map[string]any
