package postgres

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

// autoTitleMaxRunes bounds the conversation title derived from a
// conversation's first user message.
const autoTitleMaxRunes = 60

// MessageRepo persists domain.Message rows.
type MessageRepo struct{ Pool PgxPool }

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(p PgxPool) *MessageRepo { return &MessageRepo{Pool: p} }

// Append inserts a message and, in the same transaction, bumps the owning
// conversation's message_count/last_message_at, setting its title from this
// message's content when it is the conversation's first message.
func (r *MessageRepo) Append(ctx domain.Context, m domain.Message) (string, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.Append")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "messages"))

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return "", fmt.Errorf("op=messages.Append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := m.ID
	if id == "" {
		id = uuid.New().String()
	}
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return "", fmt.Errorf("op=messages.Append: %w", err)
	}
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return "", fmt.Errorf("op=messages.Append: %w", err)
	}
	now := time.Now().UTC()

	insertQ := `INSERT INTO messages (id, conv_id, role, content, attachments, metadata, is_complete, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if _, err := tx.Exec(ctx, insertQ, id, m.ConvID, m.Role, m.Content, attachments, metadata, m.IsComplete, now); err != nil {
		return "", fmt.Errorf("op=messages.Append: %w", err)
	}

	var messageCount int
	if err := tx.QueryRow(ctx, `SELECT message_count FROM conversations WHERE id = $1 FOR UPDATE`, m.ConvID).Scan(&messageCount); err != nil {
		if err == pgx.ErrNoRows {
			return "", fmt.Errorf("op=messages.Append: %w", domain.ErrNotFound)
		}
		return "", fmt.Errorf("op=messages.Append: %w", err)
	}

	updateQ := `UPDATE conversations SET message_count = message_count + 1, last_message_at = $2, updated_at = $2 WHERE id = $1`
	args := []any{m.ConvID, now}
	if messageCount == 0 && m.Role == domain.RoleUser {
		updateQ = `UPDATE conversations SET message_count = message_count + 1, last_message_at = $2, updated_at = $2, title = $3 WHERE id = $1`
		args = append(args, autoTitle(m.Content))
	}
	if _, err := tx.Exec(ctx, updateQ, args...); err != nil {
		return "", fmt.Errorf("op=messages.Append: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("op=messages.Append: %w", err)
	}
	return id, nil
}

func (r *MessageRepo) Get(ctx domain.Context, id string) (domain.Message, error) {
	return r.get(ctx, id, false)
}

func (r *MessageRepo) GetIncludeDeleted(ctx domain.Context, id string) (domain.Message, error) {
	return r.get(ctx, id, true)
}

func (r *MessageRepo) get(ctx domain.Context, id string, includeDeleted bool) (domain.Message, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.Get")
	defer span.End()

	q := `SELECT id, conv_id, role, content, attachments, metadata, is_complete, created_at, deleted_at
		FROM messages WHERE id = $1`
	if !includeDeleted {
		q += ` AND deleted_at IS NULL`
	}
	return scanMessage(r.Pool.QueryRow(ctx, q, id))
}

func (r *MessageRepo) SoftDelete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.SoftDelete")
	defer span.End()

	q := `UPDATE messages SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.Pool.Exec(ctx, q, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=messages.SoftDelete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=messages.SoftDelete: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *MessageRepo) ListByConversation(ctx domain.Context, convID string) ([]domain.Message, error) {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.ListByConversation")
	defer span.End()

	q := `SELECT id, conv_id, role, content, attachments, metadata, is_complete, created_at, deleted_at
		FROM messages WHERE conv_id = $1 AND deleted_at IS NULL ORDER BY created_at`
	rows, err := r.Pool.Query(ctx, q, convID)
	if err != nil {
		return nil, fmt.Errorf("op=messages.ListByConversation: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MessageRepo) MarkComplete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.messages")
	ctx, span := tracer.Start(ctx, "messages.MarkComplete")
	defer span.End()

	q := `UPDATE messages SET is_complete = true WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.Pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("op=messages.MarkComplete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=messages.MarkComplete: %w", domain.ErrNotFound)
	}
	return nil
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	var attachments, metadata []byte
	if err := row.Scan(&m.ID, &m.ConvID, &m.Role, &m.Content, &attachments, &metadata, &m.IsComplete, &m.CreatedAt, &m.DeletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Message{}, fmt.Errorf("op=messages.scan: %w", domain.ErrNotFound)
		}
		return domain.Message{}, fmt.Errorf("op=messages.scan: %w", err)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return domain.Message{}, fmt.Errorf("op=messages.scan: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return domain.Message{}, fmt.Errorf("op=messages.scan: %w", err)
		}
	}
	return m, nil
}

// autoTitle derives a conversation title from its first user message,
// truncated to a readable length.
func autoTitle(content string) string {
	runes := []rune(content)
	if utf8.RuneCountInString(content) <= autoTitleMaxRunes {
		return content
	}
	return string(runes[:autoTitleMaxRunes]) + "…"
}
