package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

// ConversationRepo persists domain.Conversation rows.
type ConversationRepo struct{ Pool PgxPool }

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(p PgxPool) *ConversationRepo { return &ConversationRepo{Pool: p} }

func (r *ConversationRepo) Create(ctx domain.Context, c domain.Conversation) (string, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "conversations"))

	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := c.Status
	if status == "" {
		status = domain.ConversationActive
	}
	now := time.Now().UTC()
	q := `INSERT INTO conversations (id, user_id, title, status, message_count, last_message_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,0,$5,$5,$5)`
	if _, err := r.Pool.Exec(ctx, q, id, c.UserID, c.Title, status, now); err != nil {
		return "", fmt.Errorf("op=conversations.Create: %w", err)
	}
	return id, nil
}

func (r *ConversationRepo) Get(ctx domain.Context, id string) (domain.Conversation, error) {
	return r.get(ctx, id, false)
}

func (r *ConversationRepo) GetIncludeDeleted(ctx domain.Context, id string) (domain.Conversation, error) {
	return r.get(ctx, id, true)
}

func (r *ConversationRepo) get(ctx domain.Context, id string, includeDeleted bool) (domain.Conversation, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Get")
	defer span.End()

	q := `SELECT id, user_id, title, status, message_count, last_message_at, created_at, updated_at, deleted_at
		FROM conversations WHERE id = $1`
	if !includeDeleted {
		q += ` AND deleted_at IS NULL`
	}
	var c domain.Conversation
	err := r.Pool.QueryRow(ctx, q, id).Scan(
		&c.ID, &c.UserID, &c.Title, &c.Status, &c.MessageCount, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Conversation{}, fmt.Errorf("op=conversations.Get: %w", domain.ErrNotFound)
		}
		return domain.Conversation{}, fmt.Errorf("op=conversations.Get: %w", err)
	}
	return c, nil
}

func (r *ConversationRepo) Update(ctx domain.Context, c domain.Conversation) error {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Update")
	defer span.End()

	q := `UPDATE conversations SET title=$2, status=$3, updated_at=$4 WHERE id=$1 AND deleted_at IS NULL`
	tag, err := r.Pool.Exec(ctx, q, c.ID, c.Title, c.Status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=conversations.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=conversations.Update: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *ConversationRepo) SoftDelete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.SoftDelete")
	defer span.End()

	q := `UPDATE conversations SET deleted_at=$2 WHERE id=$1 AND deleted_at IS NULL`
	tag, err := r.Pool.Exec(ctx, q, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=conversations.SoftDelete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=conversations.SoftDelete: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *ConversationRepo) ListByUser(ctx domain.Context, userID string) ([]domain.Conversation, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.ListByUser")
	defer span.End()

	q := `SELECT id, user_id, title, status, message_count, last_message_at, created_at, updated_at, deleted_at
		FROM conversations WHERE user_id = $1 AND deleted_at IS NULL ORDER BY last_message_at DESC`
	rows, err := r.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("op=conversations.ListByUser: %w", err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Status, &c.MessageCount, &c.LastMessageAt,
			&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
			return nil, fmt.Errorf("op=conversations.ListByUser: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
