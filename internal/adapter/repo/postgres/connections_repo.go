package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

// ConnectionRepo persists domain.Connection rows.
type ConnectionRepo struct{ Pool PgxPool }

// NewConnectionRepo constructs a ConnectionRepo.
func NewConnectionRepo(p PgxPool) *ConnectionRepo { return &ConnectionRepo{Pool: p} }

func (r *ConnectionRepo) Create(ctx domain.Context, c domain.Connection) (string, error) {
	tracer := otel.Tracer("repo.connections")
	ctx, span := tracer.Start(ctx, "connections.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "connections"))

	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	mappings, err := json.Marshal(c.Mappings)
	if err != nil {
		return "", fmt.Errorf("op=connections.Create: %w", err)
	}
	now := time.Now().UTC()
	q := `INSERT INTO connections
		(id, user_id, sheet_id, tab_name, mappings, header_row, data_start_row, sync_enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`
	if _, err := r.Pool.Exec(ctx, q, id, c.UserID, c.SheetID, c.TabName, mappings, c.HeaderRow, c.DataStartRow, c.SyncEnabled, now); err != nil {
		return "", fmt.Errorf("op=connections.Create: %w", err)
	}
	return id, nil
}

func (r *ConnectionRepo) Get(ctx domain.Context, id string) (domain.Connection, error) {
	tracer := otel.Tracer("repo.connections")
	ctx, span := tracer.Start(ctx, "connections.Get")
	defer span.End()

	q := `SELECT id, user_id, sheet_id, tab_name, mappings, header_row, data_start_row, sync_enabled, created_at, updated_at, deleted_at
		FROM connections WHERE id = $1 AND deleted_at IS NULL`
	return scanConnection(r.Pool.QueryRow(ctx, q, id))
}

func (r *ConnectionRepo) Update(ctx domain.Context, c domain.Connection) error {
	tracer := otel.Tracer("repo.connections")
	ctx, span := tracer.Start(ctx, "connections.Update")
	defer span.End()

	mappings, err := json.Marshal(c.Mappings)
	if err != nil {
		return fmt.Errorf("op=connections.Update: %w", err)
	}
	q := `UPDATE connections SET sheet_id=$2, tab_name=$3, mappings=$4, header_row=$5, data_start_row=$6,
		sync_enabled=$7, updated_at=$8 WHERE id=$1 AND deleted_at IS NULL`
	tag, err := r.Pool.Exec(ctx, q, c.ID, c.SheetID, c.TabName, mappings, c.HeaderRow, c.DataStartRow, c.SyncEnabled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=connections.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=connections.Update: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *ConnectionRepo) Delete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.connections")
	ctx, span := tracer.Start(ctx, "connections.Delete")
	defer span.End()

	q := `UPDATE connections SET deleted_at=$2 WHERE id=$1 AND deleted_at IS NULL`
	tag, err := r.Pool.Exec(ctx, q, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=connections.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=connections.Delete: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *ConnectionRepo) ListByUser(ctx domain.Context, userID string) ([]domain.Connection, error) {
	tracer := otel.Tracer("repo.connections")
	ctx, span := tracer.Start(ctx, "connections.ListByUser")
	defer span.End()

	q := `SELECT id, user_id, sheet_id, tab_name, mappings, header_row, data_start_row, sync_enabled, created_at, updated_at, deleted_at
		FROM connections WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at`
	rows, err := r.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("op=connections.ListByUser: %w", err)
	}
	defer rows.Close()
	return scanConnections(rows)
}

func (r *ConnectionRepo) ListEnabled(ctx domain.Context) ([]domain.Connection, error) {
	tracer := otel.Tracer("repo.connections")
	ctx, span := tracer.Start(ctx, "connections.ListEnabled")
	defer span.End()

	q := `SELECT id, user_id, sheet_id, tab_name, mappings, header_row, data_start_row, sync_enabled, created_at, updated_at, deleted_at
		FROM connections WHERE sync_enabled = true AND deleted_at IS NULL ORDER BY created_at`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=connections.ListEnabled: %w", err)
	}
	defer rows.Close()
	return scanConnections(rows)
}

func scanConnection(row pgx.Row) (domain.Connection, error) {
	var c domain.Connection
	var mappings []byte
	if err := row.Scan(&c.ID, &c.UserID, &c.SheetID, &c.TabName, &mappings, &c.HeaderRow, &c.DataStartRow,
		&c.SyncEnabled, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Connection{}, fmt.Errorf("op=connections.scan: %w", domain.ErrNotFound)
		}
		return domain.Connection{}, fmt.Errorf("op=connections.scan: %w", err)
	}
	if len(mappings) > 0 {
		if err := json.Unmarshal(mappings, &c.Mappings); err != nil {
			return domain.Connection{}, fmt.Errorf("op=connections.scan: %w", err)
		}
	}
	return c, nil
}

func scanConnections(rows pgx.Rows) ([]domain.Connection, error) {
	var out []domain.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
