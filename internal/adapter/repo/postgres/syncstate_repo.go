package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

// SyncStateRepo persists the per-connection sync-state singleton.
type SyncStateRepo struct{ Pool PgxPool }

// NewSyncStateRepo constructs a SyncStateRepo.
func NewSyncStateRepo(p PgxPool) *SyncStateRepo { return &SyncStateRepo{Pool: p} }

func (r *SyncStateRepo) Get(ctx domain.Context, connectionID string) (domain.SyncState, error) {
	tracer := otel.Tracer("repo.syncstate")
	ctx, span := tracer.Start(ctx, "syncstate.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "sync_states"))

	q := `SELECT connection_id, last_synced_row, last_sync_time, status, last_error_text, total_rows_synced
		FROM sync_states WHERE connection_id = $1`
	var s domain.SyncState
	err := r.Pool.QueryRow(ctx, q, connectionID).Scan(
		&s.ConnectionID, &s.LastSyncedRow, &s.LastSyncTime, &s.Status, &s.LastErrorText, &s.TotalRowsSynced)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.SyncState{}, fmt.Errorf("op=syncstate.Get: %w", domain.ErrNotFound)
		}
		return domain.SyncState{}, fmt.Errorf("op=syncstate.Get: %w", err)
	}
	return s, nil
}

// Upsert writes s as the connection's current sync-state, replacing any
// prior state wholesale — sync-state is a true per-connection singleton.
func (r *SyncStateRepo) Upsert(ctx domain.Context, s domain.SyncState) error {
	tracer := otel.Tracer("repo.syncstate")
	ctx, span := tracer.Start(ctx, "syncstate.Upsert")
	defer span.End()

	if s.LastSyncTime.IsZero() {
		s.LastSyncTime = time.Now().UTC()
	}
	q := `INSERT INTO sync_states (connection_id, last_synced_row, last_sync_time, status, last_error_text, total_rows_synced)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (connection_id) DO UPDATE SET
			last_synced_row = EXCLUDED.last_synced_row,
			last_sync_time = EXCLUDED.last_sync_time,
			status = EXCLUDED.status,
			last_error_text = EXCLUDED.last_error_text,
			total_rows_synced = EXCLUDED.total_rows_synced`
	if _, err := r.Pool.Exec(ctx, q, s.ConnectionID, s.LastSyncedRow, s.LastSyncTime, s.Status, s.LastErrorText, s.TotalRowsSynced); err != nil {
		return fmt.Errorf("op=syncstate.Upsert: %w", err)
	}
	return nil
}
