// Package crawler implements the incremental per-connection sync procedure:
// fetch new sheet rows through the rate limiter, map and coerce columns,
// upsert the document store, and notify connected clients of progress.
package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/sheetsight/analytics-backend/internal/adapter/observability"
	"github.com/sheetsight/analytics-backend/internal/domain"
	"github.com/sheetsight/analytics-backend/internal/service/ratelimiter"
)

// cacheInvalidator is the narrow slice of domain.Cache the crawler needs to
// invalidate analytics results after a sync, kept separate from the full
// Cache port so it is trivially fakeable in tests.
type cacheInvalidator interface {
	Keys(ctx domain.Context, pattern string) ([]string, error)
	Delete(ctx domain.Context, keys ...string) error
}

// Service runs the nine-step sync procedure for one connection at a time.
type Service struct {
	syncState domain.SyncStateRepo
	rows      domain.SheetRowRepo
	sheets    domain.SheetClient
	limiter   *ratelimiter.CompositeLimiter
	cache     cacheInvalidator
	notifier  domain.Notifier
	cachePrefix string
}

// NewService constructs a crawler Service.
func NewService(
	syncState domain.SyncStateRepo,
	rows domain.SheetRowRepo,
	sheets domain.SheetClient,
	limiter *ratelimiter.CompositeLimiter,
	cache cacheInvalidator,
	notifier domain.Notifier,
	cachePrefix string,
) *Service {
	return &Service{
		syncState:   syncState,
		rows:        rows,
		sheets:      sheets,
		limiter:     limiter,
		cache:       cache,
		notifier:    notifier,
		cachePrefix: cachePrefix,
	}
}

// Sync implements asynqadp.Crawler: it runs the full nine-step procedure for
// conn and returns the number of rows processed in this attempt.
func (s *Service) Sync(ctx context.Context, conn domain.Connection) (int, error) {
	// Step 1: load sync-state, synthesizing a fresh one if absent.
	state, err := s.syncState.Get(ctx, conn.ID)
	if err != nil {
		state = domain.SyncState{ConnectionID: conn.ID, LastSyncedRow: 0}
	}

	// Step 2: announce the attempt has started.
	s.emitRoom(ctx, conn.UserID, domain.EventSyncStarted, map[string]any{"connection_id": conn.ID})

	// Step 3: mark syncing.
	state.Status = domain.SyncSyncing
	if err := s.syncState.Upsert(ctx, state); err != nil {
		return 0, fmt.Errorf("op=crawler.Sync: %w", err)
	}

	rowsProcessed, syncErr := s.runSync(ctx, conn, &state)
	if syncErr != nil {
		state.Status = domain.SyncFailed
		state.LastErrorText = syncErr.Error()
		_ = s.syncState.Upsert(ctx, state)
		s.emitRoom(ctx, conn.UserID, domain.EventSyncFailed, map[string]any{
			"connection_id": conn.ID,
			"error":         syncErr.Error(),
		})
		return rowsProcessed, fmt.Errorf("op=crawler.Sync: %w", syncErr)
	}

	// Step 7: record success.
	state.Status = domain.SyncSuccess
	state.LastErrorText = ""
	state.LastSyncTime = time.Now()
	state.TotalRowsSynced += int64(rowsProcessed)
	if err := s.syncState.Upsert(ctx, state); err != nil {
		return rowsProcessed, fmt.Errorf("op=crawler.Sync: %w", err)
	}

	// Step 8: invalidate cached analytics for this connection.
	s.invalidateCache(ctx, conn.ID)

	// Step 9: announce completion.
	s.emitRoom(ctx, conn.UserID, domain.EventSyncCompleted, map[string]any{
		"connection_id": conn.ID,
		"rows_synced":   rowsProcessed,
		"total_rows":    state.TotalRowsSynced,
	})

	return rowsProcessed, nil
}

// runSync performs steps 4-6 and mutates state's LastSyncedRow in place.
func (s *Service) runSync(ctx context.Context, conn domain.Connection, state *domain.SyncState) (int, error) {
	// Step 4: compute the first row to fetch.
	startRow := conn.DataStartRow
	if state.LastSyncedRow+1 > startRow {
		startRow = state.LastSyncedRow + 1
	}

	// Step 5: fetch metadata, then values, both through the rate limiter.
	// Header-name columns are resolved from the header row itself (see
	// resolveHeaderRow); the metadata is not consulted for that.
	if err := s.limiter.AcquireRead(ctx, 1); err != nil {
		return 0, err
	}
	meta, err := s.sheets.GetMetadata(ctx, conn.SheetID)
	if err != nil {
		return 0, fmt.Errorf("fetch metadata: %w", err)
	}

	if err := s.limiter.AcquireRead(ctx, 1); err != nil {
		return 0, err
	}
	values, err := s.sheets.GetValues(ctx, conn.SheetID, conn.TabName, startRow)
	if err != nil {
		return 0, fmt.Errorf("fetch values: %w", err)
	}

	headerRow, err := s.resolveHeaderRow(ctx, conn, meta)
	if err != nil {
		return 0, err
	}

	resolved, err := resolveColumns(conn.Mappings, headerRow)
	if err != nil {
		return 0, err
	}

	maxRowProcessed := state.LastSyncedRow
	rowsProcessed := 0
	for offset, raw := range values {
		rowNumber := rowNumberFromOffset(startRow, offset)
		doc := make(map[string]any, len(resolved))
		for _, rc := range resolved {
			doc[rc.SystemField] = coerceValue(cellAt(raw, rc.index), rc.DataType)
		}

		if err := s.rows.Upsert(ctx, domain.SheetRow{
			ConnectionID: conn.ID,
			RowNumber:    rowNumber,
			Document:     doc,
			RawRow:       raw,
			SyncedAt:     time.Now(),
		}); err != nil {
			return rowsProcessed, fmt.Errorf("upsert row %d: %w", rowNumber, err)
		}

		rowsProcessed++
		if rowNumber > maxRowProcessed {
			maxRowProcessed = rowNumber
		}
	}

	state.LastSyncedRow = maxRowProcessed
	return rowsProcessed, nil
}

// resolveHeaderRow fetches the header row's raw cells when any mapping uses
// a header-name reference; letter-only mappings never need it.
func (s *Service) resolveHeaderRow(ctx context.Context, conn domain.Connection, _ domain.SheetMetadata) ([]string, error) {
	needsHeader := false
	for _, m := range conn.Mappings {
		if !isColumnLetter(m.SheetColumn) {
			needsHeader = true
			break
		}
	}
	if !needsHeader {
		return nil, nil
	}
	if err := s.limiter.AcquireRead(ctx, 1); err != nil {
		return nil, err
	}
	rows, err := s.sheets.GetValues(ctx, conn.SheetID, conn.TabName, conn.HeaderRow)
	if err != nil {
		return nil, fmt.Errorf("fetch header row: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *Service) invalidateCache(ctx context.Context, connectionID string) {
	if s.cache == nil {
		return
	}
	pattern := fmt.Sprintf("%s:%s:*", s.cachePrefix, connectionID)
	keys, err := s.cache.Keys(ctx, pattern)
	if err != nil || len(keys) == 0 {
		return
	}
	_ = s.cache.Delete(ctx, keys...)
	observability.RecordCacheInvalidation(connectionID)
}

func (s *Service) emitRoom(ctx context.Context, userID, event string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.EmitToRoom(ctx, domain.UserRoom(userID), event, payload)
}
