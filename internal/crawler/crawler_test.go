package crawler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetsight/analytics-backend/internal/domain"
	"github.com/sheetsight/analytics-backend/internal/service/ratelimiter"
)

type fakeSyncStateRepo struct {
	state    domain.SyncState
	hasState bool
	upserts  []domain.SyncState
}

func (f *fakeSyncStateRepo) Get(context.Context, string) (domain.SyncState, error) {
	if !f.hasState {
		return domain.SyncState{}, domain.ErrNotFound
	}
	return f.state, nil
}

func (f *fakeSyncStateRepo) Upsert(_ context.Context, s domain.SyncState) error {
	f.upserts = append(f.upserts, s)
	f.state = s
	f.hasState = true
	return nil
}

type fakeSheetRowRepo struct {
	upserted []domain.SheetRow
}

func (f *fakeSheetRowRepo) Upsert(_ context.Context, row domain.SheetRow) error {
	f.upserted = append(f.upserted, row)
	return nil
}
func (f *fakeSheetRowRepo) Find(context.Context, string, domain.RowFilter) ([]domain.SheetRow, int64, error) {
	return nil, 0, nil
}
func (f *fakeSheetRowRepo) Aggregate(context.Context, string, []domain.Stage) ([]map[string]any, error) {
	return nil, nil
}

type fakeSheetClient struct {
	meta      domain.SheetMetadata
	values    [][]string
	headerRow [][]string
	err       error
}

func (f *fakeSheetClient) GetMetadata(context.Context, string) (domain.SheetMetadata, error) {
	return f.meta, f.err
}
func (f *fakeSheetClient) GetValues(_ context.Context, _, _ string, startRow int) ([][]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if startRow == 1 && f.headerRow != nil {
		return f.headerRow, nil
	}
	return f.values, nil
}
func (f *fakeSheetClient) CheckAccess(context.Context, string) (bool, error) { return true, nil }

type fakeCache struct {
	keys     []string
	deleted  []string
}

func (f *fakeCache) Keys(context.Context, string) ([]string, error) { return f.keys, nil }
func (f *fakeCache) Delete(_ context.Context, keys ...string) error {
	f.deleted = append(f.deleted, keys...)
	return nil
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) EmitToUser(context.Context, string, string, map[string]any) error { return nil }
func (f *fakeNotifier) EmitToRoom(_ context.Context, _, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}
func (f *fakeNotifier) Broadcast(context.Context, string, map[string]any) error { return nil }

func testLimiter() *ratelimiter.CompositeLimiter {
	return ratelimiter.NewCompositeLimiter(1.0, map[string]ratelimiter.BucketConfig{
		"read":  {Capacity: 100, RefillRate: 100},
		"write": {Capacity: 100, RefillRate: 100},
	})
}

func TestService_Sync_Success(t *testing.T) {
	conn := domain.Connection{
		ID:           "c1",
		UserID:       "u1",
		SheetID:      "sheet1",
		TabName:      "Orders",
		HeaderRow:    1,
		DataStartRow: 2,
		Mappings: []domain.ColumnMapping{
			{SystemField: "order_id", SheetColumn: "A", DataType: domain.DataTypeString, Required: true},
			{SystemField: "total", SheetColumn: "B", DataType: domain.DataTypeNumber},
		},
	}
	sheets := &fakeSheetClient{
		values: [][]string{
			{"ORD-1", "10.50"},
			{"ORD-2", "20.00"},
		},
	}
	syncState := &fakeSyncStateRepo{}
	rows := &fakeSheetRowRepo{}
	cache := &fakeCache{keys: []string{"analytics:c1:summary:abc"}}
	notifier := &fakeNotifier{}

	svc := NewService(syncState, rows, sheets, testLimiter(), cache, notifier, "analytics")
	n, err := svc.Sync(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, rows.upserted, 2)
	assert.Equal(t, 2, rows.upserted[0].RowNumber)
	assert.Equal(t, "ORD-1", rows.upserted[0].Document["order_id"])
	assert.Equal(t, 10.50, rows.upserted[0].Document["total"])

	assert.Equal(t, domain.SyncSuccess, syncState.state.Status)
	assert.Equal(t, 3, syncState.state.LastSyncedRow)
	assert.Equal(t, int64(2), syncState.state.TotalRowsSynced)

	assert.Equal(t, []string{"analytics:c1:summary:abc"}, cache.deleted)
	assert.Equal(t, []string{domain.EventSyncStarted, domain.EventSyncCompleted}, notifier.events)
}

func TestService_Sync_ResumesFromLastSyncedRow(t *testing.T) {
	conn := domain.Connection{
		ID: "c1", UserID: "u1", SheetID: "s1", TabName: "Orders",
		HeaderRow: 1, DataStartRow: 2,
		Mappings: []domain.ColumnMapping{
			{SystemField: "order_id", SheetColumn: "A", DataType: domain.DataTypeString, Required: true},
		},
	}
	syncState := &fakeSyncStateRepo{
		hasState: true,
		state:    domain.SyncState{ConnectionID: "c1", LastSyncedRow: 5},
	}
	sheets := &fakeSheetClient{values: [][]string{{"ORD-6"}}}
	rows := &fakeSheetRowRepo{}

	svc := NewService(syncState, rows, sheets, testLimiter(), &fakeCache{}, &fakeNotifier{}, "analytics")
	_, err := svc.Sync(context.Background(), conn)
	require.NoError(t, err)
	require.Len(t, rows.upserted, 1)
	assert.Equal(t, 6, rows.upserted[0].RowNumber)
}

func TestService_Sync_MissingRequiredColumnFailsAndNotifies(t *testing.T) {
	conn := domain.Connection{
		ID: "c1", UserID: "u1", SheetID: "s1", TabName: "Orders",
		HeaderRow: 1, DataStartRow: 2,
		Mappings: []domain.ColumnMapping{
			{SystemField: "total", SheetColumn: "Total", DataType: domain.DataTypeNumber, Required: true},
		},
	}
	sheets := &fakeSheetClient{
		headerRow: [][]string{{"Order ID", "Customer"}},
		values:    [][]string{{"ORD-1", "jane"}},
	}
	syncState := &fakeSyncStateRepo{}
	notifier := &fakeNotifier{}

	svc := NewService(syncState, &fakeSheetRowRepo{}, sheets, testLimiter(), &fakeCache{}, notifier, "analytics")
	_, err := svc.Sync(context.Background(), conn)
	require.ErrorIs(t, err, domain.ErrMissingRequiredColumn)
	assert.Equal(t, domain.SyncFailed, syncState.state.Status)
	assert.Equal(t, []string{domain.EventSyncStarted, domain.EventSyncFailed}, notifier.events)
}

func TestService_Sync_CoercionFailureIsNotFatal(t *testing.T) {
	conn := domain.Connection{
		ID: "c1", UserID: "u1", SheetID: "s1", TabName: "Orders",
		HeaderRow: 1, DataStartRow: 2,
		Mappings: []domain.ColumnMapping{
			{SystemField: "total", SheetColumn: "A", DataType: domain.DataTypeNumber},
		},
	}
	sheets := &fakeSheetClient{values: [][]string{{"not-a-number"}}}
	rows := &fakeSheetRowRepo{}
	svc := NewService(&fakeSyncStateRepo{}, rows, sheets, testLimiter(), &fakeCache{}, &fakeNotifier{}, "analytics")
	_, err := svc.Sync(context.Background(), conn)
	require.NoError(t, err)
	require.Len(t, rows.upserted, 1)
	assert.Equal(t, "not-a-number", rows.upserted[0].Document["total"])
}

func TestService_Sync_SheetFetchErrorPropagates(t *testing.T) {
	conn := domain.Connection{ID: "c1", UserID: "u1", SheetID: "s1", TabName: "Orders", DataStartRow: 2}
	sheets := &fakeSheetClient{err: errors.New("provider unavailable")}
	syncState := &fakeSyncStateRepo{}
	svc := NewService(syncState, &fakeSheetRowRepo{}, sheets, testLimiter(), &fakeCache{}, &fakeNotifier{}, "analytics")
	_, err := svc.Sync(context.Background(), conn)
	require.Error(t, err)
	assert.Equal(t, domain.SyncFailed, syncState.state.Status)
}
