package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

type fakeSheetRowRepo struct {
	findRows        []domain.SheetRow
	aggregateResult []map[string]any
	aggregateCalls  [][]domain.Stage
}

func (f *fakeSheetRowRepo) Upsert(context.Context, domain.SheetRow) error { return nil }
func (f *fakeSheetRowRepo) Find(context.Context, string, domain.RowFilter) ([]domain.SheetRow, int64, error) {
	return f.findRows, int64(len(f.findRows)), nil
}
func (f *fakeSheetRowRepo) Aggregate(_ context.Context, _ string, stages []domain.Stage) ([]map[string]any, error) {
	f.aggregateCalls = append(f.aggregateCalls, stages)
	return f.aggregateResult, nil
}

func testConnections() []domain.Connection {
	return []domain.Connection{
		{ID: "c1", UserID: "u1", TabName: "orders"},
		{ID: "c2", UserID: "u1", TabName: "customers"},
	}
}

func TestSchemaTool_InfersFieldsFromSamples(t *testing.T) {
	rows := &fakeSheetRowRepo{findRows: []domain.SheetRow{
		{Document: map[string]any{"order_id": "A1", "total_amount": 100.5}},
		{Document: map[string]any{"order_id": "A2", "total_amount": 200.0}},
	}}
	tool := newSchemaTool(rows)
	out, err := tool.Call(context.Background(), testConnections(), []byte(`{"connection_name":"orders"}`))
	require.NoError(t, err)

	var result []connectionSchema
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result, 1)
	assert.Equal(t, "orders", result[0].Name)
}

func TestSchemaTool_UnknownConnectionErrors(t *testing.T) {
	tool := newSchemaTool(&fakeSheetRowRepo{})
	_, err := tool.Call(context.Background(), testConnections(), []byte(`{"connection_name":"nope"}`))
	require.Error(t, err)
}

func TestAggregateTool_BuildsMatchGroupPipeline(t *testing.T) {
	rows := &fakeSheetRowRepo{aggregateResult: []map[string]any{{"value": 42.0}}}
	tool := newAggregateTool(rows)
	args := []byte(`{"connection_name":"orders","operation":"sum","field":"total_amount","filters":{"status":"paid"}}`)
	out, err := tool.Call(context.Background(), testConnections(), args)
	require.NoError(t, err)
	assert.Contains(t, out, "42")
	require.Len(t, rows.aggregateCalls, 1)
	assert.Contains(t, rows.aggregateCalls[0][0], "match")
}

func TestAggregateTool_UnsupportedOperation(t *testing.T) {
	tool := newAggregateTool(&fakeSheetRowRepo{})
	args := []byte(`{"connection_name":"orders","operation":"median"}`)
	_, err := tool.Call(context.Background(), testConnections(), args)
	require.Error(t, err)
}

func TestTopTool_DefaultsLimitAndSortDescending(t *testing.T) {
	rows := &fakeSheetRowRepo{aggregateResult: []map[string]any{{"_id": "shopee", "value": 10.0}}}
	tool := newTopTool(rows)
	args := []byte(`{"connection_name":"orders","sort_field":"total_amount"}`)
	_, err := tool.Call(context.Background(), testConnections(), args)
	require.NoError(t, err)
	last := rows.aggregateCalls[0][len(rows.aggregateCalls[0])-1]
	assert.Equal(t, domain.Stage{"limit": defaultTopLimit}, last)
}

func TestComparePeriodsTool_ComputesPercentageChange(t *testing.T) {
	calls := 0
	rows := &fakeSheetRowRepoSeq{
		results: [][]map[string]any{
			{{"value": 100.0}},
			{{"value": 150.0}},
		},
	}
	_ = calls
	tool := newComparePeriodsTool(rows)
	args := []byte(`{
		"connection_name":"orders","operation":"sum","field":"total_amount","date_field":"order_date",
		"period1_from":"2026-01-01T00:00:00Z","period1_to":"2026-01-31T00:00:00Z",
		"period2_from":"2026-02-01T00:00:00Z","period2_to":"2026-02-28T00:00:00Z"
	}`)
	out, err := tool.Call(context.Background(), testConnections(), args)
	require.NoError(t, err)

	var result comparePeriodsResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 100.0, result.Period1Value)
	assert.Equal(t, 150.0, result.Period2Value)
	assert.Equal(t, 50.0, result.Difference)
	require.NotNil(t, result.PercentageChange)
	assert.Equal(t, 50.0, *result.PercentageChange)
}

func TestComparePeriodsTool_ZeroPeriod1GivesNilPercentage(t *testing.T) {
	rows := &fakeSheetRowRepoSeq{results: [][]map[string]any{{{"value": 0.0}}, {{"value": 50.0}}}}
	tool := newComparePeriodsTool(rows)
	args := []byte(`{
		"connection_name":"orders","operation":"sum","field":"total_amount","date_field":"order_date",
		"period1_from":"2026-01-01T00:00:00Z","period1_to":"2026-01-31T00:00:00Z",
		"period2_from":"2026-02-01T00:00:00Z","period2_to":"2026-02-28T00:00:00Z"
	}`)
	out, err := tool.Call(context.Background(), testConnections(), args)
	require.NoError(t, err)

	var result comparePeriodsResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Nil(t, result.PercentageChange)
}

func TestCustomPipelineTool_RejectsForbiddenStage(t *testing.T) {
	tool := newCustomPipelineTool(&fakeSheetRowRepo{})
	args := []byte(`{"connection_name":"orders","pipeline":[{"out":"somewhere"}]}`)
	_, err := tool.Call(context.Background(), testConnections(), args)
	require.Error(t, err)
}

func TestCustomPipelineTool_RunsSanitizedPipeline(t *testing.T) {
	rows := &fakeSheetRowRepo{aggregateResult: []map[string]any{{"_id": nil, "count": 3}}}
	tool := newCustomPipelineTool(rows)
	args := []byte(`{"connection_name":"orders","pipeline":[{"match":{"status":"paid"}}]}`)
	out, err := tool.Call(context.Background(), testConnections(), args)
	require.NoError(t, err)
	assert.Contains(t, out, "count")
	last := rows.aggregateCalls[0][len(rows.aggregateCalls[0])-1]
	assert.Equal(t, domain.Stage{"limit": 1000}, last)
}

// fakeSheetRowRepoSeq returns a different Aggregate result on each call, in order.
type fakeSheetRowRepoSeq struct {
	results [][]map[string]any
	calls   int
}

func (f *fakeSheetRowRepoSeq) Upsert(context.Context, domain.SheetRow) error { return nil }
func (f *fakeSheetRowRepoSeq) Find(context.Context, string, domain.RowFilter) ([]domain.SheetRow, int64, error) {
	return nil, 0, nil
}
func (f *fakeSheetRowRepoSeq) Aggregate(context.Context, string, []domain.Stage) ([]map[string]any, error) {
	r := f.results[f.calls]
	f.calls++
	return r, nil
}
