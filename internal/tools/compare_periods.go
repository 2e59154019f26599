package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

type comparePeriodsTool struct {
	rows domain.SheetRowRepo
}

func newComparePeriodsTool(rows domain.SheetRowRepo) *comparePeriodsTool {
	return &comparePeriodsTool{rows: rows}
}

func (t *comparePeriodsTool) Spec() domain.ToolSpec {
	return domain.ToolSpec{
		Name:        "compare-periods",
		Description: "Computes the same aggregation over two independent date ranges and reports the difference and percentage change.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"connection_name": map[string]any{"type": "string"},
				"operation":       map[string]any{"type": "string", "enum": []string{"sum", "count", "avg", "min", "max"}},
				"field":           map[string]any{"type": "string"},
				"date_field":      map[string]any{"type": "string"},
				"group_by":        map[string]any{"type": "string"},
				"period1_from":    map[string]any{"type": "string"},
				"period1_to":      map[string]any{"type": "string"},
				"period2_from":    map[string]any{"type": "string"},
				"period2_to":      map[string]any{"type": "string"},
			},
			"required": []string{"connection_name", "operation", "date_field", "period1_from", "period1_to", "period2_from", "period2_to"},
		},
	}
}

type comparePeriodsArgs struct {
	ConnectionName string    `json:"connection_name"`
	Operation      string    `json:"operation"`
	Field          string    `json:"field"`
	DateField      string    `json:"date_field"`
	GroupBy        string    `json:"group_by"`
	Period1From    time.Time `json:"period1_from"`
	Period1To      time.Time `json:"period1_to"`
	Period2From    time.Time `json:"period2_from"`
	Period2To      time.Time `json:"period2_to"`
}

type comparePeriodsResult struct {
	Period1Value     float64  `json:"period1_value"`
	Period2Value     float64  `json:"period2_value"`
	Difference       float64  `json:"difference"`
	PercentageChange *float64 `json:"percentage_change"`
}

func (t *comparePeriodsTool) Call(ctx domain.Context, userConnections []domain.Connection, args json.RawMessage) (string, error) {
	var a comparePeriodsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("op=tools.compare-periods: %w", err)
	}
	conn, ok := findConnection(userConnections, a.ConnectionName)
	if !ok {
		return "", fmt.Errorf("op=tools.compare-periods: connection %q not found", a.ConnectionName)
	}

	v1, err := t.runOne(ctx, conn.ID, a, a.Period1From, a.Period1To)
	if err != nil {
		return "", fmt.Errorf("op=tools.compare-periods: period1: %w", err)
	}
	v2, err := t.runOne(ctx, conn.ID, a, a.Period2From, a.Period2To)
	if err != nil {
		return "", fmt.Errorf("op=tools.compare-periods: period2: %w", err)
	}

	result := comparePeriodsResult{
		Period1Value: v1,
		Period2Value: v2,
		Difference:   v2 - v1,
	}
	if v1 != 0 {
		pct := (v2 - v1) / v1 * 100
		result.PercentageChange = &pct
	}

	return toJSONResult(result)
}

func (t *comparePeriodsTool) runOne(ctx domain.Context, connID string, a comparePeriodsArgs, from, to time.Time) (float64, error) {
	stages := []domain.Stage{dateRangeStage(a.DateField, &from, &to)}
	group, err := aggregateOperationStage(a.Operation, a.Field, a.GroupBy)
	if err != nil {
		return 0, err
	}
	stages = append(stages, group)

	rows, err := t.rows.Aggregate(ctx, connID, stages)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toFloat64(rows[0]["value"])
}

func toFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected aggregate value type %T", v)
	}
}
