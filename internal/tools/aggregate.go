package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

type aggregateTool struct {
	rows domain.SheetRowRepo
}

func newAggregateTool(rows domain.SheetRowRepo) *aggregateTool { return &aggregateTool{rows: rows} }

func (t *aggregateTool) Spec() domain.ToolSpec {
	return domain.ToolSpec{
		Name:        "aggregate",
		Description: "Computes sum/count/avg/min/max over a connection's rows, optionally grouped and date-filtered.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"connection_name": map[string]any{"type": "string"},
				"operation":       map[string]any{"type": "string", "enum": []string{"sum", "count", "avg", "min", "max"}},
				"field":           map[string]any{"type": "string"},
				"group_by":        map[string]any{"type": "string"},
				"filters":         map[string]any{"type": "object"},
				"date_field":      map[string]any{"type": "string"},
				"date_from":       map[string]any{"type": "string"},
				"date_to":         map[string]any{"type": "string"},
			},
			"required": []string{"connection_name", "operation"},
		},
	}
}

type aggregateArgs struct {
	ConnectionName string         `json:"connection_name"`
	Operation      string         `json:"operation"`
	Field          string         `json:"field"`
	GroupBy        string         `json:"group_by"`
	Filters        map[string]any `json:"filters"`
	DateField      string         `json:"date_field"`
	DateFrom       *time.Time     `json:"date_from"`
	DateTo         *time.Time     `json:"date_to"`
}

func (t *aggregateTool) Call(ctx domain.Context, userConnections []domain.Connection, args json.RawMessage) (string, error) {
	var a aggregateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("op=tools.aggregate: %w", err)
	}
	conn, ok := findConnection(userConnections, a.ConnectionName)
	if !ok {
		return "", fmt.Errorf("op=tools.aggregate: connection %q not found", a.ConnectionName)
	}

	stages := []domain.Stage{}
	if m := filterMatchStage(a.Filters); m != nil {
		stages = append(stages, m)
	}
	if d := dateRangeStage(a.DateField, a.DateFrom, a.DateTo); d != nil {
		stages = append(stages, d)
	}
	group, err := aggregateOperationStage(a.Operation, a.Field, a.GroupBy)
	if err != nil {
		return "", fmt.Errorf("op=tools.aggregate: %w", err)
	}
	stages = append(stages, group)

	rows, err := t.rows.Aggregate(ctx, conn.ID, stages)
	if err != nil {
		return "", fmt.Errorf("op=tools.aggregate: %w", err)
	}
	return toJSONResult(rows)
}
