package tools

import (
	"encoding/json"
	"fmt"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

const defaultTopLimit = 10

type topTool struct {
	rows domain.SheetRowRepo
}

func newTopTool(rows domain.SheetRowRepo) *topTool { return &topTool{rows: rows} }

func (t *topTool) Spec() domain.ToolSpec {
	return domain.ToolSpec{
		Name:        "top",
		Description: "Returns up to limit rows sorted by sort_field, optionally grouped and aggregated first.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"connection_name": map[string]any{"type": "string"},
				"sort_field":      map[string]any{"type": "string"},
				"sort_order":      map[string]any{"type": "string", "enum": []string{"asc", "desc"}},
				"limit":           map[string]any{"type": "integer"},
				"group_by":        map[string]any{"type": "string"},
				"aggregate_field": map[string]any{"type": "string"},
				"filters":         map[string]any{"type": "object"},
			},
			"required": []string{"connection_name", "sort_field"},
		},
	}
}

type topArgs struct {
	ConnectionName string         `json:"connection_name"`
	SortField      string         `json:"sort_field"`
	SortOrder      string         `json:"sort_order"`
	Limit          int            `json:"limit"`
	GroupBy        string         `json:"group_by"`
	AggregateField string         `json:"aggregate_field"`
	Filters        map[string]any `json:"filters"`
}

func (t *topTool) Call(ctx domain.Context, userConnections []domain.Connection, args json.RawMessage) (string, error) {
	var a topArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("op=tools.top: %w", err)
	}
	conn, ok := findConnection(userConnections, a.ConnectionName)
	if !ok {
		return "", fmt.Errorf("op=tools.top: connection %q not found", a.ConnectionName)
	}
	if a.Limit <= 0 {
		a.Limit = defaultTopLimit
	}

	sortDir := -1
	if a.SortOrder == "asc" {
		sortDir = 1
	}

	stages := []domain.Stage{}
	if m := filterMatchStage(a.Filters); m != nil {
		stages = append(stages, m)
	}
	if a.GroupBy != "" {
		op := "sum"
		field := a.AggregateField
		if field == "" {
			op = "count"
		}
		group, err := aggregateOperationStage(op, field, a.GroupBy)
		if err != nil {
			return "", fmt.Errorf("op=tools.top: %w", err)
		}
		stages = append(stages, group, domain.Stage{"sort": map[string]any{"value": sortDir}})
	} else {
		stages = append(stages, domain.Stage{"sort": map[string]any{a.SortField: sortDir}})
	}
	stages = append(stages, domain.Stage{"limit": a.Limit})

	rows, err := t.rows.Aggregate(ctx, conn.ID, stages)
	if err != nil {
		return "", fmt.Errorf("op=tools.top: %w", err)
	}
	return toJSONResult(rows)
}
