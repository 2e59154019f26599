package tools

import (
	"encoding/json"
	"fmt"

	"github.com/sheetsight/analytics-backend/internal/domain"
	"github.com/sheetsight/analytics-backend/internal/pipeline"
)

type customPipelineTool struct {
	rows domain.SheetRowRepo
}

func newCustomPipelineTool(rows domain.SheetRowRepo) *customPipelineTool {
	return &customPipelineTool{rows: rows}
}

func (t *customPipelineTool) Spec() domain.ToolSpec {
	return domain.ToolSpec{
		Name:        "custom-pipeline",
		Description: "Runs an arbitrary aggregation pipeline against a connection after policy validation. Capped at 1000 result rows.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"connection_name": map[string]any{"type": "string"},
				"pipeline":        map[string]any{"type": "array"},
				"description":     map[string]any{"type": "string"},
			},
			"required": []string{"connection_name", "pipeline"},
		},
	}
}

type customPipelineArgs struct {
	ConnectionName string         `json:"connection_name"`
	Pipeline       []domain.Stage `json:"pipeline"`
	Description    string         `json:"description"`
}

func (t *customPipelineTool) Call(ctx domain.Context, userConnections []domain.Connection, args json.RawMessage) (string, error) {
	var a customPipelineArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("op=tools.custom-pipeline: %w", err)
	}
	conn, ok := findConnection(userConnections, a.ConnectionName)
	if !ok {
		return "", fmt.Errorf("op=tools.custom-pipeline: connection %q not found", a.ConnectionName)
	}

	sanitized, err := pipeline.Validate(a.Pipeline, ownedConnectionIDs(userConnections))
	if err != nil {
		return "", fmt.Errorf("op=tools.custom-pipeline: %w", err)
	}

	rows, err := t.rows.Aggregate(ctx, conn.ID, sanitized)
	if err != nil {
		return "", fmt.Errorf("op=tools.custom-pipeline: %w", err)
	}
	return toJSONResult(rows)
}
