package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

const schemaSampleRows = 5

type schemaTool struct {
	rows domain.SheetRowRepo
}

func newSchemaTool(rows domain.SheetRowRepo) *schemaTool { return &schemaTool{rows: rows} }

func (t *schemaTool) Spec() domain.ToolSpec {
	return domain.ToolSpec{
		Name:        "schema",
		Description: "Returns the field names, inferred data types, and sample values for the caller's connections. Pass connection_name to scope to a single connection.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"connection_name": map[string]any{"type": "string"},
			},
		},
	}
}

type schemaArgs struct {
	ConnectionName string `json:"connection_name"`
}

type fieldSchema struct {
	Name         string   `json:"name"`
	DataType     string   `json:"data_type"`
	SampleValues []string `json:"sample_values"`
}

type connectionSchema struct {
	Name   string        `json:"name"`
	Fields []fieldSchema `json:"fields"`
}

func (t *schemaTool) Call(ctx domain.Context, userConnections []domain.Connection, args json.RawMessage) (string, error) {
	var a schemaArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return "", fmt.Errorf("op=tools.schema: %w", err)
		}
	}

	targets := userConnections
	if a.ConnectionName != "" {
		conn, ok := findConnection(userConnections, a.ConnectionName)
		if !ok {
			return "", fmt.Errorf("op=tools.schema: connection %q not found", a.ConnectionName)
		}
		targets = []domain.Connection{conn}
	}

	out := make([]connectionSchema, 0, len(targets))
	for _, conn := range targets {
		rows, _, err := t.rows.Find(ctx, conn.ID, domain.RowFilter{Page: 1, PageSize: schemaSampleRows})
		if err != nil {
			return "", fmt.Errorf("op=tools.schema: %w", err)
		}
		out = append(out, connectionSchema{Name: conn.TabName, Fields: inferFields(rows)})
	}

	return toJSONResult(out)
}

func inferFields(rows []domain.SheetRow) []fieldSchema {
	order := []string{}
	samples := map[string][]string{}
	types := map[string]string{}
	seen := map[string]bool{}

	for _, row := range rows {
		for field, value := range row.Document {
			if !seen[field] {
				seen[field] = true
				order = append(order, field)
				types[field] = goTypeName(value)
			}
			if len(samples[field]) < 3 {
				samples[field] = append(samples[field], fmt.Sprint(value))
			}
		}
	}

	out := make([]fieldSchema, 0, len(order))
	for _, field := range order {
		out = append(out, fieldSchema{Name: field, DataType: types[field], SampleValues: samples[field]})
	}
	return out
}

func goTypeName(v any) string {
	switch v.(type) {
	case time.Time:
		return "date"
	case float64, float32, int, int64:
		return "number"
	case bool:
		return "boolean"
	default:
		return "string"
	}
}
