// Package tools implements the five stateless data-query tools the ReAct
// agent calls against a caller's own sheet connections.
package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

// Tool is one data-query capability exposed to the agent. Args is the raw
// JSON the model supplied for this call; implementations validate their own
// shape. userConnections is already scoped to the caller, so every tool's
// user_id isolation falls out of only ever looking up within that slice.
type Tool interface {
	Spec() domain.ToolSpec
	Call(ctx domain.Context, userConnections []domain.Connection, args json.RawMessage) (string, error)
}

// All builds the fixed five-tool set backed by rows.
func All(rows domain.SheetRowRepo) []Tool {
	return []Tool{
		newSchemaTool(rows),
		newAggregateTool(rows),
		newTopTool(rows),
		newComparePeriodsTool(rows),
		newCustomPipelineTool(rows),
	}
}

func findConnection(conns []domain.Connection, name string) (domain.Connection, bool) {
	for _, c := range conns {
		if c.TabName == name || c.ID == name {
			return c, true
		}
	}
	return domain.Connection{}, false
}

func ownedConnectionIDs(conns []domain.Connection) map[string]bool {
	owned := make(map[string]bool, len(conns))
	for _, c := range conns {
		owned[c.ID] = true
	}
	return owned
}

// filterMatchStage turns a flat field->value equality map into a match stage.
// Returns nil when filters is empty.
func filterMatchStage(filters map[string]any) domain.Stage {
	if len(filters) == 0 {
		return nil
	}
	cond := make(map[string]any, len(filters))
	for k, v := range filters {
		cond[k] = v
	}
	return domain.Stage{"match": cond}
}

func dateRangeStage(field string, from, to *time.Time) domain.Stage {
	if field == "" || (from == nil && to == nil) {
		return nil
	}
	cond := map[string]any{}
	if from != nil {
		cond["$gte"] = *from
	}
	if to != nil {
		cond["$lte"] = *to
	}
	return domain.Stage{"match": map[string]any{field: cond}}
}

// aggregateOperationStage builds the $group stage for one of the five
// supported operations. group_by is optional; when absent the whole
// connection collapses into a single bucket (_id: nil).
func aggregateOperationStage(operation, field, groupBy string) (domain.Stage, error) {
	var expr map[string]any
	switch operation {
	case "sum":
		expr = map[string]any{"$sum": "$" + field}
	case "count":
		expr = map[string]any{"$sum": 1}
	case "avg":
		expr = map[string]any{"$avg": "$" + field}
	case "min":
		expr = map[string]any{"$min": "$" + field}
	case "max":
		expr = map[string]any{"$max": "$" + field}
	default:
		return nil, fmt.Errorf("unsupported operation %q", operation)
	}

	var id any
	if groupBy != "" {
		id = "$" + groupBy
	}
	return domain.Stage{"group": map[string]any{"_id": id, "value": expr}}, nil
}

func toJSONResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("op=tools.toJSONResult: %w", err)
	}
	return string(b), nil
}
