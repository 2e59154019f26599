package postgres

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

// compileAggregate translates the Mongo-shaped Stage pipeline produced by
// internal/analytics's pipeline builders (match/group/sort/limit, with
// $sum/$avg/$addToSetCount accumulators and an optional $dateTrunc grouping
// key) into one parameterized SQL query over a single connection's jsonb
// sheet_rows documents.
func compileAggregate(connectionID string, stages []domain.Stage) (string, []any, error) {
	c := &aggregateCompiler{args: []any{connectionID}}
	c.where = append(c.where, "connection_id = $1")

	for _, stage := range stages {
		if stage == nil {
			continue
		}
		if err := c.applyStage(stage); err != nil {
			return "", nil, err
		}
	}
	return c.build(), c.args, nil
}

type aggregateCompiler struct {
	args      []any
	where     []string
	groupExpr string // "_id" select expression; empty means no GROUP BY
	grouped   bool
	metrics   []string // "<sql expr> AS <alias>" select items besides _id
	orderBy   string
	limit     *int
}

func (c *aggregateCompiler) applyStage(stage domain.Stage) error {
	switch {
	case stage["match"] != nil:
		return c.applyMatch(stage["match"])
	case stage["group"] != nil:
		return c.applyGroup(stage["group"])
	case stage["sort"] != nil:
		return c.applySort(stage["sort"])
	case stage["limit"] != nil:
		return c.applyLimit(stage["limit"])
	default:
		return fmt.Errorf("op=aggregate.compile: %w: unrecognized stage %v", domain.ErrForbiddenStage, stage)
	}
}

func (c *aggregateCompiler) applyMatch(raw any) error {
	fields, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("op=aggregate.compile: %w: match stage must be an object", domain.ErrInvalidArgument)
	}
	// Deterministic order for stable generated SQL/tests.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, field := range keys {
		cond := fields[field]
		condMap, isOps := cond.(map[string]any)
		if !isOps {
			c.args = append(c.args, cond)
			c.where = append(c.where, fmt.Sprintf("%s = $%d", fieldValueExpr(field, cond), len(c.args)))
			continue
		}
		opKeys := make([]string, 0, len(condMap))
		for k := range condMap {
			opKeys = append(opKeys, k)
		}
		sort.Strings(opKeys)
		for _, op := range opKeys {
			val := condMap[op]
			sqlOp, err := comparisonOperator(op)
			if err != nil {
				return err
			}
			c.args = append(c.args, val)
			c.where = append(c.where, fmt.Sprintf("%s %s $%d", fieldValueExpr(field, val), sqlOp, len(c.args)))
		}
	}
	return nil
}

func comparisonOperator(op string) (string, error) {
	switch op {
	case "$gte":
		return ">=", nil
	case "$lte":
		return "<=", nil
	case "$gt":
		return ">", nil
	case "$lt":
		return "<", nil
	case "$eq":
		return "=", nil
	case "$ne":
		return "<>", nil
	default:
		return "", fmt.Errorf("op=aggregate.compile: %w: unsupported match operator %q", domain.ErrForbiddenStage, op)
	}
}

func (c *aggregateCompiler) applyGroup(raw any) error {
	group, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("op=aggregate.compile: %w: group stage must be an object", domain.ErrInvalidArgument)
	}
	c.grouped = true

	idExpr, err := c.groupKeyExpr(group["_id"])
	if err != nil {
		return err
	}
	c.groupExpr = idExpr

	keys := make([]string, 0, len(group))
	for k := range group {
		if k == "_id" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, alias := range keys {
		expr, err := c.accumulatorExpr(group[alias])
		if err != nil {
			return err
		}
		c.metrics = append(c.metrics, fmt.Sprintf("%s AS %s", expr, quoteIdent(alias)))
	}
	return nil
}

// groupKeyExpr builds the SQL expression selected as "_id": nil for a
// single ungrouped aggregate row, a bare "$field" reference, or a
// {"$dateTrunc": {...}} expression.
func (c *aggregateCompiler) groupKeyExpr(raw any) (string, error) {
	if raw == nil {
		return "", nil
	}
	if fieldRef, ok := raw.(string); ok {
		return fieldValueExpr(strings.TrimPrefix(fieldRef, "$"), nil), nil
	}
	spec, ok := raw.(map[string]any)
	if !ok {
		return "", fmt.Errorf("op=aggregate.compile: %w: unsupported _id expression %v", domain.ErrInvalidArgument, raw)
	}
	dt, ok := spec["$dateTrunc"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("op=aggregate.compile: %w: unsupported _id expression %v", domain.ErrInvalidArgument, raw)
	}
	field, _ := dt["field"].(string)
	unit, _ := dt["unit"].(string)
	field = strings.TrimPrefix(field, "$")
	return fmt.Sprintf("date_trunc(%s, %s)", quoteLiteral(unit), fieldDateExpr(field)), nil
}

// accumulatorExpr builds the SQL for one $sum/$avg/$addToSetCount metric.
func (c *aggregateCompiler) accumulatorExpr(raw any) (string, error) {
	spec, ok := raw.(map[string]any)
	if !ok {
		return "", fmt.Errorf("op=aggregate.compile: %w: metric expression must be an object", domain.ErrInvalidArgument)
	}
	for op, operand := range spec {
		switch op {
		case "$sum":
			if lit, ok := operand.(int); ok && lit == 1 {
				return "COUNT(*)", nil
			}
			if lit, ok := operand.(float64); ok && lit == 1 {
				return "COUNT(*)", nil
			}
			field := strings.TrimPrefix(operand.(string), "$")
			return fmt.Sprintf("COALESCE(SUM(%s), 0)", fieldNumericExpr(field)), nil
		case "$avg":
			field := strings.TrimPrefix(operand.(string), "$")
			return fmt.Sprintf("AVG(%s)", fieldNumericExpr(field)), nil
		case "$addToSetCount":
			field := strings.TrimPrefix(operand.(string), "$")
			return fmt.Sprintf("COUNT(DISTINCT %s)", fieldValueExpr(field, nil)), nil
		default:
			return "", fmt.Errorf("op=aggregate.compile: %w: unsupported accumulator %q", domain.ErrForbiddenStage, op)
		}
	}
	return "", fmt.Errorf("op=aggregate.compile: %w: empty metric expression", domain.ErrInvalidArgument)
}

func (c *aggregateCompiler) applySort(raw any) error {
	spec, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("op=aggregate.compile: %w: sort stage must be an object", domain.ErrInvalidArgument)
	}
	keys := make([]string, 0, len(spec))
	for k := range spec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	for _, field := range keys {
		dir := "ASC"
		if n, ok := spec[field].(int); ok && n < 0 {
			dir = "DESC"
		}
		if n, ok := spec[field].(float64); ok && n < 0 {
			dir = "DESC"
		}
		clauses = append(clauses, fmt.Sprintf("%s %s", quoteIdent(field), dir))
	}
	c.orderBy = strings.Join(clauses, ", ")
	return nil
}

func (c *aggregateCompiler) applyLimit(raw any) error {
	switch n := raw.(type) {
	case int:
		c.limit = &n
	case float64:
		v := int(n)
		c.limit = &v
	default:
		return fmt.Errorf("op=aggregate.compile: %w: limit must be an integer", domain.ErrInvalidArgument)
	}
	return nil
}

func (c *aggregateCompiler) build() string {
	var b strings.Builder
	b.WriteString("SELECT ")

	selectItems := []string{}
	if c.groupExpr != "" {
		selectItems = append(selectItems, c.groupExpr+` AS "_id"`)
	} else if c.grouped {
		selectItems = append(selectItems, `NULL AS "_id"`)
	}
	selectItems = append(selectItems, c.metrics...)
	if len(selectItems) == 0 {
		selectItems = append(selectItems, "document")
	}
	b.WriteString(strings.Join(selectItems, ", "))
	b.WriteString(" FROM sheet_rows WHERE ")
	b.WriteString(strings.Join(c.where, " AND "))

	// _id: nil means a single aggregate row over the whole match set, so no
	// GROUP BY is needed; a non-empty group key expression does.
	if c.grouped && c.groupExpr != "" {
		b.WriteString(" GROUP BY ")
		b.WriteString(c.groupExpr)
	}
	if c.orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(c.orderBy)
	}
	if c.limit != nil {
		b.WriteString(fmt.Sprintf(" LIMIT %d", *c.limit))
	}
	return b.String()
}

func fieldValueExpr(field string, sample any) string {
	if _, ok := sample.(time.Time); ok {
		return fieldDateExpr(field)
	}
	switch sample.(type) {
	case int, int64, float64:
		return fieldNumericExpr(field)
	default:
		return fmt.Sprintf("document->>%s", quoteLiteral(field))
	}
}

func fieldNumericExpr(field string) string {
	return fmt.Sprintf("(document->>%s)::numeric", quoteLiteral(field))
}

func fieldDateExpr(field string) string {
	return fmt.Sprintf("(document->>%s)::timestamptz", quoteLiteral(field))
}

// quoteIdent renders s as a double-quoted SQL identifier, used for
// referencing a select-list alias (e.g. in ORDER BY) or a group-key field
// name already vetted against the pipeline's own fixed field set.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
