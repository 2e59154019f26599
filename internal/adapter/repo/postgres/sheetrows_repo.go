package postgres

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

// SheetRowRepo persists connection-scoped sheet rows as jsonb documents and
// answers the paginated Find query and the Stage-pipeline Aggregate query
// against them.
type SheetRowRepo struct{ Pool PgxPool }

// NewSheetRowRepo constructs a SheetRowRepo.
func NewSheetRowRepo(p PgxPool) *SheetRowRepo { return &SheetRowRepo{Pool: p} }

func (r *SheetRowRepo) Upsert(ctx domain.Context, row domain.SheetRow) error {
	tracer := otel.Tracer("repo.sheetrows")
	ctx, span := tracer.Start(ctx, "sheetrows.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.sql.table", "sheet_rows"))

	doc, err := json.Marshal(row.Document)
	if err != nil {
		return fmt.Errorf("op=sheetrows.Upsert: %w", err)
	}
	raw, err := json.Marshal(row.RawRow)
	if err != nil {
		return fmt.Errorf("op=sheetrows.Upsert: %w", err)
	}
	syncedAt := row.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}
	q := `INSERT INTO sheet_rows (connection_id, row_number, document, raw_row, synced_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (connection_id, row_number) DO UPDATE SET
			document = EXCLUDED.document, raw_row = EXCLUDED.raw_row, synced_at = EXCLUDED.synced_at`
	if _, err := r.Pool.Exec(ctx, q, row.ConnectionID, row.RowNumber, doc, raw, syncedAt); err != nil {
		return fmt.Errorf("op=sheetrows.Upsert: %w", err)
	}
	return nil
}

func (r *SheetRowRepo) Find(ctx domain.Context, connectionID string, f domain.RowFilter) ([]domain.SheetRow, int64, error) {
	tracer := otel.Tracer("repo.sheetrows")
	ctx, span := tracer.Start(ctx, "sheetrows.Find")
	defer span.End()

	where := []string{"connection_id = $1"}
	args := []any{connectionID}

	if f.Search != "" && len(f.SearchFields) > 0 {
		clauses := make([]string, 0, len(f.SearchFields))
		for _, field := range f.SearchFields {
			args = append(args, "%"+escapeLike(f.Search)+"%")
			clauses = append(clauses, fmt.Sprintf("document->>%s ILIKE $%d ESCAPE '\\'", quoteLiteral(field), len(args)))
		}
		where = append(where, "("+strings.Join(clauses, " OR ")+")")
	}
	if f.DateField != "" && (f.DateFrom != nil || f.DateTo != nil) {
		expr := fmt.Sprintf("(document->>%s)::timestamptz", quoteLiteral(f.DateField))
		if f.DateFrom != nil {
			args = append(args, *f.DateFrom)
			where = append(where, fmt.Sprintf("%s >= $%d", expr, len(args)))
		}
		if f.DateTo != nil {
			args = append(args, *f.DateTo)
			where = append(where, fmt.Sprintf("%s <= $%d", expr, len(args)))
		}
	}
	whereSQL := strings.Join(where, " AND ")

	countQ := "SELECT COUNT(*) FROM sheet_rows WHERE " + whereSQL
	var total int64
	if err := r.Pool.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("op=sheetrows.Find: %w", err)
	}

	orderSQL := "ORDER BY row_number"
	if f.SortField != "" {
		dir := "ASC"
		if f.SortDesc {
			dir = "DESC"
		}
		orderSQL = fmt.Sprintf("ORDER BY document->>%s %s", quoteLiteral(f.SortField), dir)
	}

	page, pageSize := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	args = append(args, pageSize, (page-1)*pageSize)
	q := fmt.Sprintf(`SELECT connection_id, row_number, document, raw_row, synced_at FROM sheet_rows
		WHERE %s %s LIMIT $%d OFFSET $%d`, whereSQL, orderSQL, len(args)-1, len(args))

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("op=sheetrows.Find: %w", err)
	}
	defer rows.Close()

	var out []domain.SheetRow
	for rows.Next() {
		var row domain.SheetRow
		var doc, raw []byte
		if err := rows.Scan(&row.ConnectionID, &row.RowNumber, &doc, &raw, &row.SyncedAt); err != nil {
			return nil, 0, fmt.Errorf("op=sheetrows.Find: %w", err)
		}
		if len(doc) > 0 {
			_ = json.Unmarshal(doc, &row.Document)
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &row.RawRow)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("op=sheetrows.Find: %w", err)
	}
	return out, total, nil
}

// Aggregate compiles stages (the same match/group/sort/limit shapes produced
// by internal/analytics's pipeline builders) into one SQL query over the
// connection's jsonb documents and returns each result row as a plain map.
func (r *SheetRowRepo) Aggregate(ctx domain.Context, connectionID string, stages []domain.Stage) ([]map[string]any, error) {
	tracer := otel.Tracer("repo.sheetrows")
	ctx, span := tracer.Start(ctx, "sheetrows.Aggregate")
	defer span.End()

	q, args, err := compileAggregate(connectionID, stages)
	if err != nil {
		return nil, fmt.Errorf("op=sheetrows.Aggregate: %w", err)
	}

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=sheetrows.Aggregate: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("op=sheetrows.Aggregate: %w", err)
		}
		result := make(map[string]any, len(vals))
		for i, v := range vals {
			result[string(fields[i].Name)] = v
		}
		out = append(out, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=sheetrows.Aggregate: %w", err)
	}
	return out, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

// quoteLiteral renders s as a single-quoted SQL string literal for embedding
// a field name into a jsonb ->> operator, doubling any embedded single quote.
// Field names come both from internal/analytics's strategy field tables and,
// through Aggregate, from the model-supplied arguments of internal/tools.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
