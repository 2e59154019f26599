// Package analytics implements the per-sheet-type aggregation engine: four
// strategies (orders, order_items, customers, products) sharing a cached
// summary/time-series/distribution/top/data surface.
package analytics

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/sheetsight/analytics-backend/internal/adapter/observability"
	"github.com/sheetsight/analytics-backend/internal/domain"
)

// Engine serves the five analytics operations over a connection's rows,
// delegating the shape of each response to the connection's strategy.
type Engine struct {
	rows        domain.SheetRowRepo
	cache       domain.Cache
	registry    *registry
	cachePrefix string
	cacheTTL    time.Duration
}

// New constructs an Engine. cache may be nil, in which case results are
// never cached.
func New(rows domain.SheetRowRepo, cache domain.Cache, cachePrefix string, cacheTTL time.Duration) (*Engine, error) {
	reg, err := newRegistry()
	if err != nil {
		return nil, fmt.Errorf("op=analytics.New: %w", err)
	}
	return &Engine{rows: rows, cache: cache, registry: reg, cachePrefix: cachePrefix, cacheTTL: cacheTTL}, nil
}

func (e *Engine) strategyFor(conn domain.Connection) *Strategy {
	return e.registry.forTabName(conn.TabName)
}

func (e *Engine) cacheKey(endpoint string, conn domain.Connection, params any) string {
	b, _ := json.Marshal(params)
	sum := sha1.Sum(b)
	return fmt.Sprintf("%s:%s:%s:%s", e.cachePrefix, conn.ID, endpoint, hex.EncodeToString(sum[:]))
}

func (e *Engine) getCached(ctx context.Context, endpoint, key string, out any) bool {
	if e.cache == nil {
		return false
	}
	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil || !ok {
		observability.RecordCacheMiss(endpoint)
		return false
	}
	if json.Unmarshal([]byte(raw), out) != nil {
		return false
	}
	observability.RecordCacheHit(endpoint)
	return true
}

func (e *Engine) setCached(ctx context.Context, key string, value any) {
	if e.cache == nil {
		return
	}
	b, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = e.cache.SetEX(ctx, key, int(e.cacheTTL.Seconds()), string(b))
}

// SummaryResult is the type-specific summary shape; unpopulated fields are
// omitted when serialized.
type SummaryResult struct {
	TotalCount      int64    `json:"total_count"`
	TotalAmount     *float64 `json:"total_amount,omitempty"`
	AvgAmount       *float64 `json:"avg_amount,omitempty"`
	TotalQuantity   *float64 `json:"total_quantity,omitempty"`
	TotalLineTotal  *float64 `json:"total_line_total,omitempty"`
	UniqueProducts  *int64   `json:"unique_products,omitempty"`
}

// Summary runs the connection strategy's summary pipeline, cached.
func (e *Engine) Summary(ctx context.Context, conn domain.Connection, dateFrom, dateTo *time.Time) (SummaryResult, error) {
	strat := e.strategyFor(conn)
	if strat.DateFilterField != "" && dateFrom != nil && dateTo != nil && dateFrom.After(*dateTo) {
		return SummaryResult{}, domain.ErrBadRange
	}

	key := e.cacheKey("summary", conn, []any{dateFrom, dateTo})
	var cached SummaryResult
	if e.getCached(ctx, "summary", key, &cached) {
		return cached, nil
	}

	stages := summaryPipeline(strat.SheetType, strat.DateFilterField, dateFrom, dateTo)
	rowsOut, err := e.rows.Aggregate(ctx, conn.ID, stages)
	if err != nil {
		return SummaryResult{}, fmt.Errorf("op=analytics.Summary: %w", err)
	}

	result := parseSummaryRow(strat.SheetType, rowsOut)
	e.setCached(ctx, key, result)
	return result, nil
}

func parseSummaryRow(st domain.SheetType, rows []map[string]any) SummaryResult {
	if len(rows) == 0 {
		return SummaryResult{}
	}
	row := rows[0]
	result := SummaryResult{TotalCount: toInt64(row["total_count"])}
	switch st {
	case domain.SheetTypeOrders:
		amt := toFloat64(row["total_amount"])
		avg := toFloat64(row["avg_amount"])
		result.TotalAmount = &amt
		result.AvgAmount = &avg
	case domain.SheetTypeOrderItems:
		qty := toFloat64(row["total_quantity"])
		lineTotal := toFloat64(row["total_line_total"])
		unique := toInt64(row["unique_products"])
		result.TotalQuantity = &qty
		result.TotalLineTotal = &lineTotal
		result.UniqueProducts = &unique
	}
	return result
}

// TimeSeriesPoint is one bucket of a time-series response.
type TimeSeriesPoint struct {
	Date        time.Time `json:"date"`
	Count       *int64    `json:"count,omitempty"`
	TotalAmount *float64  `json:"total_amount,omitempty"`
}

// TimeSeries groups orders by truncated order_date between dateFrom and
// dateTo inclusive. Only the orders strategy supports this operation.
func (e *Engine) TimeSeries(ctx context.Context, conn domain.Connection, dateFrom, dateTo time.Time, period TimePeriod, metrics []string) ([]TimeSeriesPoint, error) {
	strat := e.strategyFor(conn)
	if !strat.SupportsTimeSeries {
		return nil, domain.ErrFeatureUnsupported
	}
	if dateFrom.After(dateTo) {
		return nil, domain.ErrBadRange
	}

	key := e.cacheKey("time-series", conn, []any{dateFrom, dateTo, period, metrics})
	var cached []TimeSeriesPoint
	if e.getCached(ctx, "time-series", key, &cached) {
		return cached, nil
	}

	stages := timeSeriesPipeline(dateFrom, dateTo, period)
	rowsOut, err := e.rows.Aggregate(ctx, conn.ID, stages)
	if err != nil {
		return nil, fmt.Errorf("op=analytics.TimeSeries: %w", err)
	}

	wantCount := contains(metrics, "count") || len(metrics) == 0
	wantAmount := contains(metrics, "total_amount") || len(metrics) == 0

	points := make([]TimeSeriesPoint, 0, len(rowsOut))
	seen := map[string]struct{}{}
	for _, row := range rowsOut {
		d, ok := row["_id"].(time.Time)
		if !ok {
			continue
		}
		dKey := d.Format(time.RFC3339)
		if _, dup := seen[dKey]; dup {
			continue
		}
		seen[dKey] = struct{}{}
		point := TimeSeriesPoint{Date: d}
		if wantCount {
			c := toInt64(row["count"])
			point.Count = &c
		}
		if wantAmount {
			a := toFloat64(row["total_amount"])
			point.TotalAmount = &a
		}
		points = append(points, point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	e.setCached(ctx, key, points)
	return points, nil
}

// DistributionBucket is one value's share of a distribution response.
type DistributionBucket struct {
	Value      string  `json:"value"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Distribution groups rows by field and reports each value's share, summing
// to 100.0 within a 0.1 tolerance.
func (e *Engine) Distribution(ctx context.Context, conn domain.Connection, field string) ([]DistributionBucket, error) {
	strat := e.strategyFor(conn)
	if !strat.SupportsDistribution {
		return nil, domain.ErrFeatureUnsupported
	}
	if !strat.isDistribution(field) {
		return nil, domain.ErrFieldUnsupported
	}

	key := e.cacheKey("distribution", conn, field)
	var cached []DistributionBucket
	if e.getCached(ctx, "distribution", key, &cached) {
		return cached, nil
	}

	rowsOut, err := e.rows.Aggregate(ctx, conn.ID, distributionPipeline(field))
	if err != nil {
		return nil, fmt.Errorf("op=analytics.Distribution: %w", err)
	}

	var total int64
	buckets := make([]DistributionBucket, 0, len(rowsOut))
	for _, row := range rowsOut {
		c := toInt64(row["count"])
		total += c
		buckets = append(buckets, DistributionBucket{Value: fmt.Sprint(row["_id"]), Count: c})
	}
	for i := range buckets {
		if total > 0 {
			buckets[i].Percentage = math.Round(float64(buckets[i].Count)/float64(total)*1000) / 10
		}
	}
	normalizeDistributionRounding(buckets)

	e.setCached(ctx, key, buckets)
	return buckets, nil
}

// normalizeDistributionRounding nudges the largest bucket's percentage so
// the set sums to exactly 100.0 despite independent per-bucket rounding.
func normalizeDistributionRounding(buckets []DistributionBucket) {
	if len(buckets) == 0 {
		return
	}
	var sum float64
	largest := 0
	for i, b := range buckets {
		sum += b.Percentage
		if b.Count > buckets[largest].Count {
			largest = i
		}
	}
	diff := math.Round((100-sum)*10) / 10
	if diff != 0 {
		buckets[largest].Percentage = math.Round((buckets[largest].Percentage+diff)*10) / 10
	}
}

// TopEntry is one ranked entry in a top-N response.
type TopEntry struct {
	Value string  `json:"value"`
	Score float64 `json:"score"`
}

// Top sorts by the chosen metric descending, capped at limit (default 10,
// clamped to [1, 50]).
func (e *Engine) Top(ctx context.Context, conn domain.Connection, field, metric string, limit int) ([]TopEntry, error) {
	strat := e.strategyFor(conn)
	if !strat.SupportsTop {
		return nil, domain.ErrFeatureUnsupported
	}
	if !strat.isTopField(field) {
		return nil, domain.ErrFieldUnsupported
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	key := e.cacheKey("top", conn, []any{field, metric, limit})
	var cached []TopEntry
	if e.getCached(ctx, "top", key, &cached) {
		return cached, nil
	}

	rowsOut, err := e.rows.Aggregate(ctx, conn.ID, topPipeline(field, metric, limit))
	if err != nil {
		return nil, fmt.Errorf("op=analytics.Top: %w", err)
	}

	entries := make([]TopEntry, 0, len(rowsOut))
	for _, row := range rowsOut {
		entries = append(entries, TopEntry{Value: fmt.Sprint(row["_id"]), Score: toFloat64(row["value"])})
	}
	e.setCached(ctx, key, entries)
	return entries, nil
}

// DataPage is the paginated raw-document response for the data operation.
type DataPage struct {
	Data       []map[string]any `json:"data"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

// DataQuery captures the optional filters for the data operation.
type DataQuery struct {
	Search    string
	SortField string
	SortDesc  bool
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
}

// Data returns paginated raw documents, optionally filtered by a substring
// search across the strategy's searchable fields, sorted by a sortable
// field, and date-range filtered (orders only).
func (e *Engine) Data(ctx context.Context, conn domain.Connection, q DataQuery) (DataPage, error) {
	strat := e.strategyFor(conn)
	if q.SortField != "" && !strat.isSortable(q.SortField) {
		return DataPage{}, domain.ErrFieldUnsupported
	}
	if (q.DateFrom != nil || q.DateTo != nil) && strat.DateFilterField == "" {
		return DataPage{}, domain.ErrFeatureUnsupported
	}
	if q.DateFrom != nil && q.DateTo != nil && q.DateFrom.After(*q.DateTo) {
		return DataPage{}, domain.ErrBadRange
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 20
	}
	if q.PageSize > 100 {
		q.PageSize = 100
	}

	filter := domain.RowFilter{
		Search:       escapeForSubstringMatch(q.Search),
		SearchFields: strat.SearchableFields,
		SortField:    q.SortField,
		SortDesc:     q.SortDesc,
		DateField:    strat.DateFilterField,
		DateFrom:     q.DateFrom,
		DateTo:       q.DateTo,
		Page:         q.Page,
		PageSize:     q.PageSize,
	}

	rows, total, err := e.rows.Find(ctx, conn.ID, filter)
	if err != nil {
		return DataPage{}, fmt.Errorf("op=analytics.Data: %w", err)
	}

	docs := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.Document)
	}

	return DataPage{
		Data:       docs,
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(q.PageSize))),
	}, nil
}

var regexMetaChars = regexp.MustCompile(`[.+*?()|\[\]{}^$\\]`)

// escapeForSubstringMatch escapes regex metacharacters so a user-supplied
// search string is always treated as a literal substring.
func escapeForSubstringMatch(s string) string {
	if s == "" {
		return ""
	}
	return regexMetaChars.ReplaceAllStringFunc(s, func(m string) string { return "\\" + m })
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}
