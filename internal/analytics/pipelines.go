package analytics

import (
	"time"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

// TimePeriod is the truncation granularity for a time-series request.
type TimePeriod string

// Recognized time-series truncation periods.
const (
	PeriodDay   TimePeriod = "day"
	PeriodWeek  TimePeriod = "week"
	PeriodMonth TimePeriod = "month"
	PeriodYear  TimePeriod = "year"
)

// dateRangeMatchStage builds a $match-style stage restricting field to
// [from, to] inclusive, or nil if both bounds are unset.
func dateRangeMatchStage(field string, from, to *time.Time) domain.Stage {
	if from == nil && to == nil {
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

// summaryPipeline builds the strategy-specific summary aggregation, shaped
// differently per sheet type.
func summaryPipeline(st domain.SheetType, dateFilterField string, from, to *time.Time) []domain.Stage {
	stages := []domain.Stage{}
	if dateFilterField != "" {
		if match := dateRangeMatchStage(dateFilterField, from, to); match != nil {
			stages = append(stages, match)
		}
	}

	switch st {
	case domain.SheetTypeOrders:
		stages = append(stages, domain.Stage{"group": map[string]any{
			"_id":          nil,
			"total_count":  map[string]any{"$sum": 1},
			"total_amount": map[string]any{"$sum": "$total_amount"},
			"avg_amount":   map[string]any{"$avg": "$total_amount"},
		}})
	case domain.SheetTypeOrderItems:
		stages = append(stages, domain.Stage{"group": map[string]any{
			"_id":             nil,
			"total_quantity":  map[string]any{"$sum": "$quantity"},
			"total_line_total": map[string]any{"$sum": "$line_total"},
			"unique_products": map[string]any{"$addToSetCount": "$product_name"},
		}})
	default:
		stages = append(stages, domain.Stage{"group": map[string]any{
			"_id":         nil,
			"total_count": map[string]any{"$sum": 1},
		}})
	}
	return stages
}

// timeSeriesPipeline groups by the truncated order_date per period and emits
// (date, count, total_amount), ordered ascending by date. Truncation rules:
// week starts Monday, month sets day=1, year sets month=day=1.
func timeSeriesPipeline(from, to time.Time, period TimePeriod) []domain.Stage {
	return []domain.Stage{
		dateRangeMatchStage("order_date", &from, &to),
		{"group": map[string]any{
			"_id":          map[string]any{"$dateTrunc": map[string]any{"field": "$order_date", "unit": string(period), "weekStartsOn": "monday"}},
			"count":        map[string]any{"$sum": 1},
			"total_amount": map[string]any{"$sum": "$total_amount"},
		}},
		{"sort": map[string]any{"_id": 1}},
	}
}

// distributionPipeline groups by field and counts, leaving percentage
// computation to the caller (it needs the grand total across all groups).
func distributionPipeline(field string) []domain.Stage {
	return []domain.Stage{
		{"group": map[string]any{
			"_id":   "$" + field,
			"count": map[string]any{"$sum": 1},
		}},
		{"sort": map[string]any{"count": -1}},
	}
}

// topPipeline sorts by the chosen metric descending and caps at limit.
func topPipeline(groupField, metric string, limit int) []domain.Stage {
	var metricExpr any
	switch metric {
	case "amount":
		metricExpr = map[string]any{"$sum": "$total_amount"}
	case "quantity":
		metricExpr = map[string]any{"$sum": "$quantity"}
	default:
		metricExpr = map[string]any{"$sum": 1}
	}
	return []domain.Stage{
		{"group": map[string]any{"_id": "$" + groupField, "value": metricExpr}},
		{"sort": map[string]any{"value": -1}},
		{"limit": limit},
	}
}

// TruncateDate applies the period's truncation rule to t, in UTC.
func TruncateDate(t time.Time, period TimePeriod) time.Time {
	t = t.UTC()
	switch period {
	case PeriodWeek:
		weekday := int(t.Weekday())
		// time.Weekday: Sunday=0; shift so Monday=0.
		daysFromMonday := (weekday + 6) % 7
		d := t.AddDate(0, 0, -daysFromMonday)
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case PeriodYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}
