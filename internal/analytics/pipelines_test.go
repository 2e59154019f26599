package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTruncateDate_Day(t *testing.T) {
	d := time.Date(2026, 7, 31, 15, 30, 0, 0, time.UTC)
	got := TruncateDate(d, PeriodDay)
	assert.Equal(t, time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), got)
}

func TestTruncateDate_WeekStartsMonday(t *testing.T) {
	// 2026-07-31 is a Friday.
	d := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	got := TruncateDate(d, PeriodWeek)
	assert.Equal(t, time.Monday, got.Weekday())
	assert.Equal(t, 27, got.Day())
}

func TestTruncateDate_Month(t *testing.T) {
	d := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	got := TruncateDate(d, PeriodMonth)
	assert.Equal(t, 1, got.Day())
	assert.Equal(t, time.July, got.Month())
}

func TestTruncateDate_Year(t *testing.T) {
	d := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	got := TruncateDate(d, PeriodYear)
	assert.Equal(t, time.January, got.Month())
	assert.Equal(t, 1, got.Day())
}

func TestSummaryPipeline_OrdersIncludesDateMatch(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	stages := summaryPipeline("orders", "order_date", &from, &to)
	assert.Len(t, stages, 2)
	assert.Contains(t, stages[0], "match")
}

func TestSummaryPipeline_CustomersSkipsDateMatch(t *testing.T) {
	stages := summaryPipeline("customers", "", nil, nil)
	assert.Len(t, stages, 1)
	assert.Contains(t, stages[0], "group")
}

func TestTopPipeline_MetricSelection(t *testing.T) {
	stages := topPipeline("platform", "amount", 5)
	assert.Len(t, stages, 3)
	assert.Equal(t, 5, stages[2]["limit"])
}
