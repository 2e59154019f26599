package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

func TestCoerceValue_String(t *testing.T) {
	assert.Equal(t, "hello", coerceValue("hello", domain.DataTypeString))
}

func TestCoerceValue_Number(t *testing.T) {
	assert.Equal(t, 12.5, coerceValue("12.5", domain.DataTypeNumber))
	assert.Equal(t, 1234.0, coerceValue("1,234", domain.DataTypeNumber))
	assert.Equal(t, 99.99, coerceValue("$99.99", domain.DataTypeNumber))
}

func TestCoerceValue_Integer(t *testing.T) {
	assert.Equal(t, int64(42), coerceValue("42", domain.DataTypeInteger))
	assert.Equal(t, int64(1000), coerceValue("1,000", domain.DataTypeInteger))
}

func TestCoerceValue_Date(t *testing.T) {
	got := coerceValue("2026-07-31", domain.DataTypeDate)
	tm, ok := got.(time.Time)
	assert.True(t, ok)
	assert.Equal(t, 2026, tm.Year())
	assert.Equal(t, time.July, tm.Month())
	assert.Equal(t, 31, tm.Day())
}

func TestCoerceValue_FailureReturnsOriginalString(t *testing.T) {
	assert.Equal(t, "not-a-number", coerceValue("not-a-number", domain.DataTypeNumber))
	assert.Equal(t, "not-a-date", coerceValue("not-a-date", domain.DataTypeDate))
}

func TestCoerceValue_EmptyReturnsEmptyString(t *testing.T) {
	assert.Equal(t, "", coerceValue("   ", domain.DataTypeNumber))
}
