package crawler

import (
	"strconv"
	"strings"
	"time"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

// dateLayouts are tried in order when coercing a cell to DataTypeDate.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
}

// coerceValue converts a raw cell string to the Go value matching dt. On
// failure it returns the original string unchanged — coercion failure is
// never fatal to a sync, per spec.
func coerceValue(raw string, dt domain.DataType) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	switch dt {
	case domain.DataTypeNumber:
		if v, err := strconv.ParseFloat(normalizeNumeric(trimmed), 64); err == nil {
			return v
		}
		return raw
	case domain.DataTypeInteger:
		if v, err := strconv.ParseInt(normalizeNumeric(trimmed), 10, 64); err == nil {
			return v
		}
		if f, err := strconv.ParseFloat(normalizeNumeric(trimmed), 64); err == nil {
			return int64(f)
		}
		return raw
	case domain.DataTypeDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t
			}
		}
		return raw
	case domain.DataTypeString:
		return raw
	default:
		return raw
	}
}

// normalizeNumeric strips thousands separators and currency symbols commonly
// found in seller-maintained spreadsheets.
func normalizeNumeric(s string) string {
	replacer := strings.NewReplacer(",", "", "$", "", "₫", "", " ", "")
	return replacer.Replace(s)
}
