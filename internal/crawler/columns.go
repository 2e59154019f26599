package crawler

import (
	"strings"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

// columnLetterToIndex converts a spreadsheet column letter (A, B, ..., Z, AA,
// AB, ...) to a zero-based index (A=0, B=1, ..., AA=26).
func columnLetterToIndex(letter string) (int, bool) {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if letter == "" {
		return 0, false
	}
	idx := 0
	for _, r := range letter {
		if r < 'A' || r > 'Z' {
			return 0, false
		}
		idx = idx*26 + int(r-'A'+1)
	}
	return idx - 1, true
}

// isColumnLetter reports whether s looks like a pure column-letter reference
// rather than a header name. Sheet columns run from A to ZZZ, so a run of
// more than three letters (e.g. "Total") is taken as a header name.
func isColumnLetter(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' && r < 'a' {
			return false
		}
		if !((r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}

// resolvedColumn is a column mapping with its sheet column already resolved
// to a zero-based cell index.
type resolvedColumn struct {
	domain.ColumnMapping
	index int
}

// resolveColumns binds each mapping's SheetColumn (a letter or a header
// name) to a concrete zero-based index using headerRow, the raw cell values
// of the sheet's header row. Duplicate header-name matches are rejected per
// ErrAmbiguousHeaderColumn; unmatched required header names are rejected per
// ErrMissingRequiredColumn.
func resolveColumns(mappings []domain.ColumnMapping, headerRow []string) ([]resolvedColumn, error) {
	headerIndex := make(map[string][]int, len(headerRow))
	for i, h := range headerRow {
		key := strings.TrimSpace(h)
		headerIndex[key] = append(headerIndex[key], i)
	}

	resolved := make([]resolvedColumn, 0, len(mappings))
	for _, m := range mappings {
		if isColumnLetter(m.SheetColumn) {
			idx, ok := columnLetterToIndex(m.SheetColumn)
			if !ok {
				if m.Required {
					return nil, domain.ErrMissingRequiredColumn
				}
				continue
			}
			resolved = append(resolved, resolvedColumn{ColumnMapping: m, index: idx})
			continue
		}

		matches := headerIndex[strings.TrimSpace(m.SheetColumn)]
		switch len(matches) {
		case 0:
			if m.Required {
				return nil, domain.ErrMissingRequiredColumn
			}
		case 1:
			resolved = append(resolved, resolvedColumn{ColumnMapping: m, index: matches[0]})
		default:
			return nil, domain.ErrAmbiguousHeaderColumn
		}
	}
	return resolved, nil
}

// cellAt returns the raw cell value at idx, or "" if the row is shorter.
func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// rowNumberFromOffset derives the 1-based sheet row number for a row at
// position offset (0-based) within a batch that started at startRow.
func rowNumberFromOffset(startRow, offset int) int {
	return startRow + offset
}
