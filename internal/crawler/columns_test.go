package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

func TestColumnLetterToIndex(t *testing.T) {
	cases := map[string]int{
		"A":  0,
		"B":  1,
		"Z":  25,
		"AA": 26,
		"AB": 27,
	}
	for letter, want := range cases {
		got, ok := columnLetterToIndex(letter)
		assert.True(t, ok, letter)
		assert.Equal(t, want, got, letter)
	}

	_, ok := columnLetterToIndex("")
	assert.False(t, ok)
}

func TestIsColumnLetter(t *testing.T) {
	assert.True(t, isColumnLetter("A"))
	assert.True(t, isColumnLetter("aa"))
	assert.False(t, isColumnLetter("Order Total"))
	assert.False(t, isColumnLetter(""))
}

func TestResolveColumns_LetterMapping(t *testing.T) {
	mappings := []domain.ColumnMapping{
		{SystemField: "order_id", SheetColumn: "A", DataType: domain.DataTypeString, Required: true},
		{SystemField: "total", SheetColumn: "C", DataType: domain.DataTypeNumber},
	}
	resolved, err := resolveColumns(mappings, nil)
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	assert.Equal(t, 0, resolved[0].index)
	assert.Equal(t, 2, resolved[1].index)
}

func TestResolveColumns_HeaderNameMapping(t *testing.T) {
	header := []string{"Order ID", "Customer", "Total"}
	mappings := []domain.ColumnMapping{
		{SystemField: "total", SheetColumn: "Total", DataType: domain.DataTypeNumber, Required: true},
	}
	resolved, err := resolveColumns(mappings, header)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, 2, resolved[0].index)
}

func TestResolveColumns_MissingRequiredHeaderFails(t *testing.T) {
	header := []string{"Order ID", "Customer"}
	mappings := []domain.ColumnMapping{
		{SystemField: "total", SheetColumn: "Total", DataType: domain.DataTypeNumber, Required: true},
	}
	_, err := resolveColumns(mappings, header)
	require.ErrorIs(t, err, domain.ErrMissingRequiredColumn)
}

func TestResolveColumns_MissingOptionalHeaderSkipped(t *testing.T) {
	header := []string{"Order ID"}
	mappings := []domain.ColumnMapping{
		{SystemField: "notes", SheetColumn: "Notes", DataType: domain.DataTypeString, Required: false},
	}
	resolved, err := resolveColumns(mappings, header)
	require.NoError(t, err)
	assert.Empty(t, resolved)
}

func TestResolveColumns_AmbiguousHeaderFails(t *testing.T) {
	header := []string{"Total", "Subtotal", "Total"}
	mappings := []domain.ColumnMapping{
		{SystemField: "total", SheetColumn: "Total", DataType: domain.DataTypeNumber, Required: true},
	}
	_, err := resolveColumns(mappings, header)
	require.ErrorIs(t, err, domain.ErrAmbiguousHeaderColumn)
}

func TestCellAt_OutOfRangeReturnsEmpty(t *testing.T) {
	row := []string{"a", "b"}
	assert.Equal(t, "a", cellAt(row, 0))
	assert.Equal(t, "", cellAt(row, 5))
	assert.Equal(t, "", cellAt(row, -1))
}

func TestRowNumberFromOffset(t *testing.T) {
	assert.Equal(t, 10, rowNumberFromOffset(10, 0))
	assert.Equal(t, 13, rowNumberFromOffset(10, 3))
}
