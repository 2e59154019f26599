// Package stub provides a deterministic domain.SheetClient implementation
// used in dev and test environments where no Google service-account
// credentials are configured.
package stub

import (
	"context"
	"fmt"
	"strings"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

// Client answers every call from fixed, in-memory data with no network calls.
type Client struct {
	// Sheets maps a sheet ID to its tab names, used by GetMetadata/CheckAccess.
	Sheets map[string][]string
	// Rows maps "sheetID/tab" to the rows returned by GetValues, including the header row.
	Rows map[string][][]string
}

// New builds a stub client with a single default sheet containing one
// "orders" tab and a handful of sample rows.
func New() *Client {
	return &Client{
		Sheets: map[string][]string{"stub-sheet": {"orders"}},
		Rows: map[string][][]string{
			"stub-sheet/orders": {
				{"order_id", "order_date", "total_amount", "status"},
				{"1001", "2026-07-01", "150000", "completed"},
				{"1002", "2026-07-02", "89000", "completed"},
			},
		},
	}
}

func (c *Client) GetMetadata(_ context.Context, sheetID string) (domain.SheetMetadata, error) {
	tabs, ok := c.Sheets[sheetID]
	if !ok {
		return domain.SheetMetadata{}, fmt.Errorf("op=sheets.stub.GetMetadata: %w", domain.ErrNotFound)
	}
	return domain.SheetMetadata{Title: sheetID, Tabs: tabs}, nil
}

func (c *Client) GetValues(_ context.Context, sheetID, tab string, startRow int) ([][]string, error) {
	rows, ok := c.Rows[key(sheetID, tab)]
	if !ok {
		return nil, fmt.Errorf("op=sheets.stub.GetValues: %w", domain.ErrNotFound)
	}
	if startRow < 1 {
		startRow = 1
	}
	if startRow > len(rows) {
		return nil, nil
	}
	return rows[startRow-1:], nil
}

func (c *Client) CheckAccess(_ context.Context, sheetID string) (bool, error) {
	_, ok := c.Sheets[sheetID]
	return ok, nil
}

func key(sheetID, tab string) string {
	return strings.TrimSpace(sheetID) + "/" + strings.TrimSpace(tab)
}
