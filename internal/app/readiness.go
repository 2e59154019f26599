// Package app wires HTTP routing, readiness checks, and startup helpers for
// cmd/server.
package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sheetsight/analytics-backend/internal/config"
	"github.com/sheetsight/analytics-backend/internal/domain"
)

// Pinger is the minimal interface for a connection pool capable of Ping.
type Pinger interface {
	Ping(ctx domain.Context) error
}

// BuildReadinessChecks returns three readiness checks: Postgres, Redis (used
// for queue/cache/broker alike), and the configured Sheets API endpoint.
func BuildReadinessChecks(cfg config.Config, db Pinger, cache Pinger) (
	func(ctx domain.Context) error,
	func(ctx domain.Context) error,
	func(ctx domain.Context) error,
) {
	dbCheck := func(ctx domain.Context) error {
		if db == nil {
			return fmt.Errorf("db not configured")
		}
		return db.Ping(ctx)
	}
	cacheCheck := func(ctx domain.Context) error {
		if cache == nil {
			return fmt.Errorf("cache not configured")
		}
		return cache.Ping(ctx)
	}
	sheetsCheck := func(ctx domain.Context) error {
		if cfg.SheetsAPIBaseURL == "" {
			return fmt.Errorf("sheets api base url not configured")
		}
		client := &http.Client{Timeout: 2 * time.Second}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.SheetsAPIBaseURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		// The bare base URL with no auth returns 401/404 from a reachable Sheets
		// API; only a transport-level failure or 5xx means "not ready".
		if resp.StatusCode >= 500 {
			return fmt.Errorf("sheets api status %d", resp.StatusCode)
		}
		return nil
	}
	return dbCheck, cacheCheck, sheetsCheck
}
