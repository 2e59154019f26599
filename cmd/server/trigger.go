package main

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/sheetsight/analytics-backend/internal/config"
	"github.com/sheetsight/analytics-backend/internal/domain"
)

// newTriggerSyncHandler builds the internal sync-trigger endpoint: it
// authenticates via a constant-time comparison against the configured API
// key, answers 202 immediately, and enqueues one sync task per sync-enabled
// connection in the background so the HTTP caller never waits on the queue.
func newTriggerSyncHandler(cfg config.Config, connRepo domain.ConnectionRepo, queue domain.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !validAPIKey(cfg.InternalAPIKey, r.Header.Get("X-Internal-Api-Key")) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		w.WriteHeader(http.StatusAccepted)

		// The request context is cancelled as soon as this handler returns, so
		// the background enqueue loop needs its own, uncancelled context.
		ctx := context.WithoutCancel(r.Context())
		go func() {
			conns, err := connRepo.ListEnabled(ctx)
			if err != nil {
				slog.Error("trigger-sync: list enabled connections failed", slog.String("error", err.Error()))
				return
			}
			for _, conn := range conns {
				task := domain.SyncTask{ConnectionID: conn.ID, UserID: conn.UserID}
				if _, err := queue.EnqueueSync(ctx, task); err != nil {
					slog.Error("trigger-sync: enqueue failed",
						slog.String("connection_id", conn.ID), slog.String("error", err.Error()))
				}
			}
		}()
	}
}

func validAPIKey(configured, provided string) bool {
	if configured == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(provided)) == 1
}
