// Command server runs the HTTP-facing process: the internal sync trigger
// endpoint plus health, readiness, and metrics surfaces.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sheetsight/analytics-backend/internal/adapter/observability"
	asynqadp "github.com/sheetsight/analytics-backend/internal/adapter/queue/asynq"
	"github.com/sheetsight/analytics-backend/internal/adapter/repo/postgres"
	"github.com/sheetsight/analytics-backend/internal/app"
	"github.com/sheetsight/analytics-backend/internal/config"
	"github.com/sheetsight/analytics-backend/internal/domain"
)

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx domain.Context) error { return p.rdb.Ping(ctx).Err() }

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	cacheOpt, err := redis.ParseURL(cfg.CacheURL)
	if err != nil {
		slog.Error("invalid cache redis url", slog.Any("error", err))
		os.Exit(1)
	}
	cacheRDB := redis.NewClient(cacheOpt)
	defer cacheRDB.Close()

	connRepo := postgres.NewConnectionRepo(pool)

	// The analytics engine, chat workflow, and notifier's subscribing handle
	// are consumed by the WebSocket gateway, a separate process this binary
	// does not host. This process exposes only the one controller it owns:
	// the trigger endpoint below.

	queue, err := asynqadp.New(cfg.QueueRedisURL)
	if err != nil {
		slog.Error("queue connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	triggerHandler := newTriggerSyncHandler(cfg, connRepo, queue)
	dbCheck, cacheCheck, sheetsCheck := app.BuildReadinessChecks(cfg, pool, redisPinger{cacheRDB})

	handler := app.BuildRouter(cfg, app.RouterDeps{
		TriggerSyncHandler: triggerHandler,
		DBCheck:            dbCheck,
		CacheCheck:         cacheCheck,
		SheetsCheck:        sheetsCheck,
	})

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
