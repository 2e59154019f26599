// Command worker runs the asynq consumer process: it pulls sync tasks off
// the shared Redis-backed queue, runs the rate-limited crawl procedure for
// each enabled connection, and publishes progress events over the notifier's
// write-only handle.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sheetsight/analytics-backend/internal/adapter/cache"
	"github.com/sheetsight/analytics-backend/internal/adapter/observability"
	asynqadp "github.com/sheetsight/analytics-backend/internal/adapter/queue/asynq"
	"github.com/sheetsight/analytics-backend/internal/adapter/repo/postgres"
	sheetsreal "github.com/sheetsight/analytics-backend/internal/adapter/sheets/real"
	sheetsstub "github.com/sheetsight/analytics-backend/internal/adapter/sheets/stub"
	"github.com/sheetsight/analytics-backend/internal/config"
	"github.com/sheetsight/analytics-backend/internal/crawler"
	"github.com/sheetsight/analytics-backend/internal/domain"
	"github.com/sheetsight/analytics-backend/internal/notifier"
	"github.com/sheetsight/analytics-backend/internal/service/ratelimiter"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
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

	brokerOpt, err := redis.ParseURL(cfg.BrokerURL)
	if err != nil {
		slog.Error("invalid broker redis url", slog.Any("error", err))
		os.Exit(1)
	}
	brokerRDB := redis.NewClient(brokerOpt)
	defer brokerRDB.Close()

	connRepo := postgres.NewConnectionRepo(pool)
	syncStateRepo := postgres.NewSyncStateRepo(pool)
	rowRepo := postgres.NewSheetRowRepo(pool)

	analyticsCache := cache.New(cacheRDB, 1000)
	writerNotifier := notifier.NewWriterOnly(brokerRDB)

	sheetsClient, err := newSheetsClient(cfg)
	if err != nil {
		slog.Error("sheets client init failed", slog.Any("error", err))
		os.Exit(1)
	}

	limiter := ratelimiter.NewCompositeLimiter(cfg.RateLimiterSafetyFactor, map[string]ratelimiter.BucketConfig{
		"read":  ratelimiter.NewBucketConfigFromPerMinute(cfg.SheetsReadPerMinute),
		"write": ratelimiter.NewBucketConfigFromPerMinute(cfg.SheetsWritePerMinute),
	})

	crawlerSvc := crawler.NewService(syncStateRepo, rowRepo, sheetsClient, limiter, analyticsCache, writerNotifier, cfg.AnalyticsCachePrefix)

	queue, err := asynqadp.New(cfg.QueueRedisURL)
	if err != nil {
		slog.Error("queue client init failed", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := asynqadp.NewWorker(cfg.QueueRedisURL, cfg.SyncWorkerConcurrency, connRepo, syncStateRepo, queue, limiter, crawlerSvc, writerNotifier)
	if err != nil {
		slog.Error("worker init failed", slog.Any("error", err))
		os.Exit(1)
	}

	go func() {
		slog.Info("starting asynq consumer")
		if err := worker.Start(); err != nil {
			slog.Error("worker error", slog.Any("error", err))
		}
	}()

	slog.Info("worker started successfully, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	worker.Stop()
	slog.Info("worker stopped")
}

// newSheetsClient selects the stub implementation when no Google service
// account is configured (dev/test), and the real Sheets API client otherwise.
func newSheetsClient(cfg config.Config) (domain.SheetClient, error) {
	if cfg.SheetsServiceAccountEmail == "" || cfg.SheetsPrivateKey == "" {
		slog.Info("no sheets service account configured, using stub sheets client")
		return sheetsstub.New(), nil
	}
	return sheetsreal.New(cfg.SheetsAPIBaseURL, cfg.SheetsServiceAccountEmail, cfg.SheetsPrivateKey, cfg.GetLLMBackoffConfig)
}
