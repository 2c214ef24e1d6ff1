package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/meridian-pos/meridian/internal/app"
	meridiancache "github.com/meridian-pos/meridian/internal/cache"
	"github.com/meridian-pos/meridian/internal/catalog"
	"github.com/meridian-pos/meridian/internal/observability"
	platformcache "github.com/meridian-pos/meridian/internal/platform/cache"
	"github.com/meridian-pos/meridian/internal/platform/db"
	"github.com/meridian-pos/meridian/internal/quota"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
	"github.com/meridian-pos/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := platformcache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	metrics.Registerer().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	runner := db.NewRunner(pool, cfg.TxAttempts)
	runner.SetRetryHook(metrics.RecordTxRetry)

	cacheManager := meridiancache.NewManager(meridiancache.Config{
		ShortTTL:  cfg.CacheShortTTL,
		MediumTTL: cfg.CacheMediumTTL,
		LongTTL:   cfg.CacheLongTTL,
	}, metrics)

	limiter := quota.NewLimiter(redisClient, quota.Limits{
		OperationsPerMinute: cfg.QuotaOpsPerMinute,
		AdjustmentsPerDay:   cfg.QuotaAdjustmentsPerDay,
		MaxBatchSize:        cfg.QuotaMaxBatchSize,
		MaxConcurrentTx:     cfg.QuotaConcurrentTx,
	}, metrics)
	limiter.ApplyOverrides(cfg.QuotaOpsOverrides, cfg.QuotaDailyOverrides)

	idempotencyStore := shared.NewIdempotencyStore(pool)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	notifier := jobs.NewLowStockNotifier(jobClient)
	jobsHandler := jobs.NewHandler(asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr}), logger)

	catalogRepo := catalog.NewRepository(pool)
	stockRepo := stock.NewRepository(runner)
	engine := stock.NewEngine(logger, stockRepo, catalogRepo, limiter, cacheManager, idempotencyStore, notifier, metrics, stock.EngineConfig{
		MaxBatchItems:    int(cfg.QuotaMaxBatchSize),
		BatchChunkSize:   cfg.BatchChunkSize,
		BatchConcurrency: cfg.BatchConcurrency,
	})
	stockHandler := stock.NewHandler(logger, engine)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		StockHandler: stockHandler,
		JobsHandler:  jobsHandler,
		Pool:         pool,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
