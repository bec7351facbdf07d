package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/app"
	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/billing"
	jobmetrics "github.com/netfoxfrance-alt/valet-reserve-pro/internal/jobs"
	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/platform/db"
	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/shared"
	"github.com/netfoxfrance-alt/valet-reserve-pro/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Reconcile never allocates numbers.
	service := billing.NewService(
		billing.NewPostgresRepository(pool),
		billing.NewPostgresNumberer(pool),
		cfg.BillingConfig(),
		billing.WithLogger(logger),
	)
	jobMetrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)
	reconcileJob := jobs.NewReconcileJob(service, logger, jobMetrics)
	cleanupJob := jobs.NewCleanupJob(shared.NewIdempotencyStore(pool), logger, jobMetrics)

	sweepTask, err := jobs.NewReconcileSweepTask(cfg.ReconcileBatch, 0)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBillingReconcile, Handler: reconcileJob.HandleDocument},
			{Type: jobs.TaskBillingReconcileSweep, Handler: reconcileJob.HandleSweep},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 4 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.Int("concurrency", cfg.WorkerConcurrency), slog.String("sweep", cfg.ReconcileCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
