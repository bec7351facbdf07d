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

	"github.com/netfoxfrance-alt/valet-reserve-pro/cmd/billing/cli"
	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/app"
	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/billing"
	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/observability"
	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/platform/cache"
	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/platform/db"
	"github.com/netfoxfrance-alt/valet-reserve-pro/internal/shared"
	"github.com/netfoxfrance-alt/valet-reserve-pro/jobs"
	"github.com/netfoxfrance-alt/valet-reserve-pro/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		jobsCLI := cli.NewJobsCLI(redisOpts, cfg.ReconcileBatch)
		code := jobsCLI.Run(ctx, os.Args[2:], os.Stdout, os.Stderr)
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
		os.Exit(code)
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var numberer billing.Numberer = billing.NewPostgresNumberer(pool)
	if cfg.NumberingBackend == app.NumberingRedis {
		redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		numberer = billing.NewRedisNumberer(redisClient, "billing:seq")
	}

	metrics := observability.NewMetrics()

	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	service := billing.NewService(
		billing.NewPostgresRepository(pool),
		numberer,
		cfg.BillingConfig(),
		billing.WithLogger(logger),
		billing.WithMetrics(billing.NewMetrics(metrics.Registerer())),
		billing.WithReconciler(jobClient),
	)
	presenter := billing.NewPresenter(cfg.CurrencyLocale)

	pdfClient := report.NewClient(cfg.GotenbergURL)
	documentRenderer, err := report.NewDocumentRenderer(pdfClient, presenter, "")
	if err != nil {
		logger.Error("init document renderer", slog.Any("error", err))
		os.Exit(1)
	}

	billingHandler := billing.NewHandler(logger, service, presenter, documentRenderer)
	billingHandler.UseIdempotency(shared.NewIdempotencyStore(pool))
	reportHandler := report.NewHandler(pdfClient, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		BillingHandler: billingHandler,
		ReportHandler:  reportHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("numbering", cfg.NumberingBackend),
		)
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
