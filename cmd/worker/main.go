package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/asgl-platform/docchat/internal/app"
	"github.com/asgl-platform/docchat/internal/auth"
	"github.com/asgl-platform/docchat/internal/credits"
	jobmetrics "github.com/asgl-platform/docchat/internal/jobs"
	"github.com/asgl-platform/docchat/internal/platform/db"
	"github.com/asgl-platform/docchat/internal/rbac"
	"github.com/asgl-platform/docchat/internal/shared"
	"github.com/asgl-platform/docchat/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)
	rbacResolver := rbac.NewResolver(rbac.NewService(rbac.NewRepository(pool)))
	creditService := credits.NewService(credits.NewRepository(pool), rbacResolver, cfg.CreditMonthlyDefault)
	sessionRepo := auth.NewRepository(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	resetTask, err := jobs.NewCreditsResetTask(jobs.CreditsResetPayload{})
	if err != nil {
		logger.Error("build credits reset task", slog.Any("error", err))
		os.Exit(1)
	}
	maintenanceTask, err := jobs.NewMaintenanceTask(time.Now().UTC())
	if err != nil {
		logger.Error("build maintenance task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCreditsReset, Handler: jobs.NewCreditsResetHandler(creditService, metrics, logger)},
			{Type: jobs.TaskMaintenance, Handler: jobs.NewMaintenanceHandler(sessionRepo, idempotencyStore, metrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 0 1 * *", Task: resetTask, Options: []asynq.Option{asynq.MaxRetry(5)}},
			{Spec: "45 3 * * *", Task: maintenanceTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
