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

	"github.com/asgl-platform/docchat/internal/app"
	"github.com/asgl-platform/docchat/internal/auth"
	"github.com/asgl-platform/docchat/internal/chat"
	"github.com/asgl-platform/docchat/internal/credits"
	"github.com/asgl-platform/docchat/internal/datasets"
	"github.com/asgl-platform/docchat/internal/observability"
	"github.com/asgl-platform/docchat/internal/platform/cache"
	"github.com/asgl-platform/docchat/internal/platform/db"
	"github.com/asgl-platform/docchat/internal/rbac"
	"github.com/asgl-platform/docchat/internal/shared"
	"github.com/asgl-platform/docchat/internal/users"
	"github.com/asgl-platform/docchat/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "docchat_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	userService := users.NewService(users.NewRepository(dbpool))
	rbacService := rbac.NewService(rbac.NewRepository(dbpool))
	rbacResolver := rbac.NewResolver(rbacService)

	authService := auth.NewService(userService, rbacService, auth.NewRepository(dbpool))
	rbacMiddleware := rbac.Middleware{
		Resolver: rbacResolver,
		Source: func(r *http.Request, userID int64) (*rbac.Principal, error) {
			return authService.PrincipalByID(r.Context(), userID)
		},
		Logger:  logger,
		Metrics: metrics,
	}

	datasetRepo := datasets.NewRepository(dbpool)
	accessResolver := datasets.NewResolver(datasetRepo, rbacResolver)
	datasetService := datasets.NewService(datasetRepo, accessResolver, rbacResolver)

	creditService := credits.NewService(credits.NewRepository(dbpool), rbacResolver, cfg.CreditMonthlyDefault)

	upstream := chat.NewHTTPUpstream(cfg.ChatUpstreamURL, cfg.ChatUpstreamTimeout)
	chatService := chat.NewService(accessResolver, rbacResolver, creditService, upstream, metrics, logger, cfg.ChatTurnCost, cfg.StoreTimeout)

	if err := rbacService.SeedPermissions(ctx); err != nil {
		logger.Error("seed permissions", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        auth.NewHandler(logger, authService, sessionManager, csrfManager),
		UsersHandler:       users.NewHandler(logger, userService, auditLogger, rbacMiddleware),
		RolesHandler:       rbac.NewHandler(logger, rbacService, auditLogger, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware),
		DatasetsHandler:    datasets.NewHandler(logger, datasetService, auditLogger),
		CreditsHandler:     credits.NewHandler(logger, creditService, auditLogger, rbacMiddleware),
		ChatHandler:        chat.NewHandler(logger, chatService, idempotencyStore),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	// Chat turns stream for longer than a regular request is allowed to take.
	writeTimeout := cfg.AppWriteTimeout
	if cfg.ChatUpstreamTimeout > writeTimeout {
		writeTimeout = cfg.ChatUpstreamTimeout + 5*time.Second
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: writeTimeout,
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
