package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hibiken/asynq"

	"github.com/unidesk/unidesk/internal/app"
	"github.com/unidesk/unidesk/internal/audit"
	audithttp "github.com/unidesk/unidesk/internal/audit/http"
	"github.com/unidesk/unidesk/internal/auth"
	"github.com/unidesk/unidesk/internal/cooldown"
	"github.com/unidesk/unidesk/internal/observability"
	"github.com/unidesk/unidesk/internal/platform/cache"
	"github.com/unidesk/unidesk/internal/platform/db"
	"github.com/unidesk/unidesk/internal/ratelimit"
	"github.com/unidesk/unidesk/internal/rbac"
	"github.com/unidesk/unidesk/internal/requests"
	"github.com/unidesk/unidesk/internal/roles"
	"github.com/unidesk/unidesk/internal/shared"
	"github.com/unidesk/unidesk/internal/users"
	"github.com/unidesk/unidesk/internal/workhours"
	"github.com/unidesk/unidesk/jobs"
	"github.com/unidesk/unidesk/migrations"
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
	slog.SetDefault(logger)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.AutoMigrate {
		if err := migrations.Apply(ctx, dbpool, logger); err != nil {
			logger.Error("apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
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
	sessionManager := shared.NewSessionManager(redisClient, "unidesk_session", cfg.SessionTTL, cfg.IsProduction())

	throttleCounter := ratelimit.NewMemoryCounter(cfg.ThrottleWindow)
	if cfg.ThrottleBackend == "redis" {
		throttleCounter = ratelimit.NewRedisCounter(redisClient, "throttle")
	}
	throttle := ratelimit.New(throttleCounter, cfg.ThrottleLimit, cfg.ThrottleWindow, logger)
	throttle.OnReject = metrics.RejectionObserver("throttle")

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	var decisionSink audit.Sink = audit.LogSink{Logger: logger}
	if cfg.AuditSink == "queue" {
		jobClient := jobs.NewClient(redisOpts)
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		decisionSink = audit.QueueSink{Client: jobClient, Queue: jobs.QueueAudit}
	}
	auditSink := audit.MultiSink{decisionSink, metrics}

	if err := rbac.ValidateOwnershipTargets(); err != nil {
		logger.Error("ownership targets", slog.Any("error", err))
		os.Exit(1)
	}
	rbacRepo := rbac.NewRepository(dbpool)
	if err := rbacRepo.VerifyOwnershipTargets(ctx); err != nil {
		logger.Error("verify ownership targets", slog.Any("error", err))
		os.Exit(1)
	}
	rbacService := rbac.NewService(rbacRepo, logger)
	if err := rbacService.EnsureCatalog(ctx); err != nil {
		logger.Error("seed rbac catalog", slog.Any("error", err))
		os.Exit(1)
	}
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	authService := auth.NewService(auth.NewRepository(dbpool))
	authHandler := auth.NewHandler(logger, authService, sessionManager, throttle)

	policy := workhours.NewPolicy(cfg.WorkHoursTZ)
	cooldownService := cooldown.NewService(cooldown.NewRepository(dbpool), logger)
	requestsService := requests.NewService(requests.NewRepository(dbpool), logger)
	requestsHandler := requests.NewHandler(logger, requestsService, cooldownService, rbacMiddleware,
		workhours.Gate{Policy: policy, Logger: logger, OnReject: metrics.RejectionObserver("working_hours")},
		cooldown.Gate{Service: cooldownService, Resolver: requestsService, Logger: logger, OnReject: metrics.RejectionObserver("cooldown")},
	)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		ActorResolver:      authService,
		AuditSink:          auditSink,
		Metrics:            metrics,
		AuthHandler:        authHandler,
		AccessHandler:      rbac.NewAccessHandler(logger, rbacService),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware, throttle),
		RolesHandler:       roles.NewHandler(logger, roles.NewService(rbacService), rbacMiddleware, throttle),
		UsersHandler:       users.NewHandler(logger, users.NewService(users.NewRepository(dbpool)), rbacMiddleware),
		RequestsHandler:    requestsHandler,
		AuditHandler:       audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool)), rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	}()

	logger.Info("unidesk api listening", slog.String("addr", cfg.AppAddr), slog.String("work_hours_tz", cfg.WorkHoursTZ))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}
