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

	"github.com/odyssey-dms/odyssey-dms/internal/app"
	"github.com/odyssey-dms/odyssey-dms/internal/audit"
	audithttp "github.com/odyssey-dms/odyssey-dms/internal/audit/http"
	"github.com/odyssey-dms/odyssey-dms/internal/auth"
	"github.com/odyssey-dms/odyssey-dms/internal/groups"
	"github.com/odyssey-dms/odyssey-dms/internal/observability"
	"github.com/odyssey-dms/odyssey-dms/internal/platform/cache"
	"github.com/odyssey-dms/odyssey-dms/internal/platform/db"
	"github.com/odyssey-dms/odyssey-dms/internal/rbac"
	"github.com/odyssey-dms/odyssey-dms/internal/roles"
	"github.com/odyssey-dms/odyssey-dms/internal/shared"
	"github.com/odyssey-dms/odyssey-dms/internal/users"
	"github.com/odyssey-dms/odyssey-dms/jobs"
	"github.com/odyssey-dms/odyssey-dms/migrations"
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
	metrics := observability.NewMetrics()

	codec, err := app.NewCodec(cfg, logger, metrics.DecryptFailure)
	if err != nil {
		logger.Error("init codec", slog.Any("error", err))
		os.Exit(1)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.Pool())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	applied, err := migrations.Up(ctx, dbpool)
	if err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		os.Exit(1)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", slog.Any("versions", applied))
	}

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "odyssey_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	auditLogger := shared.NewAuditLogger(dbpool, codec)

	rbacRepo := rbac.NewRepository(dbpool, codec)
	rbacService := rbac.NewService(rbacRepo, auditLogger, logger, rbac.WithPrivilegedRole(cfg.PrivilegedRole))
	engine := rbac.NewEngine(rbacRepo, metrics)

	usersRepo := users.NewRepository(dbpool, codec)
	usersService := users.NewService(usersRepo, rbacService, codec, auditLogger, logger)
	rbacMiddleware := rbac.Middleware{Engine: engine, Resolver: users.NewResolver(usersRepo), Logger: logger}

	groupsService := groups.NewService(groups.NewRepository(dbpool, codec), auditLogger, logger)

	authService := auth.NewService(usersService, auth.NewRepository(dbpool), auditLogger, logger)
	auditService := audit.NewService(audit.NewRepository(dbpool, codec))

	redisOpts := cfg.Redis().Asynq()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	pingRedis := func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}
	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        auth.NewHandler(logger, authService, sessionManager, csrfManager),
		MeHandler:          auth.NewMeHandler(logger, usersService, engine),
		RolesHandler:       roles.NewHandler(logger, rbacService, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware, cfg.PrivilegedRole),
		UsersHandler:       users.NewHandler(logger, usersService, rbacMiddleware),
		GroupsHandler:      groups.NewHandler(logger, groupsService, rbacMiddleware),
		AuditHandler:       audithttp.NewHandler(logger, auditService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, jobClient, logger),
		Metrics:            metrics,
		Readiness: map[string]app.ReadinessCheck{
			"postgres": dbpool.Ping,
			"redis":    pingRedis,
		},
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
