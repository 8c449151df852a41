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

	"github.com/odyssey-erp/sentinel/internal/app"
	"github.com/odyssey-erp/sentinel/internal/audit"
	audithttp "github.com/odyssey-erp/sentinel/internal/audit/http"
	"github.com/odyssey-erp/sentinel/internal/auth"
	"github.com/odyssey-erp/sentinel/internal/mfa"
	"github.com/odyssey-erp/sentinel/internal/observability"
	"github.com/odyssey-erp/sentinel/internal/platform/cache"
	"github.com/odyssey-erp/sentinel/internal/platform/db"
	"github.com/odyssey-erp/sentinel/internal/rbac"
	"github.com/odyssey-erp/sentinel/internal/roles"
	"github.com/odyssey-erp/sentinel/internal/settings"
	"github.com/odyssey-erp/sentinel/internal/shared"
	"github.com/odyssey-erp/sentinel/jobs"
)

// builtinAdminEmail is set at build time:
//
//	go build -ldflags "-X main.builtinAdminEmail=owner@example.com" ./cmd/sentinel
var builtinAdminEmail string

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
	if builtinAdminEmail == "" {
		logger.Warn("no built-in protected admin compiled in")
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.RedisAddr)
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
	configCache := cache.NewConfigCache(cfg.CacheConfig()).WithObserver(metrics)

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	auditStore := audit.NewPGStore(dbpool)
	auditLogger := audit.NewLogger(auditStore, cfg.AuditConfig(), logger,
		audit.WithGapReporter(jobs.NewGapReporter(queueClient)),
		audit.WithObserver(metrics),
	)
	auditService := audit.NewService(auditStore)

	settingsService := settings.NewService(settings.NewRepository(dbpool), configCache)
	rolesRepo := roles.NewRepository(dbpool)
	hierarchy := roles.NewHierarchy(rolesRepo, configCache, logger)

	rbacService := rbac.NewService(rbac.Deps{
		Roles:     roles.NewStore(rolesRepo),
		Hierarchy: hierarchy,
		Policy:    rbac.NewRepository(dbpool),
		Protector: rbac.NewProtector(builtinAdminEmail, settingsService),
		Admins:    settingsService,
		IPs:       settingsService,
		Cache:     configCache,
		Audit:     auditLogger,
		Logger:    logger,
		Observer:  metrics,
	})
	if err := rbacService.Warmup(ctx); err != nil {
		logger.Warn("policy warmup", slog.Any("error", err))
	}
	err = cache.NewBroadcaster(redisClient, logger).Listen(ctx, func(ctx context.Context, version int64) {
		refreshCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		if err := rbacService.Refresh(refreshCtx); err != nil {
			logger.Warn("policy refresh", slog.Int64("version", version), slog.Any("error", err))
			return
		}
		logger.Info("policy refreshed", slog.Int64("version", version))
	})
	if err != nil {
		logger.Error("subscribe policy bumps", slog.Any("error", err))
		os.Exit(1)
	}
	rbacMiddleware := rbac.Middleware{Authorizer: rbacService, Logger: logger}

	jwtVerifier, err := auth.NewJWTVerifier(auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   cfg.JWTLeeway,
	})
	if err != nil {
		logger.Error("init jwt verifier", slog.Any("error", err))
		os.Exit(1)
	}
	verifiers := []auth.Verifier{jwtVerifier}
	if cfg.OIDCIssuer != "" {
		oidcVerifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			logger.Error("init oidc verifier", slog.Any("error", err))
			os.Exit(1)
		}
		verifiers = append(verifiers, oidcVerifier)
	}
	resolver := auth.NewResolver(logger, verifiers...)

	cookies := cfg.CookieSettings()
	sessionManager := shared.NewSessionManager(shared.DeriveKey(cfg.CookieSecret, "session"), cookies, shared.NewRedisActivityStore(redisClient))
	csrfManager := shared.NewCSRFManager(shared.DeriveKey(cfg.CookieSecret, "csrf"), cookies)

	mfaService := mfa.NewService(rbacService, settingsService, mfa.NewRepository(dbpool), auditLogger, mfa.DefaultTOTP(cfg.MFAIssuer), logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		Authenticate: auth.Middleware(resolver, auditLogger, logger),
		AuthHandler:  auth.NewHandler(logger, sessionManager, csrfManager, auditLogger),
		RBACHandler:  rbac.NewHandler(logger, rbacService, rbacMiddleware),
		AuditHandler: audithttp.NewHandler(logger, auditLogger, auditService, rbacMiddleware),
		MFAHandler:   mfa.NewHandler(logger, mfaService),
		JobHandler:   jobs.NewHandler(inspector, logger),
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

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.AuditShutdownTimeout)
	defer cancelDrain()
	if err := auditLogger.Close(drainCtx); err != nil {
		logger.Error("audit drain", slog.Any("error", err))
	}
}
