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

	"github.com/odyssey-erp/retail-console/internal/app"
	"github.com/odyssey-erp/retail-console/internal/audit"
	"github.com/odyssey-erp/retail-console/internal/auth"
	jobmetrics "github.com/odyssey-erp/retail-console/internal/jobs"
	"github.com/odyssey-erp/retail-console/internal/observability"
	"github.com/odyssey-erp/retail-console/internal/platform/cache"
	"github.com/odyssey-erp/retail-console/internal/platform/db"
	"github.com/odyssey-erp/retail-console/internal/rbac"
	"github.com/odyssey-erp/retail-console/internal/shared"
	"github.com/odyssey-erp/retail-console/internal/stepup"
	"github.com/odyssey-erp/retail-console/jobs"
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

	dbpool, err := db.Open(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, ApplicationName: "retail-console"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := cache.Connect(ctx, cfg.RedisAddr, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts, jobmetrics.NewMetrics(metrics.Registerer()))
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	auditSink := audit.MultiSink{
		audit.NewQueueSink(jobClient, jobs.QueueCritical, logger),
		audit.LogSink{Logger: logger},
	}

	sessionManager := shared.NewSessionManager(redisClient, "odyssey_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	namespace, err := cfg.SynthesisNamespace()
	if err != nil {
		logger.Error("synthesis namespace", slog.Any("error", err))
		os.Exit(1)
	}
	groupRoles, err := cfg.GroupRoles()
	if err != nil {
		logger.Error("synthesis group roles", slog.Any("error", err))
		os.Exit(1)
	}

	authRepo := auth.NewRepository(dbpool)
	resolver := auth.NewResolver(authRepo, auth.SynthesisRules{OrgNamespace: namespace, GroupRoles: groupRoles}, logger,
		auth.WithToucher(jobClient),
		auth.WithAuditSink(auditSink),
		auth.WithMetrics(metrics),
	)
	authService := auth.NewService(auth.NewPasswordProvider(authRepo), resolver, sessionManager, authRepo, auditSink, logger)

	var bearer *auth.BearerVerifier
	if cfg.JWKSURL != "" {
		bearer, err = auth.NewBearerVerifier(auth.BearerConfig{
			JWKSURL:         cfg.JWKSURL,
			Issuer:          cfg.JWTIssuer,
			RefreshInterval: cfg.JWKSRefreshInterval,
			ClientTimeout:   10 * time.Second,
			Leeway:          cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("init jwks", slog.Any("error", err))
			os.Exit(1)
		}
	}

	rbacMiddleware := rbac.Middleware{Logger: logger, Metrics: metrics}
	rbacService := rbac.NewService(rbac.NewRepository(dbpool), auditSink, logger)

	stepUpManager := stepup.NewManager(stepup.Config{
		Password: authService,
		Audit:    auditSink,
		Metrics:  metrics,
		Logger:   logger,
		Phrase:   cfg.StepUpPhrase,
	}, cfg.StepUpRequestTTL)
	go stepUpManager.Run(ctx, time.Minute)
	unsubscribe := authService.OnSessionChange(dropStaleConfirmations(stepUpManager))
	defer unsubscribe()

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Principal:      auth.Middleware{Service: authService, Resolver: resolver, Bearer: bearer, Logger: logger},
		RBACMiddleware: rbacMiddleware,
		AuthHandler:    auth.NewHandler(logger, authService, csrfManager),
		RBACHandler:    rbac.NewHandler(logger, rbacService, rbacMiddleware),
		StepUpHandler:  stepup.NewHandler(logger, stepUpManager, rbacMiddleware, cfg.StepUpGrantTTL),
		AuditHandler:   audit.NewHandler(logger, audit.NewService(audit.NewRecorder(dbpool))),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
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

// dropStaleConfirmations forgets the open confirmation of a session that
// logged out or whose principal was re-resolved, matching the grants the
// refresh already cleared.
func dropStaleConfirmations(m *stepup.Manager) func(auth.SessionEvent) {
	return func(evt auth.SessionEvent) {
		switch evt.Kind {
		case auth.SessionLogout, auth.SessionRefresh:
			m.Drop(context.Background(), evt.SessionID)
		}
	}
}
