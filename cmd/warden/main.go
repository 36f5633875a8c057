package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/warden-admin/warden/internal/app"
	"github.com/warden-admin/warden/internal/auth"
	"github.com/warden-admin/warden/internal/blogs"
	"github.com/warden-admin/warden/internal/observability"
	"github.com/warden-admin/warden/internal/platform/broker"
	"github.com/warden-admin/warden/internal/platform/cache"
	"github.com/warden-admin/warden/internal/platform/db"
	"github.com/warden-admin/warden/internal/rbac"
	"github.com/warden-admin/warden/internal/roles"
	"github.com/warden-admin/warden/internal/session"
	"github.com/warden-admin/warden/internal/shared"
	"github.com/warden-admin/warden/internal/users"
	"github.com/warden-admin/warden/jobs"
	"github.com/warden-admin/warden/migrations"
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("warden exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, migrations.FS); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	dbpool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, MaxConnIdleTime: 5 * time.Minute, ApplicationName: "warden"})
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	events := broker.NewPublisher(logger, cfg.KafkaBrokers, cfg.KafkaSecurityTopic)
	defer events.Close()

	metrics := observability.NewMetrics()
	codec, err := session.NewCodec([]byte(cfg.JWTSecret), cfg.SessionTTL)
	if err != nil {
		return err
	}
	auditLogger := shared.NewAuditLogger(dbpool)

	rbacRepo := rbac.NewRepository(dbpool)
	rbacService := rbac.NewService(rbacRepo, auditLogger, logger)
	evaluator := rbac.NewEvaluator(codec, rbacRepo, metrics, events, logger)
	rbacMiddleware := rbac.Middleware{Evaluator: evaluator, Logger: logger}

	authService := auth.NewService(auth.NewRepository(dbpool), codec,
		auth.WithThrottle(auth.NewRedisThrottle(redisClient, cfg.LoginMaxAttempts, cfg.LoginAttemptWindow, logger)),
		auth.WithEvents(events),
		auth.WithLoginRecorder(metrics),
		auth.WithLogger(logger),
	)
	usersService := users.NewService(users.NewRepository(dbpool), rbacService, authService, auditLogger, logger)
	blogsService := blogs.NewService(blogs.NewRepository(dbpool), auditLogger, logger)

	inspector := asynq.NewInspector(cfg.AsynqRedis())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthHandler:        auth.NewHandler(logger, authService, cfg.LoginRatePerMinute),
		UsersHandler:       users.NewHandler(logger, usersService, rbacMiddleware),
		RolesHandler:       roles.NewHandler(logger, rbacService, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(rbacMiddleware),
		BlogsHandler:       blogs.NewHandler(logger, blogsService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Readiness: map[string]app.ReadinessCheck{
			"postgres": dbpool.Ping,
			"redis": func(ctx context.Context) error {
				return cache.Ping(ctx, redisClient)
			},
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
