package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/warden-admin/warden/internal/app"
	jobmetrics "github.com/warden-admin/warden/internal/jobs"
	"github.com/warden-admin/warden/internal/platform/db"
	"github.com/warden-admin/warden/internal/shared"
	"github.com/warden-admin/warden/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	pruneNow := flag.Bool("prune-now", false, "enqueue one audit:prune run and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	redisOpts := cfg.AsynqRedis()

	if *pruneNow {
		client := jobs.NewClient(redisOpts)
		defer client.Close()
		info, err := client.EnqueueAuditPrune(ctx, cfg.AuditRetention)
		if err != nil {
			logger.Error("enqueue audit prune", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("audit prune enqueued", slog.String("task_id", info.ID))
		return
	}

	pool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN, MaxConns: 2, ApplicationName: "warden-worker"})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	pruneJob := jobs.NewAuditPruneJob(shared.NewAuditLogger(pool), cfg.AuditRetention, logger, jobmetrics.NewMetrics(nil))
	pruneTask, err := jobs.NewAuditPruneTask(cfg.AuditRetention)
	if err != nil {
		logger.Error("build audit prune task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditPrune, Handler: pruneJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.AuditPruneCron, Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
