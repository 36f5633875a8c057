// Package jobs runs the background tasks of the service on asynq.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration schedules a prepared task on a cron spec.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// Worker owns the asynq server and, when cron entries exist, a scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// NewWorker registers handlers and cron entries. Entries missing a type,
// handler, spec or task are skipped.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueDefault: 1},
		Logger:      asynqLogger{logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.ErrorContext(ctx, "task failed", slog.String("type", task.Type()), slog.Any("error", err))
		}),
		ShutdownTimeout: 10 * time.Second,
	})

	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}

	w := &Worker{server: srv, mux: mux, logger: logger}
	for _, entry := range cfg.Cron {
		if entry.Spec == "" || entry.Task == nil {
			continue
		}
		if w.scheduler == nil {
			w.scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{
				Location: time.UTC,
				Logger:   asynqLogger{logger},
			})
		}
		if _, err := w.scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
			return nil, fmt.Errorf("jobs: register %s: %w", entry.Task.Type(), err)
		}
	}
	return w, nil
}

// Run processes tasks until ctx is cancelled or the server fails.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("jobs: worker not configured")
	}
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			w.server.Shutdown()
			return err
		}
	}
	w.logger.Info("worker started")

	<-ctx.Done()
	if w.scheduler != nil {
		w.scheduler.Shutdown()
	}
	w.server.Shutdown()
	return ctx.Err()
}

// asynqLogger routes asynq's internal logging through slog.
type asynqLogger struct {
	l *slog.Logger
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (a asynqLogger) Fatal(args ...any) { a.l.Error(fmt.Sprint(args...), slog.String("component", "asynq")) }
