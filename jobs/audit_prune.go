package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/warden-admin/warden/internal/jobs"
)

// Pruner deletes audit entries older than a retention window.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// AuditPruneJob handles audit:prune tasks.
type AuditPruneJob struct {
	Pruner           Pruner
	DefaultRetention time.Duration
	Logger           *slog.Logger
	Metrics          *jobmetrics.Metrics
}

// NewAuditPruneJob initialises the prune handler.
func NewAuditPruneJob(pruner Pruner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPruneJob {
	return &AuditPruneJob{Pruner: pruner, DefaultRetention: retention, Logger: logger, Metrics: metrics}
}

// Handle executes one prune run.
func (j *AuditPruneJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Pruner == nil {
		return errors.New("audit prune: handler not configured")
	}
	var payload AuditPrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("audit prune: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = j.DefaultRetention
	}
	if retention <= 0 {
		return fmt.Errorf("audit prune: no retention configured: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskAuditPrune)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.Duration("retention", retention))
	removed, err := j.Pruner.Prune(ctx, retention)
	if err != nil {
		logger.Error("audit prune failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddPruned(removed)
	logger.Info("audit prune completed", slog.Int64("removed", removed))
	return nil
}

func (j *AuditPruneJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
