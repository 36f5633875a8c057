package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditPrune removes audit_logs rows older than the retention window.
	TaskAuditPrune = "audit:prune"
)

// AuditPrunePayload carries the retention window of an audit:prune run.
type AuditPrunePayload struct {
	Retention time.Duration `json:"retention"`
}

// NewAuditPruneTask constructs an Asynq task.
func NewAuditPruneTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(AuditPrunePayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, data), nil
}
