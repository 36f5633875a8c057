package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueAuditPrune enqueues an immediate audit:prune run. Only one run per
// ten minutes is accepted.
func (c *Client) EnqueueAuditPrune(ctx context.Context, retention time.Duration) (*asynq.TaskInfo, error) {
	task, err := NewAuditPruneTask(retention)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Unique(10*time.Minute),
	)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
