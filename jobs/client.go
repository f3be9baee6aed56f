package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// warmupUniqueWindow collapses repeated warmups of one target.
const warmupUniqueWindow = 30 * time.Second

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client submits jobs to the queue.
type Client struct {
	client enqueuer
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	if redisOpts.Addr == "" {
		return nil, errors.New("jobs: redis address required")
	}
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueAccessWarmup enqueues an access warmup task. A duplicate of a task
// still pending inside the unique window is dropped and reported as nil info.
func (c *Client) EnqueueAccessWarmup(ctx context.Context, payload AccessWarmupPayload) (*asynq.TaskInfo, error) {
	task, err := NewAccessWarmupTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Unique(warmupUniqueWindow),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, nil
	}
	return info, err
}

// WarmRole enqueues a warmup of every user holding the role.
func (c *Client) WarmRole(ctx context.Context, roleID int64) error {
	_, err := c.EnqueueAccessWarmup(ctx, AccessWarmupPayload{RoleID: roleID})
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
