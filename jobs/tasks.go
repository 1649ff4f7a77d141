package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionWarmup pre-resolves permission sets for assigned
	// principals so the first request after an invalidation does not pay
	// the storage round trip.
	TaskPermissionWarmup = "authz:permission_warmup"
)

// PermissionWarmupPayload bounds how many (principal, scope) pairs a single
// warmup run touches.
type PermissionWarmupPayload struct {
	MaxTargets int `json:"max_targets"`
}

// NewPermissionWarmupTask constructs an Asynq task.
func NewPermissionWarmupTask(maxTargets int) (*asynq.Task, error) {
	data, err := json.Marshal(PermissionWarmupPayload{MaxTargets: maxTargets})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionWarmup, data), nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueuePermissionWarmup enqueues a warmup task.
func (c *Client) EnqueuePermissionWarmup(ctx context.Context, maxTargets int) (*asynq.TaskInfo, error) {
	task, err := NewPermissionWarmupTask(maxTargets)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
