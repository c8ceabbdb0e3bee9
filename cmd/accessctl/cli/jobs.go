package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-access/jobs"
)

// JobsCLI wraps manual management helpers for access invalidation jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis options.
func NewJobsCLI(opts asynq.RedisClientOpt) (*JobsCLI, error) {
	if opts.Addr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	client := asynq.NewClient(opts)
	inspector := asynq.NewInspector(opts)
	return &JobsCLI{client: client, inspector: inspector}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// InvalidateTarget selects what an enqueued invalidation evicts. Exactly one field is set.
type InvalidateTarget struct {
	UserID int64
	RoleID int64
	All    bool
}

// BuildTask converts the target into an invalidation task.
func (t InvalidateTarget) BuildTask() (*asynq.Task, error) {
	set := 0
	if t.UserID != 0 {
		set++
	}
	if t.RoleID != 0 {
		set++
	}
	if t.All {
		set++
	}
	if set != 1 {
		return nil, errors.New("jobs cli: choose exactly one of user, role or all")
	}
	switch {
	case t.UserID != 0:
		return jobs.NewInvalidateUserTask(t.UserID)
	case t.RoleID != 0:
		return jobs.NewInvalidateRoleTask(t.RoleID)
	default:
		return jobs.NewInvalidateAllTask("accessctl")
	}
}

// Trigger enqueues an invalidation on the access queue.
func (c *JobsCLI) Trigger(ctx context.Context, target InvalidateTarget) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := target.BuildTask()
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueAccess), asynq.MaxRetry(3))
	if err != nil {
		return nil, fmt.Errorf("jobs cli: enqueue %s: %w", task.Type(), err)
	}
	return info, nil
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for the access queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	stats := QueueStats{Queue: jobs.QueueAccess}
	info, err := c.inspector.GetQueueInfo(jobs.QueueAccess)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return stats, nil
	}
	if err != nil {
		return QueueStats{}, err
	}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueAccess, asynq.PageSize(size), asynq.Page(1))
}
