package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-access/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Invalidator is the slice of the access service the invalidation job drives.
type Invalidator interface {
	Invalidate(ctx context.Context, userID int64) error
	InvalidateRole(ctx context.Context, roleID int64) error
	InvalidateAll(ctx context.Context) error
}

// InvalidationJob applies queued access invalidations. The worker's service broadcasts each
// eviction, so API instances drop their entries without doing the holder enumeration themselves.
type InvalidationJob struct {
	Access  Invalidator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewInvalidationJob wires dependencies for the invalidation handlers.
func NewInvalidationJob(access Invalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvalidationJob {
	return &InvalidationJob{Access: access, Logger: logger, Metrics: metrics}
}

// Handlers returns the task registrations served by the job.
func (j *InvalidationJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskAccessInvalidateUser, Handler: j.HandleUser},
		{Type: TaskAccessInvalidateRole, Handler: j.HandleRole},
		{Type: TaskAccessInvalidateAll, Handler: j.HandleAll},
	}
}

// HandleUser processes TaskAccessInvalidateUser tasks.
func (j *InvalidationJob) HandleUser(ctx context.Context, t *asynq.Task) error {
	var payload InvalidateUserPayload
	if err := j.decode(t, &payload); err != nil {
		return err
	}
	if payload.UserID <= 0 {
		return fmt.Errorf("jobs: user id %d: %w", payload.UserID, asynq.SkipRetry)
	}
	return j.run(TaskAccessInvalidateUser, "user", func() error {
		return j.Access.Invalidate(ctx, payload.UserID)
	}, slog.Int64("user_id", payload.UserID))
}

// HandleRole processes TaskAccessInvalidateRole tasks.
func (j *InvalidationJob) HandleRole(ctx context.Context, t *asynq.Task) error {
	var payload InvalidateRolePayload
	if err := j.decode(t, &payload); err != nil {
		return err
	}
	if payload.RoleID <= 0 {
		return fmt.Errorf("jobs: role id %d: %w", payload.RoleID, asynq.SkipRetry)
	}
	return j.run(TaskAccessInvalidateRole, "role", func() error {
		return j.Access.InvalidateRole(ctx, payload.RoleID)
	}, slog.Int64("role_id", payload.RoleID))
}

// HandleAll processes TaskAccessInvalidateAll tasks.
func (j *InvalidationJob) HandleAll(ctx context.Context, t *asynq.Task) error {
	var payload InvalidateAllPayload
	if len(t.Payload()) > 0 {
		if err := j.decode(t, &payload); err != nil {
			return err
		}
	}
	return j.run(TaskAccessInvalidateAll, "all", func() error {
		return j.Access.InvalidateAll(ctx)
	}, slog.String("reason", payload.Reason))
}

func (j *InvalidationJob) run(task, scope string, apply func() error, attrs ...any) (resultErr error) {
	if j == nil || j.Access == nil {
		return errors.New("access invalidation: handler not configured")
	}
	tracker := j.metrics().Track(task)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(attrs...)
	if err := apply(); err != nil {
		logger.Error("access invalidation", slog.String("task", task), slog.Any("error", err))
		return err
	}
	j.metrics().AddInvalidations(scope, 1)
	logger.Info("access invalidation applied", slog.String("task", task))
	return nil
}

func (j *InvalidationJob) decode(t *asynq.Task, target any) error {
	if err := json.Unmarshal(t.Payload(), target); err != nil {
		j.logger().Warn("discard malformed task", slog.String("task", t.Type()), slog.Any("error", err))
		return fmt.Errorf("jobs: decode %s: %w", t.Type(), asynq.SkipRetry)
	}
	return nil
}

func (j *InvalidationJob) logger() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *InvalidationJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
