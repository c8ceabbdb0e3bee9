package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAccess carries cache invalidation work and is weighted above the default queue.
	QueueAccess = "access"

	// TaskAccessInvalidateUser evicts one user's cached access data on every instance.
	TaskAccessInvalidateUser = "access:invalidate_user"
	// TaskAccessInvalidateRole evicts a role and every holder of it.
	TaskAccessInvalidateRole = "access:invalidate_role"
	// TaskAccessInvalidateAll purges every cached access result.
	TaskAccessInvalidateAll = "access:invalidate_all"
)

// InvalidateUserPayload identifies the user whose assignments changed.
type InvalidateUserPayload struct {
	UserID int64 `json:"user_id"`
}

// InvalidateRolePayload identifies the role whose permissions, menus or active flag changed.
type InvalidateRolePayload struct {
	RoleID int64 `json:"role_id"`
}

// InvalidateAllPayload records why a full purge was requested.
type InvalidateAllPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewInvalidateUserTask constructs a user invalidation task.
func NewInvalidateUserTask(userID int64) (*asynq.Task, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("jobs: invalid user id %d", userID)
	}
	return newTask(TaskAccessInvalidateUser, InvalidateUserPayload{UserID: userID})
}

// NewInvalidateRoleTask constructs a role invalidation task.
func NewInvalidateRoleTask(roleID int64) (*asynq.Task, error) {
	if roleID <= 0 {
		return nil, fmt.Errorf("jobs: invalid role id %d", roleID)
	}
	return newTask(TaskAccessInvalidateRole, InvalidateRolePayload{RoleID: roleID})
}

// NewInvalidateAllTask constructs a purge task.
func NewInvalidateAllTask(reason string) (*asynq.Task, error) {
	return newTask(TaskAccessInvalidateAll, InvalidateAllPayload{Reason: reason})
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, data), nil
}
