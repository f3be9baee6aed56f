package jobs

import (
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAccessWarmup precomputes access snapshots after grants change.
	TaskAccessWarmup = "access:warmup"
)

// AccessWarmupPayload selects whose snapshots to warm. Exactly one of RoleID
// and UserID is set.
type AccessWarmupPayload struct {
	RoleID int64 `json:"role_id,omitempty"`
	UserID int64 `json:"user_id,omitempty"`
}

func (p AccessWarmupPayload) validate() error {
	if (p.RoleID > 0) == (p.UserID > 0) {
		return errors.New("jobs: access warmup needs exactly one of role_id or user_id")
	}
	return nil
}

// NewAccessWarmupTask constructs an Asynq task.
func NewAccessWarmupTask(payload AccessWarmupPayload) (*asynq.Task, error) {
	if err := payload.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAccessWarmup, data), nil
}
