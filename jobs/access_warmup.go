package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-access/internal/jobs"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Snapshotter evaluates and caches one user's access.
type Snapshotter interface {
	Snapshot(ctx context.Context, userID int64) (rbac.Access, error)
}

// RoleMembers lists users holding a role.
type RoleMembers interface {
	UsersOf(ctx context.Context, roleID int64) ([]int64, error)
}

// AccessWarmupJob precomputes access snapshots so the first request after a
// grant change does not pay for evaluation.
type AccessWarmupJob struct {
	Evaluator Snapshotter
	Members   RoleMembers
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	// UserTimeout bounds each snapshot evaluation.
	UserTimeout time.Duration
}

// NewAccessWarmupJob wires dependencies for the warmup handler.
func NewAccessWarmupJob(evaluator Snapshotter, members RoleMembers, logger *slog.Logger, metrics *jobmetrics.Metrics) *AccessWarmupJob {
	return &AccessWarmupJob{
		Evaluator:   evaluator,
		Members:     members,
		Logger:      logger,
		Metrics:     metrics,
		UserTimeout: 5 * time.Second,
	}
}

// Handle processes access warmup tasks.
func (j *AccessWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Evaluator == nil {
		return errors.New("access warmup: handler not configured")
	}
	var payload AccessWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("access warmup: decode payload: %w", asynq.SkipRetry)
	}
	if err := payload.validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskAccessWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("role_id", payload.RoleID), slog.Int64("user_id", payload.UserID))
	start := time.Now()

	users := []int64{payload.UserID}
	if payload.RoleID > 0 {
		if j.Members == nil {
			return errors.New("access warmup: role members not configured")
		}
		var err error
		users, err = j.Members.UsersOf(ctx, payload.RoleID)
		if err != nil {
			logger.Error("load role members", slog.Any("error", err))
			return err
		}
	}

	warmed := 0
	for _, userID := range users {
		if err := j.warmUser(ctx, userID); err != nil {
			logger.Error("warm user", slog.Int64("warm_user_id", userID), slog.Any("error", err))
			j.metrics().AddWarmed(warmed)
			return err
		}
		warmed++
	}
	j.metrics().AddWarmed(warmed)
	logger.Info("completed access warmup", slog.Int("users", warmed), slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *AccessWarmupJob) warmUser(ctx context.Context, userID int64) error {
	if j.UserTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.UserTimeout)
		defer cancel()
	}
	_, err := j.Evaluator.Snapshot(ctx, userID)
	return err
}

func (j *AccessWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAccessWarmup))
	}
	return slog.Default().With(slog.String("job", TaskAccessWarmup))
}

func (j *AccessWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
