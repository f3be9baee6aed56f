// Package users maintains the user to role assignment ledger.
package users

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Options configures a Service.
type Options struct {
	Logger      *slog.Logger
	Auditor     shared.Auditor
	Invalidator rbac.Invalidator
}

// Service assigns and revokes roles.
type Service struct {
	store  rbac.AssignmentStore
	opts   Options
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(store rbac.AssignmentStore, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, opts: opts, logger: logger}
}

// Assign gives the user the role. Assigning a held role succeeds without change.
func (s *Service) Assign(ctx context.Context, userID, roleID int64) error {
	if err := validateIDs(userID, roleID); err != nil {
		return err
	}
	if err := s.store.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.logger.Info("role assigned", slog.Int64("user_id", userID), slog.Int64("role_id", roleID))
	s.changed(ctx, shared.AuditRoleAssign, userID, roleID)
	return nil
}

// Revoke takes the role away from the user. Revoking a role the user does not
// hold is a no-op.
func (s *Service) Revoke(ctx context.Context, userID, roleID int64) error {
	if err := validateIDs(userID, roleID); err != nil {
		return err
	}
	if err := s.store.RevokeRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.logger.Info("role revoked", slog.Int64("user_id", userID), slog.Int64("role_id", roleID))
	s.changed(ctx, shared.AuditRoleRevoke, userID, roleID)
	return nil
}

// RolesOf lists the user's roles ordered by role id.
func (s *Service) RolesOf(ctx context.Context, userID int64) ([]rbac.Role, error) {
	if userID <= 0 {
		return nil, shared.Invalid("user_id", "must be positive")
	}
	return s.store.RolesOf(ctx, userID)
}

// UsersOf lists the users holding the role.
func (s *Service) UsersOf(ctx context.Context, roleID int64) ([]int64, error) {
	if roleID <= 0 {
		return nil, shared.Invalid("role_id", "must be positive")
	}
	return s.store.UsersOf(ctx, roleID)
}

func validateIDs(userID, roleID int64) error {
	if userID <= 0 {
		return shared.Invalid("user_id", "must be positive")
	}
	if roleID <= 0 {
		return shared.Invalid("role_id", "must be positive")
	}
	return nil
}

func (s *Service) changed(ctx context.Context, action string, userID, roleID int64) {
	if s.opts.Invalidator != nil {
		if err := s.opts.Invalidator.Invalidate(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("invalidate access cache", slog.Any("error", err))
		}
	}
	err := shared.Audit(ctx, s.opts.Auditor, shared.AuditLog{
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     map[string]any{"role_id": roleID},
	})
	if err != nil {
		s.logger.Warn("audit assignment", slog.String("action", action), slog.Any("error", err))
	}
}
