// Package roles manages roles and their grant sets.
package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Store is the persistence the role service needs.
type Store interface {
	rbac.RoleStore
	UsersOf(ctx context.Context, roleID int64) ([]int64, error)
}

// Warmer precomputes access snapshots for a role's users after its grants change.
type Warmer interface {
	WarmRole(ctx context.Context, roleID int64) error
}

// CreateInput carries a new role and its initial grant set.
type CreateInput struct {
	Name        string             `json:"name" validate:"required,max=128"`
	Description string             `json:"description" validate:"max=512"`
	IsSuperuser bool               `json:"is_superuser"`
	Grants      []rbac.GrantFields `json:"grants" validate:"dive"`
}

// UpdateInput carries role attributes; nil fields keep their stored value.
// Grants are changed only through ReplaceGrants.
type UpdateInput struct {
	Name        *string `json:"name,omitempty" validate:"omitnil,min=1,max=128"`
	Description *string `json:"description,omitempty" validate:"omitnil,max=512"`
	IsSuperuser *bool   `json:"is_superuser,omitempty"`
}

// ReplaceGrantsInput is the complete grant set a role should end up with.
type ReplaceGrantsInput struct {
	Grants []rbac.GrantFields `json:"grants" validate:"dive"`
}

// Options configures a Service.
type Options struct {
	Logger      *slog.Logger
	Auditor     shared.Auditor
	Invalidator rbac.Invalidator
	Locker      shared.Locker
	Warmer      Warmer
	// RestrictDelete rejects deleting a role still assigned to users.
	RestrictDelete bool
}

// Service handles role business logic.
type Service struct {
	store     Store
	opts      Options
	logger    *slog.Logger
	locker    shared.Locker
	validator *validator.Validate
}

// NewService builds Service instance.
func NewService(store Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locker := opts.Locker
	if locker == nil {
		locker = shared.NewLocalLocker()
	}
	return &Service{store: store, opts: opts, logger: logger, locker: locker, validator: shared.NewValidator()}
}

// Create stores a role with its initial grants.
func (s *Service) Create(ctx context.Context, in CreateInput) (rbac.Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := shared.ValidateStruct(s.validator, in); err != nil {
		return rbac.Role{}, err
	}
	grants, err := toGrants(in.Grants)
	if err != nil {
		return rbac.Role{}, err
	}
	role, err := s.store.CreateRole(ctx, rbac.Role{
		Name:        in.Name,
		Description: in.Description,
		IsSuperuser: in.IsSuperuser,
		Grants:      grants,
	})
	if err != nil {
		return rbac.Role{}, err
	}
	s.logger.Info("role created", slog.Int64("role_id", role.ID), slog.String("name", role.Name), slog.Int("grants", len(role.Grants)))
	s.audit(ctx, shared.AuditRoleCreate, role.ID, map[string]any{"name": role.Name, "is_superuser": role.IsSuperuser, "grants": len(role.Grants)})
	return role, nil
}

// Get fetches a role with its grants.
func (s *Service) Get(ctx context.Context, id int64) (rbac.Role, error) {
	if id <= 0 {
		return rbac.Role{}, shared.Invalid("id", "must be positive")
	}
	return s.store.GetRole(ctx, id)
}

// List returns roles matching the search.
func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]rbac.Role, shared.Pagination, error) {
	filters = filters.Normalize()
	roles, total, err := s.store.ListRoles(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return roles, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// Users lists ids of users holding the role.
func (s *Service) Users(ctx context.Context, id int64) ([]int64, error) {
	if id <= 0 {
		return nil, shared.Invalid("id", "must be positive")
	}
	return s.store.UsersOf(ctx, id)
}

// Update renames a role, edits its description or toggles its superuser
// flag. Only fields present in in change.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (rbac.Role, error) {
	if id <= 0 {
		return rbac.Role{}, shared.Invalid("id", "must be positive")
	}
	in.Name = trimmed(in.Name)
	in.Description = trimmed(in.Description)
	if err := shared.ValidateStruct(s.validator, in); err != nil {
		return rbac.Role{}, err
	}
	current, err := s.store.GetRole(ctx, id)
	if err != nil {
		return rbac.Role{}, err
	}
	if in.Name != nil {
		current.Name = *in.Name
	}
	if in.Description != nil {
		current.Description = *in.Description
	}
	if in.IsSuperuser != nil {
		current.IsSuperuser = *in.IsSuperuser
	}
	role, err := s.store.UpdateRole(ctx, current)
	if err != nil {
		return rbac.Role{}, err
	}
	s.invalidate(ctx)
	s.audit(ctx, shared.AuditRoleUpdate, id, map[string]any{"name": role.Name, "is_superuser": role.IsSuperuser})
	return role, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}

// ReplaceGrants swaps the role's whole grant set. Callers editing a single
// grant must read the current set, change it locally and submit all of it.
// Concurrent replacements of the same role are serialized; the last one wins.
func (s *Service) ReplaceGrants(ctx context.Context, roleID int64, in ReplaceGrantsInput) (rbac.Role, error) {
	if roleID <= 0 {
		return rbac.Role{}, shared.Invalid("id", "must be positive")
	}
	if err := shared.ValidateStruct(s.validator, in); err != nil {
		return rbac.Role{}, err
	}
	grants, err := toGrants(in.Grants)
	if err != nil {
		return rbac.Role{}, err
	}

	release, err := s.locker.Lock(ctx, shared.RoleGrantsLockKey(roleID))
	if err != nil {
		return rbac.Role{}, shared.LockFailed("role", roleID, err)
	}
	role, err := s.store.ReplaceGrants(context.WithoutCancel(ctx), roleID, grants)
	release()
	if err != nil {
		return rbac.Role{}, err
	}

	s.logger.Info("role grants replaced", slog.Int64("role_id", roleID), slog.Int("grants", len(role.Grants)))
	s.invalidate(ctx)
	s.audit(ctx, shared.AuditRoleReplaceGrants, roleID, map[string]any{"grants": grantNames(role.Grants)})
	if s.opts.Warmer != nil {
		if err := s.opts.Warmer.WarmRole(context.WithoutCancel(ctx), roleID); err != nil {
			s.logger.Warn("enqueue access warmup", slog.Int64("role_id", roleID), slog.Any("error", err))
		}
	}
	return role, nil
}

// Delete removes the role together with its assignments and page grants.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.Invalid("id", "must be positive")
	}
	if s.opts.RestrictDelete {
		users, err := s.store.UsersOf(ctx, id)
		if err != nil {
			return err
		}
		if len(users) > 0 {
			return shared.Conflict("role", id, fmt.Sprintf("assigned to %d user(s)", len(users)))
		}
	}
	if err := s.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.logger.Info("role deleted", slog.Int64("role_id", id))
	s.invalidate(ctx)
	s.audit(ctx, shared.AuditRoleDelete, id, nil)
	return nil
}

func toGrants(fields []rbac.GrantFields) ([]rbac.Grant, error) {
	grants := make([]rbac.Grant, 0, len(fields))
	seen := make(map[int64]struct{}, len(fields))
	for i, f := range fields {
		if _, dup := seen[f.PermissionID]; dup {
			return nil, shared.Invalid(fmt.Sprintf("grants[%d].permission_id", i), "permission listed more than once")
		}
		seen[f.PermissionID] = struct{}{}
		g, err := f.Grant()
		if err != nil {
			var invalid *shared.ValidationError
			if errors.As(err, &invalid) {
				return nil, shared.Invalid(fmt.Sprintf("grants[%d].%s", i, invalid.Field), invalid.Reason)
			}
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, nil
}

func grantNames(grants []rbac.Grant) []string {
	names := make([]string, 0, len(grants))
	for _, g := range grants {
		names = append(names, g.Permission)
	}
	return names
}

func (s *Service) invalidate(ctx context.Context) {
	if s.opts.Invalidator == nil {
		return
	}
	if err := s.opts.Invalidator.Invalidate(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("invalidate access cache", slog.Any("error", err))
	}
}

func (s *Service) audit(ctx context.Context, action string, id int64, meta map[string]any) {
	err := shared.Audit(ctx, s.opts.Auditor, shared.AuditLog{Action: action, Entity: "role", EntityID: strconv.FormatInt(id, 10), Meta: meta})
	if err != nil {
		s.logger.Warn("audit role", slog.String("action", action), slog.Any("error", err))
	}
}
