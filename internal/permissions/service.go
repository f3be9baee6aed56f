// Package permissions manages the permission catalog.
package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-access/internal/bulk"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// CreateInput carries the fields of a new permission.
type CreateInput struct {
	Name          string `json:"name" validate:"required,max=128"`
	Description   string `json:"description" validate:"max=512"`
	RequiresValue bool   `json:"requires_value"`
}

// UpdateInput carries the mutable fields of a permission. Nil fields keep
// their stored value. Name is accepted only so a rename attempt can be
// rejected explicitly.
type UpdateInput struct {
	Name          string  `json:"name,omitempty"`
	Description   *string `json:"description,omitempty" validate:"omitnil,max=512"`
	RequiresValue *bool   `json:"requires_value,omitempty"`
}

// BulkRequiresValueInput targets many permissions at once.
type BulkRequiresValueInput struct {
	IDs           []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
	RequiresValue bool    `json:"requires_value"`
}

// Options configures a Service.
type Options struct {
	Logger      *slog.Logger
	Auditor     shared.Auditor
	Invalidator rbac.Invalidator
	// Transactor enables all-or-nothing bulk runs when AtomicBulk is set.
	Transactor rbac.Transactor
	AtomicBulk bool
	// RestrictDelete rejects deleting a permission still granted to a role
	// instead of cascading.
	RestrictDelete bool
}

// Service handles permission catalog business logic.
type Service struct {
	store     rbac.PermissionStore
	opts      Options
	logger    *slog.Logger
	validator *validator.Validate
}

// NewService builds Service instance.
func NewService(store rbac.PermissionStore, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, opts: opts, logger: logger, validator: shared.NewValidator()}
}

// Create registers a permission; the name is immutable afterwards.
func (s *Service) Create(ctx context.Context, in CreateInput) (rbac.Permission, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := shared.ValidateStruct(s.validator, in); err != nil {
		return rbac.Permission{}, err
	}
	p, err := s.store.CreatePermission(ctx, rbac.Permission{
		Name:          in.Name,
		Description:   in.Description,
		RequiresValue: in.RequiresValue,
	})
	if err != nil {
		return rbac.Permission{}, err
	}
	s.logger.Info("permission created", slog.Int64("permission_id", p.ID), slog.String("name", p.Name))
	s.audit(ctx, shared.AuditPermissionCreate, p.ID, map[string]any{"name": p.Name, "requires_value": p.RequiresValue})
	return p, nil
}

// Get fetches a permission by id.
func (s *Service) Get(ctx context.Context, id int64) (rbac.Permission, error) {
	if id <= 0 {
		return rbac.Permission{}, shared.Invalid("id", "must be positive")
	}
	return s.store.GetPermission(ctx, id)
}

// Update changes the description and requires_value fields present in in.
// Renaming is rejected.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (rbac.Permission, error) {
	if id <= 0 {
		return rbac.Permission{}, shared.Invalid("id", "must be positive")
	}
	if in.Description != nil {
		trimmed := strings.TrimSpace(*in.Description)
		in.Description = &trimmed
	}
	if err := shared.ValidateStruct(s.validator, in); err != nil {
		return rbac.Permission{}, err
	}
	current, err := s.store.GetPermission(ctx, id)
	if err != nil {
		return rbac.Permission{}, err
	}
	if name := strings.TrimSpace(in.Name); name != "" && name != current.Name {
		return rbac.Permission{}, shared.Invalid("name", "permission names are immutable")
	}
	if in.Description != nil {
		current.Description = *in.Description
	}
	if in.RequiresValue != nil {
		current.RequiresValue = *in.RequiresValue
	}
	updated, err := s.store.UpdatePermission(ctx, current)
	if err != nil {
		return rbac.Permission{}, err
	}
	s.invalidate(ctx)
	s.audit(ctx, shared.AuditPermissionUpdate, id, map[string]any{"requires_value": updated.RequiresValue})
	return updated, nil
}

// Delete removes the permission and its grants from every role.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.Invalid("id", "must be positive")
	}
	if s.opts.RestrictDelete {
		roles, err := s.store.RolesGranting(ctx, id)
		if err != nil {
			return err
		}
		if len(roles) > 0 {
			return shared.Conflict("permission", id, fmt.Sprintf("granted to %d role(s)", len(roles)))
		}
	}
	if err := s.store.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.logger.Info("permission deleted", slog.Int64("permission_id", id))
	s.invalidate(ctx)
	s.audit(ctx, shared.AuditPermissionDelete, id, nil)
	return nil
}

// List returns permissions matching the search in creation order.
func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]rbac.Permission, shared.Pagination, error) {
	filters = filters.Normalize()
	perms, total, err := s.store.ListPermissions(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return perms, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// BulkSetRequiresValue sets requires_value on every id and reports each outcome.
func (s *Service) BulkSetRequiresValue(ctx context.Context, in BulkRequiresValueInput) (bulk.Report[int64], error) {
	if err := shared.ValidateStruct(s.validator, in); err != nil {
		return bulk.Report[int64]{}, err
	}
	m := bulk.Mutator[rbac.PermissionStore]{
		Store:  s.store,
		Atomic: s.opts.AtomicBulk,
		Logger: s.logger,
	}
	if s.opts.Transactor != nil {
		m.Tx = permissionTx{s.opts.Transactor}
	}
	report := bulk.Run(ctx, m, in.IDs, func(ctx context.Context, store rbac.PermissionStore, id int64) error {
		p, err := store.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		p.RequiresValue = in.RequiresValue
		_, err = store.UpdatePermission(ctx, p)
		return err
	})
	if len(report.Succeeded) > 0 {
		s.invalidate(ctx)
	}
	s.audit(ctx, shared.AuditPermissionBulk, 0, map[string]any{
		"operation_id":   report.OperationID.String(),
		"requires_value": in.RequiresValue,
		"succeeded":      report.Succeeded,
		"failed":         len(report.Failed),
	})
	return report, nil
}

type permissionTx struct {
	tx rbac.Transactor
}

func (p permissionTx) WithTx(ctx context.Context, fn func(context.Context, rbac.PermissionStore) error) error {
	return p.tx.WithTx(ctx, func(ctx context.Context, store rbac.Store) error {
		return fn(ctx, store)
	})
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
	entityID := "bulk"
	if id > 0 {
		entityID = strconv.FormatInt(id, 10)
	}
	err := shared.Audit(ctx, s.opts.Auditor, shared.AuditLog{Action: action, Entity: "permission", EntityID: entityID, Meta: meta})
	if err != nil {
		s.logger.Warn("audit permission", slog.String("action", action), slog.Any("error", err))
	}
}
