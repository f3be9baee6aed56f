// Package pages implements the page access registry: UI routes granted to
// users or roles, evaluated independently of permissions.
package pages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Store is the persistence the page registry needs.
type Store interface {
	rbac.PageStore
	RolesOf(ctx context.Context, userID int64) ([]rbac.Role, error)
}

// RegisterInput describes a new page.
type RegisterInput struct {
	Path     string `json:"path" validate:"required,max=255"`
	Label    string `json:"label" validate:"required,max=128"`
	ParentID *int64 `json:"parent_id,omitempty" validate:"omitempty,gt=0"`
}

// GrantInput is the complete page set a subject should end up with.
type GrantInput struct {
	PageIDs []int64 `json:"page_ids" validate:"dive,gt=0"`
}

// Options configures a Service.
type Options struct {
	Logger  *slog.Logger
	Auditor shared.Auditor
	Locker  shared.Locker
}

// Service handles page registry logic.
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

// NormalizePath trims surrounding whitespace and slashes so "/parent-1/" and
// "parent-1" name the same page.
func NormalizePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

// Register adds a page. Pages nest at most one level deep.
func (s *Service) Register(ctx context.Context, in RegisterInput) (rbac.Page, error) {
	in.Path = NormalizePath(in.Path)
	in.Label = strings.TrimSpace(in.Label)
	if err := shared.ValidateStruct(s.validator, in); err != nil {
		return rbac.Page{}, err
	}
	if in.ParentID != nil {
		parent, err := s.store.GetPage(ctx, *in.ParentID)
		if err != nil {
			return rbac.Page{}, err
		}
		if parent.ParentID != nil {
			return rbac.Page{}, shared.Invalid("parent_id", "pages nest at most one level deep")
		}
	}
	page, err := s.store.CreatePage(ctx, rbac.Page{Path: in.Path, Label: in.Label, ParentID: in.ParentID})
	if err != nil {
		return rbac.Page{}, err
	}
	s.logger.Info("page registered", slog.Int64("page_id", page.ID), slog.String("path", page.Path))
	s.audit(ctx, shared.AuditPageCreate, "page", strconv.FormatInt(page.ID, 10), map[string]any{"path": page.Path})
	return page, nil
}

// List returns every registered page ordered by id.
func (s *Service) List(ctx context.Context) ([]rbac.Page, error) {
	return s.store.ListPages(ctx)
}

// GrantPages replaces the subject's page set. Granting a parent does not
// grant its children.
func (s *Service) GrantPages(ctx context.Context, subject rbac.Subject, in GrantInput) ([]int64, error) {
	if err := validateSubject(subject); err != nil {
		return nil, err
	}
	if err := shared.ValidateStruct(s.validator, in); err != nil {
		return nil, err
	}
	ids := uniqueSorted(in.PageIDs)

	release, err := s.locker.Lock(ctx, shared.PageGrantsLockKey(string(subject.Type), subject.ID))
	if err != nil {
		return nil, shared.LockFailed(string(subject.Type), subject.ID, err)
	}
	err = s.store.ReplacePageGrants(context.WithoutCancel(ctx), subject, ids)
	release()
	if err != nil {
		return nil, err
	}
	s.logger.Info("page grants replaced",
		slog.String("subject_type", string(subject.Type)),
		slog.Int64("subject_id", subject.ID),
		slog.Int("pages", len(ids)),
	)
	s.audit(ctx, shared.AuditPageReplaceGrants, string(subject.Type), strconv.FormatInt(subject.ID, 10), map[string]any{"page_ids": ids})
	return ids, nil
}

// PagesOf returns the page ids granted directly to the subject.
func (s *Service) PagesOf(ctx context.Context, subject rbac.Subject) ([]int64, error) {
	if err := validateSubject(subject); err != nil {
		return nil, err
	}
	return s.store.PageGrants(ctx, subject)
}

// IsPageAllowed reports whether the page at path is granted to the user
// directly or to any role the user holds. Unknown paths are never allowed.
func (s *Service) IsPageAllowed(ctx context.Context, userID int64, path string) (bool, error) {
	if userID <= 0 {
		return false, shared.Invalid("user_id", "must be positive")
	}
	path = NormalizePath(path)
	if path == "" {
		return false, shared.Invalid("path", "is required")
	}

	var (
		page  rbac.Page
		roles []rbac.Role
		known = true
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page, err = s.store.PageByPath(gctx, path)
		if errors.Is(err, shared.ErrNotFound) {
			known = false
			return nil
		}
		return err
	})
	g.Go(func() error {
		var err error
		roles, err = s.store.RolesOf(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}
	if !known {
		return false, nil
	}

	subjects := make([]rbac.Subject, 0, len(roles)+1)
	subjects = append(subjects, rbac.UserSubject(userID))
	for _, role := range roles {
		subjects = append(subjects, rbac.RoleSubject(role.ID))
	}
	return s.store.HasPageGrant(ctx, subjects, page.ID)
}

func validateSubject(subject rbac.Subject) error {
	if !subject.Type.Valid() {
		return shared.Invalid("subject_type", fmt.Sprintf("unknown subject type %q", subject.Type))
	}
	if subject.ID <= 0 {
		return shared.Invalid("subject_id", "must be positive")
	}
	return nil
}

func uniqueSorted(ids []int64) []int64 {
	set := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Service) audit(ctx context.Context, action, entity, entityID string, meta map[string]any) {
	err := shared.Audit(ctx, s.opts.Auditor, shared.AuditLog{Action: action, Entity: entity, EntityID: entityID, Meta: meta})
	if err != nil {
		s.logger.Warn("audit page", slog.String("action", action), slog.Any("error", err))
	}
}
