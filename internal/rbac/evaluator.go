package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Evaluator query names reported to a DecisionObserver.
const (
	QueryHasRole         = "has_role"
	QueryHasPermission   = "has_permission"
	QueryPermissionLimit = "permission_limit"
)

// snapshotLoadTimeout bounds a shared load once it is detached from the
// caller that started it.
const snapshotLoadTimeout = 10 * time.Second

// Access is the evaluated view of one user's roles and grants.
type Access struct {
	UserID    int64            `json:"user_id"`
	Superuser bool             `json:"superuser"`
	Roles     []string         `json:"roles"`
	Grants    map[string]Limit `json:"grants"`
}

// SnapshotCache stores evaluated Access values.
type SnapshotCache interface {
	Load(ctx context.Context, userID int64) (access Access, version int64, ok bool, err error)
	Store(ctx context.Context, version int64, access Access) error
}

// DecisionObserver receives every evaluator decision.
type DecisionObserver interface {
	ObserveDecision(query string, granted bool)
}

// CacheObserver is optionally implemented by a DecisionObserver to count
// snapshot cache hits and misses.
type CacheObserver interface {
	ObserveCacheLookup(hit bool)
}

// Evaluator answers role, permission and quota questions for users. It keeps
// no state between queries beyond the optional cache.
type Evaluator struct {
	source   RoleSource
	cache    SnapshotCache
	observer DecisionObserver
	logger   *slog.Logger
	group    singleflight.Group
}

// EvaluatorOption customises an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithSnapshotCache enables caching of evaluated snapshots.
func WithSnapshotCache(cache SnapshotCache) EvaluatorOption {
	return func(e *Evaluator) { e.cache = cache }
}

// WithDecisionObserver reports decisions, typically to metrics.
func WithDecisionObserver(observer DecisionObserver) EvaluatorOption {
	return func(e *Evaluator) { e.observer = observer }
}

// WithLogger sets the evaluator logger.
func WithLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = logger }
}

// NewEvaluator constructs an Evaluator reading roles from source.
func NewEvaluator(source RoleSource, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{source: source, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HasRole reports whether the user holds a role named exactly name.
func (e *Evaluator) HasRole(ctx context.Context, userID int64, name string) (bool, error) {
	access, err := e.Snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	granted := access.Superuser
	if !granted {
		for _, held := range access.Roles {
			if held == name {
				granted = true
				break
			}
		}
	}
	e.observe(QueryHasRole, granted)
	return granted, nil
}

// HasPermission reports whether any held role grants the permission. Grant
// presence decides; a missing quota value means unlimited use.
func (e *Evaluator) HasPermission(ctx context.Context, userID int64, name string) (bool, error) {
	limit, err := e.limit(ctx, userID, name)
	if err != nil {
		return false, err
	}
	e.observe(QueryHasPermission, limit.Granted)
	return limit.Granted, nil
}

// PermissionLimit returns the union of the user's grants for the permission:
// unlimited when any role grants it without a cap, otherwise the most
// generous cap.
func (e *Evaluator) PermissionLimit(ctx context.Context, userID int64, name string) (Limit, error) {
	limit, err := e.limit(ctx, userID, name)
	if err != nil {
		return Limit{}, err
	}
	e.observe(QueryPermissionLimit, limit.Granted)
	return limit, nil
}

// EffectivePermissions returns the sorted folded names of granted permissions.
// Superusers get every permission by bypass; the list then only holds explicit grants.
func (e *Evaluator) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	access, err := e.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(access.Grants))
	for name := range access.Grants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (e *Evaluator) limit(ctx context.Context, userID int64, name string) (Limit, error) {
	access, err := e.Snapshot(ctx, userID)
	if err != nil {
		return Limit{}, err
	}
	if access.Superuser {
		return UnlimitedLimit(), nil
	}
	limit, ok := access.Grants[shared.NameKey(name)]
	if !ok {
		return Limit{}, nil
	}
	return limit, nil
}

// Snapshot evaluates the user's current access, consulting the cache first.
func (e *Evaluator) Snapshot(ctx context.Context, userID int64) (Access, error) {
	if userID <= 0 {
		return Access{}, shared.Invalid("user_id", "must be positive")
	}
	if e.cache == nil {
		return e.load(ctx, userID)
	}
	access, version, ok, err := e.cache.Load(ctx, userID)
	switch {
	case err != nil:
		e.logger.Warn("rbac cache load", slog.Int64("user_id", userID), slog.Any("error", err))
		return e.load(ctx, userID)
	case ok:
		e.observeCache(true)
		return access, nil
	}
	e.observeCache(false)

	// Loads are only shared within one cache version. Every mutation bumps
	// the version, so a caller arriving after a write never joins an older
	// flight.
	key := strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(version, 10)
	ch := e.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotLoadTimeout)
		defer cancel()
		access, err := e.load(loadCtx, userID)
		if err != nil {
			return nil, err
		}
		if err := e.cache.Store(loadCtx, version, access); err != nil {
			e.logger.Warn("rbac cache store", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return access, nil
	})
	select {
	case <-ctx.Done():
		return Access{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Access{}, res.Err
		}
		return res.Val.(Access), nil
	}
}

func (e *Evaluator) load(ctx context.Context, userID int64) (Access, error) {
	roles, err := e.source.RolesOf(ctx, userID)
	if err != nil {
		return Access{}, fmt.Errorf("rbac: roles of user %d: %w", userID, err)
	}
	return Evaluate(userID, roles), nil
}

func (e *Evaluator) observeCache(hit bool) {
	if co, ok := e.observer.(CacheObserver); ok {
		co.ObserveCacheLookup(hit)
	}
}

func (e *Evaluator) observe(query string, granted bool) {
	if e.observer != nil {
		e.observer.ObserveDecision(query, granted)
	}
}

// Evaluate folds a user's roles into an Access value.
func Evaluate(userID int64, roles []Role) Access {
	access := Access{
		UserID: userID,
		Roles:  make([]string, 0, len(roles)),
		Grants: make(map[string]Limit),
	}
	for _, role := range roles {
		access.Roles = append(access.Roles, role.Name)
		if role.IsSuperuser {
			access.Superuser = true
		}
		for _, g := range role.Grants {
			key := shared.NameKey(g.Permission)
			if key == "" {
				continue
			}
			access.Grants[key] = merge(access.Grants[key], g.Quota)
		}
	}
	return access
}
