package rbac

import (
	"context"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// PermissionStore persists the permission catalog. Names are unique by
// shared.NameKey; violations return shared.DuplicateNameError.
type PermissionStore interface {
	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	UpdatePermission(ctx context.Context, p Permission) (Permission, error)
	// DeletePermission removes the permission and every grant referencing it
	// in one operation.
	DeletePermission(ctx context.Context, id int64) error
	ListPermissions(ctx context.Context, filters shared.ListFilters) ([]Permission, int, error)
	// RolesGranting returns ids of roles holding a grant for the permission.
	RolesGranting(ctx context.Context, permissionID int64) ([]int64, error)
}

// RoleStore persists roles together with their grant sets.
type RoleStore interface {
	CreateRole(ctx context.Context, role Role) (Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	// UpdateRole changes name, description and superuser flag; grants are untouched.
	UpdateRole(ctx context.Context, role Role) (Role, error)
	// ReplaceGrants swaps the whole grant set of a role atomically.
	ReplaceGrants(ctx context.Context, roleID int64, grants []Grant) (Role, error)
	// DeleteRole removes the role, its assignments and its page grants.
	DeleteRole(ctx context.Context, id int64) error
	ListRoles(ctx context.Context, filters shared.ListFilters) ([]Role, int, error)
}

// AssignmentStore persists the user ↔ role ledger.
type AssignmentStore interface {
	// AssignRole is idempotent.
	AssignRole(ctx context.Context, userID, roleID int64) error
	RevokeRole(ctx context.Context, userID, roleID int64) error
	// RolesOf returns the user's roles with grants, ordered by role id.
	RolesOf(ctx context.Context, userID int64) ([]Role, error)
	UsersOf(ctx context.Context, roleID int64) ([]int64, error)
}

// PageStore persists pages and page grants.
type PageStore interface {
	CreatePage(ctx context.Context, page Page) (Page, error)
	GetPage(ctx context.Context, id int64) (Page, error)
	PageByPath(ctx context.Context, path string) (Page, error)
	ListPages(ctx context.Context) ([]Page, error)
	// ReplacePageGrants swaps the subject's whole page set atomically.
	ReplacePageGrants(ctx context.Context, subject Subject, pageIDs []int64) error
	PageGrants(ctx context.Context, subject Subject) ([]int64, error)
	// HasPageGrant reports whether any subject holds the page.
	HasPageGrant(ctx context.Context, subjects []Subject, pageID int64) (bool, error)
}

// Store is the composite persistence port.
type Store interface {
	PermissionStore
	RoleStore
	AssignmentStore
	PageStore
}

// Transactor is implemented by stores offering multi-row transactions.
type Transactor interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
}

// RoleSource is the narrow read dependency of the evaluator.
type RoleSource interface {
	RolesOf(ctx context.Context, userID int64) ([]Role, error)
}

// Invalidator is notified after any mutation affecting evaluation results.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}
