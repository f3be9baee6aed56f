package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

type permissionSeed struct {
	name          string
	description   string
	requiresValue bool
}

var permissionSeeds = []permissionSeed{
	{shared.PermPermissionsView, "View permissions", false},
	{shared.PermPermissionsEdit, "Manage permissions", false},
	{shared.PermRolesView, "View roles", false},
	{shared.PermRolesEdit, "Manage roles and grants", false},
	{shared.PermUsersView, "View role assignments", false},
	{shared.PermUsersEdit, "Assign and revoke roles", false},
	{shared.PermPagesView, "View page registry", false},
	{shared.PermPagesEdit, "Manage page registry and page grants", false},
	{shared.PermAccessView, "Inspect evaluated access of any user", false},
	// Sample business permissions.
	{"refund", "Issue customer refunds", true},
	{"delete_user", "Delete user accounts", false},
}

type roleSeed struct {
	name        string
	description string
	superuser   bool
	grants      func(perms map[string]rbac.Permission) []rbac.Grant
}

func refundQuota() rbac.Quota {
	return rbac.Capped{Value: 500, Window: rbac.Window{Type: rbac.LimitDaily, Period: 1}}
}

var roleSeeds = []roleSeed{
	{name: "admin", description: "Unrestricted access", superuser: true},
	{name: "access-admin", description: "Administers the access model", grants: func(perms map[string]rbac.Permission) []rbac.Grant {
		grants := make([]rbac.Grant, 0, len(shared.CoreScopes()))
		for _, scope := range shared.CoreScopes() {
			grants = append(grants, rbac.Grant{PermissionID: perms[scope].ID, Quota: rbac.Unlimited{}})
		}
		return grants
	}},
	{name: "support", description: "Customer support agents", grants: func(perms map[string]rbac.Permission) []rbac.Grant {
		return []rbac.Grant{{PermissionID: perms["refund"].ID, Quota: refundQuota()}}
	}},
}

var pageSeeds = []struct {
	path   string
	label  string
	parent string
}{
	{"admin", "Administration", ""},
	{"admin/roles", "Roles", "admin"},
	{"admin/permissions", "Permissions", "admin"},
	{"admin/pages", "Pages", "admin"},
	{"support", "Support desk", ""},
	{"support/refunds", "Refunds", "support"},
}

// seed bootstraps the access model. Running it again converges on the same
// state instead of failing on existing rows.
func seed(ctx context.Context, store rbac.Store, adminUserID int64, out io.Writer) error {
	fmt.Fprintln(out, "→ Seeding permissions...")
	perms, err := seedPermissions(ctx, store)
	if err != nil {
		return fmt.Errorf("permissions: %w", err)
	}

	fmt.Fprintln(out, "→ Seeding roles...")
	roles, err := seedRoles(ctx, store, perms)
	if err != nil {
		return fmt.Errorf("roles: %w", err)
	}

	fmt.Fprintln(out, "→ Seeding pages...")
	pages, err := seedPages(ctx, store)
	if err != nil {
		return fmt.Errorf("pages: %w", err)
	}
	if err := store.ReplacePageGrants(ctx, rbac.RoleSubject(roles["access-admin"].ID),
		[]int64{pages["admin"].ID, pages["admin/roles"].ID, pages["admin/permissions"].ID, pages["admin/pages"].ID}); err != nil {
		return fmt.Errorf("page grants: %w", err)
	}
	if err := store.ReplacePageGrants(ctx, rbac.RoleSubject(roles["support"].ID),
		[]int64{pages["support"].ID, pages["support/refunds"].ID}); err != nil {
		return fmt.Errorf("page grants: %w", err)
	}

	fmt.Fprintf(out, "→ Assigning admin to user %d...\n", adminUserID)
	if err := store.AssignRole(ctx, adminUserID, roles["admin"].ID); err != nil {
		return fmt.Errorf("assign admin: %w", err)
	}
	if err := store.AssignRole(ctx, adminUserID, roles["access-admin"].ID); err != nil {
		return fmt.Errorf("assign access-admin: %w", err)
	}
	return nil
}

func seedPermissions(ctx context.Context, store rbac.Store) (map[string]rbac.Permission, error) {
	out := make(map[string]rbac.Permission, len(permissionSeeds))
	for _, ps := range permissionSeeds {
		p, err := store.CreatePermission(ctx, rbac.Permission{Name: ps.name, Description: ps.description, RequiresValue: ps.requiresValue})
		if errors.Is(err, shared.ErrDuplicateName) {
			p, err = findPermission(ctx, store, ps.name)
		}
		if err != nil {
			return nil, err
		}
		out[ps.name] = p
	}
	return out, nil
}

func seedRoles(ctx context.Context, store rbac.Store, perms map[string]rbac.Permission) (map[string]rbac.Role, error) {
	out := make(map[string]rbac.Role, len(roleSeeds))
	for _, rs := range roleSeeds {
		var grants []rbac.Grant
		if rs.grants != nil {
			grants = rs.grants(perms)
		}
		role, err := store.CreateRole(ctx, rbac.Role{Name: rs.name, Description: rs.description, IsSuperuser: rs.superuser, Grants: grants})
		if errors.Is(err, shared.ErrDuplicateName) {
			role, err = findRole(ctx, store, rs.name)
			if err == nil {
				role, err = store.ReplaceGrants(ctx, role.ID, grants)
			}
		}
		if err != nil {
			return nil, err
		}
		out[rs.name] = role
	}
	return out, nil
}

func seedPages(ctx context.Context, store rbac.Store) (map[string]rbac.Page, error) {
	out := make(map[string]rbac.Page, len(pageSeeds))
	for _, ps := range pageSeeds {
		if existing, err := store.PageByPath(ctx, ps.path); err == nil {
			out[ps.path] = existing
			continue
		} else if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		page := rbac.Page{Path: ps.path, Label: ps.label}
		if ps.parent != "" {
			parentID := out[ps.parent].ID
			page.ParentID = &parentID
		}
		created, err := store.CreatePage(ctx, page)
		if err != nil {
			return nil, err
		}
		out[ps.path] = created
	}
	return out, nil
}

func findPermission(ctx context.Context, store rbac.Store, name string) (rbac.Permission, error) {
	perms, _, err := store.ListPermissions(ctx, shared.ListFilters{Page: 1, PerPage: 100, Search: name})
	if err != nil {
		return rbac.Permission{}, err
	}
	for _, p := range perms {
		if shared.NameKey(p.Name) == shared.NameKey(name) {
			return p, nil
		}
	}
	return rbac.Permission{}, shared.NotFound("permission", name)
}

func findRole(ctx context.Context, store rbac.Store, name string) (rbac.Role, error) {
	roles, _, err := store.ListRoles(ctx, shared.ListFilters{Page: 1, PerPage: 100, Search: name})
	if err != nil {
		return rbac.Role{}, err
	}
	for _, r := range roles {
		if shared.NameKey(r.Name) == shared.NameKey(name) {
			return r, nil
		}
	}
	return rbac.Role{}, shared.NotFound("role", name)
}
