package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

const roleColumns = `r.id, r.name, r.description, r.is_superuser, r.created_at, r.updated_at`

func scanRole(row pgx.Row) (rbac.Role, error) {
	var r rbac.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsSuperuser, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// CreateRole inserts the role and its initial grants in one transaction.
func (s *Store) CreateRole(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	var created rbac.Role
	err := s.tx(ctx, func(tx *Store) error {
		var err error
		created, err = scanRole(tx.db.QueryRow(ctx, `INSERT INTO roles AS r (name, name_key, description, description_key, is_superuser)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+roleColumns, role.Name, shared.NameKey(role.Name), role.Description, shared.NameKey(role.Description), role.IsSuperuser))
		if err != nil {
			if errors.Is(mapErr("create role", err), shared.ErrDuplicateName) {
				return shared.DuplicateName("role", role.Name)
			}
			return mapErr("create role", err)
		}
		if err := tx.insertGrants(ctx, created.ID, role.Grants); err != nil {
			return err
		}
		created.Grants, err = tx.grantsOf(ctx, created.ID)
		return err
	})
	if err != nil {
		return rbac.Role{}, err
	}
	return created, nil
}

// GetRole fetches a role with its grants.
func (s *Store) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	role, err := scanRole(s.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Role{}, shared.NotFound("role", id)
	}
	if err != nil {
		return rbac.Role{}, mapErr("get role", err)
	}
	role.Grants, err = s.grantsOf(ctx, id)
	if err != nil {
		return rbac.Role{}, err
	}
	return role, nil
}

// UpdateRole writes name, description and the superuser flag.
func (s *Store) UpdateRole(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	updated, err := scanRole(s.db.QueryRow(ctx, `UPDATE roles AS r
SET name = $2, name_key = $3, description = $4, description_key = $5, is_superuser = $6, updated_at = NOW()
WHERE r.id = $1
RETURNING `+roleColumns, role.ID, role.Name, shared.NameKey(role.Name), role.Description, shared.NameKey(role.Description), role.IsSuperuser))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return rbac.Role{}, shared.NotFound("role", role.ID)
	case err != nil && errors.Is(mapErr("update role", err), shared.ErrDuplicateName):
		return rbac.Role{}, shared.DuplicateName("role", role.Name)
	case err != nil:
		return rbac.Role{}, mapErr("update role", err)
	}
	updated.Grants, err = s.grantsOf(ctx, role.ID)
	if err != nil {
		return rbac.Role{}, err
	}
	return updated, nil
}

// ReplaceGrants swaps the role's grant set under a row lock on the role.
func (s *Store) ReplaceGrants(ctx context.Context, roleID int64, grants []rbac.Grant) (rbac.Role, error) {
	var role rbac.Role
	err := s.tx(ctx, func(tx *Store) error {
		var err error
		role, err = scanRole(tx.db.QueryRow(ctx, `UPDATE roles AS r SET updated_at = NOW() WHERE r.id = $1 RETURNING `+roleColumns, roleID))
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.NotFound("role", roleID)
		}
		if err != nil {
			return mapErr("lock role", err)
		}
		if _, err := tx.db.Exec(ctx, `DELETE FROM role_grants WHERE role_id = $1`, roleID); err != nil {
			return mapErr("clear grants", err)
		}
		if err := tx.insertGrants(ctx, roleID, grants); err != nil {
			return err
		}
		role.Grants, err = tx.grantsOf(ctx, roleID)
		return err
	})
	if err != nil {
		return rbac.Role{}, err
	}
	return role, nil
}

// DeleteRole removes the role. Assignments and grants cascade; page grants
// held by the role are removed explicitly since subjects are polymorphic.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	return s.tx(ctx, func(tx *Store) error {
		tag, err := tx.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return mapErr("delete role", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.NotFound("role", id)
		}
		_, err = tx.db.Exec(ctx, `DELETE FROM page_grants WHERE subject_type = $1 AND subject_id = $2`, string(rbac.SubjectRole), id)
		return mapErr("delete role page grants", err)
	})
}

// ListRoles pages through roles ordered by id.
func (s *Store) ListRoles(ctx context.Context, filters shared.ListFilters) ([]rbac.Role, int, error) {
	filters = filters.Normalize()
	pattern := likePattern(filters.Search)
	rows, err := s.db.Query(ctx, `SELECT `+roleColumns+`
FROM roles r
WHERE $1 = '' OR r.name_key LIKE $1 OR r.description_key LIKE $1
ORDER BY r.id
LIMIT $2 OFFSET $3`, pattern, filters.PerPage, filters.Offset())
	if err != nil {
		return nil, 0, mapErr("list roles", err)
	}
	roles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.Role, error) { return scanRole(row) })
	if err != nil {
		return nil, 0, mapErr("list roles", err)
	}
	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM roles r WHERE $1 = '' OR r.name_key LIKE $1 OR r.description_key LIKE $1`, pattern).Scan(&total); err != nil {
		return nil, 0, mapErr("count roles", err)
	}
	if err := s.attachGrants(ctx, roles); err != nil {
		return nil, 0, err
	}
	return roles, total, nil
}

// AssignRole links user and role; existing links are left untouched.
func (s *Store) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.db.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID)
	if err != nil {
		if errors.Is(mapErr("assign role", err), shared.ErrNotFound) {
			return shared.NotFound("role", roleID)
		}
		return mapErr("assign role", err)
	}
	return nil
}

// RevokeRole unlinks user and role.
func (s *Store) RevokeRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return mapErr("revoke role", err)
}

// RolesOf returns the user's roles with grants ordered by role id.
func (s *Store) RolesOf(ctx context.Context, userID int64) ([]rbac.Role, error) {
	rows, err := s.db.Query(ctx, `SELECT `+roleColumns+`
FROM roles r
JOIN user_roles ur ON ur.role_id = r.id
WHERE ur.user_id = $1
ORDER BY r.id`, userID)
	if err != nil {
		return nil, mapErr("roles of user", err)
	}
	roles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.Role, error) { return scanRole(row) })
	if err != nil {
		return nil, mapErr("roles of user", err)
	}
	if err := s.attachGrants(ctx, roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// UsersOf returns ids of users holding the role.
func (s *Store) UsersOf(ctx context.Context, roleID int64) ([]int64, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
		return nil, mapErr("users of role", err)
	}
	if !exists {
		return nil, shared.NotFound("role", roleID)
	}
	return collectIDs(ctx, s.db, "users of role", `SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id`, roleID)
}

func (s *Store) insertGrants(ctx context.Context, roleID int64, grants []rbac.Grant) error {
	if len(grants) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, g := range grants {
		f := g.Fields()
		batch.Queue(`INSERT INTO role_grants (role_id, permission_id, value, limit_type, limit_period) VALUES ($1, $2, $3, $4, $5)`,
			roleID, f.PermissionID, f.Value, f.LimitType, f.LimitPeriod)
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	for _, g := range grants {
		if _, err := results.Exec(); err != nil {
			mapped := mapErr("insert grant", err)
			switch {
			case errors.Is(mapped, shared.ErrNotFound):
				return shared.NotFound("permission", g.PermissionID)
			case errors.Is(mapped, shared.ErrDuplicateName):
				return shared.Invalid("grants", "permission listed more than once")
			}
			return mapped
		}
	}
	return nil
}

const grantColumns = `g.role_id, g.permission_id, p.name, g.value, g.limit_type, g.limit_period`

func (s *Store) grantsOf(ctx context.Context, roleID int64) ([]rbac.Grant, error) {
	byRole, err := s.grantsFor(ctx, []int64{roleID})
	if err != nil {
		return nil, err
	}
	return byRole[roleID], nil
}

func (s *Store) attachGrants(ctx context.Context, roles []rbac.Role) error {
	if len(roles) == 0 {
		return nil
	}
	ids := make([]int64, len(roles))
	for i, r := range roles {
		ids[i] = r.ID
	}
	byRole, err := s.grantsFor(ctx, ids)
	if err != nil {
		return err
	}
	for i := range roles {
		roles[i].Grants = byRole[roles[i].ID]
	}
	return nil
}

func (s *Store) grantsFor(ctx context.Context, roleIDs []int64) (map[int64][]rbac.Grant, error) {
	rows, err := s.db.Query(ctx, `SELECT `+grantColumns+`
FROM role_grants g
JOIN permissions p ON p.id = g.permission_id
WHERE g.role_id = ANY($1)
ORDER BY g.role_id, g.permission_id`, roleIDs)
	if err != nil {
		return nil, mapErr("load grants", err)
	}
	defer rows.Close()

	out := make(map[int64][]rbac.Grant, len(roleIDs))
	for _, id := range roleIDs {
		out[id] = []rbac.Grant{}
	}
	for rows.Next() {
		var (
			roleID    int64
			f         rbac.GrantFields
			limitType string
		)
		if err := rows.Scan(&roleID, &f.PermissionID, &f.Permission, &f.Value, &limitType, &f.LimitPeriod); err != nil {
			return nil, mapErr("load grants", err)
		}
		f.LimitType = limitType
		g, err := f.Grant()
		if err != nil {
			return nil, fmt.Errorf("store/postgres: role %d grant %d: %w", roleID, f.PermissionID, err)
		}
		out[roleID] = append(out[roleID], g)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("load grants", err)
	}
	return out, nil
}
