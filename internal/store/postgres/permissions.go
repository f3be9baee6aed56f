package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

const permissionColumns = `id, name, description, requires_value, created_at`

func scanPermission(row pgx.Row) (rbac.Permission, error) {
	var p rbac.Permission
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.RequiresValue, &p.CreatedAt)
	return p, err
}

// CreatePermission inserts a permission.
func (s *Store) CreatePermission(ctx context.Context, p rbac.Permission) (rbac.Permission, error) {
	row := s.db.QueryRow(ctx, `INSERT INTO permissions (name, name_key, description, description_key, requires_value)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+permissionColumns, p.Name, shared.NameKey(p.Name), p.Description, shared.NameKey(p.Description), p.RequiresValue)
	created, err := scanPermission(row)
	if err != nil {
		if errors.Is(mapErr("create permission", err), shared.ErrDuplicateName) {
			return rbac.Permission{}, shared.DuplicateName("permission", p.Name)
		}
		return rbac.Permission{}, mapErr("create permission", err)
	}
	return created, nil
}

// GetPermission fetches a permission by id.
func (s *Store) GetPermission(ctx context.Context, id int64) (rbac.Permission, error) {
	p, err := scanPermission(s.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Permission{}, shared.NotFound("permission", id)
	}
	if err != nil {
		return rbac.Permission{}, mapErr("get permission", err)
	}
	return p, nil
}

// UpdatePermission writes name, description and requires_value.
func (s *Store) UpdatePermission(ctx context.Context, p rbac.Permission) (rbac.Permission, error) {
	row := s.db.QueryRow(ctx, `UPDATE permissions
SET name = $2, name_key = $3, description = $4, description_key = $5, requires_value = $6
WHERE id = $1
RETURNING `+permissionColumns, p.ID, p.Name, shared.NameKey(p.Name), p.Description, shared.NameKey(p.Description), p.RequiresValue)
	updated, err := scanPermission(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return rbac.Permission{}, shared.NotFound("permission", p.ID)
	case err != nil && errors.Is(mapErr("update permission", err), shared.ErrDuplicateName):
		return rbac.Permission{}, shared.DuplicateName("permission", p.Name)
	case err != nil:
		return rbac.Permission{}, mapErr("update permission", err)
	}
	return updated, nil
}

// DeletePermission removes the permission; role_grants rows go with it via
// ON DELETE CASCADE.
func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete permission", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("permission", id)
	}
	return nil
}

// ListPermissions pages through permissions in creation order.
func (s *Store) ListPermissions(ctx context.Context, filters shared.ListFilters) ([]rbac.Permission, int, error) {
	filters = filters.Normalize()
	rows, err := s.db.Query(ctx, `SELECT `+permissionColumns+`, COUNT(*) OVER ()
FROM permissions
WHERE $1 = '' OR name_key LIKE $1 OR description_key LIKE $1
ORDER BY id
LIMIT $2 OFFSET $3`, likePattern(filters.Search), filters.PerPage, filters.Offset())
	if err != nil {
		return nil, 0, mapErr("list permissions", err)
	}
	defer rows.Close()

	perms := make([]rbac.Permission, 0, filters.PerPage)
	total := 0
	for rows.Next() {
		var p rbac.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.RequiresValue, &p.CreatedAt, &total); err != nil {
			return nil, 0, mapErr("list permissions", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapErr("list permissions", err)
	}
	if len(perms) == 0 && filters.Page > 1 {
		if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM permissions WHERE $1 = '' OR name_key LIKE $1 OR description_key LIKE $1`, likePattern(filters.Search)).Scan(&total); err != nil {
			return nil, 0, mapErr("count permissions", err)
		}
	}
	return perms, total, nil
}

// RolesGranting returns ids of roles holding a grant for the permission.
func (s *Store) RolesGranting(ctx context.Context, permissionID int64) ([]int64, error) {
	if _, err := s.GetPermission(ctx, permissionID); err != nil {
		return nil, err
	}
	return collectIDs(ctx, s.db, "roles granting", `SELECT role_id FROM role_grants WHERE permission_id = $1 ORDER BY role_id`, permissionID)
}

func collectIDs(ctx context.Context, q dbtx, op, sql string, args ...any) ([]int64, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(op, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, mapErr(op, err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}
