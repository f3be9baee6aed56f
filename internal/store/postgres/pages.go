package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

func scanPage(row pgx.Row) (rbac.Page, error) {
	var p rbac.Page
	err := row.Scan(&p.ID, &p.Path, &p.Label, &p.ParentID)
	return p, err
}

// CreatePage inserts a page.
func (s *Store) CreatePage(ctx context.Context, page rbac.Page) (rbac.Page, error) {
	created, err := scanPage(s.db.QueryRow(ctx, `INSERT INTO pages (path, label, parent_id) VALUES ($1, $2, $3)
RETURNING id, path, label, parent_id`, page.Path, page.Label, page.ParentID))
	if err != nil {
		mapped := mapErr("create page", err)
		switch {
		case errors.Is(mapped, shared.ErrDuplicateName):
			return rbac.Page{}, shared.DuplicateName("page", page.Path)
		case errors.Is(mapped, shared.ErrNotFound) && page.ParentID != nil:
			return rbac.Page{}, shared.NotFound("page", *page.ParentID)
		}
		return rbac.Page{}, mapped
	}
	return created, nil
}

// GetPage fetches a page by id.
func (s *Store) GetPage(ctx context.Context, id int64) (rbac.Page, error) {
	page, err := scanPage(s.db.QueryRow(ctx, `SELECT id, path, label, parent_id FROM pages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Page{}, shared.NotFound("page", id)
	}
	return page, mapErr("get page", err)
}

// PageByPath fetches a page by path.
func (s *Store) PageByPath(ctx context.Context, path string) (rbac.Page, error) {
	page, err := scanPage(s.db.QueryRow(ctx, `SELECT id, path, label, parent_id FROM pages WHERE path = $1`, path))
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Page{}, shared.NotFound("page", path)
	}
	return page, mapErr("page by path", err)
}

// ListPages returns every page ordered by id.
func (s *Store) ListPages(ctx context.Context) ([]rbac.Page, error) {
	rows, err := s.db.Query(ctx, `SELECT id, path, label, parent_id FROM pages ORDER BY id`)
	if err != nil {
		return nil, mapErr("list pages", err)
	}
	pages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.Page, error) { return scanPage(row) })
	if err != nil {
		return nil, mapErr("list pages", err)
	}
	if pages == nil {
		pages = []rbac.Page{}
	}
	return pages, nil
}

// ReplacePageGrants swaps the subject's page set. A transaction-scoped
// advisory lock keyed by subject serializes concurrent replacements across
// instances.
func (s *Store) ReplacePageGrants(ctx context.Context, subject rbac.Subject, pageIDs []int64) error {
	return s.tx(ctx, func(tx *Store) error {
		key := shared.PageGrantsLockKey(string(subject.Type), subject.ID)
		if _, err := tx.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return mapErr("lock page grants", err)
		}
		if subject.Type == rbac.SubjectRole {
			var exists bool
			if err := tx.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, subject.ID).Scan(&exists); err != nil {
				return mapErr("check role", err)
			}
			if !exists {
				return shared.NotFound("role", subject.ID)
			}
		}
		if len(pageIDs) > 0 {
			known, err := collectIDs(ctx, tx.db, "check pages", `SELECT id FROM pages WHERE id = ANY($1) ORDER BY id`, pageIDs)
			if err != nil {
				return err
			}
			if missing, ok := firstMissing(pageIDs, known); ok {
				return shared.NotFound("page", missing)
			}
		}
		if _, err := tx.db.Exec(ctx, `DELETE FROM page_grants WHERE subject_type = $1 AND subject_id = $2`, string(subject.Type), subject.ID); err != nil {
			return mapErr("clear page grants", err)
		}
		if len(pageIDs) == 0 {
			return nil
		}
		_, err := tx.db.Exec(ctx, `INSERT INTO page_grants (subject_type, subject_id, page_id)
SELECT $1, $2, UNNEST($3::BIGINT[])
ON CONFLICT DO NOTHING`, string(subject.Type), subject.ID, pageIDs)
		return mapErr("insert page grants", err)
	})
}

// PageGrants returns the subject's page ids ascending.
func (s *Store) PageGrants(ctx context.Context, subject rbac.Subject) ([]int64, error) {
	return collectIDs(ctx, s.db, "page grants", `SELECT page_id FROM page_grants WHERE subject_type = $1 AND subject_id = $2 ORDER BY page_id`, string(subject.Type), subject.ID)
}

// HasPageGrant reports whether any subject holds the page.
func (s *Store) HasPageGrant(ctx context.Context, subjects []rbac.Subject, pageID int64) (bool, error) {
	if len(subjects) == 0 {
		return false, nil
	}
	types := make([]string, len(subjects))
	ids := make([]int64, len(subjects))
	for i, subj := range subjects {
		types[i], ids[i] = string(subj.Type), subj.ID
	}
	var ok bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1
	FROM page_grants g
	JOIN UNNEST($1::TEXT[], $2::BIGINT[]) AS s (subject_type, subject_id)
	  ON s.subject_type = g.subject_type AND s.subject_id = g.subject_id
	WHERE g.page_id = $3
)`, types, ids, pageID).Scan(&ok)
	if err != nil {
		return false, mapErr("has page grant", err)
	}
	return ok, nil
}

func firstMissing(want, have []int64) (int64, bool) {
	set := make(map[int64]struct{}, len(have))
	for _, id := range have {
		set[id] = struct{}{}
	}
	for _, id := range want {
		if _, ok := set[id]; !ok {
			return id, true
		}
	}
	return 0, false
}
