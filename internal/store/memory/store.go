// Package memory implements rbac.Store in process memory. It backs tests and
// single-instance development deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

var (
	_ rbac.Store      = (*Store)(nil)
	_ rbac.Transactor = (*Store)(nil)
)

type roleRecord struct {
	role   rbac.Role
	grants map[int64]rbac.Quota
}

type state struct {
	nextPermissionID int64
	nextRoleID       int64
	nextPageID       int64

	permissions     map[int64]rbac.Permission
	permissionNames map[string]int64

	roles     map[int64]*roleRecord
	roleNames map[string]int64

	userRoles map[int64]map[int64]time.Time

	pages      map[int64]rbac.Page
	pagePaths  map[string]int64
	pageGrants map[rbac.Subject]map[int64]struct{}
}

func newState() *state {
	return &state{
		permissions:     make(map[int64]rbac.Permission),
		permissionNames: make(map[string]int64),
		roles:           make(map[int64]*roleRecord),
		roleNames:       make(map[string]int64),
		userRoles:       make(map[int64]map[int64]time.Time),
		pages:           make(map[int64]rbac.Page),
		pagePaths:       make(map[string]int64),
		pageGrants:      make(map[rbac.Subject]map[int64]struct{}),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextPermissionID, c.nextRoleID, c.nextPageID = s.nextPermissionID, s.nextRoleID, s.nextPageID
	for k, v := range s.permissions {
		c.permissions[k] = v
	}
	for k, v := range s.permissionNames {
		c.permissionNames[k] = v
	}
	for k, v := range s.roles {
		grants := make(map[int64]rbac.Quota, len(v.grants))
		for pid, q := range v.grants {
			grants[pid] = q
		}
		c.roles[k] = &roleRecord{role: v.role, grants: grants}
	}
	for k, v := range s.roleNames {
		c.roleNames[k] = v
	}
	for uid, set := range s.userRoles {
		cp := make(map[int64]time.Time, len(set))
		for rid, at := range set {
			cp[rid] = at
		}
		c.userRoles[uid] = cp
	}
	for k, v := range s.pages {
		c.pages[k] = v
	}
	for k, v := range s.pagePaths {
		c.pagePaths[k] = v
	}
	for subj, set := range s.pageGrants {
		cp := make(map[int64]struct{}, len(set))
		for pid := range set {
			cp[pid] = struct{}{}
		}
		c.pageGrants[subj] = cp
	}
	return c
}

// Store is a concurrency-safe in-memory rbac.Store.
type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

// New constructs an empty Store.
func New() *Store {
	return &Store{st: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// WithTx runs fn against a private copy of the state and publishes it only
// when fn succeeds. Writers are blocked for the duration of fn.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, rbac.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Store{st: s.st.clone(), now: s.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

func (s *Store) read(ctx context.Context) (*state, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	return s.st, s.mu.RUnlock, nil
}

func (s *Store) write(ctx context.Context) (*state, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	return s.st, s.mu.Unlock, nil
}

// CreatePermission inserts a permission with a fresh id.
func (s *Store) CreatePermission(ctx context.Context, p rbac.Permission) (rbac.Permission, error) {
	st, unlock, err := s.write(ctx)
	if err != nil {
		return rbac.Permission{}, err
	}
	defer unlock()
	key := shared.NameKey(p.Name)
	if _, exists := st.permissionNames[key]; exists {
		return rbac.Permission{}, shared.DuplicateName("permission", p.Name)
	}
	st.nextPermissionID++
	p.ID = st.nextPermissionID
	p.CreatedAt = s.now()
	st.permissions[p.ID] = p
	st.permissionNames[key] = p.ID
	return p, nil
}

// GetPermission fetches a permission by id.
func (s *Store) GetPermission(ctx context.Context, id int64) (rbac.Permission, error) {
	st, unlock, err := s.read(ctx)
	if err != nil {
		return rbac.Permission{}, err
	}
	defer unlock()
	p, ok := st.permissions[id]
	if !ok {
		return rbac.Permission{}, shared.NotFound("permission", id)
	}
	return p, nil
}

// UpdatePermission overwrites name, description and requires_value.
func (s *Store) UpdatePermission(ctx context.Context, p rbac.Permission) (rbac.Permission, error) {
	st, unlock, err := s.write(ctx)
	if err != nil {
		return rbac.Permission{}, err
	}
	defer unlock()
	current, ok := st.permissions[p.ID]
	if !ok {
		return rbac.Permission{}, shared.NotFound("permission", p.ID)
	}
	oldKey, newKey := shared.NameKey(current.Name), shared.NameKey(p.Name)
	if oldKey != newKey {
		if _, exists := st.permissionNames[newKey]; exists {
			return rbac.Permission{}, shared.DuplicateName("permission", p.Name)
		}
		delete(st.permissionNames, oldKey)
		st.permissionNames[newKey] = p.ID
	}
	current.Name = p.Name
	current.Description = p.Description
	current.RequiresValue = p.RequiresValue
	st.permissions[p.ID] = current
	return current, nil
}

// DeletePermission removes the permission and strips it from every role.
func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	st, unlock, err := s.write(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	p, ok := st.permissions[id]
	if !ok {
		return shared.NotFound("permission", id)
	}
	for _, rec := range st.roles {
		delete(rec.grants, id)
	}
	delete(st.permissions, id)
	delete(st.permissionNames, shared.NameKey(p.Name))
	return nil
}

// ListPermissions returns a page of permissions in creation order.
func (s *Store) ListPermissions(ctx context.Context, filters shared.ListFilters) ([]rbac.Permission, int, error) {
	st, unlock, err := s.read(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer unlock()
	matched := make([]rbac.Permission, 0, len(st.permissions))
	for _, id := range sortedKeys(st.permissions) {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		p := st.permissions[id]
		if shared.MatchesSearch(filters.Search, p.Name, p.Description) {
			matched = append(matched, p)
		}
	}
	return paginate(matched, filters), len(matched), nil
}

// RolesGranting returns ids of roles holding a grant for the permission.
func (s *Store) RolesGranting(ctx context.Context, permissionID int64) ([]int64, error) {
	st, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	var ids []int64
	for _, id := range sortedKeys(st.roles) {
		if _, ok := st.roles[id].grants[permissionID]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// CreateRole inserts a role together with its initial grants.
func (s *Store) CreateRole(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	st, unlock, err := s.write(ctx)
	if err != nil {
		return rbac.Role{}, err
	}
	defer unlock()
	key := shared.NameKey(role.Name)
	if _, exists := st.roleNames[key]; exists {
		return rbac.Role{}, shared.DuplicateName("role", role.Name)
	}
	grants, err := st.grantSet(role.Grants)
	if err != nil {
		return rbac.Role{}, err
	}
	st.nextRoleID++
	now := s.now()
	role.ID = st.nextRoleID
	role.CreatedAt, role.UpdatedAt = now, now
	role.Grants = nil
	st.roles[role.ID] = &roleRecord{role: role, grants: grants}
	st.roleNames[key] = role.ID
	return st.resolve(st.roles[role.ID]), nil
}

// GetRole fetches a role with grants.
func (s *Store) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	st, unlock, err := s.read(ctx)
	if err != nil {
		return rbac.Role{}, err
	}
	defer unlock()
	rec, ok := st.roles[id]
	if !ok {
		return rbac.Role{}, shared.NotFound("role", id)
	}
	return st.resolve(rec), nil
}

// UpdateRole changes role metadata.
func (s *Store) UpdateRole(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	st, unlock, err := s.write(ctx)
	if err != nil {
		return rbac.Role{}, err
	}
	defer unlock()
	rec, ok := st.roles[role.ID]
	if !ok {
		return rbac.Role{}, shared.NotFound("role", role.ID)
	}
	oldKey, newKey := shared.NameKey(rec.role.Name), shared.NameKey(role.Name)
	if oldKey != newKey {
		if _, exists := st.roleNames[newKey]; exists {
			return rbac.Role{}, shared.DuplicateName("role", role.Name)
		}
		delete(st.roleNames, oldKey)
		st.roleNames[newKey] = role.ID
	}
	rec.role.Name = role.Name
	rec.role.Description = role.Description
	rec.role.IsSuperuser = role.IsSuperuser
	rec.role.UpdatedAt = s.now()
	return st.resolve(rec), nil
}

// ReplaceGrants swaps the role's grant set.
func (s *Store) ReplaceGrants(ctx context.Context, roleID int64, grants []rbac.Grant) (rbac.Role, error) {
	st, unlock, err := s.write(ctx)
	if err != nil {
		return rbac.Role{}, err
	}
	defer unlock()
	rec, ok := st.roles[roleID]
	if !ok {
		return rbac.Role{}, shared.NotFound("role", roleID)
	}
	set, err := st.grantSet(grants)
	if err != nil {
		return rbac.Role{}, err
	}
	rec.grants = set
	rec.role.UpdatedAt = s.now()
	return st.resolve(rec), nil
}

// DeleteRole removes the role, its assignments and its page grants.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	st, unlock, err := s.write(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	rec, ok := st.roles[id]
	if !ok {
		return shared.NotFound("role", id)
	}
	for uid, set := range st.userRoles {
		delete(set, id)
		if len(set) == 0 {
			delete(st.userRoles, uid)
		}
	}
	delete(st.pageGrants, rbac.RoleSubject(id))
	delete(st.roleNames, shared.NameKey(rec.role.Name))
	delete(st.roles, id)
	return nil
}

// ListRoles returns a page of roles in creation order.
func (s *Store) ListRoles(ctx context.Context, filters shared.ListFilters) ([]rbac.Role, int, error) {
	st, unlock, err := s.read(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer unlock()
	matched := make([]rbac.Role, 0, len(st.roles))
	for _, id := range sortedKeys(st.roles) {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		rec := st.roles[id]
		if shared.MatchesSearch(filters.Search, rec.role.Name, rec.role.Description) {
			matched = append(matched, st.resolve(rec))
		}
	}
	return paginate(matched, filters), len(matched), nil
}

// AssignRole links the user to the role; repeating it is a no-op.
func (s *Store) AssignRole(ctx context.Context, userID, roleID int64) error {
	st, unlock, err := s.write(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := st.roles[roleID]; !ok {
		return shared.NotFound("role", roleID)
	}
	set, ok := st.userRoles[userID]
	if !ok {
		set = make(map[int64]time.Time)
		st.userRoles[userID] = set
	}
	if _, held := set[roleID]; !held {
		set[roleID] = s.now()
	}
	return nil
}

// RevokeRole unlinks the user from the role.
func (s *Store) RevokeRole(ctx context.Context, userID, roleID int64) error {
	st, unlock, err := s.write(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if set, ok := st.userRoles[userID]; ok {
		delete(set, roleID)
		if len(set) == 0 {
			delete(st.userRoles, userID)
		}
	}
	return nil
}

// RolesOf returns the user's roles ordered by id.
func (s *Store) RolesOf(ctx context.Context, userID int64) ([]rbac.Role, error) {
	st, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	set := st.userRoles[userID]
	roles := make([]rbac.Role, 0, len(set))
	for _, rid := range sortedKeys(set) {
		if rec, ok := st.roles[rid]; ok {
			roles = append(roles, st.resolve(rec))
		}
	}
	return roles, nil
}

// UsersOf returns ids of users holding the role.
func (s *Store) UsersOf(ctx context.Context, roleID int64) ([]int64, error) {
	st, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if _, ok := st.roles[roleID]; !ok {
		return nil, shared.NotFound("role", roleID)
	}
	users := make([]int64, 0)
	for _, uid := range sortedKeys(st.userRoles) {
		if _, ok := st.userRoles[uid][roleID]; ok {
			users = append(users, uid)
		}
	}
	return users, nil
}

// CreatePage registers a page.
func (s *Store) CreatePage(ctx context.Context, page rbac.Page) (rbac.Page, error) {
	st, unlock, err := s.write(ctx)
	if err != nil {
		return rbac.Page{}, err
	}
	defer unlock()
	if _, exists := st.pagePaths[page.Path]; exists {
		return rbac.Page{}, shared.DuplicateName("page", page.Path)
	}
	if page.ParentID != nil {
		if _, ok := st.pages[*page.ParentID]; !ok {
			return rbac.Page{}, shared.NotFound("page", *page.ParentID)
		}
	}
	st.nextPageID++
	page.ID = st.nextPageID
	st.pages[page.ID] = page
	st.pagePaths[page.Path] = page.ID
	return page, nil
}

// GetPage fetches a page by id.
func (s *Store) GetPage(ctx context.Context, id int64) (rbac.Page, error) {
	st, unlock, err := s.read(ctx)
	if err != nil {
		return rbac.Page{}, err
	}
	defer unlock()
	page, ok := st.pages[id]
	if !ok {
		return rbac.Page{}, shared.NotFound("page", id)
	}
	return page, nil
}

// PageByPath fetches a page by its path.
func (s *Store) PageByPath(ctx context.Context, path string) (rbac.Page, error) {
	st, unlock, err := s.read(ctx)
	if err != nil {
		return rbac.Page{}, err
	}
	defer unlock()
	id, ok := st.pagePaths[path]
	if !ok {
		return rbac.Page{}, shared.NotFound("page", path)
	}
	return st.pages[id], nil
}

// ListPages returns all pages ordered by id.
func (s *Store) ListPages(ctx context.Context) ([]rbac.Page, error) {
	st, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	pages := make([]rbac.Page, 0, len(st.pages))
	for _, id := range sortedKeys(st.pages) {
		pages = append(pages, st.pages[id])
	}
	return pages, nil
}

// ReplacePageGrants swaps the subject's page set.
func (s *Store) ReplacePageGrants(ctx context.Context, subject rbac.Subject, pageIDs []int64) error {
	st, unlock, err := s.write(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	if subject.Type == rbac.SubjectRole {
		if _, ok := st.roles[subject.ID]; !ok {
			return shared.NotFound("role", subject.ID)
		}
	}
	set := make(map[int64]struct{}, len(pageIDs))
	for _, id := range pageIDs {
		if _, ok := st.pages[id]; !ok {
			return shared.NotFound("page", id)
		}
		set[id] = struct{}{}
	}
	if len(set) == 0 {
		delete(st.pageGrants, subject)
		return nil
	}
	st.pageGrants[subject] = set
	return nil
}

// PageGrants returns the subject's page ids ascending.
func (s *Store) PageGrants(ctx context.Context, subject rbac.Subject) ([]int64, error) {
	st, unlock, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return sortedKeys(st.pageGrants[subject]), nil
}

// HasPageGrant reports whether any subject holds the page.
func (s *Store) HasPageGrant(ctx context.Context, subjects []rbac.Subject, pageID int64) (bool, error) {
	st, unlock, err := s.read(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()
	for _, subj := range subjects {
		if _, ok := st.pageGrants[subj][pageID]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (st *state) grantSet(grants []rbac.Grant) (map[int64]rbac.Quota, error) {
	set := make(map[int64]rbac.Quota, len(grants))
	for _, g := range grants {
		if _, ok := st.permissions[g.PermissionID]; !ok {
			return nil, shared.NotFound("permission", g.PermissionID)
		}
		if _, dup := set[g.PermissionID]; dup {
			return nil, shared.Invalid("grants", "permission listed more than once")
		}
		q := g.Quota
		if q == nil {
			q = rbac.Unlimited{}
		}
		set[g.PermissionID] = q
	}
	return set, nil
}

func (st *state) resolve(rec *roleRecord) rbac.Role {
	role := rec.role
	role.Grants = make([]rbac.Grant, 0, len(rec.grants))
	for _, pid := range sortedKeys(rec.grants) {
		role.Grants = append(role.Grants, rbac.Grant{
			PermissionID: pid,
			Permission:   st.permissions[pid].Name,
			Quota:        rec.grants[pid],
		})
	}
	return role
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func paginate[T any](items []T, filters shared.ListFilters) []T {
	f := filters.Normalize()
	start := f.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + f.PerPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
