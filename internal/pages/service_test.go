package pages

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/store/memory"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/parent-1/":         "parent-1",
		" parent-1/child-1 ": "parent-1/child-1",
		"//":                 "",
		"reports":            "reports",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePath(in), in)
	}
}

func registerTree(t *testing.T, svc *Service) (rbac.Page, rbac.Page) {
	t.Helper()
	ctx := context.Background()
	parent, err := svc.Register(ctx, RegisterInput{Path: "/parent-1", Label: "Parent"})
	require.NoError(t, err)
	child, err := svc.Register(ctx, RegisterInput{Path: "parent-1/child-1/", Label: "Child", ParentID: &parent.ID})
	require.NoError(t, err)
	return parent, child
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.New(), Options{})
	parent, child := registerTree(t, svc)
	assert.Equal(t, "parent-1", parent.Path)
	assert.Equal(t, "parent-1/child-1", child.Path)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent.ID, *child.ParentID)

	_, err := svc.Register(ctx, RegisterInput{Path: "parent-1/child-1/deep", Label: "Deep", ParentID: &child.ID})
	var ve *shared.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "parent_id", ve.Field)

	_, err = svc.Register(ctx, RegisterInput{Path: "parent-1/", Label: "Again"})
	assert.ErrorIs(t, err, shared.ErrDuplicateName)

	missing := int64(404)
	_, err = svc.Register(ctx, RegisterInput{Path: "orphan", Label: "Orphan", ParentID: &missing})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Register(ctx, RegisterInput{Path: "/", Label: "Root"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	pages, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestGrantPagesDedupesAndSorts(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.New(), Options{})
	parent, child := registerTree(t, svc)

	ids, err := svc.GrantPages(ctx, rbac.UserSubject(5), GrantInput{PageIDs: []int64{child.ID, parent.ID, child.ID}})
	require.NoError(t, err)
	assert.Equal(t, []int64{parent.ID, child.ID}, ids)

	stored, err := svc.PagesOf(ctx, rbac.UserSubject(5))
	require.NoError(t, err)
	assert.Equal(t, ids, stored)

	_, err = svc.GrantPages(ctx, rbac.UserSubject(5), GrantInput{PageIDs: []int64{parent.ID, 999}})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	stored, err = svc.PagesOf(ctx, rbac.UserSubject(5))
	require.NoError(t, err)
	assert.Equal(t, []int64{parent.ID, child.ID}, stored, "failed replacement keeps the previous set")

	_, err = svc.GrantPages(ctx, rbac.RoleSubject(77), GrantInput{PageIDs: []int64{parent.ID}})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.GrantPages(ctx, rbac.Subject{Type: "group", ID: 1}, GrantInput{})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

type failingLocker struct{ err error }

func (l failingLocker) Lock(ctx context.Context, key string) (func(), error) {
	return nil, l.err
}

func TestGrantPagesLockFailure(t *testing.T) {
	ctx := context.Background()
	busy := NewService(memory.New(), Options{Locker: failingLocker{fmt.Errorf("%w: rbac:pages:user:5:lock", shared.ErrLockTimeout)}})
	_, err := busy.GrantPages(ctx, rbac.UserSubject(5), GrantInput{})
	assert.ErrorIs(t, err, shared.ErrConflict)

	down := NewService(memory.New(), Options{Locker: failingLocker{errors.New("dial tcp: connection refused")}})
	_, err = down.GrantPages(ctx, rbac.RoleSubject(2), GrantInput{})
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
}

func TestIsPageAllowed(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewService(store, Options{})
	parent, child := registerTree(t, svc)

	role, err := store.CreateRole(ctx, rbac.Role{Name: "auditors", IsSuperuser: true})
	require.NoError(t, err)
	require.NoError(t, store.AssignRole(ctx, 2, role.ID))

	_, err = svc.GrantPages(ctx, rbac.UserSubject(1), GrantInput{PageIDs: []int64{parent.ID}})
	require.NoError(t, err)
	_, err = svc.GrantPages(ctx, rbac.RoleSubject(role.ID), GrantInput{PageIDs: []int64{child.ID}})
	require.NoError(t, err)

	cases := []struct {
		name   string
		userID int64
		path   string
		want   bool
	}{
		{"direct grant", 1, "parent-1", true},
		{"parent does not imply child", 1, "parent-1/child-1", false},
		{"role grant", 2, "/parent-1/child-1/", true},
		{"child does not imply parent even for superusers", 2, "parent-1", false},
		{"unknown path", 1, "nowhere", false},
		{"no grants", 3, "parent-1", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.IsPageAllowed(ctx, tc.userID, tc.path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err = svc.IsPageAllowed(ctx, 1, " / ")
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.IsPageAllowed(ctx, 0, "parent-1")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeletingRoleDropsPageAccess(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewService(store, Options{})
	parent, _ := registerTree(t, svc)

	role, err := store.CreateRole(ctx, rbac.Role{Name: "viewers"})
	require.NoError(t, err)
	require.NoError(t, store.AssignRole(ctx, 4, role.ID))
	_, err = svc.GrantPages(ctx, rbac.RoleSubject(role.ID), GrantInput{PageIDs: []int64{parent.ID}})
	require.NoError(t, err)

	ok, err := svc.IsPageAllowed(ctx, 4, "parent-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.DeleteRole(ctx, role.ID))
	ok, err = svc.IsPageAllowed(ctx, 4, "parent-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
