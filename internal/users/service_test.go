package users

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	"github.com/odyssey-erp/odyssey-access/internal/store/memory"
)

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

type recordingAuditor struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAuditor) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func TestAssignIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	role, err := store.CreateRole(ctx, rbac.Role{Name: "support"})
	require.NoError(t, err)
	inv := &countingInvalidator{}
	auditor := &recordingAuditor{}
	svc := NewService(store, Options{Invalidator: inv, Auditor: auditor})

	require.NoError(t, svc.Assign(ctx, 7, role.ID))
	require.NoError(t, svc.Assign(ctx, 7, role.ID))

	roles, err := svc.RolesOf(ctx, 7)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, role.ID, roles[0].ID)

	users, err := svc.UsersOf(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, users)
	assert.Equal(t, 2, inv.calls)
	require.Len(t, auditor.logs, 2)
	assert.Equal(t, shared.AuditRoleAssign, auditor.logs[0].Action)
	assert.Equal(t, "7", auditor.logs[0].EntityID)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	role, err := store.CreateRole(ctx, rbac.Role{Name: "support"})
	require.NoError(t, err)
	svc := NewService(store, Options{})

	require.NoError(t, svc.Revoke(ctx, 7, role.ID), "revoking an unheld role is a no-op")
	require.NoError(t, svc.Assign(ctx, 7, role.ID))
	require.NoError(t, svc.Revoke(ctx, 7, role.ID))

	roles, err := svc.RolesOf(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestAssignValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.New(), Options{})

	assert.ErrorIs(t, svc.Assign(ctx, 0, 1), shared.ErrValidation)
	assert.ErrorIs(t, svc.Assign(ctx, 1, -1), shared.ErrValidation)
	assert.ErrorIs(t, svc.Assign(ctx, 1, 99), shared.ErrNotFound)

	_, err := svc.RolesOf(ctx, 0)
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.UsersOf(ctx, 99)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
