package permissions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/bulk"
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

func (r *recordingAuditor) Record(ctx context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func newTestService(opts Options) (*Service, *memory.Store) {
	store := memory.New()
	return NewService(store, opts), store
}

func TestCreateValidatesAndDetectsDuplicates(t *testing.T) {
	auditor := &recordingAuditor{}
	svc, _ := newTestService(Options{Auditor: auditor})
	ctx := shared.ContextWithPrincipal(context.Background(), 99)

	p, err := svc.Create(ctx, CreateInput{Name: "  refund ", Description: "Issue refunds", RequiresValue: true})
	require.NoError(t, err)
	assert.Equal(t, "refund", p.Name)
	assert.True(t, p.RequiresValue)

	_, err = svc.Create(ctx, CreateInput{Name: "REFUND"})
	assert.ErrorIs(t, err, shared.ErrDuplicateName)

	_, err = svc.Create(ctx, CreateInput{Name: "   "})
	var ve *shared.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "name", ve.Field)

	require.Len(t, auditor.logs, 1)
	assert.Equal(t, shared.AuditPermissionCreate, auditor.logs[0].Action)
	assert.Equal(t, int64(99), auditor.logs[0].ActorID)
	assert.Equal(t, "1", auditor.logs[0].EntityID)
}

func TestUpdateRejectsRename(t *testing.T) {
	inv := &countingInvalidator{}
	svc, _ := newTestService(Options{Invalidator: inv})
	ctx := context.Background()
	p, err := svc.Create(ctx, CreateInput{Name: "refund"})
	require.NoError(t, err)

	_, err = svc.Update(ctx, p.ID, UpdateInput{Name: "refunds"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	desc, requires := "changed", true
	updated, err := svc.Update(ctx, p.ID, UpdateInput{Name: "refund", Description: &desc, RequiresValue: &requires})
	require.NoError(t, err)
	assert.Equal(t, "changed", updated.Description)
	assert.True(t, updated.RequiresValue)
	assert.Equal(t, 1, inv.calls)

	_, err = svc.Update(ctx, 404, UpdateInput{})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateKeepsOmittedFields(t *testing.T) {
	svc, _ := newTestService(Options{})
	ctx := context.Background()
	p, err := svc.Create(ctx, CreateInput{Name: "refund", Description: "money back", RequiresValue: true})
	require.NoError(t, err)

	desc := "  refunds to card  "
	updated, err := svc.Update(ctx, p.ID, UpdateInput{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "refunds to card", updated.Description)
	assert.True(t, updated.RequiresValue)

	off := false
	updated, err = svc.Update(ctx, p.ID, UpdateInput{RequiresValue: &off})
	require.NoError(t, err)
	assert.Equal(t, "refunds to card", updated.Description)
	assert.False(t, updated.RequiresValue)

	long := strings.Repeat("x", 513)
	_, err = svc.Update(ctx, p.ID, UpdateInput{Description: &long})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteCascadesOrConflicts(t *testing.T) {
	ctx := context.Background()

	for _, restrict := range []bool{false, true} {
		inv := &countingInvalidator{}
		svc, store := newTestService(Options{Invalidator: inv, RestrictDelete: restrict})
		p, err := svc.Create(ctx, CreateInput{Name: "refund"})
		require.NoError(t, err)
		role, err := store.CreateRole(ctx, rbac.Role{Name: "support", Grants: []rbac.Grant{{PermissionID: p.ID, Quota: rbac.Unlimited{}}}})
		require.NoError(t, err)

		err = svc.Delete(ctx, p.ID)
		if restrict {
			assert.ErrorIs(t, err, shared.ErrConflict)
			assert.Zero(t, inv.calls)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, 1, inv.calls)
		got, err := store.GetRole(ctx, role.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Grants)
	}
}

func TestListPaginates(t *testing.T) {
	svc, _ := newTestService(Options{})
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		_, err := svc.Create(ctx, CreateInput{Name: name})
		require.NoError(t, err)
	}
	items, page, err := svc.List(ctx, shared.ListFilters{Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "c", items[0].Name)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
}

func TestBulkSetRequiresValue(t *testing.T) {
	ctx := context.Background()

	t.Run("sequential applies the rest", func(t *testing.T) {
		svc, store := newTestService(Options{})
		p1, _ := svc.Create(ctx, CreateInput{Name: "p1"})
		p3, _ := svc.Create(ctx, CreateInput{Name: "p3"})

		report, err := svc.BulkSetRequiresValue(ctx, BulkRequiresValueInput{IDs: []int64{p1.ID, 404, p3.ID}, RequiresValue: true})
		require.NoError(t, err)
		assert.Equal(t, []int64{p1.ID, p3.ID}, report.Succeeded)
		require.Len(t, report.Failed, 1)
		assert.Equal(t, int64(404), report.Failed[0].ID)
		assert.ErrorIs(t, report.Err(), shared.ErrPartialFailure)

		got, _ := store.GetPermission(ctx, p3.ID)
		assert.True(t, got.RequiresValue)
	})

	t.Run("atomic rolls back", func(t *testing.T) {
		store := memory.New()
		svc := NewService(store, Options{Transactor: store, AtomicBulk: true})
		p1, _ := svc.Create(ctx, CreateInput{Name: "p1"})

		report, err := svc.BulkSetRequiresValue(ctx, BulkRequiresValueInput{IDs: []int64{p1.ID, 404}, RequiresValue: true})
		require.NoError(t, err)
		assert.True(t, report.Atomic)
		assert.Empty(t, report.Succeeded)
		require.Len(t, report.Failed, 2)
		assert.ErrorIs(t, report.Failed[0].Err, bulk.ErrRolledBack)

		got, _ := store.GetPermission(ctx, p1.ID)
		assert.False(t, got.RequiresValue)
	})

	t.Run("rejects empty and invalid ids", func(t *testing.T) {
		svc, _ := newTestService(Options{})
		_, err := svc.BulkSetRequiresValue(ctx, BulkRequiresValueInput{})
		assert.ErrorIs(t, err, shared.ErrValidation)
		_, err = svc.BulkSetRequiresValue(ctx, BulkRequiresValueInput{IDs: []int64{1, -2}})
		assert.ErrorIs(t, err, shared.ErrValidation)
	})
}
