package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr("op", nil))

	dup := &pgconn.PgError{Code: "23505", ConstraintName: "permissions_name_key_key", Detail: "Key (name_key)=(refund) already exists."}
	assert.ErrorIs(t, mapErr("create", dup), shared.ErrDuplicateName)

	fk := &pgconn.PgError{Code: "23503", ConstraintName: "role_grants_permission_id_fkey"}
	assert.ErrorIs(t, mapErr("insert", fk), shared.ErrNotFound)

	check := &pgconn.PgError{Code: "23514", ConstraintName: "role_grants_value_check", Message: "violates check"}
	assert.ErrorIs(t, mapErr("insert", check), shared.ErrValidation)

	down := mapErr("list", errors.New("connection refused"))
	assert.ErrorIs(t, down, shared.ErrStoreUnavailable)

	known := shared.NotFound("role", int64(3))
	assert.Same(t, known, mapErr("get", known))

	for _, ctxErr := range []error{context.Canceled, context.DeadlineExceeded} {
		err := mapErr("list", fmt.Errorf("query: %w", ctxErr))
		assert.ErrorIs(t, err, ctxErr)
		assert.NotErrorIs(t, err, shared.ErrStoreUnavailable)
	}
}

func TestEntityOf(t *testing.T) {
	assert.Equal(t, "permission", entityOf("role_grants_permission_id_fkey"))
	assert.Equal(t, "role", entityOf("user_roles_role_id_fkey"))
	assert.Equal(t, "page", entityOf("pages_path_key"))
	assert.Equal(t, "record", entityOf("other"))
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "", likePattern("  "))
	assert.Equal(t, "%refund%", likePattern(" refund "))
	assert.Equal(t, `%50\%\_off\\%`, likePattern(`50%_off\`))
	assert.Equal(t, "%strasse%", likePattern(" STRAßE "))
}

// likeContains evaluates a substring pattern from likePattern against a
// folded column value.
func likeContains(pattern, key string) bool {
	if pattern == "" {
		return true
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(pattern, "%"), "%")
	inner = strings.NewReplacer(`\\`, `\`, `\%`, `%`, `\_`, `_`).Replace(inner)
	return strings.Contains(key, inner)
}

func TestSearchFoldingMatchesMemoryStore(t *testing.T) {
	cases := []struct{ term, field string }{
		{"refund", "Refund"},
		{"STRASSE", "Straße"},
		{"σ", "ΟΔΥΣΣΕΥΣ"},
		{"ǅ", "ǆemal"},
		{"50%", "50% off"},
		{"x_y", "xzy"},
		{"", "anything"},
	}
	for _, tc := range cases {
		want := shared.MatchesSearch(tc.term, tc.field)
		got := likeContains(likePattern(tc.term), shared.NameKey(tc.field))
		assert.Equal(t, want, got, "term %q field %q", tc.term, tc.field)
	}
}

func TestFirstMissing(t *testing.T) {
	id, ok := firstMissing([]int64{1, 2, 3}, []int64{1, 3})
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)

	_, ok = firstMissing([]int64{1, 3}, []int64{1, 3})
	assert.False(t, ok)
}
