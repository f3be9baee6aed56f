package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleInput struct {
	Name  string  `json:"name" validate:"required,max=4"`
	IDs   []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
	Limit string  `json:"limit_type" validate:"omitempty,oneof=none daily"`
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	v := NewValidator()

	err := ValidateStruct(v, sampleInput{IDs: []int64{1}})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "name", ve.Field)
	assert.Equal(t, "is required", ve.Reason)

	err = ValidateStruct(v, sampleInput{Name: "toolong", IDs: []int64{1}})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "must be at most 4 characters", ve.Reason)

	err = ValidateStruct(v, sampleInput{Name: "ok", IDs: []int64{1, 0}})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "ids[1]", ve.Field)
	assert.Equal(t, "must be greater than 0", ve.Reason)

	err = ValidateStruct(v, sampleInput{Name: "ok", IDs: []int64{1}, Limit: "yearly"})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "limit_type", ve.Field)

	assert.NoError(t, ValidateStruct(v, sampleInput{Name: "ok", IDs: []int64{1}, Limit: "daily"}))
}

func TestNameKeyFoldsCaseAndSpace(t *testing.T) {
	assert.Equal(t, NameKey("Refund"), NameKey("  REFUND "))
	assert.NotEqual(t, NameKey("refund"), NameKey("refunds"))
	assert.True(t, MatchesSearch("FUN", "refund"))
	assert.True(t, MatchesSearch("", "anything"))
	assert.False(t, MatchesSearch("zzz", "refund", "desc"))
}

func TestPagination(t *testing.T) {
	f := ListFilters{Page: 0, PerPage: 1000}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, MaxPerPage, f.PerPage)
	assert.Equal(t, 20, ListFilters{Page: 3, PerPage: 10}.Offset())

	p := NewPagination(2, 10, 25)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 25, p.Total)
}
