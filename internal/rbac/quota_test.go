package rbac

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func TestNewQuota(t *testing.T) {
	cases := []struct {
		name      string
		value     *float64
		limitType LimitType
		period    *int
		want      Quota
		field     string
	}{
		{name: "no value is unlimited", want: Unlimited{}},
		{name: "explicit none is unlimited", limitType: LimitNone, want: Unlimited{}},
		{name: "plain cap", value: f64(10), want: Capped{Value: 10, Window: Window{Type: LimitNone}}},
		{name: "daily cap", value: f64(500), limitType: LimitDaily, period: intp(1), want: Capped{Value: 500, Window: Window{Type: LimitDaily, Period: 1}}},
		{name: "zero value allowed", value: f64(0), want: Capped{Value: 0, Window: Window{Type: LimitNone}}},
		{name: "unknown type", value: f64(1), limitType: "yearly", field: "limit_type"},
		{name: "period without type", value: f64(1), period: intp(1), field: "limit_period"},
		{name: "type without period", value: f64(1), limitType: LimitWeekly, field: "limit_period"},
		{name: "non positive period", value: f64(1), limitType: LimitMonthly, period: intp(0), field: "limit_period"},
		{name: "window without value", limitType: LimitDaily, period: intp(1), field: "value"},
		{name: "negative value", value: f64(-1), field: "value"},
		{name: "nan value", value: f64(math.NaN()), field: "value"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewQuota(tc.value, tc.limitType, tc.period)
			if tc.field != "" {
				var ve *shared.ValidationError
				require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
				assert.Equal(t, tc.field, ve.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWindowString(t *testing.T) {
	assert.Equal(t, "1 day", Window{Type: LimitDaily, Period: 1}.String())
	assert.Equal(t, "2 weeks", Window{Type: LimitWeekly, Period: 2}.String())
	assert.Equal(t, "3 months", Window{Type: LimitMonthly, Period: 3}.String())
	assert.Equal(t, "none", Window{Type: LimitNone}.String())
	assert.Equal(t, "none", Window{}.String())
}

func TestMergeUnion(t *testing.T) {
	daily := Capped{Value: 500, Window: Window{Type: LimitDaily, Period: 1}}
	weekly := Capped{Value: 500, Window: Window{Type: LimitWeekly, Period: 1}}
	plain := Capped{Value: 500, Window: Window{Type: LimitNone}}
	bigger := Capped{Value: 800, Window: Window{Type: LimitMonthly, Period: 1}}

	t.Run("any unlimited wins regardless of order", func(t *testing.T) {
		l := merge(merge(Limit{}, daily), Unlimited{})
		assert.True(t, l.IsUnlimited())
		l = merge(merge(Limit{}, Unlimited{}), daily)
		assert.True(t, l.IsUnlimited())
	})
	t.Run("larger value wins", func(t *testing.T) {
		assert.Equal(t, bigger, merge(merge(Limit{}, daily), bigger).Quota)
		assert.Equal(t, bigger, merge(merge(Limit{}, bigger), daily).Quota)
	})
	t.Run("equal value prefers shorter reset", func(t *testing.T) {
		assert.Equal(t, daily, merge(merge(Limit{}, weekly), daily).Quota)
		assert.Equal(t, daily, merge(merge(Limit{}, daily), weekly).Quota)
	})
	t.Run("equal value prefers periodic over plain cap", func(t *testing.T) {
		assert.Equal(t, weekly, merge(merge(Limit{}, plain), weekly).Quota)
	})
	t.Run("nil quota counts as unlimited", func(t *testing.T) {
		assert.True(t, merge(Limit{}, nil).IsUnlimited())
	})
}

func TestLimitJSONRoundTrip(t *testing.T) {
	l := Limit{Granted: true, Quota: Capped{Value: 500, Window: Window{Type: LimitDaily, Period: 1}}}
	raw, err := json.Marshal(l)
	require.NoError(t, err)
	assert.JSONEq(t, `{"granted":true,"unlimited":false,"value":500,"window":"1 day","limit_type":"daily","limit_period":1}`, string(raw))

	var back Limit
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, l, back)

	raw, err = json.Marshal(UnlimitedLimit())
	require.NoError(t, err)
	assert.JSONEq(t, `{"granted":true,"unlimited":true}`, string(raw))
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.IsUnlimited())

	raw, err = json.Marshal(Limit{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"granted":false,"unlimited":false}`, string(raw))
}

func TestGrantJSONValidates(t *testing.T) {
	var g Grant
	err := json.Unmarshal([]byte(`{"permission_id":1,"value":5,"limit_type":"daily"}`), &g)
	require.ErrorIs(t, err, shared.ErrValidation)

	require.NoError(t, json.Unmarshal([]byte(`{"permission_id":1,"value":5,"limit_type":"weekly","limit_period":2}`), &g))
	assert.Equal(t, Capped{Value: 5, Window: Window{Type: LimitWeekly, Period: 2}}, g.Quota)

	raw, err := json.Marshal(Grant{PermissionID: 2, Permission: "view", Quota: Unlimited{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"permission_id":2,"permission":"view","value":null,"limit_type":"none"}`, string(raw))
}
