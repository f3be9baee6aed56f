package rbac

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// LimitType is the recurrence unit of a quota window.
type LimitType string

// Supported limit types.
const (
	LimitNone    LimitType = "none"
	LimitDaily   LimitType = "daily"
	LimitWeekly  LimitType = "weekly"
	LimitMonthly LimitType = "monthly"
)

// Valid reports whether t is a known limit type.
func (t LimitType) Valid() bool {
	switch t {
	case LimitNone, LimitDaily, LimitWeekly, LimitMonthly:
		return true
	}
	return false
}

func (t LimitType) unit() string {
	switch t {
	case LimitDaily:
		return "day"
	case LimitWeekly:
		return "week"
	case LimitMonthly:
		return "month"
	}
	return ""
}

func (t LimitType) days() int {
	switch t {
	case LimitDaily:
		return 1
	case LimitWeekly:
		return 7
	case LimitMonthly:
		return 30
	}
	return 0
}

// Window is the recurrence of a capped quota. The zero window (LimitNone)
// marks a plain cap that never resets.
type Window struct {
	Type   LimitType `json:"limit_type"`
	Period int       `json:"limit_period,omitempty"`
}

// Periodic reports whether the window resets.
func (w Window) Periodic() bool {
	return w.Type != "" && w.Type != LimitNone
}

// String renders the window as "1 day", "2 weeks", or "none".
func (w Window) String() string {
	if !w.Periodic() {
		return string(LimitNone)
	}
	unit := w.Type.unit()
	if w.Period != 1 {
		unit += "s"
	}
	return strconv.Itoa(w.Period) + " " + unit
}

// approxDays orders windows by reset interval.
func (w Window) approxDays() int {
	return w.Type.days() * w.Period
}

// Quota is the optional bound on a grant: Unlimited or Capped.
type Quota interface {
	quota()
}

// Unlimited grants use without a cap.
type Unlimited struct{}

// Capped bounds use by Value, optionally resetting every Window.
type Capped struct {
	Value  float64
	Window Window
}

func (Unlimited) quota() {}
func (Capped) quota()    {}

// NewQuota builds a Quota from the wire fields value, limit_type and
// limit_period. limit_period must be present iff the limit type is not none,
// and a periodic window requires a value.
func NewQuota(value *float64, limitType LimitType, period *int) (Quota, error) {
	if limitType == "" {
		limitType = LimitNone
	}
	if !limitType.Valid() {
		return nil, shared.Invalid("limit_type", fmt.Sprintf("unknown limit type %q", limitType))
	}
	if limitType == LimitNone {
		if period != nil {
			return nil, shared.Invalid("limit_period", "must be omitted when limit_type is none")
		}
	} else {
		if period == nil {
			return nil, shared.Invalid("limit_period", "required when limit_type is set")
		}
		if *period <= 0 {
			return nil, shared.Invalid("limit_period", "must be a positive integer")
		}
	}
	if value == nil {
		if limitType != LimitNone {
			return nil, shared.Invalid("value", "required when limit_type is set")
		}
		return Unlimited{}, nil
	}
	if math.IsNaN(*value) || math.IsInf(*value, 0) || *value < 0 {
		return nil, shared.Invalid("value", "must be a non-negative number")
	}
	w := Window{Type: limitType}
	if period != nil {
		w.Period = *period
	}
	return Capped{Value: *value, Window: w}, nil
}

// Limit is the evaluated allowance of a user for one permission.
type Limit struct {
	Granted bool
	Quota   Quota
}

// IsUnlimited reports whether the limit is granted without a cap.
func (l Limit) IsUnlimited() bool {
	if !l.Granted {
		return false
	}
	_, ok := l.Quota.(Unlimited)
	return ok
}

// UnlimitedLimit is the allowance granted by the superuser bypass.
func UnlimitedLimit() Limit {
	return Limit{Granted: true, Quota: Unlimited{}}
}

type limitJSON struct {
	Granted   bool     `json:"granted"`
	Unlimited bool     `json:"unlimited"`
	Value     *float64 `json:"value,omitempty"`
	Window    string   `json:"window,omitempty"`
	LimitType string   `json:"limit_type,omitempty"`
	Period    int      `json:"limit_period,omitempty"`
}

// MarshalJSON renders the limit for HTTP responses and the access cache.
func (l Limit) MarshalJSON() ([]byte, error) {
	out := limitJSON{Granted: l.Granted}
	switch q := l.Quota.(type) {
	case Unlimited:
		out.Unlimited = l.Granted
	case Capped:
		v := q.Value
		out.Value = &v
		out.Window = q.Window.String()
		out.LimitType = string(q.Window.Type)
		out.Period = q.Window.Period
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a limit produced by MarshalJSON.
func (l *Limit) UnmarshalJSON(data []byte) error {
	var in limitJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*l = Limit{Granted: in.Granted}
	switch {
	case !in.Granted:
	case in.Value != nil:
		lt := LimitType(in.LimitType)
		if lt == "" {
			lt = LimitNone
		}
		l.Quota = Capped{Value: *in.Value, Window: Window{Type: lt, Period: in.Period}}
	default:
		l.Quota = Unlimited{}
	}
	return nil
}

// merge folds another grant's quota into the running union: any Unlimited
// wins, otherwise the larger value, then the more generous window.
func merge(current Limit, q Quota) Limit {
	if q == nil {
		q = Unlimited{}
	}
	if !current.Granted {
		return Limit{Granted: true, Quota: q}
	}
	if _, ok := current.Quota.(Unlimited); ok {
		return current
	}
	next, ok := q.(Capped)
	if !ok {
		return Limit{Granted: true, Quota: Unlimited{}}
	}
	cur := current.Quota.(Capped)
	if moreGenerous(next, cur) {
		return Limit{Granted: true, Quota: next}
	}
	return current
}

func moreGenerous(a, b Capped) bool {
	if a.Value != b.Value {
		return a.Value > b.Value
	}
	if a.Window.Periodic() != b.Window.Periodic() {
		return a.Window.Periodic()
	}
	return a.Window.Periodic() && a.Window.approxDays() < b.Window.approxDays()
}
