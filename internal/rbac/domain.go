package rbac

import (
	"encoding/json"
	"time"
)

// Permission represents an atomic capability.
type Permission struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	RequiresValue bool      `json:"requires_value"`
	CreatedAt     time.Time `json:"created_at"`
}

// Grant ties a permission to the role that owns it, optionally bounded by a quota.
type Grant struct {
	PermissionID int64
	// Permission is the resolved permission name. Stores populate it on read;
	// it is ignored on write.
	Permission string
	Quota      Quota
}

// Role represents a named bundle of grants.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSuperuser bool      `json:"is_superuser"`
	Grants      []Grant   `json:"grants"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    int64     `json:"user_id"`
	RoleID    int64     `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Page is a UI route that can be granted to users or roles.
type Page struct {
	ID       int64  `json:"id"`
	Path     string `json:"path"`
	Label    string `json:"label"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// SubjectType distinguishes page grant holders.
type SubjectType string

// Page grant subject types.
const (
	SubjectUser SubjectType = "user"
	SubjectRole SubjectType = "role"
)

// Valid reports whether t is a known subject type.
func (t SubjectType) Valid() bool {
	return t == SubjectUser || t == SubjectRole
}

// Subject identifies a page grant holder.
type Subject struct {
	Type SubjectType `json:"subject_type"`
	ID   int64       `json:"subject_id"`
}

// UserSubject returns the subject for a user.
func UserSubject(id int64) Subject { return Subject{Type: SubjectUser, ID: id} }

// RoleSubject returns the subject for a role.
func RoleSubject(id int64) Subject { return Subject{Type: SubjectRole, ID: id} }

// PageGrant is one access-list row.
type PageGrant struct {
	Subject
	PageID int64 `json:"page_id"`
}

// GrantFields is the wire shape of a Grant.
type GrantFields struct {
	PermissionID int64    `json:"permission_id" validate:"required,gt=0"`
	Permission   string   `json:"permission,omitempty"`
	Value        *float64 `json:"value"`
	LimitType    string   `json:"limit_type" validate:"omitempty,oneof=none daily weekly monthly"`
	LimitPeriod  *int     `json:"limit_period,omitempty"`
}

// Fields converts a Grant into its wire shape.
func (g Grant) Fields() GrantFields {
	out := GrantFields{PermissionID: g.PermissionID, Permission: g.Permission, LimitType: string(LimitNone)}
	if c, ok := g.Quota.(Capped); ok {
		v := c.Value
		out.Value = &v
		out.LimitType = string(c.Window.Type)
		if c.Window.Type != LimitNone {
			p := c.Window.Period
			out.LimitPeriod = &p
		}
	}
	return out
}

// Grant converts wire fields into a Grant, enforcing the quota invariants.
func (f GrantFields) Grant() (Grant, error) {
	quota, err := NewQuota(f.Value, LimitType(f.LimitType), f.LimitPeriod)
	if err != nil {
		return Grant{}, err
	}
	return Grant{PermissionID: f.PermissionID, Permission: f.Permission, Quota: quota}, nil
}

// MarshalJSON encodes the grant through GrantFields.
func (g Grant) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Fields())
}

// UnmarshalJSON decodes and validates a grant.
func (g *Grant) UnmarshalJSON(data []byte) error {
	var f GrantFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	decoded, err := f.Grant()
	if err != nil {
		return err
	}
	*g = decoded
	return nil
}
