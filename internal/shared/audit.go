package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions recorded by the access services.
const (
	AuditPermissionCreate  = "permission.create"
	AuditPermissionUpdate  = "permission.update"
	AuditPermissionDelete  = "permission.delete"
	AuditPermissionBulk    = "permission.bulk_requires_value"
	AuditRoleCreate        = "role.create"
	AuditRoleUpdate        = "role.update"
	AuditRoleReplaceGrants = "role.replace_grants"
	AuditRoleDelete        = "role.delete"
	AuditRoleAssign        = "role.assign"
	AuditRoleRevoke        = "role.revoke"
	AuditPageCreate        = "page.create"
	AuditPageReplaceGrants = "page.replace_grants"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Auditor records mutations. Implementations must be safe for concurrent use.
type Auditor interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

func (log AuditLog) validate() error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

// Audit records log through auditor when one is configured, filling the actor
// from the request principal. Failures are returned for the caller to log;
// they never undo the audited mutation.
func Audit(ctx context.Context, auditor Auditor, log AuditLog) error {
	if auditor == nil {
		return nil
	}
	if log.ActorID == 0 {
		log.ActorID, _ = PrincipalFromContext(ctx)
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	return auditor.Record(context.WithoutCancel(ctx), log)
}
