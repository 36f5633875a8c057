package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions recorded by the access-control services.
const (
	AuditUserCreate      = "user.create"
	AuditUserUpdate      = "user.update"
	AuditUserDelete      = "user.delete"
	AuditUserRoles       = "user.roles"
	AuditRoleCreate      = "role.create"
	AuditRoleUpdate      = "role.update"
	AuditRoleDelete      = "role.delete"
	AuditRolePermissions = "role.permissions"
	AuditBlogCreate      = "blog.create"
	AuditBlogUpdate      = "blog.update"
	AuditBlogDelete      = "blog.delete"
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
	if err := log.Validate(); err != nil {
		return err
	}
	if log.ActorID == 0 {
		if id, ok := UserIDFromContext(ctx); ok {
			log.ActorID = id
		}
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES (NULLIF($1, 0), $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

// Prune deletes entries older than the retention window and returns the number removed.
func (l *AuditLogger) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if l == nil || l.pool == nil {
		return 0, errors.New("audit logger not initialised")
	}
	if retention <= 0 {
		return 0, errors.New("audit retention must be positive")
	}
	tag, err := l.pool.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Validate checks the mandatory fields.
func (log AuditLog) Validate() error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}
