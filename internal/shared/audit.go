package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-dms/odyssey-dms/internal/crypt"
)

// AuditLog represents a record stored in audit_logs. Action and Description
// are stored encrypted.
type AuditLog struct {
	PerformedBy  *int64
	TargetUserID *int64
	Module       string
	Action       string
	Description  string
	At           time.Time
}

// EncryptedFields implements crypt.Encryptable.
func (AuditLog) EncryptedFields() crypt.Schema {
	return crypt.Schema{"action": crypt.String, "description": crypt.String}
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool  *pgxpool.Pool
	codec *crypt.Codec
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool, codec *crypt.Codec) *AuditLogger {
	return &AuditLogger{pool: pool, codec: codec}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Module == "" {
		return errors.New("audit log requires action/module")
	}
	var desc any
	if log.Description != "" {
		desc = log.Description
	}
	sealed, err := l.codec.Seal(log, crypt.Row{"action": log.Action, "description": desc})
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO audit_logs (module, action, target_user_id, description, performed_by, performed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), NOW(), NOW())`,
		log.Module, sealed.NullString("action"), log.TargetUserID, sealed.NullString("description"), log.PerformedBy, at)
	return err
}
