package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

// AuditRepo appends audit log entries.
type AuditRepo struct{ Pool PgxPool }

// NewAuditRepo constructs an AuditRepo with the given pool.
func NewAuditRepo(p PgxPool) *AuditRepo { return &AuditRepo{Pool: p} }

// Insert appends one entry.
func (r *AuditRepo) Insert(ctx domain.Context, e domain.AuditEntry) error {
	tracer := otel.Tracer("repo.audit")
	ctx, span := tracer.Start(ctx, "audit.Insert")
	defer span.End()
	oldValues, err := jsonbOrNil(e.OldValues)
	if err != nil {
		return fmt.Errorf("op=audit.insert: %w", err)
	}
	newValues, err := jsonbOrNil(e.NewValues)
	if err != nil {
		return fmt.Errorf("op=audit.insert: %w", err)
	}
	_, err = r.Pool.Exec(ctx,
		`INSERT INTO audit_logs (event_type, entity_type, entity_id, action, old_values,
		 new_values, user_id, source_ip, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.EventType, e.EntityType, e.EntityID, e.Action, oldValues, newValues,
		e.UserID, e.SourceIP, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("op=audit.insert: %w", err)
	}
	return nil
}
