package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

// statusRowID pins SystemStatus to a single row; every write is an upsert
// against this id.
const statusRowID = 1

// StatusRepo maintains the singleton system_status row.
type StatusRepo struct{ Pool PgxPool }

// NewStatusRepo constructs a StatusRepo with the given pool.
func NewStatusRepo(p PgxPool) *StatusRepo { return &StatusRepo{Pool: p} }

// Init creates the singleton row if absent and stamps version, environment,
// and uptime start. An existing row keeps its uptime but refreshes version
// and environment.
func (r *StatusRepo) Init(ctx domain.Context, version, environment string, uptimeStarted time.Time) error {
	tracer := otel.Tracer("repo.status")
	ctx, span := tracer.Start(ctx, "status.Init")
	defer span.End()
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO system_status (id, version, environment, uptime_started, last_updated)
		 VALUES ($1,$2,$3,$4,$4)
		 ON CONFLICT (id) DO UPDATE SET version=$2, environment=$3, last_updated=$4`,
		statusRowID, version, environment, uptimeStarted)
	if err != nil {
		return fmt.Errorf("op=status.init: %w", err)
	}
	return nil
}

// Get loads the singleton status row.
func (r *StatusRepo) Get(ctx domain.Context) (domain.SystemStatus, error) {
	tracer := otel.Tracer("repo.status")
	ctx, span := tracer.Start(ctx, "status.Get")
	defer span.End()
	var s domain.SystemStatus
	err := r.Pool.QueryRow(ctx,
		`SELECT is_operational, is_maintenance_mode, shutdown_requested, shutdown_reason,
		 overall_health, queue_health, database_health, broker_health, active_queues,
		 pending_tasks, processing_tasks, failed_tasks, uptime_started, last_health_check,
		 last_updated, version, environment
		 FROM system_status WHERE id=$1`, statusRowID).Scan(
		&s.IsOperational, &s.IsMaintenanceMode, &s.ShutdownRequested, &s.ShutdownReason,
		&s.OverallHealth, &s.QueueHealth, &s.DatabaseHealth, &s.BrokerHealth,
		&s.ActiveQueues, &s.PendingTasks, &s.ProcessingTasks, &s.FailedTasks,
		&s.UptimeStarted, &s.LastHealthCheck, &s.LastUpdated, &s.Version, &s.Environment)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SystemStatus{}, fmt.Errorf("op=status.get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.SystemStatus{}, fmt.Errorf("op=status.get: %w", err)
	}
	return s, nil
}

// UpdateHealth records the outcome of one component-health tick.
func (r *StatusRepo) UpdateHealth(ctx domain.Context, u domain.StatusHealthUpdate) error {
	tracer := otel.Tracer("repo.status")
	ctx, span := tracer.Start(ctx, "status.UpdateHealth")
	defer span.End()
	_, err := r.Pool.Exec(ctx,
		`UPDATE system_status SET overall_health=$2, queue_health=$3, database_health=$4,
		 broker_health=$5, is_operational=$6, active_queues=$7, pending_tasks=$8,
		 processing_tasks=$9, failed_tasks=$10, last_health_check=$11, last_updated=$11
		 WHERE id=$1`,
		statusRowID, u.Overall, u.Queue, u.Database, u.Broker, u.IsOperational,
		u.ActiveQueues, u.PendingTasks, u.ProcessingTasks, u.FailedTasks, u.CheckedAt)
	if err != nil {
		return fmt.Errorf("op=status.update_health: %w", err)
	}
	return nil
}

// MarkShutdown flips the row into the shutdown-requested state.
func (r *StatusRepo) MarkShutdown(ctx domain.Context, reason string, at time.Time) error {
	tracer := otel.Tracer("repo.status")
	ctx, span := tracer.Start(ctx, "status.MarkShutdown")
	defer span.End()
	_, err := r.Pool.Exec(ctx,
		`UPDATE system_status SET is_operational=FALSE, shutdown_requested=TRUE,
		 shutdown_reason=$2, overall_health='critical', last_updated=$3
		 WHERE id=$1`, statusRowID, reason, at)
	if err != nil {
		return fmt.Errorf("op=status.mark_shutdown: %w", err)
	}
	return nil
}
