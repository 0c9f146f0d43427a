package postgres

import (
	"context"
	"fmt"
)

// schemaDDL mirrors deploy/migrations/0001_init.sql. Statements are
// idempotent so EnsureSchema can run on every boot.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS queues (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT 'normal',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		max_workers INT NOT NULL DEFAULT 4,
		retry_limit INT NOT NULL DEFAULT 3,
		timeout_seconds INT NOT NULL DEFAULT 300,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id UUID PRIMARY KEY,
		queue_id BIGINT NOT NULL REFERENCES queues(id),
		task_type TEXT NOT NULL,
		task_name TEXT NOT NULL,
		payload JSONB,
		result JSONB,
		status TEXT NOT NULL DEFAULT 'pending',
		priority TEXT NOT NULL DEFAULT 'normal',
		retry_count INT NOT NULL DEFAULT 0,
		max_retries INT NOT NULL DEFAULT 3,
		error_message TEXT NOT NULL DEFAULT '',
		error_traceback TEXT NOT NULL DEFAULT '',
		last_error_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		scheduled_at TIMESTAMPTZ,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		timeout_at TIMESTAMPTZ,
		correlation_id TEXT NOT NULL DEFAULT '',
		worker_id TEXT NOT NULL DEFAULT '',
		tags JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_status_created ON tasks (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_task_queue_status ON tasks (queue_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_task_correlation ON tasks (correlation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_task_scheduled ON tasks (scheduled_at)`,
	`CREATE INDEX IF NOT EXISTS idx_task_worker ON tasks (worker_id)`,
	`CREATE TABLE IF NOT EXISTS queue_metrics (
		id BIGSERIAL PRIMARY KEY,
		queue_id BIGINT NOT NULL REFERENCES queues(id),
		queue_name TEXT NOT NULL,
		pending_tasks BIGINT NOT NULL DEFAULT 0,
		processing_tasks BIGINT NOT NULL DEFAULT 0,
		completed_tasks BIGINT NOT NULL DEFAULT 0,
		failed_tasks BIGINT NOT NULL DEFAULT 0,
		avg_processing_time DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_processing_time DOUBLE PRECISION NOT NULL DEFAULT 0,
		min_processing_time DOUBLE PRECISION NOT NULL DEFAULT 0,
		error_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		cpu_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		memory_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		disk_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_queue_recorded ON queue_metrics (queue_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS system_alarms (
		id BIGSERIAL PRIMARY KEY,
		alarm_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		queue_name TEXT NOT NULL DEFAULT '',
		task_id TEXT NOT NULL DEFAULT '',
		component TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
		acknowledged_by TEXT NOT NULL DEFAULT '',
		acknowledged_at TIMESTAMPTZ,
		triggered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		resolved_at TIMESTAMPTZ,
		last_occurrence TIMESTAMPTZ NOT NULL DEFAULT now(),
		occurrence_count INT NOT NULL DEFAULT 1,
		context_data JSONB,
		tags JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alarm_active_severity ON system_alarms (is_active, severity)`,
	`CREATE INDEX IF NOT EXISTS idx_alarm_type_triggered ON system_alarms (alarm_type, triggered_at)`,
	`CREATE TABLE IF NOT EXISTS system_status (
		id INT PRIMARY KEY,
		is_operational BOOLEAN NOT NULL DEFAULT TRUE,
		is_maintenance_mode BOOLEAN NOT NULL DEFAULT FALSE,
		shutdown_requested BOOLEAN NOT NULL DEFAULT FALSE,
		shutdown_reason TEXT NOT NULL DEFAULT '',
		overall_health TEXT NOT NULL DEFAULT 'unknown',
		queue_health TEXT NOT NULL DEFAULT 'unknown',
		database_health TEXT NOT NULL DEFAULT 'unknown',
		broker_health TEXT NOT NULL DEFAULT 'unknown',
		active_queues BIGINT NOT NULL DEFAULT 0,
		pending_tasks BIGINT NOT NULL DEFAULT 0,
		processing_tasks BIGINT NOT NULL DEFAULT 0,
		failed_tasks BIGINT NOT NULL DEFAULT 0,
		uptime_started TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_health_check TIMESTAMPTZ,
		last_updated TIMESTAMPTZ NOT NULL DEFAULT now(),
		version TEXT NOT NULL DEFAULT '',
		environment TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		event_type TEXT NOT NULL,
		entity_type TEXT NOT NULL DEFAULT '',
		entity_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL DEFAULT '',
		old_values JSONB,
		new_values JSONB,
		user_id TEXT NOT NULL DEFAULT '',
		source_ip TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_event_created ON audit_logs (event_type, created_at)`,
}

// EnsureSchema creates all tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	for _, stmt := range schemaDDL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=postgres.EnsureSchema: %w", err)
		}
	}
	return nil
}
