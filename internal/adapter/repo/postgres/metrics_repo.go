package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

// MetricsRepo appends per-queue health samples. Rows are append-only;
// trimming old samples is an operational concern outside this repo.
type MetricsRepo struct{ Pool PgxPool }

// NewMetricsRepo constructs a MetricsRepo with the given pool.
func NewMetricsRepo(p PgxPool) *MetricsRepo { return &MetricsRepo{Pool: p} }

const metricsColumns = `id, queue_id, queue_name, pending_tasks, processing_tasks, completed_tasks,
	failed_tasks, avg_processing_time, max_processing_time, min_processing_time, error_rate,
	success_rate, cpu_percent, memory_percent, disk_percent, recorded_at`

// Insert appends one sample row.
func (r *MetricsRepo) Insert(ctx domain.Context, s domain.QueueMetricsSample) error {
	tracer := otel.Tracer("repo.metrics")
	ctx, span := tracer.Start(ctx, "metrics.Insert")
	defer span.End()
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO queue_metrics (queue_id, queue_name, pending_tasks, processing_tasks,
		 completed_tasks, failed_tasks, avg_processing_time, max_processing_time,
		 min_processing_time, error_rate, success_rate, cpu_percent, memory_percent,
		 disk_percent, recorded_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		s.QueueID, s.QueueName, s.PendingTasks, s.ProcessingTasks, s.CompletedTasks,
		s.FailedTasks, s.AvgProcessingTime, s.MaxProcessingTime, s.MinProcessingTime,
		s.ErrorRate, s.SuccessRate, s.CPUPercent, s.MemoryPercent, s.DiskPercent, s.RecordedAt)
	if err != nil {
		return fmt.Errorf("op=metrics.insert: %w", err)
	}
	return nil
}

// LatestForQueue returns the newest sample for a queue, or ErrNotFound.
func (r *MetricsRepo) LatestForQueue(ctx domain.Context, queueID int64) (domain.QueueMetricsSample, error) {
	tracer := otel.Tracer("repo.metrics")
	ctx, span := tracer.Start(ctx, "metrics.LatestForQueue")
	defer span.End()
	var s domain.QueueMetricsSample
	err := r.Pool.QueryRow(ctx,
		`SELECT `+metricsColumns+` FROM queue_metrics WHERE queue_id=$1
		 ORDER BY recorded_at DESC LIMIT 1`, queueID).Scan(
		&s.ID, &s.QueueID, &s.QueueName, &s.PendingTasks, &s.ProcessingTasks,
		&s.CompletedTasks, &s.FailedTasks, &s.AvgProcessingTime, &s.MaxProcessingTime,
		&s.MinProcessingTime, &s.ErrorRate, &s.SuccessRate, &s.CPUPercent,
		&s.MemoryPercent, &s.DiskPercent, &s.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QueueMetricsSample{}, fmt.Errorf("op=metrics.latest: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.QueueMetricsSample{}, fmt.Errorf("op=metrics.latest: %w", err)
	}
	return s, nil
}
