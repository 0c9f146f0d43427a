package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

// TaskRepo persists tasks and applies lifecycle transitions. Transition
// statements are predicate-guarded on the current status so replays are
// no-ops instead of corrupting stamps.
type TaskRepo struct{ Pool PgxPool }

// NewTaskRepo constructs a TaskRepo with the given pool.
func NewTaskRepo(p PgxPool) *TaskRepo { return &TaskRepo{Pool: p} }

const taskColumns = `t.id, t.queue_id, q.name, t.task_type, t.task_name, t.payload, t.result,
	t.status, t.priority, t.retry_count, t.max_retries, t.error_message, t.error_traceback,
	t.last_error_at, t.created_at, t.scheduled_at, t.started_at, t.completed_at, t.timeout_at,
	t.correlation_id, t.worker_id, t.tags`

const taskFrom = ` FROM tasks t JOIN queues q ON q.id = t.queue_id `

func jsonbOrNil(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func scanTask(row pgx.Row) (domain.Task, error) {
	var (
		t             domain.Task
		payload       []byte
		result        []byte
		tags          []byte
	)
	err := row.Scan(&t.ID, &t.QueueID, &t.QueueName, &t.TaskType, &t.TaskName, &payload, &result,
		&t.Status, &t.Priority, &t.RetryCount, &t.MaxRetries, &t.ErrorMessage, &t.ErrorTraceback,
		&t.LastErrorAt, &t.CreatedAt, &t.ScheduledAt, &t.StartedAt, &t.CompletedAt, &t.TimeoutAt,
		&t.CorrelationID, &t.WorkerID, &tags)
	if err != nil {
		return domain.Task{}, err
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &t.Payload)
	}
	if len(result) > 0 {
		_ = json.Unmarshal(result, &t.Result)
	}
	if len(tags) > 0 {
		_ = json.Unmarshal(tags, &t.Tags)
	}
	return t, nil
}

// Create inserts a new task row.
func (r *TaskRepo) Create(ctx domain.Context, t domain.Task) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.sql.table", "tasks"),
		attribute.String("task.type", t.TaskType),
	)
	payload, err := jsonbOrNil(t.Payload)
	if err != nil {
		return fmt.Errorf("op=task.create: %w", err)
	}
	tags, err := jsonbOrNil(t.Tags)
	if err != nil {
		return fmt.Errorf("op=task.create: %w", err)
	}
	sql := `INSERT INTO tasks (id, queue_id, task_type, task_name, payload, status, priority,
		retry_count, max_retries, created_at, scheduled_at, timeout_at, correlation_id, worker_id, tags)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_, err = r.Pool.Exec(ctx, sql, t.ID, t.QueueID, t.TaskType, t.TaskName, payload, t.Status,
		t.Priority, t.RetryCount, t.MaxRetries, t.CreatedAt, t.ScheduledAt, t.TimeoutAt,
		t.CorrelationID, t.WorkerID, tags)
	if err != nil {
		return fmt.Errorf("op=task.create: %w", err)
	}
	return nil
}

// Get loads a task by id.
func (r *TaskRepo) Get(ctx domain.Context, id string) (domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Get")
	defer span.End()
	t, err := scanTask(r.Pool.QueryRow(ctx, `SELECT `+taskColumns+taskFrom+`WHERE t.id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("op=task.get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("op=task.get: %w", err)
	}
	return t, nil
}

// ByWorkerID loads the task bound to a broker execution id.
func (r *TaskRepo) ByWorkerID(ctx domain.Context, workerID string) (domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ByWorkerID")
	defer span.End()
	t, err := scanTask(r.Pool.QueryRow(ctx, `SELECT `+taskColumns+taskFrom+`WHERE t.worker_id=$1 LIMIT 1`, workerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("op=task.by_worker_id: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("op=task.by_worker_id: %w", err)
	}
	return t, nil
}

// ByStatus returns up to limit tasks in the given status, newest first.
func (r *TaskRepo) ByStatus(ctx domain.Context, status domain.TaskStatus, limit int) ([]domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ByStatus")
	defer span.End()
	rows, err := r.Pool.Query(ctx,
		`SELECT `+taskColumns+taskFrom+`WHERE t.status=$1 ORDER BY t.created_at DESC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("op=task.by_status: %w", err)
	}
	return collectTasks(rows, "op=task.by_status")
}

// OverdueProcessing returns processing tasks whose timeout has elapsed.
func (r *TaskRepo) OverdueProcessing(ctx domain.Context) ([]domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.OverdueProcessing")
	defer span.End()
	rows, err := r.Pool.Query(ctx,
		`SELECT `+taskColumns+taskFrom+`WHERE t.status='processing' AND t.timeout_at IS NOT NULL AND t.timeout_at < $1`,
		time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("op=task.overdue: %w", err)
	}
	return collectTasks(rows, "op=task.overdue")
}

func collectTasks(rows pgx.Rows, op string) ([]domain.Task, error) {
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// QueueStats returns per-status counts for one queue in a single round-trip.
func (r *TaskRepo) QueueStats(ctx domain.Context, queueID int64) (domain.QueueStats, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.QueueStats")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks WHERE queue_id=$1 GROUP BY status`, queueID)
	if err != nil {
		return domain.QueueStats{}, fmt.Errorf("op=task.queue_stats: %w", err)
	}
	defer rows.Close()
	var stats domain.QueueStats
	for rows.Next() {
		var status domain.TaskStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return domain.QueueStats{}, fmt.Errorf("op=task.queue_stats: %w", err)
		}
		switch status {
		case domain.TaskPending:
			stats.Pending = n
		case domain.TaskProcessing:
			stats.Processing = n
		case domain.TaskCompleted:
			stats.Completed = n
		case domain.TaskFailed:
			stats.Failed = n
		case domain.TaskRetrying:
			stats.Retrying = n
		case domain.TaskCancelled:
			stats.Cancelled = n
		}
	}
	if err := rows.Err(); err != nil {
		return domain.QueueStats{}, fmt.Errorf("op=task.queue_stats: %w", err)
	}
	return stats, nil
}

// CountsByStatus returns global task counts grouped by status.
func (r *TaskRepo) CountsByStatus(ctx domain.Context) (map[domain.TaskStatus]int64, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.CountsByStatus")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("op=task.counts: %w", err)
	}
	defer rows.Close()
	out := make(map[domain.TaskStatus]int64)
	for rows.Next() {
		var status domain.TaskStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("op=task.counts: %w", err)
		}
		out[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=task.counts: %w", err)
	}
	return out, nil
}

// LastProcessedAt returns the newest completed_at for a queue, or nil when
// nothing has completed yet.
func (r *TaskRepo) LastProcessedAt(ctx domain.Context, queueID int64) (*time.Time, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.LastProcessedAt")
	defer span.End()
	var at *time.Time
	err := r.Pool.QueryRow(ctx,
		`SELECT MAX(completed_at) FROM tasks WHERE queue_id=$1 AND status='completed'`, queueID).Scan(&at)
	if err != nil {
		return nil, fmt.Errorf("op=task.last_processed: %w", err)
	}
	return at, nil
}

// MarkProcessing transitions pending|retrying -> processing by execution
// id, stamping started_at only on the first transition.
func (r *TaskRepo) MarkProcessing(ctx domain.Context, workerID string, at time.Time) (bool, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.MarkProcessing")
	defer span.End()
	tag, err := r.Pool.Exec(ctx,
		`UPDATE tasks SET status='processing', started_at=COALESCE(started_at, $2)
		 WHERE worker_id=$1 AND status IN ('pending','retrying')`, workerID, at)
	if err != nil {
		return false, fmt.Errorf("op=task.mark_processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Complete transitions processing -> completed and stores the result.
func (r *TaskRepo) Complete(ctx domain.Context, workerID string, result map[string]any, at time.Time) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Complete")
	defer span.End()
	res, err := jsonbOrNil(result)
	if err != nil {
		return fmt.Errorf("op=task.complete: %w", err)
	}
	_, err = r.Pool.Exec(ctx,
		`UPDATE tasks SET status='completed', result=$2, completed_at=$3
		 WHERE worker_id=$1 AND status='processing'`, workerID, res, at)
	if err != nil {
		return fmt.Errorf("op=task.complete: %w", err)
	}
	return nil
}

// MarkRetrying transitions processing -> retrying, increments retry_count,
// and returns the incremented count.
func (r *TaskRepo) MarkRetrying(ctx domain.Context, workerID, errMsg, traceback string, at time.Time) (int, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.MarkRetrying")
	defer span.End()
	var count int
	err := r.Pool.QueryRow(ctx,
		`UPDATE tasks SET status='retrying', retry_count=retry_count+1, error_message=$2,
		 error_traceback=$3, last_error_at=$4
		 WHERE worker_id=$1 AND status='processing'
		 RETURNING retry_count`, workerID, errMsg, traceback, at).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("op=task.mark_retrying: %w", domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("op=task.mark_retrying: %w", err)
	}
	return count, nil
}

// Fail transitions processing|retrying -> failed, preserving error fields.
func (r *TaskRepo) Fail(ctx domain.Context, workerID, errMsg, traceback string, at time.Time) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Fail")
	defer span.End()
	_, err := r.Pool.Exec(ctx,
		`UPDATE tasks SET status='failed', completed_at=$4, error_message=$2, error_traceback=$3, last_error_at=$4
		 WHERE worker_id=$1 AND status IN ('processing','retrying')`, workerID, errMsg, traceback, at)
	if err != nil {
		return fmt.Errorf("op=task.fail: %w", err)
	}
	return nil
}

// Cancel transitions any non-terminal state -> cancelled by task id.
func (r *TaskRepo) Cancel(ctx domain.Context, id string, at time.Time) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Cancel")
	defer span.End()
	_, err := r.Pool.Exec(ctx,
		`UPDATE tasks SET status='cancelled', completed_at=$2
		 WHERE id=$1 AND status NOT IN ('completed','failed','cancelled')`, id, at)
	if err != nil {
		return fmt.Errorf("op=task.cancel: %w", err)
	}
	return nil
}
