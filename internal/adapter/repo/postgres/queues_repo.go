package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

// QueueRepo persists and loads queue definitions.
type QueueRepo struct{ Pool PgxPool }

// NewQueueRepo constructs a QueueRepo with the given pool.
func NewQueueRepo(p PgxPool) *QueueRepo { return &QueueRepo{Pool: p} }

const queueColumns = `id, name, description, priority, is_active, max_workers, retry_limit, timeout_seconds, created_at, updated_at`

func scanQueue(row pgx.Row) (domain.Queue, error) {
	var q domain.Queue
	err := row.Scan(&q.ID, &q.Name, &q.Description, &q.Priority, &q.IsActive,
		&q.MaxWorkers, &q.RetryLimit, &q.TimeoutSeconds, &q.CreatedAt, &q.UpdatedAt)
	return q, err
}

// Create inserts a queue definition and returns its id. Creation is
// idempotent by name: an existing queue keeps its row and its id is
// returned unchanged.
func (r *QueueRepo) Create(ctx domain.Context, q domain.Queue) (int64, error) {
	tracer := otel.Tracer("repo.queues")
	ctx, span := tracer.Start(ctx, "queues.Create")
	defer span.End()
	now := time.Now().UTC()
	sql := `INSERT INTO queues (name, description, priority, is_active, max_workers, retry_limit, timeout_seconds, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		ON CONFLICT (name) DO NOTHING
		RETURNING id`
	var id int64
	err := r.Pool.QueryRow(ctx, sql, q.Name, q.Description, q.Priority, q.IsActive,
		q.MaxWorkers, q.RetryLimit, q.TimeoutSeconds, now).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := r.ByName(ctx, q.Name)
		if err != nil {
			return 0, fmt.Errorf("op=queue.create: %w", err)
		}
		return existing.ID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("op=queue.create: %w", err)
	}
	return id, nil
}

// ByName loads a queue by its unique name.
func (r *QueueRepo) ByName(ctx domain.Context, name string) (domain.Queue, error) {
	tracer := otel.Tracer("repo.queues")
	ctx, span := tracer.Start(ctx, "queues.ByName")
	defer span.End()
	q, err := scanQueue(r.Pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM queues WHERE name=$1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Queue{}, fmt.Errorf("op=queue.by_name: %w", domain.ErrQueueNotFound)
	}
	if err != nil {
		return domain.Queue{}, fmt.Errorf("op=queue.by_name: %w", err)
	}
	return q, nil
}

// ActiveAll returns every queue with is_active=true.
func (r *QueueRepo) ActiveAll(ctx domain.Context) ([]domain.Queue, error) {
	tracer := otel.Tracer("repo.queues")
	ctx, span := tracer.Start(ctx, "queues.ActiveAll")
	defer span.End()
	return r.list(ctx, `SELECT `+queueColumns+` FROM queues WHERE is_active=TRUE ORDER BY name`)
}

// All returns every queue.
func (r *QueueRepo) All(ctx domain.Context) ([]domain.Queue, error) {
	tracer := otel.Tracer("repo.queues")
	ctx, span := tracer.Start(ctx, "queues.All")
	defer span.End()
	return r.list(ctx, `SELECT `+queueColumns+` FROM queues ORDER BY name`)
}

func (r *QueueRepo) list(ctx domain.Context, sql string) ([]domain.Queue, error) {
	rows, err := r.Pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("op=queue.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, fmt.Errorf("op=queue.list: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=queue.list: %w", err)
	}
	return out, nil
}
