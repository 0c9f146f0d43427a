package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

// AlarmRepo persists alarms and supports the engine's dedup lookups.
type AlarmRepo struct{ Pool PgxPool }

// NewAlarmRepo constructs an AlarmRepo with the given pool.
func NewAlarmRepo(p PgxPool) *AlarmRepo { return &AlarmRepo{Pool: p} }

const alarmColumns = `id, alarm_type, severity, title, description, queue_name, task_id, component,
	is_active, acknowledged, acknowledged_by, acknowledged_at, triggered_at, resolved_at,
	last_occurrence, occurrence_count, context_data, tags`

func scanAlarm(row pgx.Row) (domain.Alarm, error) {
	var (
		a       domain.Alarm
		context []byte
		tags    []byte
	)
	err := row.Scan(&a.ID, &a.Type, &a.Severity, &a.Title, &a.Description, &a.QueueName,
		&a.TaskID, &a.Component, &a.IsActive, &a.Acknowledged, &a.AcknowledgedBy,
		&a.AcknowledgedAt, &a.TriggeredAt, &a.ResolvedAt, &a.LastOccurrence,
		&a.OccurrenceCount, &context, &tags)
	if err != nil {
		return domain.Alarm{}, err
	}
	if len(context) > 0 {
		_ = json.Unmarshal(context, &a.ContextData)
	}
	if len(tags) > 0 {
		_ = json.Unmarshal(tags, &a.Tags)
	}
	return a, nil
}

// Insert persists a new active alarm and returns its id.
func (r *AlarmRepo) Insert(ctx domain.Context, a domain.Alarm) (int64, error) {
	tracer := otel.Tracer("repo.alarms")
	ctx, span := tracer.Start(ctx, "alarms.Insert")
	defer span.End()
	contextData, err := jsonbOrNil(a.ContextData)
	if err != nil {
		return 0, fmt.Errorf("op=alarm.insert: %w", err)
	}
	tags, err := jsonbOrNil(a.Tags)
	if err != nil {
		return 0, fmt.Errorf("op=alarm.insert: %w", err)
	}
	var id int64
	err = r.Pool.QueryRow(ctx,
		`INSERT INTO system_alarms (alarm_type, severity, title, description, queue_name, task_id,
		 component, is_active, triggered_at, last_occurrence, occurrence_count, context_data, tags)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE,$8,$8,1,$9,$10)
		 RETURNING id`,
		a.Type, a.Severity, a.Title, a.Description, a.QueueName, a.TaskID, a.Component,
		a.TriggeredAt, contextData, tags).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("op=alarm.insert: %w", err)
	}
	return id, nil
}

// MostRecent returns the newest alarm of the given type triggered at or
// after since, or ErrNotFound when none exists.
func (r *AlarmRepo) MostRecent(ctx domain.Context, t domain.AlarmType, since time.Time) (domain.Alarm, error) {
	tracer := otel.Tracer("repo.alarms")
	ctx, span := tracer.Start(ctx, "alarms.MostRecent")
	defer span.End()
	a, err := scanAlarm(r.Pool.QueryRow(ctx,
		`SELECT `+alarmColumns+` FROM system_alarms
		 WHERE alarm_type=$1 AND triggered_at >= $2
		 ORDER BY triggered_at DESC LIMIT 1`, t, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Alarm{}, fmt.Errorf("op=alarm.most_recent: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Alarm{}, fmt.Errorf("op=alarm.most_recent: %w", err)
	}
	return a, nil
}

// Touch absorbs a repeat event into an existing row.
func (r *AlarmRepo) Touch(ctx domain.Context, id int64, description string, contextData map[string]any, at time.Time) error {
	tracer := otel.Tracer("repo.alarms")
	ctx, span := tracer.Start(ctx, "alarms.Touch")
	defer span.End()
	cd, err := jsonbOrNil(contextData)
	if err != nil {
		return fmt.Errorf("op=alarm.touch: %w", err)
	}
	_, err = r.Pool.Exec(ctx,
		`UPDATE system_alarms SET occurrence_count=occurrence_count+1, last_occurrence=$2,
		 description=$3, context_data=$4
		 WHERE id=$1`, id, at, description, cd)
	if err != nil {
		return fmt.Errorf("op=alarm.touch: %w", err)
	}
	return nil
}

// ActiveAll returns every active alarm, most severe first within recency.
func (r *AlarmRepo) ActiveAll(ctx domain.Context) ([]domain.Alarm, error) {
	tracer := otel.Tracer("repo.alarms")
	ctx, span := tracer.Start(ctx, "alarms.ActiveAll")
	defer span.End()
	rows, err := r.Pool.Query(ctx,
		`SELECT `+alarmColumns+` FROM system_alarms WHERE is_active=TRUE ORDER BY triggered_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("op=alarm.active_all: %w", err)
	}
	defer rows.Close()
	var out []domain.Alarm
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, fmt.Errorf("op=alarm.active_all: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=alarm.active_all: %w", err)
	}
	return out, nil
}

// Get loads one alarm by id.
func (r *AlarmRepo) Get(ctx domain.Context, id int64) (domain.Alarm, error) {
	tracer := otel.Tracer("repo.alarms")
	ctx, span := tracer.Start(ctx, "alarms.Get")
	defer span.End()
	a, err := scanAlarm(r.Pool.QueryRow(ctx,
		`SELECT `+alarmColumns+` FROM system_alarms WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Alarm{}, fmt.Errorf("op=alarm.get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Alarm{}, fmt.Errorf("op=alarm.get: %w", err)
	}
	return a, nil
}

// Acknowledge marks an alarm acknowledged. The alarm stays active until
// resolved.
func (r *AlarmRepo) Acknowledge(ctx domain.Context, id int64, by string, at time.Time) error {
	tracer := otel.Tracer("repo.alarms")
	ctx, span := tracer.Start(ctx, "alarms.Acknowledge")
	defer span.End()
	tag, err := r.Pool.Exec(ctx,
		`UPDATE system_alarms SET acknowledged=TRUE, acknowledged_by=$2, acknowledged_at=$3 WHERE id=$1`,
		id, by, at)
	if err != nil {
		return fmt.Errorf("op=alarm.acknowledge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=alarm.acknowledge: %w", domain.ErrNotFound)
	}
	return nil
}

// Resolve deactivates an alarm and stamps resolved_at.
func (r *AlarmRepo) Resolve(ctx domain.Context, id int64, at time.Time) error {
	tracer := otel.Tracer("repo.alarms")
	ctx, span := tracer.Start(ctx, "alarms.Resolve")
	defer span.End()
	tag, err := r.Pool.Exec(ctx,
		`UPDATE system_alarms SET is_active=FALSE, resolved_at=$2 WHERE id=$1`, id, at)
	if err != nil {
		return fmt.Errorf("op=alarm.resolve: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=alarm.resolve: %w", domain.ErrNotFound)
	}
	return nil
}
