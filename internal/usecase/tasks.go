// Package usecase contains the application services: the queue manager's
// submission path and the administrative queue operations.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/fairyhunter13/taskhub/internal/adapter/observability"
	"github.com/fairyhunter13/taskhub/internal/domain"
)

// TaskService is the queue manager's submission and cancellation path.
type TaskService struct {
	Queues domain.QueueRepository
	Tasks  domain.TaskRepository
	Audit  domain.AuditRepository
	Broker domain.Broker

	now func() time.Time
}

// NewTaskService constructs a TaskService.
func NewTaskService(queues domain.QueueRepository, tasks domain.TaskRepository, audit domain.AuditRepository, broker domain.Broker) *TaskService {
	return &TaskService{
		Queues: queues,
		Tasks:  tasks,
		Audit:  audit,
		Broker: broker,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates the submission against the queue definition, submits to
// the broker, and persists the task row. The broker goes first: at return,
// the task row exists iff broker submission succeeded. Broker rejection
// aborts with no row; a row that outruns its broker record cannot happen.
func (s *TaskService) Submit(ctx domain.Context, sub domain.TaskSubmission) (string, error) {
	if sub.TaskType == "" || sub.TaskName == "" || sub.QueueName == "" {
		return "", fmt.Errorf("op=tasks.Submit: task_type, task_name and queue_name required: %w", domain.ErrInvalidArgument)
	}
	if sub.Priority == "" {
		sub.Priority = domain.PriorityNormal
	}
	if !sub.Priority.Valid() {
		return "", fmt.Errorf("op=tasks.Submit: priority %q: %w", sub.Priority, domain.ErrInvalidArgument)
	}
	now := s.now()
	if sub.ScheduledAt != nil && sub.ScheduledAt.Before(now) {
		return "", fmt.Errorf("op=tasks.Submit: scheduled_at must be in the future: %w", domain.ErrInvalidArgument)
	}

	queue, err := s.Queues.ByName(ctx, sub.QueueName)
	if err != nil {
		return "", err
	}
	if !queue.IsActive {
		return "", fmt.Errorf("op=tasks.Submit: queue %s: %w", queue.Name, domain.ErrQueueInactive)
	}

	timeoutSeconds := queue.TimeoutSeconds
	if sub.TimeoutSeconds != nil {
		timeoutSeconds = *sub.TimeoutSeconds
	}
	maxRetries := queue.RetryLimit
	if sub.RetryLimit != nil {
		maxRetries = *sub.RetryLimit
	}

	var timeoutAt *time.Time
	if timeoutSeconds > 0 {
		base := now
		if sub.ScheduledAt != nil && sub.ScheduledAt.After(base) {
			base = *sub.ScheduledAt
		}
		t := base.Add(time.Duration(timeoutSeconds) * time.Second)
		timeoutAt = &t
	}

	taskID := uuid.NewString()
	req := domain.SubmitRequest{
		TaskID:         taskID,
		TaskType:       sub.TaskType,
		TaskName:       sub.TaskName,
		Payload:        sub.Payload,
		QueueName:      queue.Name,
		PriorityValue:  sub.Priority.BrokerValue(),
		ETA:            sub.ScheduledAt,
		ExpiresAt:      timeoutAt,
		MaxRetries:     maxRetries,
		TimeoutSeconds: timeoutSeconds,
		CorrelationID:  sub.CorrelationID,
	}

	// Transient broker hiccups retry with bounded backoff before the
	// submission is rejected.
	var brokerID string
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err = backoff.Retry(func() error {
		id, err := s.Broker.Submit(ctx, req)
		if err != nil {
			if errors.Is(err, domain.ErrBrokerTransient) {
				return err
			}
			return backoff.Permanent(err)
		}
		brokerID = id
		return nil
	}, bo)
	if err != nil {
		return "", fmt.Errorf("op=tasks.Submit broker: %w", err)
	}

	task := domain.Task{
		ID:            taskID,
		QueueID:       queue.ID,
		TaskType:      sub.TaskType,
		TaskName:      sub.TaskName,
		Payload:       sub.Payload,
		Status:        domain.TaskPending,
		Priority:      sub.Priority,
		MaxRetries:    maxRetries,
		CreatedAt:     now,
		ScheduledAt:   sub.ScheduledAt,
		TimeoutAt:     timeoutAt,
		CorrelationID: sub.CorrelationID,
		WorkerID:      brokerID,
		Tags:          sub.Tags,
	}
	if err := s.Tasks.Create(ctx, task); err != nil {
		// The broker already holds the record; the worker wrapper tolerates
		// the missing row by running untracked.
		return "", fmt.Errorf("op=tasks.Submit persist: %w", err)
	}

	s.audit(ctx, "task_submitted", taskID, map[string]any{
		"task_type": sub.TaskType,
		"queue":     queue.Name,
		"priority":  string(sub.Priority),
	})
	observability.SubmitTask(queue.Name, sub.TaskType)
	slog.Info("task submitted",
		slog.String("task_id", taskID),
		slog.String("queue", queue.Name),
		slog.String("task_type", sub.TaskType))
	return taskID, nil
}

// Cancel revokes the broker execution (best-effort) and marks the task
// cancelled. Cancelling a terminal task is a no-op success.
func (s *TaskService) Cancel(ctx domain.Context, id string) error {
	task, err := s.Tasks.Get(ctx, id)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return nil
	}
	if task.WorkerID != "" {
		if err := s.Broker.Revoke(ctx, task.WorkerID, true); err != nil {
			slog.Warn("broker revoke failed",
				slog.String("task_id", id), slog.Any("error", err))
		}
	}
	if err := s.Tasks.Cancel(ctx, id, s.now()); err != nil {
		return err
	}
	s.audit(ctx, "task_cancelled", id, map[string]any{"previous_status": string(task.Status)})
	observability.CancelTask(task.QueueName, task.TaskType)
	return nil
}

// Get returns the task snapshot.
func (s *TaskService) Get(ctx domain.Context, id string) (domain.Task, error) {
	return s.Tasks.Get(ctx, id)
}

// ByStatus lists tasks in one status, newest first.
func (s *TaskService) ByStatus(ctx domain.Context, status domain.TaskStatus, limit int) ([]domain.Task, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.Tasks.ByStatus(ctx, status, limit)
}

func (s *TaskService) audit(ctx domain.Context, eventType, taskID string, values map[string]any) {
	if s.Audit == nil {
		return
	}
	err := s.Audit.Insert(ctx, domain.AuditEntry{
		EventType:  eventType,
		EntityType: "task",
		EntityID:   taskID,
		Action:     eventType,
		NewValues:  values,
		CreatedAt:  s.now(),
	})
	if err != nil {
		slog.Warn("audit write failed", slog.String("event", eventType), slog.Any("error", err))
	}
}
