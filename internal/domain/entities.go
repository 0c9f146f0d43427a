// Package domain defines the core entities, ports, and error taxonomy
// shared by the queue manager, worker wrapper, health evaluator, and
// alarm engine.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrQueueNotFound      = errors.New("queue not found")
	ErrQueueInactive      = errors.New("queue inactive")
	ErrConflict           = errors.New("conflict")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrBrokerTransient    = errors.New("broker transient failure")
	ErrStoreTransactional = errors.New("store transactional failure")
	ErrInternal           = errors.New("internal error")
)

// TaskStatus enumerates the lifecycle states of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskRetrying   TaskStatus = "retrying"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are permitted from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskPriority orders tasks within a queue.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityNormal   TaskPriority = "normal"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// BrokerValue maps the priority onto the dense integer scale the broker
// transports: low=1, normal=5, high=8, critical=10.
func (p TaskPriority) BrokerValue() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 8
	case PriorityCritical:
		return 10
	default:
		return 5
	}
}

// Valid reports whether p is one of the recognized priorities.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// DefaultQueueName is auto-created on engine init.
const DefaultQueueName = "default"

// Queue is a named logical stream of tasks with its own concurrency and
// retry defaults.
type Queue struct {
	ID             int64
	Name           string
	Description    string
	Priority       TaskPriority
	IsActive       bool
	MaxWorkers     int
	RetryLimit     int
	TimeoutSeconds int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Task is a unit of work with a durable identity and a lifecycle state.
// Invariants: RetryCount <= MaxRetries; StartedAt is stamped exactly once
// (pending->processing); CompletedAt is stamped exactly once on entry into
// a terminal state; no transition leaves a terminal state.
type Task struct {
	ID             string
	QueueID        int64
	QueueName      string // filled by joins, not stored on the row
	TaskType       string
	TaskName       string
	Payload        map[string]any
	Result         map[string]any
	Status         TaskStatus
	Priority       TaskPriority
	RetryCount     int
	MaxRetries     int
	ErrorMessage   string
	ErrorTraceback string
	LastErrorAt    *time.Time
	CreatedAt      time.Time
	ScheduledAt    *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	TimeoutAt      *time.Time
	CorrelationID  string
	WorkerID       string
	Tags           map[string]string
}

// DurationSeconds returns the wall-clock processing duration, or nil when
// the task has not both started and finished.
func (t Task) DurationSeconds() *float64 {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return nil
	}
	d := t.CompletedAt.Sub(*t.StartedAt).Seconds()
	return &d
}

// IsOverdue reports whether the task is processing past its timeout.
func (t Task) IsOverdue(now time.Time) bool {
	return t.Status == TaskProcessing && t.TimeoutAt != nil && now.After(*t.TimeoutAt)
}

// TaskSubmission carries the caller-supplied fields of a submit call.
// Nil optionals inherit the queue row defaults.
type TaskSubmission struct {
	TaskType       string
	TaskName       string
	Payload        map[string]any
	QueueName      string
	Priority       TaskPriority
	CorrelationID  string
	ScheduledAt    *time.Time
	TimeoutSeconds *int
	RetryLimit     *int
	Tags           map[string]string
}

// QueueStats are per-status task counts for one queue, gathered in a
// single round-trip.
type QueueStats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
	Retrying   int64
	Cancelled  int64
}

// Context is an alias so that ports stay readable; adapters and usecases
// pass context.Context through unchanged.
type Context = context.Context
