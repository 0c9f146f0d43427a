package domain

import "time"

// Repositories (ports). Every mutation commits on normal return and rolls
// back on error; readers observe a consistent snapshot within one call.

// QueueRepository persists queue definitions.
type QueueRepository interface {
	Create(ctx Context, q Queue) (int64, error)
	ByName(ctx Context, name string) (Queue, error)
	ActiveAll(ctx Context) ([]Queue, error)
	All(ctx Context) ([]Queue, error)
}

// TaskRepository persists tasks and their lifecycle transitions. The
// transition methods are predicate-guarded so that replays cannot
// re-stamp StartedAt/CompletedAt or leave a terminal state.
type TaskRepository interface {
	Create(ctx Context, t Task) error
	Get(ctx Context, id string) (Task, error)
	ByWorkerID(ctx Context, workerID string) (Task, error)
	ByStatus(ctx Context, status TaskStatus, limit int) ([]Task, error)
	OverdueProcessing(ctx Context) ([]Task, error)
	QueueStats(ctx Context, queueID int64) (QueueStats, error)
	CountsByStatus(ctx Context) (map[TaskStatus]int64, error)
	LastProcessedAt(ctx Context, queueID int64) (*time.Time, error)

	// MarkProcessing transitions pending|retrying -> processing, stamping
	// StartedAt only on the first call. Returns false when no row matched.
	MarkProcessing(ctx Context, workerID string, at time.Time) (bool, error)
	// Complete transitions processing -> completed with the handler result.
	Complete(ctx Context, workerID string, result map[string]any, at time.Time) error
	// MarkRetrying transitions processing -> retrying, increments
	// RetryCount, and returns the new count.
	MarkRetrying(ctx Context, workerID, errMsg, traceback string, at time.Time) (int, error)
	// Fail transitions processing|retrying -> failed, preserving error fields.
	Fail(ctx Context, workerID, errMsg, traceback string, at time.Time) error
	// Cancel transitions any non-terminal state -> cancelled by task id.
	Cancel(ctx Context, id string, at time.Time) error
}

// AlarmRepository persists alarms and their dedup bookkeeping.
type AlarmRepository interface {
	Insert(ctx Context, a Alarm) (int64, error)
	// MostRecent returns the newest alarm of the given type triggered at or
	// after since, or ErrNotFound.
	MostRecent(ctx Context, t AlarmType, since time.Time) (Alarm, error)
	// Touch absorbs a repeat event into an existing row: increments
	// OccurrenceCount, refreshes LastOccurrence, and overwrites
	// Description/ContextData.
	Touch(ctx Context, id int64, description string, contextData map[string]any, at time.Time) error
	ActiveAll(ctx Context) ([]Alarm, error)
	Get(ctx Context, id int64) (Alarm, error)
	Acknowledge(ctx Context, id int64, by string, at time.Time) error
	Resolve(ctx Context, id int64, at time.Time) error
}

// MetricsRepository appends per-queue health samples.
type MetricsRepository interface {
	Insert(ctx Context, s QueueMetricsSample) error
	LatestForQueue(ctx Context, queueID int64) (QueueMetricsSample, error)
}

// StatusHealthUpdate is the health evaluator's write into SystemStatus.
type StatusHealthUpdate struct {
	Overall         HealthStatus
	Queue           HealthStatus
	Database        HealthStatus
	Broker          HealthStatus
	IsOperational   bool
	ActiveQueues    int64
	PendingTasks    int64
	ProcessingTasks int64
	FailedTasks     int64
	CheckedAt       time.Time
}

// StatusRepository maintains the singleton SystemStatus row.
type StatusRepository interface {
	Get(ctx Context) (SystemStatus, error)
	// Init creates the row if absent and stamps version/environment/uptime.
	Init(ctx Context, version, environment string, uptimeStarted time.Time) error
	UpdateHealth(ctx Context, u StatusHealthUpdate) error
	MarkShutdown(ctx Context, reason string, at time.Time) error
}

// AuditEntry records one administrative or lifecycle action.
type AuditEntry struct {
	EventType  string
	EntityType string
	EntityID   string
	Action     string
	OldValues  map[string]any
	NewValues  map[string]any
	UserID     string
	SourceIP   string
	CreatedAt  time.Time
}

// AuditRepository appends audit entries.
type AuditRepository interface {
	Insert(ctx Context, e AuditEntry) error
}

// SubmitRequest is handed to the broker on task submission.
type SubmitRequest struct {
	TaskID         string
	TaskType       string
	TaskName       string
	Payload        map[string]any
	QueueName      string
	PriorityValue  int
	ETA            *time.Time
	ExpiresAt      *time.Time
	MaxRetries     int
	TimeoutSeconds int
	CorrelationID  string
}

// ExecutionStatus mirrors the broker's view of one execution.
type ExecutionStatus struct {
	State      string
	Result     any
	Traceback  string
	Successful bool
	Failed     bool
}

// WorkerInfo describes one live worker as seen by the broker probe.
type WorkerInfo struct {
	ID        string
	TaskTypes []string
	LastSeen  time.Time
}

// Broker transports task executions to workers. Submit returns the
// broker-assigned execution id. Revoke is best-effort: success is not
// guaranteed once the execution has completed. All operations may fail
// transiently.
type Broker interface {
	Submit(ctx Context, req SubmitRequest) (string, error)
	Status(ctx Context, executionID string) (ExecutionStatus, error)
	Revoke(ctx Context, executionID string, terminate bool) error
	ActiveWorkers(ctx Context) ([]WorkerInfo, error)
}

// NotificationChannel delivers alarm notifications. Failures are logged
// per channel and never fail the alarm trigger.
type NotificationChannel interface {
	Name() string
	Notify(ctx Context, a Alarm) error
}
