package domain

import "time"

// AlarmType enumerates the alarm categories the engine can raise.
type AlarmType string

const (
	AlarmQueueBackup        AlarmType = "queue_backup"
	AlarmHighErrorRate      AlarmType = "high_error_rate"
	AlarmProcessingTimeout  AlarmType = "processing_timeout"
	AlarmOverdueTasks       AlarmType = "overdue_tasks"
	AlarmSystemError        AlarmType = "system_error"
	AlarmDatabaseError      AlarmType = "database_error"
	AlarmRedisError         AlarmType = "redis_error"
	AlarmHTTPError          AlarmType = "http_error"
	AlarmResourceExhaustion AlarmType = "resource_exhaustion"
	AlarmSystemShutdown     AlarmType = "system_shutdown"
)

// AlarmSeverity grades an alarm.
type AlarmSeverity string

const (
	SeverityInfo     AlarmSeverity = "info"
	SeverityWarning  AlarmSeverity = "warning"
	SeverityError    AlarmSeverity = "error"
	SeverityCritical AlarmSeverity = "critical"
)

// ShutdownAlarmTypes are the types whose critical escalation triggers an
// emergency shutdown when the deployment enables it.
var ShutdownAlarmTypes = map[AlarmType]bool{
	AlarmHighErrorRate:      true,
	AlarmProcessingTimeout:  true,
	AlarmSystemError:        true,
	AlarmDatabaseError:      true,
	AlarmResourceExhaustion: true,
}

// Alarm is a persisted incident. A single row absorbs repeat events of the
// same type within the dedup window via OccurrenceCount/LastOccurrence.
type Alarm struct {
	ID              int64
	Type            AlarmType
	Severity        AlarmSeverity
	Title           string
	Description     string
	QueueName       string
	TaskID          string
	Component       string
	IsActive        bool
	Acknowledged    bool
	AcknowledgedBy  string
	AcknowledgedAt  *time.Time
	TriggeredAt     time.Time
	ResolvedAt      *time.Time
	LastOccurrence  time.Time
	OccurrenceCount int
	ContextData     map[string]any
	Tags            []string
}

// AlarmEvent is a request to raise an alarm, before dedup, cooldown, and
// escalation are applied.
type AlarmEvent struct {
	Type        AlarmType
	Severity    AlarmSeverity
	Title       string
	Description string
	QueueName   string
	TaskID      string
	Component   string
	ContextData map[string]any
	Tags        []string
}

// Scope is the cooldown key: "<type>:<queue>" for queue-scoped events,
// "<type>:system" otherwise.
func (e AlarmEvent) Scope() string {
	if e.QueueName != "" {
		return string(e.Type) + ":" + e.QueueName
	}
	return string(e.Type) + ":system"
}
