package domain

import "time"

// HealthStatus grades a component or the system overall.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
	HealthUnknown  HealthStatus = "unknown"
)

// QueueHealth is the per-queue verdict of one health tick. Any issue
// implies IsHealthy=false.
type QueueHealth struct {
	QueueName         string
	IsHealthy         bool
	PendingTasks      int64
	ProcessingTasks   int64
	CompletedTasks    int64
	FailedTasks       int64
	ErrorRate         float64 // percent
	AvgProcessingTime float64 // seconds
	LastProcessedAt   *time.Time
	Issues            []string
}

// ComponentHealth is the result of one component probe.
type ComponentHealth struct {
	Name           string
	Status         HealthStatus
	ResponseTimeMS float64
	LastCheck      time.Time
	ErrorMessage   string
	Details        map[string]any
}

// HostSnapshot captures host resource readings at probe time.
type HostSnapshot struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	Load1         float64
	CPUCount      int
}

// SystemHealthReport aggregates one component-health tick.
type SystemHealthReport struct {
	Overall       HealthStatus
	Components    []ComponentHealth
	Timestamp     time.Time
	UptimeSeconds float64
	TotalChecks   int
	HealthyCount  int
	DegradedCount int
	CriticalCount int
	Host          HostSnapshot
}

// QueueMetricsSample is one append-only row per queue per health tick.
type QueueMetricsSample struct {
	ID                int64
	QueueID           int64
	QueueName         string
	PendingTasks      int64
	ProcessingTasks   int64
	CompletedTasks    int64
	FailedTasks       int64
	AvgProcessingTime float64
	MaxProcessingTime float64
	MinProcessingTime float64
	ErrorRate         float64
	SuccessRate       float64
	CPUPercent        float64
	MemoryPercent     float64
	DiskPercent       float64
	RecordedAt        time.Time
}

// SystemStatus is the singleton operational record (fixed row id).
type SystemStatus struct {
	IsOperational     bool
	IsMaintenanceMode bool
	ShutdownRequested bool
	ShutdownReason    string
	OverallHealth     HealthStatus
	QueueHealth       HealthStatus
	DatabaseHealth    HealthStatus
	BrokerHealth      HealthStatus
	ActiveQueues      int64
	PendingTasks      int64
	ProcessingTasks   int64
	FailedTasks       int64
	UptimeStarted     time.Time
	LastHealthCheck   *time.Time
	LastUpdated       time.Time
	Version           string
	Environment       string
}
