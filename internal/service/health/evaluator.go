// Package health periodically derives per-queue and per-component health
// from the durable store and live probes.
package health

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fairyhunter13/taskhub/internal/adapter/observability"
	"github.com/fairyhunter13/taskhub/internal/domain"
)

// Callback receives each queue-health verdict; the alarm engine registers
// one.
type Callback func(ctx domain.Context, h domain.QueueHealth)

// AlarmSink receives critical component findings.
type AlarmSink interface {
	Raise(ctx domain.Context, e domain.AlarmEvent)
}

// Thresholds are the monitor limits from configuration.
type Thresholds struct {
	Backup            int64
	ErrorRate         float64 // percent
	ProcessingTimeout time.Duration
	CPU               float64
	Memory            float64
	Disk              float64
}

// Hard resource bounds past which a host is critical regardless of the
// configured thresholds.
const (
	cpuCriticalBound  = 95.0
	memCriticalBound  = 95.0
	diskCriticalBound = 98.0
)

// probeDeadline bounds each component probe.
const probeDeadline = 10 * time.Second

// Evaluator runs the two health pipelines. It holds no loop of its own;
// the app layer drives CheckQueues and CheckComponents on their cadences.
type Evaluator struct {
	Queues  domain.QueueRepository
	Tasks   domain.TaskRepository
	Metrics domain.MetricsRepository
	Status  domain.StatusRepository
	Broker  domain.Broker

	// DBProbe executes SELECT 1, counts one table, and reports pool stats.
	DBProbe func(ctx domain.Context) (map[string]any, error)
	// BackendPing round-trips the broker result backend.
	BackendPing func(ctx domain.Context) error
	// ExternalURL, when set, is probed with an HTTP GET.
	ExternalURL string
	HTTPClient  *http.Client

	Thresholds Thresholds
	Alarms     AlarmSink

	mu            sync.Mutex
	callbacks     []Callback
	lastQueueTick map[string]bool
	totalChecks   int

	uptimeStart time.Time
	snapshot    func(ctx domain.Context) domain.HostSnapshot
	now         func() time.Time
}

// NewEvaluator constructs an Evaluator with the gopsutil host snapshot.
func NewEvaluator(queues domain.QueueRepository, tasks domain.TaskRepository, metrics domain.MetricsRepository, status domain.StatusRepository, broker domain.Broker, th Thresholds) *Evaluator {
	return &Evaluator{
		Queues:        queues,
		Tasks:         tasks,
		Metrics:       metrics,
		Status:        status,
		Broker:        broker,
		Thresholds:    th,
		HTTPClient:    &http.Client{Timeout: probeDeadline},
		lastQueueTick: make(map[string]bool),
		uptimeStart:   time.Now().UTC(),
		snapshot:      hostSnapshot,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// RegisterCallback adds a queue-health consumer.
func (e *Evaluator) RegisterCallback(cb Callback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// CheckQueues runs one per-queue health tick: derive health for each
// active queue, emit to callbacks, then persist a metrics sample.
func (e *Evaluator) CheckQueues(ctx domain.Context) error {
	queues, err := e.Queues.ActiveAll(ctx)
	if err != nil {
		return fmt.Errorf("op=health.CheckQueues: %w", err)
	}
	overdue, err := e.Tasks.OverdueProcessing(ctx)
	if err != nil {
		return fmt.Errorf("op=health.CheckQueues: %w", err)
	}
	overdueByQueue := make(map[int64]int)
	for _, t := range overdue {
		overdueByQueue[t.QueueID]++
	}

	host := e.snapshot(ctx)
	now := e.now()

	for _, q := range queues {
		h, err := e.evaluateQueue(ctx, q, overdueByQueue[q.ID], now)
		if err != nil {
			return fmt.Errorf("op=health.CheckQueues queue=%s: %w", q.Name, err)
		}

		e.mu.Lock()
		e.lastQueueTick[q.Name] = h.IsHealthy
		cbs := make([]Callback, len(e.callbacks))
		copy(cbs, e.callbacks)
		e.mu.Unlock()

		for _, cb := range cbs {
			cb(ctx, h)
		}
		observability.QueueDepthGauge.WithLabelValues(q.Name).Set(float64(h.PendingTasks))

		sample := domain.QueueMetricsSample{
			QueueID:           q.ID,
			QueueName:         q.Name,
			PendingTasks:      h.PendingTasks,
			ProcessingTasks:   h.ProcessingTasks,
			CompletedTasks:    h.CompletedTasks,
			FailedTasks:       h.FailedTasks,
			AvgProcessingTime: h.AvgProcessingTime,
			ErrorRate:         h.ErrorRate,
			SuccessRate:       100 - h.ErrorRate,
			CPUPercent:        host.CPUPercent,
			MemoryPercent:     host.MemoryPercent,
			DiskPercent:       host.DiskPercent,
			RecordedAt:        now,
		}
		if err := e.Metrics.Insert(ctx, sample); err != nil {
			return fmt.Errorf("op=health.CheckQueues queue=%s: %w", q.Name, err)
		}
	}
	return nil
}

// evaluateQueue derives one queue's health from store state.
func (e *Evaluator) evaluateQueue(ctx domain.Context, q domain.Queue, overdueCount int, now time.Time) (domain.QueueHealth, error) {
	stats, err := e.Tasks.QueueStats(ctx, q.ID)
	if err != nil {
		return domain.QueueHealth{}, err
	}

	var errorRate float64
	if stats.Completed+stats.Failed > 0 {
		errorRate = float64(stats.Failed) / float64(stats.Completed+stats.Failed) * 100
	}

	var avgProcessing float64
	if sample, err := e.Metrics.LatestForQueue(ctx, q.ID); err == nil {
		avgProcessing = sample.AvgProcessingTime
	}

	lastProcessed, err := e.Tasks.LastProcessedAt(ctx, q.ID)
	if err != nil {
		return domain.QueueHealth{}, err
	}

	var issues []string
	if stats.Pending > e.Thresholds.Backup {
		issues = append(issues, fmt.Sprintf("task backup: %d pending tasks", stats.Pending))
	}
	if errorRate > e.Thresholds.ErrorRate {
		issues = append(issues, fmt.Sprintf("high error rate: %.1f%%", errorRate))
	}
	if lastProcessed != nil && now.Sub(*lastProcessed) > e.Thresholds.ProcessingTimeout {
		issues = append(issues, fmt.Sprintf("processing timeout: nothing completed for %s", now.Sub(*lastProcessed).Round(time.Second)))
	}
	if overdueCount > 0 {
		issues = append(issues, fmt.Sprintf("%d overdue processing tasks", overdueCount))
	}

	return domain.QueueHealth{
		QueueName:         q.Name,
		IsHealthy:         len(issues) == 0,
		PendingTasks:      stats.Pending,
		ProcessingTasks:   stats.Processing,
		CompletedTasks:    stats.Completed,
		FailedTasks:       stats.Failed,
		ErrorRate:         errorRate,
		AvgProcessingTime: avgProcessing,
		LastProcessedAt:   lastProcessed,
		Issues:            issues,
	}, nil
}

// QueueHealthFor derives one queue's health on demand for the API.
func (e *Evaluator) QueueHealthFor(ctx domain.Context, name string) (domain.QueueHealth, error) {
	q, err := e.Queues.ByName(ctx, name)
	if err != nil {
		return domain.QueueHealth{}, err
	}
	overdue, err := e.Tasks.OverdueProcessing(ctx)
	if err != nil {
		return domain.QueueHealth{}, err
	}
	count := 0
	for _, t := range overdue {
		if t.QueueID == q.ID {
			count++
		}
	}
	return e.evaluateQueue(ctx, q, count, e.now())
}
