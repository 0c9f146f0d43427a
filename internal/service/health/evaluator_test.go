package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

type stubQueues struct {
	queues []domain.Queue
}

func (s *stubQueues) Create(context.Context, domain.Queue) (int64, error) { return 0, nil }

func (s *stubQueues) ByName(_ context.Context, name string) (domain.Queue, error) {
	for _, q := range s.queues {
		if q.Name == name {
			return q, nil
		}
	}
	return domain.Queue{}, domain.ErrQueueNotFound
}

func (s *stubQueues) ActiveAll(context.Context) ([]domain.Queue, error) { return s.queues, nil }
func (s *stubQueues) All(context.Context) ([]domain.Queue, error)       { return s.queues, nil }

type stubTasks struct {
	stats         domain.QueueStats
	overdue       []domain.Task
	lastProcessed *time.Time
	counts        map[domain.TaskStatus]int64
}

func (s *stubTasks) Create(context.Context, domain.Task) error { return nil }
func (s *stubTasks) Get(context.Context, string) (domain.Task, error) {
	return domain.Task{}, domain.ErrNotFound
}
func (s *stubTasks) ByWorkerID(context.Context, string) (domain.Task, error) {
	return domain.Task{}, domain.ErrNotFound
}
func (s *stubTasks) ByStatus(context.Context, domain.TaskStatus, int) ([]domain.Task, error) {
	return nil, nil
}
func (s *stubTasks) OverdueProcessing(context.Context) ([]domain.Task, error) {
	return s.overdue, nil
}
func (s *stubTasks) QueueStats(context.Context, int64) (domain.QueueStats, error) {
	return s.stats, nil
}
func (s *stubTasks) CountsByStatus(context.Context) (map[domain.TaskStatus]int64, error) {
	return s.counts, nil
}
func (s *stubTasks) LastProcessedAt(context.Context, int64) (*time.Time, error) {
	return s.lastProcessed, nil
}
func (s *stubTasks) MarkProcessing(context.Context, string, time.Time) (bool, error) {
	return false, nil
}
func (s *stubTasks) Complete(context.Context, string, map[string]any, time.Time) error { return nil }
func (s *stubTasks) MarkRetrying(context.Context, string, string, string, time.Time) (int, error) {
	return 0, nil
}
func (s *stubTasks) Fail(context.Context, string, string, string, time.Time) error { return nil }
func (s *stubTasks) Cancel(context.Context, string, time.Time) error               { return nil }

type stubMetrics struct {
	mu      sync.Mutex
	latest  domain.QueueMetricsSample
	inserts []domain.QueueMetricsSample
}

func (s *stubMetrics) Insert(_ context.Context, sample domain.QueueMetricsSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts = append(s.inserts, sample)
	return nil
}

func (s *stubMetrics) LatestForQueue(context.Context, int64) (domain.QueueMetricsSample, error) {
	return s.latest, nil
}

type stubStatus struct {
	mu      sync.Mutex
	updates []domain.StatusHealthUpdate
}

func (s *stubStatus) Get(context.Context) (domain.SystemStatus, error) {
	return domain.SystemStatus{}, nil
}
func (s *stubStatus) Init(context.Context, string, string, time.Time) error { return nil }
func (s *stubStatus) UpdateHealth(_ context.Context, u domain.StatusHealthUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return nil
}
func (s *stubStatus) MarkShutdown(context.Context, string, time.Time) error { return nil }

type stubBroker struct {
	workers    []domain.WorkerInfo
	workersErr error
}

func (s *stubBroker) Submit(context.Context, domain.SubmitRequest) (string, error) {
	return "", nil
}
func (s *stubBroker) Status(context.Context, string) (domain.ExecutionStatus, error) {
	return domain.ExecutionStatus{}, nil
}
func (s *stubBroker) Revoke(context.Context, string, bool) error { return nil }
func (s *stubBroker) ActiveWorkers(context.Context) ([]domain.WorkerInfo, error) {
	return s.workers, s.workersErr
}

type alarmSpy struct {
	mu     sync.Mutex
	events []domain.AlarmEvent
}

func (a *alarmSpy) Raise(_ domain.Context, e domain.AlarmEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func newTestEvaluator(tasks *stubTasks, broker *stubBroker) (*Evaluator, *stubMetrics, *stubStatus) {
	queues := &stubQueues{queues: []domain.Queue{{ID: 1, Name: "default", IsActive: true}}}
	metrics := &stubMetrics{}
	status := &stubStatus{}
	e := NewEvaluator(queues, tasks, metrics, status, broker, Thresholds{
		Backup:            100,
		ErrorRate:         10,
		ProcessingTimeout: 30 * time.Minute,
		CPU:               80,
		Memory:            85,
		Disk:              90,
	})
	e.snapshot = func(context.Context) domain.HostSnapshot {
		return domain.HostSnapshot{CPUPercent: 10, MemoryPercent: 20, DiskPercent: 30, CPUCount: 4}
	}
	return e, metrics, status
}

func TestQueueHealthForHealthy(t *testing.T) {
	t.Parallel()
	recent := time.Now().UTC().Add(-time.Minute)
	tasks := &stubTasks{
		stats:         domain.QueueStats{Pending: 5, Completed: 95, Failed: 5},
		lastProcessed: &recent,
	}
	e, _, _ := newTestEvaluator(tasks, &stubBroker{})

	h, err := e.QueueHealthFor(context.Background(), "default")
	require.NoError(t, err)
	assert.True(t, h.IsHealthy)
	assert.Empty(t, h.Issues)
	assert.InDelta(t, 5.0, h.ErrorRate, 0.001)
}

func TestQueueHealthForBackup(t *testing.T) {
	t.Parallel()
	tasks := &stubTasks{stats: domain.QueueStats{Pending: 250}}
	e, _, _ := newTestEvaluator(tasks, &stubBroker{})

	h, err := e.QueueHealthFor(context.Background(), "default")
	require.NoError(t, err)
	assert.False(t, h.IsHealthy)
	assert.Contains(t, h.Issues, "task backup: 250 pending tasks")
}

func TestQueueHealthForErrorRate(t *testing.T) {
	t.Parallel()
	tasks := &stubTasks{stats: domain.QueueStats{Completed: 60, Failed: 40}}
	e, _, _ := newTestEvaluator(tasks, &stubBroker{})

	h, err := e.QueueHealthFor(context.Background(), "default")
	require.NoError(t, err)
	assert.False(t, h.IsHealthy)
	assert.Contains(t, h.Issues, "high error rate: 40.0%")
}

func TestQueueHealthForProcessingTimeout(t *testing.T) {
	t.Parallel()
	stale := time.Now().UTC().Add(-2 * time.Hour)
	tasks := &stubTasks{lastProcessed: &stale}
	e, _, _ := newTestEvaluator(tasks, &stubBroker{})

	h, err := e.QueueHealthFor(context.Background(), "default")
	require.NoError(t, err)
	assert.False(t, h.IsHealthy)
	require.Len(t, h.Issues, 1)
	assert.Contains(t, h.Issues[0], "processing timeout: nothing completed for")
}

func TestQueueHealthForOverdue(t *testing.T) {
	t.Parallel()
	tasks := &stubTasks{overdue: []domain.Task{{QueueID: 1}, {QueueID: 1}, {QueueID: 2}}}
	e, _, _ := newTestEvaluator(tasks, &stubBroker{})

	h, err := e.QueueHealthFor(context.Background(), "default")
	require.NoError(t, err)
	assert.Contains(t, h.Issues, "2 overdue processing tasks")
}

func TestQueueHealthForUnknownQueue(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEvaluator(&stubTasks{}, &stubBroker{})
	_, err := e.QueueHealthFor(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrQueueNotFound)
}

func TestCheckQueuesEmitsCallbackAndSample(t *testing.T) {
	t.Parallel()
	tasks := &stubTasks{stats: domain.QueueStats{Pending: 250, Processing: 3}}
	e, metrics, _ := newTestEvaluator(tasks, &stubBroker{})

	var got []domain.QueueHealth
	e.RegisterCallback(func(_ domain.Context, h domain.QueueHealth) {
		got = append(got, h)
	})

	require.NoError(t, e.CheckQueues(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, "default", got[0].QueueName)
	assert.False(t, got[0].IsHealthy)

	require.Len(t, metrics.inserts, 1)
	sample := metrics.inserts[0]
	assert.Equal(t, int64(250), sample.PendingTasks)
	assert.InDelta(t, 10.0, sample.CPUPercent, 0.001)
}

func TestComposeReportPrecedence(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()

	healthy := domain.ComponentHealth{Status: domain.HealthHealthy}
	degraded := domain.ComponentHealth{Status: domain.HealthDegraded}
	critical := domain.ComponentHealth{Status: domain.HealthCritical}
	unknown := domain.ComponentHealth{Status: domain.HealthUnknown}

	r := composeReport([]domain.ComponentHealth{healthy, degraded, critical}, domain.HostSnapshot{}, now, now)
	assert.Equal(t, domain.HealthCritical, r.Overall)
	assert.Equal(t, 1, r.CriticalCount)

	r = composeReport([]domain.ComponentHealth{healthy, degraded}, domain.HostSnapshot{}, now, now)
	assert.Equal(t, domain.HealthDegraded, r.Overall)

	r = composeReport([]domain.ComponentHealth{healthy, healthy}, domain.HostSnapshot{}, now, now)
	assert.Equal(t, domain.HealthHealthy, r.Overall)

	r = composeReport([]domain.ComponentHealth{healthy, unknown}, domain.HostSnapshot{}, now, now)
	assert.Equal(t, domain.HealthUnknown, r.Overall)
}

func TestProbeResourcesBounds(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEvaluator(&stubTasks{}, &stubBroker{})

	c := e.probeResources(domain.HostSnapshot{CPUPercent: 50, MemoryPercent: 50, DiskPercent: 50})
	assert.Equal(t, domain.HealthHealthy, c.Status)

	c = e.probeResources(domain.HostSnapshot{CPUPercent: 85})
	assert.Equal(t, domain.HealthDegraded, c.Status)
	assert.Contains(t, c.ErrorMessage, "cpu above threshold")

	c = e.probeResources(domain.HostSnapshot{CPUPercent: 96})
	assert.Equal(t, domain.HealthCritical, c.Status)

	c = e.probeResources(domain.HostSnapshot{DiskPercent: 98.5})
	assert.Equal(t, domain.HealthCritical, c.Status)

	// Disk sits between its threshold and its critical bound.
	c = e.probeResources(domain.HostSnapshot{DiskPercent: 95})
	assert.Equal(t, domain.HealthDegraded, c.Status)
}

func TestProbeBroker(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEvaluator(&stubTasks{}, &stubBroker{})
	c := e.probeBroker(context.Background())
	assert.Equal(t, domain.HealthCritical, c.Status)
	assert.Equal(t, "no active workers", c.ErrorMessage)

	e, _, _ = newTestEvaluator(&stubTasks{}, &stubBroker{workers: []domain.WorkerInfo{
		{ID: "w1", TaskTypes: []string{"noop", "health_check"}},
		{ID: "w2", TaskTypes: []string{"noop"}},
	}})
	c = e.probeBroker(context.Background())
	assert.Equal(t, domain.HealthHealthy, c.Status)
	assert.Equal(t, 2, c.Details["active_workers"])
	assert.Equal(t, 2, c.Details["registered_types"])

	e, _, _ = newTestEvaluator(&stubTasks{}, &stubBroker{workersErr: errors.New("dial refused")})
	c = e.probeBroker(context.Background())
	assert.Equal(t, domain.HealthCritical, c.Status)

	e, _, _ = newTestEvaluator(&stubTasks{}, &stubBroker{})
	e.BackendPing = func(context.Context) error { return errors.New("redis down") }
	c = e.probeBroker(context.Background())
	assert.Equal(t, domain.HealthCritical, c.Status)
	assert.Contains(t, c.ErrorMessage, "result backend unreachable")
}

func TestProbeDatabase(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEvaluator(&stubTasks{}, &stubBroker{})
	c := e.probeDatabase(context.Background())
	assert.Equal(t, domain.HealthUnknown, c.Status)

	e.DBProbe = func(context.Context) (map[string]any, error) {
		return map[string]any{"queues": int64(3)}, nil
	}
	c = e.probeDatabase(context.Background())
	assert.Equal(t, domain.HealthHealthy, c.Status)

	e.DBProbe = func(context.Context) (map[string]any, error) {
		return nil, errors.New("connection refused")
	}
	c = e.probeDatabase(context.Background())
	assert.Equal(t, domain.HealthCritical, c.Status)
	assert.Contains(t, c.ErrorMessage, "database probe failed")
}

func TestCheckComponentsPersistsStatus(t *testing.T) {
	t.Parallel()
	tasks := &stubTasks{counts: map[domain.TaskStatus]int64{
		domain.TaskPending:    7,
		domain.TaskProcessing: 2,
		domain.TaskFailed:     1,
	}}
	broker := &stubBroker{workers: []domain.WorkerInfo{{ID: "w1", TaskTypes: []string{"noop"}}}}
	e, _, status := newTestEvaluator(tasks, broker)
	e.DBProbe = func(context.Context) (map[string]any, error) { return nil, nil }

	report, err := e.CheckComponents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthHealthy, report.Overall)
	assert.Equal(t, 1, report.TotalChecks)

	require.Len(t, status.updates, 1)
	u := status.updates[0]
	assert.Equal(t, domain.HealthHealthy, u.Overall)
	assert.True(t, u.IsOperational)
	assert.Equal(t, int64(7), u.PendingTasks)
	assert.Equal(t, int64(1), u.ActiveQueues)
}

func TestCheckComponentsRaisesResourceAlarm(t *testing.T) {
	t.Parallel()
	broker := &stubBroker{workers: []domain.WorkerInfo{{ID: "w1"}}}
	e, _, status := newTestEvaluator(&stubTasks{}, broker)
	e.DBProbe = func(context.Context) (map[string]any, error) { return nil, nil }
	e.snapshot = func(context.Context) domain.HostSnapshot {
		return domain.HostSnapshot{CPUPercent: 99}
	}
	spy := &alarmSpy{}
	e.Alarms = spy

	report, err := e.CheckComponents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthCritical, report.Overall)

	require.Len(t, spy.events, 1)
	assert.Equal(t, domain.AlarmResourceExhaustion, spy.events[0].Type)
	assert.Equal(t, domain.SeverityCritical, spy.events[0].Severity)
	assert.Equal(t, "system_resources", spy.events[0].Component)

	require.Len(t, status.updates, 1)
	assert.False(t, status.updates[0].IsOperational)
}
