package alarms

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

type memAlarmRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Alarm
}

func newMemAlarmRepo() *memAlarmRepo {
	return &memAlarmRepo{rows: make(map[int64]*domain.Alarm)}
}

func (r *memAlarmRepo) Insert(_ context.Context, a domain.Alarm) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	a.ID = r.nextID
	a.IsActive = true
	a.OccurrenceCount = 1
	a.LastOccurrence = a.TriggeredAt
	r.rows[a.ID] = &a
	return a.ID, nil
}

func (r *memAlarmRepo) MostRecent(_ context.Context, t domain.AlarmType, since time.Time) (domain.Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.Alarm
	for _, a := range r.rows {
		if a.Type != t || a.TriggeredAt.Before(since) {
			continue
		}
		if best == nil || a.TriggeredAt.After(best.TriggeredAt) {
			best = a
		}
	}
	if best == nil {
		return domain.Alarm{}, domain.ErrNotFound
	}
	return *best, nil
}

func (r *memAlarmRepo) Touch(_ context.Context, id int64, description string, contextData map[string]any, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.OccurrenceCount++
	a.LastOccurrence = at
	a.Description = description
	a.ContextData = contextData
	return nil
}

func (r *memAlarmRepo) ActiveAll(context.Context) ([]domain.Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Alarm
	for _, a := range r.rows {
		if a.IsActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memAlarmRepo) Get(_ context.Context, id int64) (domain.Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return domain.Alarm{}, domain.ErrNotFound
	}
	return *a, nil
}

func (r *memAlarmRepo) Acknowledge(_ context.Context, id int64, by string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Acknowledged = true
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &at
	return nil
}

func (r *memAlarmRepo) Resolve(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.IsActive = false
	a.ResolvedAt = &at
	return nil
}

func (r *memAlarmRepo) get(id int64) domain.Alarm {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rows[id]
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAudit) Insert(_ context.Context, e domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

type recordingChannel struct {
	mu     sync.Mutex
	name   string
	seen   []domain.Alarm
	failed bool
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Notify(_ context.Context, a domain.Alarm) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return errors.New("delivery refused")
	}
	c.seen = append(c.seen, a)
	return nil
}

type fakeShutdown struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeShutdown) Trigger(_ domain.Context, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEngine(cfg Config, channels ...domain.NotificationChannel) (*Engine, *memAlarmRepo, *memAudit, *clock) {
	repo := newMemAlarmRepo()
	audit := &memAudit{}
	e := NewEngine(repo, audit, channels, cfg)
	clk := &clock{t: time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)}
	e.now = clk.now
	return e, repo, audit, clk
}

func TestTriggerInsertsAndNotifies(t *testing.T) {
	t.Parallel()
	ch := &recordingChannel{name: "chat"}
	e, repo, _, _ := newTestEngine(Config{Cooldown: time.Minute}, ch)

	id, err := e.Trigger(context.Background(), domain.AlarmEvent{
		Type:     domain.AlarmSystemError,
		Severity: domain.SeverityError,
		Title:    "Something broke",
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	row := repo.get(id)
	assert.True(t, row.IsActive)
	assert.Equal(t, 1, row.OccurrenceCount)

	require.Len(t, ch.seen, 1)
	assert.Equal(t, "Something broke", ch.seen[0].Title)
}

func TestTriggerCooldownSuppressesNotificationsOnly(t *testing.T) {
	t.Parallel()
	ch := &recordingChannel{name: "chat"}
	e, repo, _, clk := newTestEngine(Config{Cooldown: 5 * time.Minute}, ch)

	event := domain.AlarmEvent{
		Type: domain.AlarmQueueBackup, Severity: domain.SeverityWarning,
		Title: "Queue backup", QueueName: "emails",
	}
	first, err := e.Trigger(context.Background(), event)
	require.NoError(t, err)
	require.NotZero(t, first)

	// Inside the cooldown the repeat still reaches the store as a dedup
	// touch; only the channel delivery is held back.
	clk.advance(time.Minute)
	second, err := e.Trigger(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, repo.rows, 1)
	assert.Equal(t, 2, repo.get(first).OccurrenceCount)
	assert.Len(t, ch.seen, 1)

	clk.advance(5 * time.Minute)
	third, err := e.Trigger(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, first, third)
	assert.Len(t, ch.seen, 2)
}

func TestTriggerDedupAbsorbsRepeat(t *testing.T) {
	t.Parallel()
	e, repo, _, clk := newTestEngine(Config{Cooldown: time.Minute})

	event := domain.AlarmEvent{
		Type: domain.AlarmQueueBackup, Severity: domain.SeverityWarning,
		Title: "Queue backup", QueueName: "emails",
	}
	first, err := e.Trigger(context.Background(), event)
	require.NoError(t, err)

	// Past the cooldown but inside the dedup window: same row, occurrence
	// count bumped instead of a second insert.
	clk.advance(2 * time.Minute)
	second, err := e.Trigger(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, repo.get(first).OccurrenceCount)
	assert.Len(t, repo.rows, 1)
}

func TestTriggerNewRowAfterDedupWindow(t *testing.T) {
	t.Parallel()
	e, repo, _, clk := newTestEngine(Config{Cooldown: time.Minute})

	event := domain.AlarmEvent{Type: domain.AlarmSystemError, Severity: domain.SeverityError, Title: "boom"}
	first, err := e.Trigger(context.Background(), event)
	require.NoError(t, err)

	clk.advance(dedupWindow + time.Minute)
	second, err := e.Trigger(context.Background(), event)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Len(t, repo.rows, 2)
}

func TestTriggerChannelFailureDoesNotFail(t *testing.T) {
	t.Parallel()
	bad := &recordingChannel{name: "email", failed: true}
	good := &recordingChannel{name: "chat"}
	e, _, _, _ := newTestEngine(Config{Cooldown: time.Minute}, bad, good)

	id, err := e.Trigger(context.Background(), domain.AlarmEvent{
		Type: domain.AlarmDatabaseError, Severity: domain.SeverityError, Title: "db down",
	})
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.Len(t, good.seen, 1)
}

func TestTriggerCriticalAlarmShutdown(t *testing.T) {
	t.Parallel()
	e, _, _, _ := newTestEngine(Config{Cooldown: time.Minute, CriticalAlarmShutdown: true})
	sd := &fakeShutdown{}
	e.SetShutdown(sd)

	_, err := e.Trigger(context.Background(), domain.AlarmEvent{
		Type: domain.AlarmHighErrorRate, Severity: domain.SeverityCritical, Title: "error rate through the roof",
	})
	require.NoError(t, err)
	require.Len(t, sd.reasons, 1)
	assert.Contains(t, sd.reasons[0], "Critical alarm triggered")
}

func TestTriggerShutdownGatedOffByDefault(t *testing.T) {
	t.Parallel()
	e, _, _, _ := newTestEngine(Config{Cooldown: time.Minute})
	sd := &fakeShutdown{}
	e.SetShutdown(sd)

	_, err := e.Trigger(context.Background(), domain.AlarmEvent{
		Type: domain.AlarmHighErrorRate, Severity: domain.SeverityCritical, Title: "error rate through the roof",
	})
	require.NoError(t, err)
	assert.Empty(t, sd.reasons)
}

func TestTriggerShutdownIgnoresNonGatedType(t *testing.T) {
	t.Parallel()
	e, _, _, _ := newTestEngine(Config{Cooldown: time.Minute, CriticalAlarmShutdown: true})
	sd := &fakeShutdown{}
	e.SetShutdown(sd)

	_, err := e.Trigger(context.Background(), domain.AlarmEvent{
		Type: domain.AlarmQueueBackup, Severity: domain.SeverityCritical, Title: "huge backlog",
	})
	require.NoError(t, err)
	assert.Empty(t, sd.reasons)
}

func TestHandleQueueHealthEscalation(t *testing.T) {
	t.Parallel()
	ch := &recordingChannel{name: "chat"}
	e, repo, _, clk := newTestEngine(Config{
		Cooldown:                     time.Second,
		ConsecutiveFailuresThreshold: 3,
	}, ch)

	unhealthy := domain.QueueHealth{
		QueueName:    "emails",
		IsHealthy:    false,
		Issues:       []string{"task backup: 1200 pending tasks"},
		PendingTasks: 1200,
	}
	for i := 0; i < 3; i++ {
		e.HandleQueueHealth(context.Background(), unhealthy)
		clk.advance(2 * time.Second)
	}
	assert.Equal(t, 3, e.ConsecutiveFailures("emails"))

	// The third failing check crosses the threshold and escalates the event
	// that goes out; the deduped row keeps absorbing occurrences.
	require.Len(t, ch.seen, 3)
	last := ch.seen[2]
	assert.Equal(t, domain.SeverityCritical, last.Severity)
	assert.Contains(t, last.Title, "CRITICAL: ")
	assert.Equal(t, 3, repo.get(1).OccurrenceCount)
	assert.Contains(t, repo.get(1).Description, "3 consecutive failing checks")
}

func TestHandleQueueHealthDedupAndShutdownInsideCooldown(t *testing.T) {
	t.Parallel()
	ch := &recordingChannel{name: "chat"}
	e, repo, _, clk := newTestEngine(Config{
		Cooldown:                     5 * time.Minute,
		ConsecutiveFailuresThreshold: 3,
		CriticalAlarmShutdown:        true,
	}, ch)
	sd := &fakeShutdown{}
	e.SetShutdown(sd)

	unhealthy := domain.QueueHealth{
		QueueName: "emails",
		IsHealthy: false,
		Issues:    []string{"high error rate: 50.0%"},
		ErrorRate: 50,
	}
	for i := 0; i < 3; i++ {
		e.HandleQueueHealth(context.Background(), unhealthy)
		clk.advance(30 * time.Second)
	}

	// Three failing checks 30s apart all land inside one cooldown window:
	// one row absorbing every occurrence, one channel delivery, and the
	// escalated third check still reaches the shutdown gate.
	assert.Len(t, repo.rows, 1)
	assert.Equal(t, 3, repo.get(1).OccurrenceCount)
	assert.Len(t, ch.seen, 1)
	require.Len(t, sd.reasons, 1)
	assert.Contains(t, sd.reasons[0], "Critical alarm triggered")
}

func TestHandleQueueHealthHealthyResets(t *testing.T) {
	t.Parallel()
	e, _, _, _ := newTestEngine(Config{Cooldown: time.Minute})

	e.HandleQueueHealth(context.Background(), domain.QueueHealth{
		QueueName: "emails",
		Issues:    []string{"task backup: 900 pending tasks"},
	})
	require.Equal(t, 1, e.ConsecutiveFailures("emails"))

	e.HandleQueueHealth(context.Background(), domain.QueueHealth{QueueName: "emails", IsHealthy: true})
	assert.Zero(t, e.ConsecutiveFailures("emails"))
}

func TestClassifyIssue(t *testing.T) {
	t.Parallel()
	cases := []struct {
		issue    string
		wantType domain.AlarmType
		wantSev  domain.AlarmSeverity
		ok       bool
	}{
		{"task backup: 1000 pending tasks", domain.AlarmQueueBackup, domain.SeverityWarning, true},
		{"high error rate: 42.0%", domain.AlarmHighErrorRate, domain.SeverityError, true},
		{"processing timeout: nothing completed for 30m0s", domain.AlarmProcessingTimeout, domain.SeverityError, true},
		{"3 overdue processing tasks", domain.AlarmOverdueTasks, domain.SeverityWarning, true},
		{"something else entirely", "", "", false},
	}
	for _, tc := range cases {
		gotType, gotSev, ok := classifyIssue(tc.issue)
		assert.Equal(t, tc.ok, ok, tc.issue)
		assert.Equal(t, tc.wantType, gotType, tc.issue)
		assert.Equal(t, tc.wantSev, gotSev, tc.issue)
	}
}

func TestAcknowledgeAndResolveAudit(t *testing.T) {
	t.Parallel()
	e, repo, audit, _ := newTestEngine(Config{Cooldown: time.Minute})
	id, err := e.Trigger(context.Background(), domain.AlarmEvent{
		Type: domain.AlarmSystemError, Severity: domain.SeverityError, Title: "boom",
	})
	require.NoError(t, err)

	require.NoError(t, e.Acknowledge(context.Background(), id, "ops"))
	row := repo.get(id)
	assert.True(t, row.Acknowledged)
	assert.Equal(t, "ops", row.AcknowledgedBy)

	require.NoError(t, e.Resolve(context.Background(), id))
	row = repo.get(id)
	assert.False(t, row.IsActive)
	assert.NotNil(t, row.ResolvedAt)

	require.Len(t, audit.entries, 2)
	assert.Equal(t, "alarm_acknowledged", audit.entries[0].EventType)
	assert.Equal(t, "alarm_resolved", audit.entries[1].EventType)
}
