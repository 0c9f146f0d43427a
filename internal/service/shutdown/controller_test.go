package shutdown

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

type memStatus struct {
	mu       sync.Mutex
	reasons  []string
	markErr  error
	markedAt time.Time
}

func (m *memStatus) Get(context.Context) (domain.SystemStatus, error) {
	return domain.SystemStatus{}, nil
}

func (m *memStatus) Init(context.Context, string, string, time.Time) error { return nil }

func (m *memStatus) UpdateHealth(context.Context, domain.StatusHealthUpdate) error { return nil }

func (m *memStatus) MarkShutdown(_ context.Context, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.reasons = append(m.reasons, reason)
	m.markedAt = at
	return nil
}

type sinkSpy struct {
	mu     sync.Mutex
	events []domain.AlarmEvent
}

func (s *sinkSpy) Raise(_ domain.Context, e domain.AlarmEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func TestTriggerRunsCallbacksInOrder(t *testing.T) {
	t.Parallel()
	status := &memStatus{}
	c := NewController(status, time.Second)

	var order []string
	for _, name := range []string{"stop_loops", "http_server", "release_process"} {
		name := name
		c.Register(name, func(domain.Context) error {
			order = append(order, name)
			return nil
		})
	}

	c.Trigger(context.Background(), "operator request")

	assert.Equal(t, []string{"stop_loops", "http_server", "release_process"}, order)
	require.Len(t, status.reasons, 1)
	assert.Equal(t, "operator request", status.reasons[0])
	assert.True(t, c.InProgress())
}

func TestTriggerReentryGuard(t *testing.T) {
	t.Parallel()
	status := &memStatus{}
	c := NewController(status, time.Second)

	runs := 0
	c.Register("counter", func(domain.Context) error {
		runs++
		return nil
	})

	c.Trigger(context.Background(), "first")
	c.Trigger(context.Background(), "second")

	assert.Equal(t, 1, runs)
	assert.Len(t, status.reasons, 1)
}

func TestTriggerSurvivesFailingAndPanickingCallbacks(t *testing.T) {
	t.Parallel()
	c := NewController(&memStatus{}, time.Second)

	var order []string
	c.Register("fails", func(domain.Context) error {
		order = append(order, "fails")
		return errors.New("listener already closed")
	})
	c.Register("panics", func(domain.Context) error {
		order = append(order, "panics")
		panic("nil deref")
	})
	c.Register("last", func(domain.Context) error {
		order = append(order, "last")
		return nil
	})

	c.Trigger(context.Background(), "crash test")
	assert.Equal(t, []string{"fails", "panics", "last"}, order)
}

func TestTriggerRaisesFinalAlarm(t *testing.T) {
	t.Parallel()
	c := NewController(&memStatus{}, time.Second)
	sink := &sinkSpy{}
	c.SetAlarmSink(sink)
	c.Register("noop", func(domain.Context) error { return nil })

	c.Trigger(context.Background(), "maintenance window")

	require.Len(t, sink.events, 1)
	e := sink.events[0]
	assert.Equal(t, domain.AlarmSystemShutdown, e.Type)
	assert.Equal(t, domain.SeverityInfo, e.Severity)
	assert.Contains(t, e.Description, "maintenance window")
	assert.Equal(t, 1, e.ContextData["callbacks"])
}

func TestTriggerContinuesWhenStatusWriteFails(t *testing.T) {
	t.Parallel()
	status := &memStatus{markErr: errors.New("connection refused")}
	c := NewController(status, time.Second)

	ran := false
	c.Register("noop", func(domain.Context) error {
		ran = true
		return nil
	})

	c.Trigger(context.Background(), "db already gone")
	assert.True(t, ran)
	assert.True(t, c.InProgress())
}

func TestCallbackTimeoutBoundsEachStep(t *testing.T) {
	t.Parallel()
	c := NewController(&memStatus{}, 20*time.Millisecond)

	var sawDeadline bool
	c.Register("slow", func(ctx domain.Context) error {
		select {
		case <-ctx.Done():
			sawDeadline = true
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	start := time.Now()
	c.Trigger(context.Background(), "slow step")
	assert.True(t, sawDeadline)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
