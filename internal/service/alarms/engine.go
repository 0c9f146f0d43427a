// Package alarms converts health findings into deduplicated, rate-limited,
// severity-escalated alarms, fans them out to notification channels, and
// gates the emergency shutdown path.
package alarms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/taskhub/internal/adapter/observability"
	"github.com/fairyhunter13/taskhub/internal/domain"
)

// dedupWindow is the lookback for absorbing a repeat event into an
// existing active alarm row.
const dedupWindow = 10 * time.Minute

// channelTimeout bounds each notification delivery.
const channelTimeout = 10 * time.Second

// ShutdownTrigger starts the emergency stop. The controller guards its own
// re-entry, so repeat calls within one incident are harmless.
type ShutdownTrigger interface {
	Trigger(ctx domain.Context, reason string)
}

// Config carries the engine's thresholds.
type Config struct {
	Cooldown                     time.Duration
	ConsecutiveFailuresThreshold int
	CriticalAlarmShutdown        bool
}

// Engine is the alarm engine. The cooldown and consecutive-failure tables
// are the only shared mutable non-store state in the process; both live
// under mu.
type Engine struct {
	Alarms   domain.AlarmRepository
	Audit    domain.AuditRepository
	Channels []domain.NotificationChannel
	Cfg      Config

	mu                  sync.Mutex
	lastAlarm           map[string]time.Time
	consecutiveFailures map[string]int
	shutdown            ShutdownTrigger

	now func() time.Time
}

// NewEngine constructs an Engine. The shutdown trigger is wired in later
// via SetShutdown because engine and controller reference each other.
func NewEngine(alarms domain.AlarmRepository, audit domain.AuditRepository, channels []domain.NotificationChannel, cfg Config) *Engine {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	if cfg.ConsecutiveFailuresThreshold <= 0 {
		cfg.ConsecutiveFailuresThreshold = 5
	}
	return &Engine{
		Alarms:              alarms,
		Audit:               audit,
		Channels:            channels,
		Cfg:                 cfg,
		lastAlarm:           make(map[string]time.Time),
		consecutiveFailures: make(map[string]int),
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// SetShutdown wires the shutdown controller in.
func (e *Engine) SetShutdown(s ShutdownTrigger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdown = s
}

// HandleQueueHealth is the callback registered with the health evaluator.
// A healthy observation resets the queue's consecutive-failure count; an
// unhealthy one increments it and synthesizes one event per issue.
func (e *Engine) HandleQueueHealth(ctx domain.Context, h domain.QueueHealth) {
	e.mu.Lock()
	if h.IsHealthy {
		delete(e.consecutiveFailures, h.QueueName)
		e.mu.Unlock()
		return
	}
	e.consecutiveFailures[h.QueueName]++
	failures := e.consecutiveFailures[h.QueueName]
	threshold := e.Cfg.ConsecutiveFailuresThreshold
	e.mu.Unlock()

	for _, issue := range h.Issues {
		alarmType, severity, ok := classifyIssue(issue)
		if !ok {
			slog.Debug("unclassified health issue dropped", slog.String("issue", issue))
			continue
		}
		event := domain.AlarmEvent{
			Type:      alarmType,
			Severity:  severity,
			Title:     fmt.Sprintf("Queue %s: %s", h.QueueName, issue),
			QueueName: h.QueueName,
			Description: fmt.Sprintf("queue %s unhealthy: %s (pending=%d error_rate=%.1f%%)",
				h.QueueName, issue, h.PendingTasks, h.ErrorRate),
			ContextData: map[string]any{
				"pending_tasks":    h.PendingTasks,
				"processing_tasks": h.ProcessingTasks,
				"error_rate":       h.ErrorRate,
			},
		}
		if failures >= threshold {
			event.Severity = domain.SeverityCritical
			event.Title = "CRITICAL: " + event.Title
			event.Description = fmt.Sprintf("%s; %d consecutive failing checks", event.Description, failures)
		}
		e.Raise(ctx, event)
	}
}

// classifyIssue maps a queue-health issue string onto an alarm type by
// substring. Unknown text is dropped.
func classifyIssue(issue string) (domain.AlarmType, domain.AlarmSeverity, bool) {
	switch {
	case strings.Contains(issue, "backup"):
		return domain.AlarmQueueBackup, domain.SeverityWarning, true
	case strings.Contains(issue, "error rate"):
		return domain.AlarmHighErrorRate, domain.SeverityError, true
	case strings.Contains(issue, "processing") && strings.Contains(issue, "timeout"):
		return domain.AlarmProcessingTimeout, domain.SeverityError, true
	case strings.Contains(issue, "overdue"):
		return domain.AlarmOverdueTasks, domain.SeverityWarning, true
	default:
		return "", "", false
	}
}

// Raise applies persistence dedup, cooldown-limited fan-out, and shutdown
// gating to one event, logging instead of returning errors. Background
// callers (worker wrapper, shutdown controller, health evaluator) use this
// form.
func (e *Engine) Raise(ctx domain.Context, event domain.AlarmEvent) {
	if _, err := e.Trigger(ctx, event); err != nil {
		slog.Error("alarm trigger failed",
			slog.String("type", string(event.Type)), slog.Any("error", err))
	}
}

// Trigger is Raise with the persisted alarm id surfaced; the API's test
// endpoint uses it. The cooldown limits notification fan-out only: a
// repeat event inside the cooldown still lands in the store (insert or
// dedup touch) and still reaches the shutdown gate.
func (e *Engine) Trigger(ctx domain.Context, event domain.AlarmEvent) (int64, error) {
	now := e.now()
	scope := event.Scope()

	id, err := e.persist(ctx, event, now)
	if err != nil {
		return 0, fmt.Errorf("op=alarms.Trigger: %w", err)
	}
	observability.AlarmsTriggeredTotal.WithLabelValues(string(event.Type), string(event.Severity)).Inc()

	e.mu.Lock()
	last, seen := e.lastAlarm[scope]
	notifiable := !seen || now.Sub(last) >= e.Cfg.Cooldown
	if notifiable {
		e.lastAlarm[scope] = now
	}
	e.mu.Unlock()

	if notifiable {
		e.notify(ctx, domain.Alarm{
			ID: id, Type: event.Type, Severity: event.Severity, Title: event.Title,
			Description: event.Description, QueueName: event.QueueName,
			Component: event.Component, TriggeredAt: now,
		})
	} else {
		observability.AlarmsSuppressedTotal.WithLabelValues(string(event.Type)).Inc()
		slog.Debug("notification suppressed by cooldown", slog.String("scope", scope))
	}

	if event.Severity == domain.SeverityCritical &&
		domain.ShutdownAlarmTypes[event.Type] &&
		e.Cfg.CriticalAlarmShutdown {
		e.mu.Lock()
		shutdown := e.shutdown
		e.mu.Unlock()
		if shutdown != nil {
			shutdown.Trigger(ctx, fmt.Sprintf("Critical alarm triggered: %s", event.Title))
		}
	}
	return id, nil
}

// persist either absorbs the event into the most recent active alarm of
// the same type within the dedup window, or inserts a new row.
func (e *Engine) persist(ctx domain.Context, event domain.AlarmEvent, now time.Time) (int64, error) {
	recent, err := e.Alarms.MostRecent(ctx, event.Type, now.Add(-dedupWindow))
	switch {
	case err == nil && recent.IsActive:
		if err := e.Alarms.Touch(ctx, recent.ID, event.Description, event.ContextData, now); err != nil {
			return 0, err
		}
		return recent.ID, nil
	case err == nil || errors.Is(err, domain.ErrNotFound):
		return e.Alarms.Insert(ctx, domain.Alarm{
			Type:        event.Type,
			Severity:    event.Severity,
			Title:       event.Title,
			Description: event.Description,
			QueueName:   event.QueueName,
			TaskID:      event.TaskID,
			Component:   event.Component,
			TriggeredAt: now,
			ContextData: event.ContextData,
			Tags:        event.Tags,
		})
	default:
		return 0, err
	}
}

// notify fans out to every channel concurrently. One channel failing or
// timing out never blocks the others and never fails the trigger.
func (e *Engine) notify(ctx domain.Context, a domain.Alarm) {
	var wg sync.WaitGroup
	for _, ch := range e.Channels {
		wg.Add(1)
		go func(ch domain.NotificationChannel) {
			defer wg.Done()
			nctx, cancel := context.WithTimeout(ctx, channelTimeout)
			defer cancel()
			if err := ch.Notify(nctx, a); err != nil {
				observability.NotificationFailuresTotal.WithLabelValues(ch.Name()).Inc()
				slog.Warn("notification channel failed",
					slog.String("channel", ch.Name()), slog.Any("error", err))
			}
		}(ch)
	}
	wg.Wait()
}

// Acknowledge marks an alarm acknowledged and audit-logs the action.
func (e *Engine) Acknowledge(ctx domain.Context, id int64, by string) error {
	now := e.now()
	if err := e.Alarms.Acknowledge(ctx, id, by, now); err != nil {
		return err
	}
	e.audit(ctx, "alarm_acknowledged", id, by, now)
	return nil
}

// Resolve deactivates an alarm and audit-logs the action.
func (e *Engine) Resolve(ctx domain.Context, id int64) error {
	now := e.now()
	if err := e.Alarms.Resolve(ctx, id, now); err != nil {
		return err
	}
	e.audit(ctx, "alarm_resolved", id, "", now)
	return nil
}

// Active lists the currently active alarms.
func (e *Engine) Active(ctx domain.Context) ([]domain.Alarm, error) {
	return e.Alarms.ActiveAll(ctx)
}

// ConsecutiveFailures reports the running failure count for a queue.
func (e *Engine) ConsecutiveFailures(queue string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutiveFailures[queue]
}

func (e *Engine) audit(ctx domain.Context, eventType string, id int64, by string, at time.Time) {
	if e.Audit == nil {
		return
	}
	err := e.Audit.Insert(ctx, domain.AuditEntry{
		EventType:  eventType,
		EntityType: "alarm",
		EntityID:   fmt.Sprintf("%d", id),
		Action:     eventType,
		UserID:     by,
		CreatedAt:  at,
	})
	if err != nil {
		slog.Warn("audit write failed", slog.String("event", eventType), slog.Any("error", err))
	}
}
