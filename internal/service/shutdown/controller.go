// Package shutdown coordinates the ordered emergency stop of the engine.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

// AlarmSink receives the final informational alarm once the sequence ran.
type AlarmSink interface {
	Raise(ctx domain.Context, e domain.AlarmEvent)
}

// Callback is one registered stop step. Callbacks run in registration
// order, each under its own deadline; a failing callback never aborts the
// sequence.
type Callback struct {
	Name string
	Fn   func(ctx domain.Context) error
}

// Controller drives the coordinated shutdown. Trigger is re-entrant safe:
// only the first call runs the sequence.
type Controller struct {
	Status  domain.StatusRepository
	Timeout time.Duration

	mu         sync.Mutex
	inProgress bool
	callbacks  []Callback
	alarms     AlarmSink

	now func() time.Time
}

// NewController constructs a Controller writing into the given status
// repository. callbackTimeout bounds each registered callback.
func NewController(status domain.StatusRepository, callbackTimeout time.Duration) *Controller {
	if callbackTimeout <= 0 {
		callbackTimeout = 30 * time.Second
	}
	return &Controller{
		Status:  status,
		Timeout: callbackTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetAlarmSink wires the alarm engine in after construction; the engine
// and the controller reference each other.
func (c *Controller) SetAlarmSink(a AlarmSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alarms = a
}

// Register appends a stop step. Registration order is execution order.
func (c *Controller) Register(name string, fn func(ctx domain.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, Callback{Name: name, Fn: fn})
}

// InProgress reports whether a shutdown sequence has started.
func (c *Controller) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress
}

// Trigger runs the shutdown sequence once. Repeat calls log and return.
func (c *Controller) Trigger(ctx domain.Context, reason string) {
	c.mu.Lock()
	if c.inProgress {
		c.mu.Unlock()
		slog.Info("shutdown already in progress, ignoring trigger", slog.String("reason", reason))
		return
	}
	c.inProgress = true
	callbacks := make([]Callback, len(c.callbacks))
	copy(callbacks, c.callbacks)
	alarms := c.alarms
	c.mu.Unlock()

	slog.Error("emergency shutdown triggered", slog.String("reason", reason))

	if err := c.Status.MarkShutdown(ctx, reason, c.now()); err != nil {
		slog.Error("failed to persist shutdown state", slog.Any("error", err))
	}

	for _, cb := range callbacks {
		c.runCallback(ctx, cb)
	}

	if alarms != nil {
		alarms.Raise(ctx, domain.AlarmEvent{
			Type:        domain.AlarmSystemShutdown,
			Severity:    domain.SeverityInfo,
			Title:       "System shutdown completed",
			Description: fmt.Sprintf("shutdown sequence finished, reason: %s", reason),
			ContextData: map[string]any{"reason": reason, "callbacks": len(callbacks)},
		})
	}
	slog.Info("shutdown sequence finished", slog.Int("callbacks", len(callbacks)))
}

func (c *Controller) runCallback(ctx domain.Context, cb Callback) {
	cbCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("shutdown callback panicked",
				slog.String("callback", cb.Name), slog.Any("recover", rec))
		}
	}()
	if err := cb.Fn(cbCtx); err != nil {
		slog.Error("shutdown callback failed",
			slog.String("callback", cb.Name), slog.Any("error", err))
		return
	}
	slog.Info("shutdown callback completed", slog.String("callback", cb.Name))
}
