package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/taskhub/internal/adapter/observability"
)

// LoopRunner drives one background iteration function on a fixed cadence.
// Iterations never overlap: the next sleep starts after the previous
// iteration returns. A panicking or failing iteration is logged and the
// loop continues; only context cancellation stops it.
type LoopRunner struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context) error

	tracer trace.Tracer
}

// NewLoopRunner constructs a runner for one named loop.
func NewLoopRunner(name string, interval time.Duration, fn func(ctx context.Context) error) *LoopRunner {
	return &LoopRunner{
		Name:     name,
		Interval: interval,
		Fn:       fn,
		tracer:   otel.Tracer("app.loop"),
	}
}

// Run blocks until ctx is cancelled.
func (l *LoopRunner) Run(ctx context.Context) {
	slog.Info("loop started",
		slog.String("loop", l.Name),
		slog.Duration("interval", l.Interval))
	for {
		started := time.Now()
		l.tick(ctx)
		elapsed := time.Since(started)

		sleep := l.Interval - elapsed
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			slog.Info("loop stopped", slog.String("loop", l.Name))
			return
		case <-time.After(sleep):
		}
	}
}

// tick runs one iteration under a span with panic containment.
func (l *LoopRunner) tick(ctx context.Context) {
	tickCtx, span := l.tracer.Start(ctx, l.Name,
		trace.WithAttributes(attribute.String("loop.name", l.Name)))
	defer span.End()

	started := time.Now()
	err := l.safeRun(tickCtx)
	elapsed := time.Since(started)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		slog.Error("loop iteration failed",
			slog.String("loop", l.Name),
			slog.Any("error", err))
	}
	observability.HealthTicksTotal.WithLabelValues(l.Name, outcome).Inc()
	observability.HealthTickDuration.WithLabelValues(l.Name).Observe(elapsed.Seconds())
}

func (l *LoopRunner) safeRun(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("loop panic: %v", rec)
		}
	}()
	return l.Fn(ctx)
}
