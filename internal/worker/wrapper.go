package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/taskhub/internal/adapter/observability"
	"github.com/fairyhunter13/taskhub/internal/domain"
	"github.com/fairyhunter13/taskhub/pkg/jsonx"
)

// ErrPermanent marks a handler error as non-retryable. Handlers wrap with
// MarkPermanent; everything else is treated as transient.
var ErrPermanent = errors.New("permanent handler failure")

// MarkPermanent wraps err so the wrapper fails the task without retrying.
func MarkPermanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Execution is the decoded broker record handed to the wrapper.
type Execution struct {
	ExecutionID    string
	TaskID         string
	TaskType       string
	TaskName       string
	Payload        map[string]any
	QueueName      string
	MaxRetries     int
	Attempt        int
	TimeoutSeconds int
	CorrelationID  string
}

// ResultWriter records the broker-visible outcome of an execution.
type ResultWriter interface {
	WriteResult(ctx domain.Context, executionID string, st domain.ExecutionStatus) error
}

// Requeuer re-produces an execution for a later attempt.
type Requeuer interface {
	Requeue(ctx domain.Context, ex Execution, eta time.Time) error
}

// AlarmSink receives alarms the wrapper raises when persistence keeps
// failing.
type AlarmSink interface {
	Raise(ctx domain.Context, e domain.AlarmEvent)
}

// Wrapper executes one broker record: it drives the task lifecycle state
// machine around a handler invocation and awaits persistence before the
// record is acknowledged.
type Wrapper struct {
	Tasks    domain.TaskRepository
	Registry *Registry
	Results  ResultWriter
	Requeue  Requeuer
	Alarms   AlarmSink

	// RetryBase seeds the exponential redelivery delay.
	RetryBase time.Duration
	// TaskTimeLimit bounds a handler run when the task carries no timeout.
	TaskTimeLimit time.Duration
	// StoreTimeout bounds each lifecycle write, retries included.
	StoreTimeout time.Duration

	now func() time.Time
}

// NewWrapper constructs a Wrapper with its collaborators.
func NewWrapper(tasks domain.TaskRepository, reg *Registry, results ResultWriter, requeue Requeuer, alarms AlarmSink, retryBase, taskTimeLimit time.Duration) *Wrapper {
	return &Wrapper{
		Tasks:         tasks,
		Registry:      reg,
		Results:       results,
		Requeue:       requeue,
		Alarms:        alarms,
		RetryBase:     retryBase,
		TaskTimeLimit: taskTimeLimit,
		StoreTimeout:  30 * time.Second,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs one record end to end. The returned error tells the broker
// consumer whether the record may be redelivered by the transport itself;
// handler failures are absorbed into the task lifecycle and return nil.
func (w *Wrapper) Execute(ctx domain.Context, ex Execution) error {
	log := slog.With(
		slog.String("execution_id", ex.ExecutionID),
		slog.String("task_type", ex.TaskType),
		slog.String("queue", ex.QueueName),
	)

	// Reconciliation: locate the task row by the broker execution id. A
	// missing row means broker submission outran persistence; the handler
	// still runs but only the result backend is written.
	tracked := true
	task, err := w.Tasks.ByWorkerID(ctx, ex.ExecutionID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		tracked = false
		log.Warn("no task row for execution, running untracked")
	case err != nil:
		return w.persistenceFailed(ctx, ex, fmt.Errorf("op=wrapper.lookup: %w", err))
	case task.Status.Terminal():
		// Cancelled or already finished while queued; drop without running.
		log.Info("task already terminal, dropping record", slog.String("status", string(task.Status)))
		return nil
	}

	start := w.now()
	if tracked {
		if err := w.transition(ctx, func(c domain.Context) error {
			_, err := w.Tasks.MarkProcessing(c, ex.ExecutionID, start)
			return err
		}); err != nil {
			return w.persistenceFailed(ctx, ex, err)
		}
	}
	observability.StartProcessingTask(ex.QueueName, ex.TaskType)

	outcome := w.run(ctx, ex)

	switch outcome.Kind {
	case KindOk:
		return w.complete(ctx, ex, tracked, outcome.Value, start, log)
	case KindTransient:
		return w.retryOrFail(ctx, ex, tracked, task, outcome.Err, start, log)
	default:
		return w.fail(ctx, ex, tracked, outcome.Err, start, log)
	}
}

// run invokes the handler under the task's time limit and classifies the
// result into an explicit variant.
func (w *Wrapper) run(ctx domain.Context, ex Execution) Outcome {
	h, ok := w.Registry.Get(ex.TaskType)
	if !ok {
		return Permanent(fmt.Errorf("no handler registered for task type %q", ex.TaskType))
	}

	limit := w.TaskTimeLimit
	if ex.TimeoutSeconds > 0 {
		limit = time.Duration(ex.TimeoutSeconds) * time.Second
	}
	runCtx := ctx
	if limit > 0 {
		var cancel func()
		runCtx, cancel = withTimeout(ctx, limit)
		defer cancel()
	}

	value, err := safeInvoke(runCtx, h, ex.Payload)
	if err == nil {
		return Ok(value)
	}
	if errors.Is(err, ErrPermanent) {
		return Permanent(err)
	}
	return Transient(err)
}

func (w *Wrapper) complete(ctx domain.Context, ex Execution, tracked bool, value any, start time.Time, log *slog.Logger) error {
	result := jsonx.WrapResult(value)
	done := w.now()
	if tracked {
		if err := w.transition(ctx, func(c domain.Context) error {
			return w.Tasks.Complete(c, ex.ExecutionID, result, done)
		}); err != nil {
			return w.persistenceFailed(ctx, ex, err)
		}
	}
	w.writeBackend(ctx, ex.ExecutionID, domain.ExecutionStatus{
		State: "SUCCESS", Result: result, Successful: true,
	})
	observability.CompleteTask(ex.QueueName, ex.TaskType, done.Sub(start))
	log.Info("task completed", slog.Duration("duration", done.Sub(start)))
	return nil
}

func (w *Wrapper) retryOrFail(ctx domain.Context, ex Execution, tracked bool, task domain.Task, cause error, start time.Time, log *slog.Logger) error {
	maxRetries := ex.MaxRetries
	attempt := ex.Attempt
	if tracked {
		maxRetries = task.MaxRetries
		attempt = task.RetryCount
	}
	if attempt >= maxRetries {
		return w.fail(ctx, ex, tracked, cause, start, log)
	}

	errMsg := cause.Error()
	traceback := fmt.Sprintf("%+v", cause)
	now := w.now()
	newCount := attempt + 1
	if tracked {
		if err := w.transition(ctx, func(c domain.Context) error {
			n, err := w.Tasks.MarkRetrying(c, ex.ExecutionID, errMsg, traceback, now)
			if err == nil {
				newCount = n
			}
			return err
		}); err != nil {
			return w.persistenceFailed(ctx, ex, err)
		}
	}

	delay := RetryDelay(w.RetryBase, newCount-1)
	next := ex
	next.Attempt = newCount
	if err := w.Requeue.Requeue(ctx, next, now.Add(delay)); err != nil {
		// The record is still marked retrying in the store; surface the
		// error so the transport can redeliver.
		return fmt.Errorf("op=wrapper.requeue: %w", err)
	}
	w.writeBackend(ctx, ex.ExecutionID, domain.ExecutionStatus{
		State: "RETRY", Traceback: traceback,
	})
	observability.RetryTask(ex.QueueName, ex.TaskType)
	log.Warn("task retrying",
		slog.Int("retry_count", newCount),
		slog.Int("max_retries", maxRetries),
		slog.Duration("delay", delay),
		slog.String("error", errMsg))
	return nil
}

func (w *Wrapper) fail(ctx domain.Context, ex Execution, tracked bool, cause error, start time.Time, log *slog.Logger) error {
	errMsg := cause.Error()
	traceback := fmt.Sprintf("%+v", cause)
	done := w.now()
	if tracked {
		if err := w.transition(ctx, func(c domain.Context) error {
			return w.Tasks.Fail(c, ex.ExecutionID, errMsg, traceback, done)
		}); err != nil {
			return w.persistenceFailed(ctx, ex, err)
		}
	}
	w.writeBackend(ctx, ex.ExecutionID, domain.ExecutionStatus{
		State: "FAILURE", Traceback: traceback, Failed: true,
	})
	observability.FailTask(ex.QueueName, ex.TaskType, done.Sub(start))
	log.Error("task failed", slog.String("error", errMsg))
	return nil
}

// transition runs one lifecycle write with bounded retries and an explicit
// deadline. The record is only acknowledged after this returns.
func (w *Wrapper) transition(ctx domain.Context, fn func(domain.Context) error) error {
	opCtx, cancel := withTimeout(ctx, w.StoreTimeout)
	defer cancel()
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), opCtx)
	return backoff.Retry(func() error { return fn(opCtx) }, bo)
}

// persistenceFailed reports a transition that kept failing: the error goes
// back to the broker path (which may redeliver) and a SYSTEM_ERROR alarm
// carries the broker id.
func (w *Wrapper) persistenceFailed(ctx domain.Context, ex Execution, err error) error {
	slog.Error("lifecycle persistence failed",
		slog.String("execution_id", ex.ExecutionID),
		slog.Any("error", err))
	if w.Alarms != nil {
		w.Alarms.Raise(ctx, domain.AlarmEvent{
			Type:        domain.AlarmSystemError,
			Severity:    domain.SeverityError,
			Title:       "Task state persistence failed",
			Description: err.Error(),
			QueueName:   ex.QueueName,
			TaskID:      ex.TaskID,
			ContextData: map[string]any{"broker_task_id": ex.ExecutionID},
		})
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreTransactional, err)
}

func (w *Wrapper) writeBackend(ctx domain.Context, executionID string, st domain.ExecutionStatus) {
	if w.Results == nil {
		return
	}
	if err := w.Results.WriteResult(ctx, executionID, st); err != nil {
		slog.Warn("result backend write failed",
			slog.String("execution_id", executionID),
			slog.Any("error", err))
	}
}

func withTimeout(ctx domain.Context, d time.Duration) (domain.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

// safeInvoke shields the consumer goroutine from handler panics.
func safeInvoke(ctx domain.Context, h Handler, payload map[string]any) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, payload)
}
