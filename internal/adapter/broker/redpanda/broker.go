package redpanda

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/taskhub/internal/domain"
	"github.com/fairyhunter13/taskhub/internal/worker"
)

// Broker implements the broker port on the Redpanda transport plus the
// Redis backend. It also serves the worker wrapper as its result writer
// and requeuer.
type Broker struct {
	producer *Producer
	backend  *Backend
}

// NewBroker assembles the broker from its two halves.
func NewBroker(producer *Producer, backend *Backend) *Broker {
	return &Broker{producer: producer, backend: backend}
}

// Submit assigns an execution id, publishes the record, and seeds the
// result backend with PENDING. The id comes back to the caller for
// tracking.
func (b *Broker) Submit(ctx domain.Context, req domain.SubmitRequest) (string, error) {
	executionID := uuid.NewString()
	rec := TaskRecord{
		ExecutionID:    executionID,
		TaskID:         req.TaskID,
		TaskType:       req.TaskType,
		TaskName:       req.TaskName,
		Payload:        req.Payload,
		QueueName:      req.QueueName,
		PriorityValue:  req.PriorityValue,
		ETA:            req.ETA,
		ExpiresAt:      req.ExpiresAt,
		MaxRetries:     req.MaxRetries,
		TimeoutSeconds: req.TimeoutSeconds,
		CorrelationID:  req.CorrelationID,
	}
	if err := b.producer.Produce(ctx, rec); err != nil {
		return "", err
	}
	// The record is already on the wire; a missing PENDING marker only
	// delays status visibility until the worker writes.
	if err := b.backend.WriteResult(ctx, executionID, domain.ExecutionStatus{State: "PENDING"}); err != nil {
		slog.Warn("pending marker write failed",
			slog.String("execution_id", executionID),
			slog.Any("error", err))
	}
	return executionID, nil
}

// Status reads the execution state from the backend. Unknown executions
// read as PENDING.
func (b *Broker) Status(ctx domain.Context, executionID string) (domain.ExecutionStatus, error) {
	st, _, err := b.backend.ReadResult(ctx, executionID)
	if err != nil {
		return domain.ExecutionStatus{}, fmt.Errorf("op=broker.Status: %w", err)
	}
	return st, nil
}

// Revoke marks the execution so consumers drop it. Best-effort: an
// execution that already ran stays completed.
func (b *Broker) Revoke(ctx domain.Context, executionID string, terminate bool) error {
	if err := b.backend.MarkRevoked(ctx, executionID); err != nil {
		return err
	}
	return b.backend.WriteResult(ctx, executionID, domain.ExecutionStatus{State: "REVOKED"})
}

// ActiveWorkers lists workers with a live heartbeat.
func (b *Broker) ActiveWorkers(ctx domain.Context) ([]domain.WorkerInfo, error) {
	return b.backend.Workers(ctx)
}

// WriteResult implements worker.ResultWriter.
func (b *Broker) WriteResult(ctx domain.Context, executionID string, st domain.ExecutionStatus) error {
	return b.backend.WriteResult(ctx, executionID, st)
}

// Requeue implements worker.Requeuer: the same execution id goes back on
// the topic with the next attempt number and a delivery ETA.
func (b *Broker) Requeue(ctx domain.Context, ex worker.Execution, eta time.Time) error {
	return b.producer.Produce(ctx, recordFromExecution(ex, eta))
}

// Backend exposes the Redis half for health probes and heartbeats.
func (b *Broker) Backend() *Backend {
	return b.backend
}

// Close releases both halves.
func (b *Broker) Close() error {
	err := b.producer.Close()
	if cerr := b.backend.Close(); err == nil {
		err = cerr
	}
	return err
}
