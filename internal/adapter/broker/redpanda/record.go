// Package redpanda implements the broker port on a Redpanda/Kafka
// transport (franz-go) with a Redis result backend and control plane.
package redpanda

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fairyhunter13/taskhub/internal/worker"
)

// TaskRecord is the wire envelope of one task execution. It is keyed by
// the broker execution id so redeliveries of the same execution stay on
// one partition.
type TaskRecord struct {
	ExecutionID    string         `json:"execution_id"`
	TaskID         string         `json:"task_id"`
	TaskType       string         `json:"task_type"`
	TaskName       string         `json:"task_name"`
	Payload        map[string]any `json:"payload,omitempty"`
	QueueName      string         `json:"queue_name"`
	PriorityValue  int            `json:"priority"`
	ETA            *time.Time     `json:"eta,omitempty"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	MaxRetries     int            `json:"max_retries"`
	Attempt        int            `json:"attempt"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
}

// Encode marshals the record for the transport.
func (r TaskRecord) Encode() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("op=record.Encode: %w", err)
	}
	return b, nil
}

// DecodeRecord unmarshals a transport value back into a TaskRecord.
func DecodeRecord(b []byte) (TaskRecord, error) {
	var r TaskRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return TaskRecord{}, fmt.Errorf("op=record.Decode: %w", err)
	}
	if r.ExecutionID == "" || r.TaskType == "" {
		return TaskRecord{}, fmt.Errorf("op=record.Decode: execution_id and task_type required")
	}
	return r, nil
}

// Execution converts the record into the wrapper's execution form.
func (r TaskRecord) Execution() worker.Execution {
	return worker.Execution{
		ExecutionID:    r.ExecutionID,
		TaskID:         r.TaskID,
		TaskType:       r.TaskType,
		TaskName:       r.TaskName,
		Payload:        r.Payload,
		QueueName:      r.QueueName,
		MaxRetries:     r.MaxRetries,
		Attempt:        r.Attempt,
		TimeoutSeconds: r.TimeoutSeconds,
		CorrelationID:  r.CorrelationID,
	}
}

// recordFromExecution rebuilds a record for requeueing a later attempt.
func recordFromExecution(ex worker.Execution, eta time.Time) TaskRecord {
	return TaskRecord{
		ExecutionID:    ex.ExecutionID,
		TaskID:         ex.TaskID,
		TaskType:       ex.TaskType,
		TaskName:       ex.TaskName,
		Payload:        ex.Payload,
		QueueName:      ex.QueueName,
		MaxRetries:     ex.MaxRetries,
		Attempt:        ex.Attempt,
		TimeoutSeconds: ex.TimeoutSeconds,
		CorrelationID:  ex.CorrelationID,
		ETA:            &eta,
	}
}
