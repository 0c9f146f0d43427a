package redpanda

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/taskhub/internal/worker"
)

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()
	eta := time.Date(2026, 8, 25, 15, 0, 0, 0, time.UTC)
	in := TaskRecord{
		ExecutionID:    "ex-1",
		TaskID:         "task-1",
		TaskType:       "data_validation",
		TaskName:       "validate-batch",
		Payload:        map[string]any{"batch": "b-9"},
		QueueName:      "default",
		PriorityValue:  8,
		ETA:            &eta,
		MaxRetries:     3,
		Attempt:        1,
		TimeoutSeconds: 120,
		CorrelationID:  "corr-7",
	}
	raw, err := in.Encode()
	require.NoError(t, err)

	out, err := DecodeRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, in.ExecutionID, out.ExecutionID)
	assert.Equal(t, in.TaskType, out.TaskType)
	assert.Equal(t, in.Payload, out.Payload)
	require.NotNil(t, out.ETA)
	assert.True(t, eta.Equal(*out.ETA))
}

func TestDecodeRecordRejectsMalformed(t *testing.T) {
	t.Parallel()
	_, err := DecodeRecord([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodeRecord([]byte(`{"task_id":"t1"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution_id and task_type required")

	_, err = DecodeRecord([]byte(`{"execution_id":"ex-1"}`))
	assert.Error(t, err)
}

func TestRecordExecutionMapping(t *testing.T) {
	t.Parallel()
	r := TaskRecord{
		ExecutionID:    "ex-1",
		TaskID:         "task-1",
		TaskType:       "noop",
		QueueName:      "emails",
		MaxRetries:     5,
		Attempt:        2,
		TimeoutSeconds: 60,
	}
	ex := r.Execution()
	assert.Equal(t, "ex-1", ex.ExecutionID)
	assert.Equal(t, "emails", ex.QueueName)
	assert.Equal(t, 5, ex.MaxRetries)
	assert.Equal(t, 2, ex.Attempt)
	assert.Equal(t, 60, ex.TimeoutSeconds)
}

func TestRecordFromExecutionKeepsAttempt(t *testing.T) {
	t.Parallel()
	eta := time.Date(2026, 8, 25, 16, 0, 0, 0, time.UTC)
	ex := worker.Execution{
		ExecutionID: "ex-1",
		TaskID:      "task-1",
		TaskType:    "noop",
		QueueName:   "default",
		Attempt:     3,
		MaxRetries:  5,
	}
	r := recordFromExecution(ex, eta)
	assert.Equal(t, 3, r.Attempt)
	require.NotNil(t, r.ETA)
	assert.True(t, eta.Equal(*r.ETA))

	// The requeued record must still decode on the consumer side.
	raw, err := r.Encode()
	require.NoError(t, err)
	_, err = DecodeRecord(raw)
	assert.NoError(t, err)
}

func TestNewConsumerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewConsumer(ConsumerOptions{Topic: "tasks", GroupID: "g"}, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no seed brokers")

	_, err = NewConsumer(ConsumerOptions{Brokers: []string{"localhost:9092"}, Topic: "tasks"}, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "group ID")

	_, err = NewConsumer(ConsumerOptions{Brokers: []string{"localhost:9092"}, GroupID: "g"}, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic")
}
