package httpserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

func validSubmission() TaskSubmissionRequest {
	return TaskSubmissionRequest{
		TaskType:  "noop",
		TaskName:  "smoke",
		QueueName: "default",
	}
}

func TestTaskSubmissionRequestValid(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	assert.Empty(t, validSubmission().Validate(now))

	req := validSubmission()
	future := now.Add(time.Hour)
	timeout := 600
	retries := 5
	req.Priority = "critical"
	req.ScheduledAt = &future
	req.TimeoutSeconds = &timeout
	req.RetryLimit = &retries
	req.Tags = map[string]string{"team": "data-platform"}
	assert.Empty(t, req.Validate(now))
}

func TestTaskSubmissionRequestMissingRequired(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()

	problems := TaskSubmissionRequest{}.Validate(now)
	assert.Len(t, problems, 3)

	req := validSubmission()
	req.TaskType = ""
	problems = req.Validate(now)
	assert.Len(t, problems, 1)
	assert.Contains(t, problems[0], "TaskType")
}

func TestTaskSubmissionRequestBadPriority(t *testing.T) {
	t.Parallel()
	req := validSubmission()
	req.Priority = "urgent"
	problems := req.Validate(time.Now().UTC())
	assert.Len(t, problems, 1)
	assert.Contains(t, problems[0], "oneof")
}

func TestTaskSubmissionRequestTimeoutBounds(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()

	zero := 0
	req := validSubmission()
	req.TimeoutSeconds = &zero
	assert.NotEmpty(t, req.Validate(now))

	tooLong := 90000
	req = validSubmission()
	req.TimeoutSeconds = &tooLong
	assert.NotEmpty(t, req.Validate(now))

	tooManyRetries := 11
	req = validSubmission()
	req.RetryLimit = &tooManyRetries
	assert.NotEmpty(t, req.Validate(now))
}

func TestTaskSubmissionRequestPastSchedule(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	req := validSubmission()
	req.ScheduledAt = &past

	problems := req.Validate(now)
	assert.Contains(t, problems, "scheduled_at: must be in the future")
}

func TestTaskSubmissionRequestConversion(t *testing.T) {
	t.Parallel()
	timeout := 120
	req := validSubmission()
	req.Priority = "high"
	req.TimeoutSeconds = &timeout
	req.CorrelationID = "corr-1"
	req.Tags = map[string]string{"env": "prod"}

	sub := req.Submission()
	assert.Equal(t, domain.PriorityHigh, sub.Priority)
	assert.Equal(t, "corr-1", sub.CorrelationID)
	assert.Equal(t, 120, *sub.TimeoutSeconds)
	assert.Equal(t, map[string]string{"env": "prod"}, sub.Tags)
}
