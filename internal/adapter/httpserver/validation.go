package httpserver

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

// TaskSubmissionRequest is the POST /tasks body.
type TaskSubmissionRequest struct {
	TaskType       string            `json:"task_type" validate:"required,max=100"`
	TaskName       string            `json:"task_name" validate:"required,max=200"`
	QueueName      string            `json:"queue_name" validate:"required,max=100"`
	Payload        map[string]any    `json:"payload"`
	Priority       string            `json:"priority" validate:"omitempty,oneof=low normal high critical"`
	CorrelationID  string            `json:"correlation_id" validate:"omitempty,max=200"`
	ScheduledAt    *time.Time        `json:"scheduled_at"`
	TimeoutSeconds *int              `json:"timeout_seconds" validate:"omitempty,min=1,max=86400"`
	RetryLimit     *int              `json:"retry_limit" validate:"omitempty,min=0,max=10"`
	Tags           map[string]string `json:"tags" validate:"omitempty,dive,keys,max=50,endkeys,max=200"`
}

// Validate checks the struct tags plus the rules the tags cannot express.
// It returns a list of field problems for the error envelope.
func (req TaskSubmissionRequest) Validate(now time.Time) []string {
	var problems []string
	if err := getValidator().Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}
	if req.ScheduledAt != nil && req.ScheduledAt.Before(now) {
		problems = append(problems, "scheduled_at: must be in the future")
	}
	return problems
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	if verrs, ok := err.(validator.ValidationErrors); ok { //nolint:errorlint // validator returns the slice directly.
		*target = verrs
		return true
	}
	return false
}

// Submission converts the request into the usecase form.
func (req TaskSubmissionRequest) Submission() domain.TaskSubmission {
	return domain.TaskSubmission{
		TaskType:       req.TaskType,
		TaskName:       req.TaskName,
		Payload:        req.Payload,
		QueueName:      req.QueueName,
		Priority:       domain.TaskPriority(req.Priority),
		CorrelationID:  req.CorrelationID,
		ScheduledAt:    req.ScheduledAt,
		TimeoutSeconds: req.TimeoutSeconds,
		RetryLimit:     req.RetryLimit,
		Tags:           req.Tags,
	}
}

// AcknowledgeRequest is the POST /alarms/{id}/acknowledge body.
type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by" validate:"required,max=100"`
}

// ShutdownRequest is the optional POST /system/shutdown body.
type ShutdownRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// TestAlarmRequest is the POST /test/alarm body (debug only).
type TestAlarmRequest struct {
	Type        string `json:"type" validate:"omitempty,max=50"`
	Severity    string `json:"severity" validate:"omitempty,oneof=info warning error critical"`
	Title       string `json:"title" validate:"omitempty,max=200"`
	Description string `json:"description" validate:"omitempty,max=1000"`
}
