package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

// taskDTO is the wire form of a task snapshot.
type taskDTO struct {
	ID              string            `json:"id"`
	QueueName       string            `json:"queue_name,omitempty"`
	TaskType        string            `json:"task_type"`
	TaskName        string            `json:"task_name"`
	Status          string            `json:"status"`
	Priority        string            `json:"priority"`
	Payload         map[string]any    `json:"payload,omitempty"`
	Result          map[string]any    `json:"result,omitempty"`
	RetryCount      int               `json:"retry_count"`
	MaxRetries      int               `json:"max_retries"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ScheduledAt     *time.Time        `json:"scheduled_at,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	DurationSeconds *float64          `json:"duration_seconds,omitempty"`
	CorrelationID   string            `json:"correlation_id,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
}

func toTaskDTO(t domain.Task) taskDTO {
	return taskDTO{
		ID:              t.ID,
		QueueName:       t.QueueName,
		TaskType:        t.TaskType,
		TaskName:        t.TaskName,
		Status:          string(t.Status),
		Priority:        string(t.Priority),
		Payload:         t.Payload,
		Result:          t.Result,
		RetryCount:      t.RetryCount,
		MaxRetries:      t.MaxRetries,
		ErrorMessage:    t.ErrorMessage,
		CreatedAt:       t.CreatedAt,
		ScheduledAt:     t.ScheduledAt,
		StartedAt:       t.StartedAt,
		CompletedAt:     t.CompletedAt,
		DurationSeconds: t.DurationSeconds(),
		CorrelationID:   t.CorrelationID,
		Tags:            t.Tags,
	}
}

type queueDTO struct {
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Priority       string    `json:"priority"`
	IsActive       bool      `json:"is_active"`
	MaxWorkers     int       `json:"max_workers"`
	RetryLimit     int       `json:"retry_limit"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	CreatedAt      time.Time `json:"created_at"`
}

type queueHealthDTO struct {
	QueueName         string     `json:"queue_name"`
	IsHealthy         bool       `json:"is_healthy"`
	PendingTasks      int64      `json:"pending_tasks"`
	ProcessingTasks   int64      `json:"processing_tasks"`
	CompletedTasks    int64      `json:"completed_tasks"`
	FailedTasks       int64      `json:"failed_tasks"`
	ErrorRate         float64    `json:"error_rate"`
	AvgProcessingTime float64    `json:"avg_processing_time"`
	LastProcessedAt   *time.Time `json:"last_processed_at,omitempty"`
	Issues            []string   `json:"issues"`
}

func toQueueHealthDTO(h domain.QueueHealth) queueHealthDTO {
	issues := h.Issues
	if issues == nil {
		issues = []string{}
	}
	return queueHealthDTO{
		QueueName:         h.QueueName,
		IsHealthy:         h.IsHealthy,
		PendingTasks:      h.PendingTasks,
		ProcessingTasks:   h.ProcessingTasks,
		CompletedTasks:    h.CompletedTasks,
		FailedTasks:       h.FailedTasks,
		ErrorRate:         h.ErrorRate,
		AvgProcessingTime: h.AvgProcessingTime,
		LastProcessedAt:   h.LastProcessedAt,
		Issues:            issues,
	}
}

type componentDTO struct {
	Name           string         `json:"name"`
	Status         string         `json:"status"`
	ResponseTimeMS float64        `json:"response_time_ms"`
	LastCheck      time.Time      `json:"last_check"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

type healthReportDTO struct {
	Overall       string         `json:"overall_status"`
	Components    []componentDTO `json:"components"`
	Timestamp     time.Time      `json:"timestamp"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	TotalChecks   int            `json:"total_checks"`
	HealthyCount  int            `json:"healthy_count"`
	DegradedCount int            `json:"degraded_count"`
	CriticalCount int            `json:"critical_count"`
}

func toHealthReportDTO(rep domain.SystemHealthReport) healthReportDTO {
	comps := make([]componentDTO, 0, len(rep.Components))
	for _, c := range rep.Components {
		comps = append(comps, componentDTO{
			Name:           c.Name,
			Status:         string(c.Status),
			ResponseTimeMS: c.ResponseTimeMS,
			LastCheck:      c.LastCheck,
			ErrorMessage:   c.ErrorMessage,
			Details:        c.Details,
		})
	}
	return healthReportDTO{
		Overall:       string(rep.Overall),
		Components:    comps,
		Timestamp:     rep.Timestamp,
		UptimeSeconds: rep.UptimeSeconds,
		TotalChecks:   rep.TotalChecks,
		HealthyCount:  rep.HealthyCount,
		DegradedCount: rep.DegradedCount,
		CriticalCount: rep.CriticalCount,
	}
}

type alarmDTO struct {
	ID              int64          `json:"id"`
	Type            string         `json:"type"`
	Severity        string         `json:"severity"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	QueueName       string         `json:"queue_name,omitempty"`
	TaskID          string         `json:"task_id,omitempty"`
	IsActive        bool           `json:"is_active"`
	Acknowledged    bool           `json:"acknowledged"`
	AcknowledgedBy  string         `json:"acknowledged_by,omitempty"`
	TriggeredAt     time.Time      `json:"triggered_at"`
	LastOccurrence  time.Time      `json:"last_occurrence"`
	OccurrenceCount int            `json:"occurrence_count"`
	ContextData     map[string]any `json:"context_data,omitempty"`
}

func toAlarmDTO(a domain.Alarm) alarmDTO {
	return alarmDTO{
		ID:              a.ID,
		Type:            string(a.Type),
		Severity:        string(a.Severity),
		Title:           a.Title,
		Description:     a.Description,
		QueueName:       a.QueueName,
		TaskID:          a.TaskID,
		IsActive:        a.IsActive,
		Acknowledged:    a.Acknowledged,
		AcknowledgedBy:  a.AcknowledgedBy,
		TriggeredAt:     a.TriggeredAt,
		LastOccurrence:  a.LastOccurrence,
		OccurrenceCount: a.OccurrenceCount,
		ContextData:     a.ContextData,
	}
}

type systemStatusDTO struct {
	IsOperational     bool       `json:"is_operational"`
	IsMaintenanceMode bool       `json:"is_maintenance_mode"`
	ShutdownRequested bool       `json:"shutdown_requested"`
	ShutdownReason    string     `json:"shutdown_reason,omitempty"`
	OverallHealth     string     `json:"overall_health"`
	QueueHealth       string     `json:"queue_health"`
	DatabaseHealth    string     `json:"database_health"`
	BrokerHealth      string     `json:"broker_health"`
	ActiveQueues      int64      `json:"active_queues"`
	PendingTasks      int64      `json:"pending_tasks"`
	ProcessingTasks   int64      `json:"processing_tasks"`
	FailedTasks       int64      `json:"failed_tasks"`
	UptimeStarted     time.Time  `json:"uptime_started"`
	LastHealthCheck   *time.Time `json:"last_health_check,omitempty"`
	Version           string     `json:"version"`
	Environment       string     `json:"environment"`
}

// SubmitTaskHandler validates and submits one task.
func (s *Server) SubmitTaskHandler(w http.ResponseWriter, r *http.Request) {
	var req TaskSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("invalid json body: %w", domain.ErrInvalidArgument), nil)
		return
	}
	if problems := req.Validate(time.Now().UTC()); len(problems) > 0 {
		writeError(w, r, fmt.Errorf("validation failed: %w", domain.ErrInvalidArgument), problems)
		return
	}

	taskID, err := s.Tasks.Submit(r.Context(), req.Submission())
	if err != nil {
		// An unknown queue on submit surfaces as a server error with the
		// queue named in the detail, matching the legacy contract.
		if errors.Is(err, domain.ErrQueueNotFound) {
			writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: apiError{
				Code:    "queue_not_found",
				Message: fmt.Sprintf("failed to submit task: queue not found: %s", req.QueueName),
			}})
			return
		}
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": taskID, "status": "submitted"})
}

// GetTaskHandler returns one task snapshot.
func (s *Server) GetTaskHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.Tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(task))
}

// ListTasksHandler lists tasks filtered by status.
func (s *Server) ListTasksHandler(w http.ResponseWriter, r *http.Request) {
	status := domain.TaskStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.TaskPending
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	tasks, err := s.Tasks.ByStatus(r.Context(), status, limit)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	out := make([]taskDTO, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskDTO(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out, "count": len(out)})
}

// CancelTaskHandler cancels one task.
func (s *Server) CancelTaskHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Tasks.Cancel(r.Context(), id); err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "status": "cancelled"})
}

// QueuesHandler lists queue definitions.
func (s *Server) QueuesHandler(w http.ResponseWriter, r *http.Request) {
	queues, err := s.Queues.List(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	out := make([]queueDTO, 0, len(queues))
	for _, q := range queues {
		out = append(out, queueDTO{
			Name:           q.Name,
			Description:    q.Description,
			Priority:       string(q.Priority),
			IsActive:       q.IsActive,
			MaxWorkers:     q.MaxWorkers,
			RetryLimit:     q.RetryLimit,
			TimeoutSeconds: q.TimeoutSeconds,
			CreatedAt:      q.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": out, "count": len(out)})
}

// QueueHealthHandler evaluates one queue on demand.
func (s *Server) QueueHealthHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h, err := s.Health.QueueHealthFor(r.Context(), name)
	if err != nil {
		if errors.Is(err, domain.ErrQueueNotFound) {
			writeError(w, r, fmt.Errorf("queue %s: %w", name, domain.ErrNotFound), nil)
			return
		}
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toQueueHealthDTO(h))
}

// HealthHandler runs the full component check and reports the system
// health verdict.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Health.CheckComponents(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toHealthReportDTO(rep))
}

// HealthComponentsHandler returns only the per-component probe results.
func (s *Server) HealthComponentsHandler(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Health.CheckComponents(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toHealthReportDTO(rep).Components)
}

// AlarmsHandler lists the active alarms.
func (s *Server) AlarmsHandler(w http.ResponseWriter, r *http.Request) {
	alarms, err := s.Alarms.Active(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	out := make([]alarmDTO, 0, len(alarms))
	for _, a := range alarms {
		out = append(out, toAlarmDTO(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"alarms": out, "count": len(out)})
}

// AcknowledgeAlarmHandler marks one alarm acknowledged.
func (s *Server) AcknowledgeAlarmHandler(w http.ResponseWriter, r *http.Request) {
	id, err := alarmID(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	var req AcknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AcknowledgedBy == "" {
		writeError(w, r, fmt.Errorf("acknowledged_by required: %w", domain.ErrInvalidArgument), nil)
		return
	}
	if err := s.Alarms.Acknowledge(r.Context(), id, req.AcknowledgedBy); err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alarm_id": id, "status": "acknowledged"})
}

// ResolveAlarmHandler marks one alarm resolved.
func (s *Server) ResolveAlarmHandler(w http.ResponseWriter, r *http.Request) {
	id, err := alarmID(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	if err := s.Alarms.Resolve(r.Context(), id); err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alarm_id": id, "status": "resolved"})
}

func alarmID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("alarm id: %w", domain.ErrNotFound)
	}
	return id, nil
}

// ShutdownHandler initiates a graceful shutdown behind the bearer token.
func (s *Server) ShutdownHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.checkShutdownAuth(r); err != nil {
		writeError(w, r, err, nil)
		return
	}
	var req ShutdownRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	reason := req.Reason
	if reason == "" {
		reason = "Manual shutdown via API"
	}
	if s.Shutdown.InProgress() {
		writeJSON(w, http.StatusOK, map[string]any{"status": "shutdown_in_progress", "reason": reason})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "shutdown_initiated", "reason": reason})
	// The response must flush before the listener closes; the controller
	// runs detached from the request context.
	go s.Shutdown.Trigger(context.Background(), reason)
}

// SystemStatusHandler returns the singleton system status row.
func (s *Server) SystemStatusHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.Status.Get(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, systemStatusDTO{
		IsOperational:     st.IsOperational,
		IsMaintenanceMode: st.IsMaintenanceMode,
		ShutdownRequested: st.ShutdownRequested,
		ShutdownReason:    st.ShutdownReason,
		OverallHealth:     string(st.OverallHealth),
		QueueHealth:       string(st.QueueHealth),
		DatabaseHealth:    string(st.DatabaseHealth),
		BrokerHealth:      string(st.BrokerHealth),
		ActiveQueues:      st.ActiveQueues,
		PendingTasks:      st.PendingTasks,
		ProcessingTasks:   st.ProcessingTasks,
		FailedTasks:       st.FailedTasks,
		UptimeStarted:     st.UptimeStarted,
		LastHealthCheck:   st.LastHealthCheck,
		Version:           st.Version,
		Environment:       st.Environment,
	})
}

// TestAlarmHandler raises a synthetic alarm; enabled only in debug mode.
func (s *Server) TestAlarmHandler(w http.ResponseWriter, r *http.Request) {
	if !s.Cfg.Debug {
		writeError(w, r, fmt.Errorf("test alarms require debug mode: %w", domain.ErrForbidden), nil)
		return
	}
	var req TestAlarmRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	event := domain.AlarmEvent{
		Type:        domain.AlarmSystemError,
		Severity:    domain.SeverityWarning,
		Title:       "Test alarm",
		Description: "Synthetic alarm raised through the test endpoint",
		ContextData: map[string]any{"source": "test_endpoint"},
	}
	if req.Type != "" {
		event.Type = domain.AlarmType(req.Type)
	}
	if req.Severity != "" {
		event.Severity = domain.AlarmSeverity(req.Severity)
	}
	if req.Title != "" {
		event.Title = req.Title
	}
	if req.Description != "" {
		event.Description = req.Description
	}
	id, err := s.Alarms.Trigger(r.Context(), event)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	slog.Info("test alarm triggered", slog.Int64("alarm_id", id))
	writeJSON(w, http.StatusOK, map[string]any{"alarm_id": id, "status": "triggered"})
}
