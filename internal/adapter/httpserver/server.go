package httpserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/taskhub/internal/config"
	"github.com/fairyhunter13/taskhub/internal/domain"
)

// TaskService is the submission-path surface the handlers need.
type TaskService interface {
	Submit(ctx domain.Context, sub domain.TaskSubmission) (string, error)
	Cancel(ctx domain.Context, id string) error
	Get(ctx domain.Context, id string) (domain.Task, error)
	ByStatus(ctx domain.Context, status domain.TaskStatus, limit int) ([]domain.Task, error)
}

// QueueService lists queue definitions.
type QueueService interface {
	List(ctx domain.Context) ([]domain.Queue, error)
	ByName(ctx domain.Context, name string) (domain.Queue, error)
}

// HealthService is the health evaluator surface.
type HealthService interface {
	CheckComponents(ctx domain.Context) (domain.SystemHealthReport, error)
	QueueHealthFor(ctx domain.Context, name string) (domain.QueueHealth, error)
}

// AlarmService is the alarm engine surface.
type AlarmService interface {
	Active(ctx domain.Context) ([]domain.Alarm, error)
	Acknowledge(ctx domain.Context, id int64, by string) error
	Resolve(ctx domain.Context, id int64) error
	Trigger(ctx domain.Context, event domain.AlarmEvent) (int64, error)
}

// ShutdownService triggers and reports graceful shutdown.
type ShutdownService interface {
	Trigger(ctx domain.Context, reason string)
	InProgress() bool
}

// StatusService reads the singleton system status row.
type StatusService interface {
	Get(ctx domain.Context) (domain.SystemStatus, error)
}

// Server aggregates the API dependencies.
type Server struct {
	Cfg      config.Config
	Tasks    TaskService
	Queues   QueueService
	Health   HealthService
	Alarms   AlarmService
	Shutdown ShutdownService
	Status   StatusService

	sessions *SessionManager
}

// NewServer constructs the Server. The session manager is only active
// when the dashboard admin credentials are configured.
func NewServer(cfg config.Config, tasks TaskService, queues QueueService, health HealthService, alarms AlarmService, shutdown ShutdownService, status StatusService) *Server {
	return &Server{
		Cfg:      cfg,
		Tasks:    tasks,
		Queues:   queues,
		Health:   health,
		Alarms:   alarms,
		Shutdown: shutdown,
		Status:   status,
		sessions: NewSessionManager(cfg),
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// HealthQuickHandler is the cheap liveness probe variant with a payload.
func (s *Server) HealthQuickHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   s.Cfg.OTELServiceName,
	})
}

// HealthzHandler is the bare liveness probe.
func (s *Server) HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
