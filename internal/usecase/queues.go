package usecase

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

// QueueService administers queue definitions: listing, the default queue,
// and optional YAML seeding at startup.
type QueueService struct {
	Queues domain.QueueRepository
}

// NewQueueService constructs a QueueService.
func NewQueueService(queues domain.QueueRepository) *QueueService {
	return &QueueService{Queues: queues}
}

// List returns every queue definition.
func (s *QueueService) List(ctx domain.Context) ([]domain.Queue, error) {
	return s.Queues.All(ctx)
}

// ByName loads one queue.
func (s *QueueService) ByName(ctx domain.Context, name string) (domain.Queue, error) {
	return s.Queues.ByName(ctx, name)
}

// EnsureDefault creates the default queue if it does not exist yet.
func (s *QueueService) EnsureDefault(ctx domain.Context) error {
	_, err := s.Queues.Create(ctx, domain.Queue{
		Name:           domain.DefaultQueueName,
		Description:    "default task queue",
		Priority:       domain.PriorityNormal,
		IsActive:       true,
		MaxWorkers:     4,
		RetryLimit:     3,
		TimeoutSeconds: 300,
	})
	if err != nil {
		return fmt.Errorf("op=queues.EnsureDefault: %w", err)
	}
	return nil
}

// seedFile is the YAML shape of a queue seed file.
type seedFile struct {
	Queues []seedQueue `yaml:"queues"`
}

type seedQueue struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	Priority       string `yaml:"priority"`
	MaxWorkers     int    `yaml:"max_workers"`
	RetryLimit     int    `yaml:"retry_limit"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Inactive       bool   `yaml:"inactive"`
}

// SeedFromFile creates the queues defined in a YAML file. Existing queues
// keep their rows; creation is idempotent by name.
func (s *QueueService) SeedFromFile(ctx domain.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("op=queues.SeedFromFile: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("op=queues.SeedFromFile parse: %w", err)
	}
	for _, q := range f.Queues {
		if q.Name == "" {
			return fmt.Errorf("op=queues.SeedFromFile: queue with empty name: %w", domain.ErrInvalidArgument)
		}
		def := domain.Queue{
			Name:           q.Name,
			Description:    q.Description,
			Priority:       domain.TaskPriority(q.Priority),
			IsActive:       !q.Inactive,
			MaxWorkers:     q.MaxWorkers,
			RetryLimit:     q.RetryLimit,
			TimeoutSeconds: q.TimeoutSeconds,
		}
		if !def.Priority.Valid() {
			def.Priority = domain.PriorityNormal
		}
		if def.MaxWorkers < 1 {
			def.MaxWorkers = 4
		}
		if def.RetryLimit < 0 {
			def.RetryLimit = 0
		}
		if def.TimeoutSeconds < 1 {
			def.TimeoutSeconds = 300
		}
		if _, err := s.Queues.Create(ctx, def); err != nil {
			return fmt.Errorf("op=queues.SeedFromFile queue=%s: %w", q.Name, err)
		}
		slog.Info("queue seeded", slog.String("queue", q.Name))
	}
	return nil
}
