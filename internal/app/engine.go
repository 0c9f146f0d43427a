package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/taskhub/internal/adapter/broker/redpanda"
	"github.com/fairyhunter13/taskhub/internal/adapter/notify"
	"github.com/fairyhunter13/taskhub/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/taskhub/internal/config"
	"github.com/fairyhunter13/taskhub/internal/domain"
	"github.com/fairyhunter13/taskhub/internal/service/alarms"
	"github.com/fairyhunter13/taskhub/internal/service/health"
	"github.com/fairyhunter13/taskhub/internal/service/shutdown"
	"github.com/fairyhunter13/taskhub/internal/usecase"
	"github.com/fairyhunter13/taskhub/internal/worker"
)

// Engine is the assembled service: repositories, broker, services, and
// their cross-wiring. Each command (api, worker, monitor) builds one and
// uses the parts it needs.
type Engine struct {
	Cfg  config.Config
	Pool *pgxpool.Pool

	Queues  *postgres.QueueRepo
	Tasks   *postgres.TaskRepo
	Alarms  *postgres.AlarmRepo
	Metrics *postgres.MetricsRepo
	Status  *postgres.StatusRepo
	Audit   *postgres.AuditRepo

	Broker   *redpanda.Broker
	Registry *worker.Registry
	Wrapper  *worker.Wrapper

	TaskSvc     *usecase.TaskService
	QueueSvc    *usecase.QueueService
	Health      *health.Evaluator
	AlarmEngine *alarms.Engine
	Shutdown    *shutdown.Controller
}

// NewEngine connects the store and broker, ensures the schema and the
// default queue, and wires the services together.
func NewEngine(ctx context.Context, cfg config.Config) (*Engine, error) {
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("op=app.NewEngine pool: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	queues := postgres.NewQueueRepo(pool)
	tasks := postgres.NewTaskRepo(pool)
	alarmRepo := postgres.NewAlarmRepo(pool)
	metrics := postgres.NewMetricsRepo(pool)
	status := postgres.NewStatusRepo(pool)
	audit := postgres.NewAuditRepo(pool)

	if err := status.Init(ctx, cfg.AppVersion, cfg.AppEnv, time.Now().UTC()); err != nil {
		pool.Close()
		return nil, err
	}

	producer, err := redpanda.NewProducer(cfg.BrokerBrokers, cfg.BrokerTopic)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("op=app.NewEngine producer: %w", err)
	}
	backend, err := redpanda.NewBackend(cfg.ResultBackendURL, cfg.ResultTTL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("op=app.NewEngine backend: %w", err)
	}
	broker := redpanda.NewBroker(producer, backend)

	registry := worker.NewRegistry()
	worker.RegisterBuiltins(registry)

	var channels []domain.NotificationChannel
	if cfg.ChatWebhookURL != "" {
		channels = append(channels, notify.NewChatWebhook(cfg.ChatWebhookURL))
	}
	if cfg.SMTPHost != "" && len(cfg.AlertEmails) > 0 {
		channels = append(channels, notify.NewEmailChannel(
			cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom, cfg.AlertEmails))
	}

	alarmEngine := alarms.NewEngine(alarmRepo, audit, channels, alarms.Config{
		Cooldown:                     cfg.AlarmCooldownPeriod,
		ConsecutiveFailuresThreshold: cfg.ConsecutiveFailuresThreshold,
		CriticalAlarmShutdown:        cfg.CriticalAlarmShutdown,
	})
	controller := shutdown.NewController(status, cfg.ShutdownCallbackTimeout)
	alarmEngine.SetShutdown(controller)
	controller.SetAlarmSink(alarmEngine)

	evaluator := health.NewEvaluator(queues, tasks, metrics, status, broker, health.Thresholds{
		Backup:            cfg.BackupThreshold,
		ErrorRate:         cfg.ErrorThreshold,
		ProcessingTimeout: cfg.ProcessingTimeout,
		CPU:               cfg.CPUThreshold,
		Memory:            cfg.MemoryThreshold,
		Disk:              cfg.DiskThreshold,
	})
	evaluator.Alarms = alarmEngine
	evaluator.DBProbe = dbProbe(pool)
	evaluator.BackendPing = backend.Ping
	evaluator.ExternalURL = cfg.ExternalServiceURL
	evaluator.RegisterCallback(alarmEngine.HandleQueueHealth)

	wrapper := worker.NewWrapper(tasks, registry, broker, broker, alarmEngine,
		cfg.DefaultRetryDelay, cfg.TaskTimeLimit)

	taskSvc := usecase.NewTaskService(queues, tasks, audit, broker)
	queueSvc := usecase.NewQueueService(queues)
	if err := queueSvc.EnsureDefault(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.QueueSeedFile != "" {
		if err := queueSvc.SeedFromFile(ctx, cfg.QueueSeedFile); err != nil {
			slog.Warn("queue seed failed", slog.String("file", cfg.QueueSeedFile), slog.Any("error", err))
		}
	}

	return &Engine{
		Cfg:         cfg,
		Pool:        pool,
		Queues:      queues,
		Tasks:       tasks,
		Alarms:      alarmRepo,
		Metrics:     metrics,
		Status:      status,
		Audit:       audit,
		Broker:      broker,
		Registry:    registry,
		Wrapper:     wrapper,
		TaskSvc:     taskSvc,
		QueueSvc:    queueSvc,
		Health:      evaluator,
		AlarmEngine: alarmEngine,
		Shutdown:    controller,
	}, nil
}

// dbProbe builds the health evaluator's database probe over the live pool:
// a round-trip query, a cheap count, and pool statistics.
func dbProbe(pool *pgxpool.Pool) func(ctx domain.Context) (map[string]any, error) {
	return func(ctx domain.Context) (map[string]any, error) {
		var one int
		if err := pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
			return nil, fmt.Errorf("op=app.dbProbe: %w", err)
		}
		var queueCount int64
		if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM queues`).Scan(&queueCount); err != nil {
			return nil, fmt.Errorf("op=app.dbProbe count: %w", err)
		}
		st := pool.Stat()
		return map[string]any{
			"queue_count":   queueCount,
			"total_conns":   st.TotalConns(),
			"idle_conns":    st.IdleConns(),
			"max_conns":     st.MaxConns(),
			"acquired_conn": st.AcquiredConns(),
		}, nil
	}
}

// Close releases the engine's connections.
func (e *Engine) Close() {
	if e.Broker != nil {
		if err := e.Broker.Close(); err != nil {
			slog.Warn("broker close failed", slog.Any("error", err))
		}
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
}
