package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fairyhunter13/taskhub/internal/adapter/broker/redpanda"
	"github.com/fairyhunter13/taskhub/internal/app"
)

func newWorkerCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the task execution worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			flush := bootstrap(cfg)
			defer flush()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			engine, err := app.NewEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer engine.Close()

			hostname, _ := os.Hostname()
			workerID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])

			consumer, err := redpanda.NewConsumer(redpanda.ConsumerOptions{
				Brokers:           cfg.BrokerBrokers,
				Topic:             cfg.BrokerTopic,
				GroupID:           cfg.BrokerGroup,
				WorkerID:          workerID,
				MinWorkers:        cfg.WorkerMinConcurrency,
				MaxWorkers:        cfg.WorkerMaxConcurrency,
				ScalingInterval:   cfg.WorkerScalingInterval,
				HeartbeatInterval: cfg.WorkerHeartbeat,
			}, engine.Broker.Backend(), engine.Wrapper, engine.Registry)
			if err != nil {
				return err
			}

			slog.Info("worker starting",
				slog.String("worker_id", workerID),
				slog.String("group", cfg.BrokerGroup),
				slog.Any("task_types", engine.Registry.Types()))

			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			slog.Info("worker stopped", slog.String("worker_id", workerID))
			return nil
		},
	}
}
