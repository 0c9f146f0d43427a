package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/taskhub/internal/app"
)

func newMonitorCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run only the health monitor loops",
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

			go app.NewLoopRunner("queue_health", cfg.HealthCheckInterval, engine.Health.CheckQueues).Run(ctx)
			go app.NewLoopRunner("component_health", cfg.ComponentCheckInterval, func(ctx context.Context) error {
				_, err := engine.Health.CheckComponents(ctx)
				return err
			}).Run(ctx)

			slog.Info("monitor started",
				slog.Duration("queue_interval", cfg.HealthCheckInterval),
				slog.Duration("component_interval", cfg.ComponentCheckInterval))
			<-ctx.Done()
			slog.Info("monitor stopped")
			return nil
		},
	}
}
