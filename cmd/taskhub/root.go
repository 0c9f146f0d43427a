package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/taskhub/internal/adapter/observability"
	"github.com/fairyhunter13/taskhub/internal/config"
)

type rootFlags struct {
	host     string
	port     int
	debug    bool
	logLevel string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "taskhub",
		Short:         "Task-queue orchestration service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.host, "host", "", "listen host (overrides HOST)")
	pf.IntVar(&flags.port, "port", 0, "listen port (overrides PORT)")
	pf.BoolVar(&flags.debug, "debug", false, "enable debug mode (overrides DEBUG)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	root.AddCommand(
		newAPICmd(flags),
		newDashboardCmd(flags),
		newWorkerCmd(flags),
		newMonitorCmd(flags),
		newHealthCmd(flags),
	)
	return root
}

// loadConfig parses the environment and applies flag overrides.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = flags.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = flags.port
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = flags.debug
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	return cfg, nil
}

// bootstrap installs the logger, metrics, and tracing. The returned
// function flushes the tracer on exit.
func bootstrap(cfg config.Config) func() {
	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	return func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}
}
