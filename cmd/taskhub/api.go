package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/fairyhunter13/taskhub/internal/adapter/httpserver"
	"github.com/fairyhunter13/taskhub/internal/app"
	"github.com/fairyhunter13/taskhub/internal/config"
)

func newAPICmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run the HTTP API server with the health monitor loops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			flush := bootstrap(cfg)
			defer flush()
			return runAPI(cfg, true)
		},
	}
}

func newDashboardCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Run the HTTP server without the monitor loops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if !cfg.AdminEnabled() {
				return fmt.Errorf("dashboard requires ADMIN_USERNAME, ADMIN_PASSWORD_HASH and ADMIN_SESSION_SECRET")
			}
			flush := bootstrap(cfg)
			defer flush()
			return runAPI(cfg, false)
		},
	}
}

// runAPI assembles the engine, serves HTTP, and optionally drives the
// health loops. Shutdown flows through the controller so the API, signal,
// and alarm paths all converge on the same callback sequence.
func runAPI(cfg config.Config, withLoops bool) error {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	engine, err := app.NewEngine(rootCtx, cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	srv := httpserver.NewServer(cfg,
		engine.TaskSvc, engine.QueueSvc, engine.Health, engine.AlarmEngine, engine.Shutdown, engine.Status)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	loopCtx, cancelLoops := context.WithCancel(rootCtx)
	defer cancelLoops()
	if withLoops {
		go app.NewLoopRunner("queue_health", cfg.HealthCheckInterval, engine.Health.CheckQueues).Run(loopCtx)
		go app.NewLoopRunner("component_health", cfg.ComponentCheckInterval, func(ctx context.Context) error {
			_, err := engine.Health.CheckComponents(ctx)
			return err
		}).Run(loopCtx)
	}

	// Callbacks run in registration order when the controller triggers.
	done := make(chan struct{})
	engine.Shutdown.Register("stop_loops", func(_ context.Context) error {
		cancelLoops()
		return nil
	})
	engine.Shutdown.Register("http_server", func(ctx context.Context) error {
		return srvHTTP.Shutdown(ctx)
	})
	engine.Shutdown.Register("release_process", func(_ context.Context) error {
		close(done)
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.String("addr", cfg.Addr()))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		slog.Info("shutdown signal received")
		engine.Shutdown.Trigger(context.Background(), "shutdown signal received")
		<-done
	case <-done:
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	_ = os.Stdout.Sync()
	return nil
}
