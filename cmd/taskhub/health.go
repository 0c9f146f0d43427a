package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/taskhub/internal/app"
	"github.com/fairyhunter13/taskhub/internal/domain"
)

// Exit codes: 0 all healthy, 1 degraded or critical, 2 probe failure.
const (
	exitHealthy  = 0
	exitUnwell   = 1
	exitProbeErr = 2
)

func newHealthCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run one component health check and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			flush := bootstrap(cfg)
			defer flush()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			engine, err := app.NewEngine(ctx, cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "health probe failed: %v\n", err)
				os.Exit(exitProbeErr)
			}
			defer engine.Close()

			report, err := engine.Health.CheckComponents(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "health probe failed: %v\n", err)
				os.Exit(exitProbeErr)
			}

			for _, c := range report.Components {
				line := fmt.Sprintf("%-18s %-9s %.1fms", c.Name, c.Status, c.ResponseTimeMS)
				if c.ErrorMessage != "" {
					line += "  " + c.ErrorMessage
				}
				fmt.Println(line)
			}
			fmt.Printf("overall: %s\n", report.Overall)

			if report.Overall != domain.HealthHealthy {
				os.Exit(exitUnwell)
			}
			os.Exit(exitHealthy)
			return nil
		},
	}
}
