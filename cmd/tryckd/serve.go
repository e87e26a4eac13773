package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/hylla/tryck/internal/adapters/notify"
	"github.com/hylla/tryck/internal/adapters/server"
	"github.com/hylla/tryck/internal/adapters/server/httpapi"
	"github.com/hylla/tryck/internal/adapters/storage/sqlite"
	"github.com/hylla/tryck/internal/app"
)

func newServeCommand(configFlag, dbFlag *string) *cobra.Command {
	var bindFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag, *dbFlag)
			if err != nil {
				return err
			}
			if bindFlag != "" {
				cfg.Server.Bind = bindFlag
			}

			logger := log.NewWithOptions(os.Stderr, log.Options{
				ReportTimestamp: true,
				Prefix:          "tryckd",
			})

			if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			repo, err := sqlite.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer repo.Close()

			hub := notify.NewHub(cfg.Events.BufferSize)
			attempts := cfg.Sequence.RetryAttempts
			allocator := app.NewAllocator(repo, nil, attempts)

			handler := httpapi.NewHandler(httpapi.Dependencies{
				Board:         app.NewService(repo, allocator, hub, nil, nil, attempts),
				Leases:        app.NewLeaseManager(repo, hub, nil, attempts),
				Approvals:     app.NewApprovals(repo, hub, nil, attempts),
				Ingestor:      app.NewIngestor(repo, allocator, hub, nil, nil),
				Hub:           hub,
				Logger:        logger,
				LeaseDuration: cfg.LeaseDuration(),
			})

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger.Info("starting",
				"version", version,
				"db", cfg.Database.Path,
				"lease_duration", cfg.LeaseDuration(),
				"renewal_interval", cfg.LeaseRenewalInterval(),
			)
			return server.Run(ctx, server.Config{Bind: cfg.Server.Bind}, handler.Router(), logger)
		},
	}

	cmd.Flags().StringVar(&bindFlag, "bind", "", "Listen address (overrides config)")
	return cmd
}
