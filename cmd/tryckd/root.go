package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hylla/tryck/internal/config"
	"github.com/hylla/tryck/internal/platform"
)

// version stores the build version injected at link time.
var version = "dev"

func newRootCommand() *cobra.Command {
	var configFlag string
	var dbFlag string

	rootCmd := &cobra.Command{
		Use:           "tryckd",
		Short:         "Print-shop workflow coordination service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "SQLite database path")

	rootCmd.AddCommand(newServeCommand(&configFlag, &dbFlag))
	rootCmd.AddCommand(newPathsCommand(&configFlag, &dbFlag))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// loadConfig resolves platform paths and layers the config file over
// defaults, applying command-line overrides last.
func loadConfig(configFlag, dbFlag string) (config.Config, error) {
	paths, err := platform.DefaultPaths("")
	if err != nil {
		return config.Config{}, err
	}

	configPath := strings.TrimSpace(configFlag)
	if configPath == "" {
		configPath = paths.ConfigPath
	}
	cfg, err := config.Load(configPath, config.Default(paths.DBPath))
	if err != nil {
		return config.Config{}, err
	}
	if db := strings.TrimSpace(dbFlag); db != "" {
		cfg.Database.Path = db
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newPathsCommand(configFlag, dbFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config and data paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := platform.DefaultPaths("")
			if err != nil {
				return err
			}
			cfg, err := loadConfig(*configFlag, *dbFlag)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config: %s\n", paths.ConfigPath)
			fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			fmt.Fprintf(out, "db: %s\n", cfg.Database.Path)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tryckd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "tryckd %s\n", version)
			return nil
		},
	}
}
