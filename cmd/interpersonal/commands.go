package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eringen/interpersonal"
	"github.com/eringen/interpersonal/logging"
)

const shutdownTimeout = 10 * time.Second

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "interpersonal",
		Short: "IndieAuth token authority and Micropub gateway for static sites",
		Long: `interpersonal lets IndieWeb clients sign in as the owner of a static site
and publish posts and media to it through Micropub.

Environment Variables:
  INTERPERSONAL_CONFIG  Path to the YAML config file (default: interpersonal.yml)`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to the config file (overrides INTERPERSONAL_CONFIG)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "init-db",
			Short: "Create the database schema",
			RunE:  runInitDB,
		},
		&cobra.Command{
			Use:   "set-owner-profile URI",
			Short: "Store the owner's profile URL in the database",
			Long: `set-owner-profile stores the profile URL returned to clients as "me".
It takes precedence over owner_profile in the config file from the next start.`,
			Args: cobra.ExactArgs(1),
			RunE: runSetOwnerProfile,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the interpersonal version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "interpersonal %s\n", version)
			},
		},
	)
	return root
}

// getConfigPath returns the config path from flag, env, or default (in
// priority order).
func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return interpersonal.EnvOr("INTERPERSONAL_CONFIG", "interpersonal.yml")
}

func loadConfig() (*interpersonal.Config, *slog.Logger, error) {
	cfg, err := interpersonal.LoadConfig(getConfigPath())
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	app := interpersonal.New(cfg, logger)
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- app.Start(ctx)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runInitDB(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := interpersonal.NewStore(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("database ready", "path", cfg.Database)
	return nil
}

func runSetOwnerProfile(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := interpersonal.NewStore(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetSetting(cmd.Context(), interpersonal.SettingOwnerProfile, args[0]); err != nil {
		return fmt.Errorf("set owner profile: %w", err)
	}
	logger.Info("owner profile set", "me", args[0])
	return nil
}
