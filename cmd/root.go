package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/specphone/specphone/cmd/analyze"
	"github.com/specphone/specphone/cmd/fit"
	"github.com/specphone/specphone/cmd/measure"
	"github.com/specphone/specphone/cmd/profile"
	"github.com/specphone/specphone/cmd/serve"
	"github.com/specphone/specphone/internal/conf"
	"github.com/specphone/specphone/internal/errors"
	"github.com/specphone/specphone/internal/logger"
)

// telemetryFlushTimeout bounds how long exit waits for queued error reports.
const telemetryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command
func RootCommand(ctx *conf.Context) *cobra.Command {
	var (
		configPath string
		debug      bool
		central    *logger.CentralLogger
	)

	rootCmd := &cobra.Command{
		Use:           "specphone",
		Short:         "Smartphone spectrophotometry quantification",
		Version:       ctx.Build.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	rootCmd.AddCommand(
		profile.Command(ctx),
		fit.Command(ctx),
		analyze.Command(ctx),
		measure.Command(ctx),
		serve.Command(ctx),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		settings, err := conf.Load(configPath)
		if err != nil {
			return err
		}
		if debug {
			settings.Debug = true
		}
		*ctx.Settings = *settings

		central, err = initialize(ctx)
		return err
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		errors.FlushTelemetry(telemetryFlushTimeout)
		if central == nil {
			return nil
		}
		return central.Close()
	}

	return rootCmd
}

// initialize sets up logging and telemetry once settings are loaded.
func initialize(ctx *conf.Context) (*logger.CentralLogger, error) {
	settings := ctx.Settings
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if settings.Telemetry.Sentry.Enabled {
		if err := errors.InitSentry(settings.Telemetry.Sentry.DSN, ctx.Build.GetVersion()); err != nil {
			central.Module("main").Warn("error reporting disabled", logger.Error(err))
		}
	}
	return central, nil
}
