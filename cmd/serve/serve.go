package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/specphone/specphone/internal/analysis"
	"github.com/specphone/specphone/internal/api"
	"github.com/specphone/specphone/internal/calibration"
	"github.com/specphone/specphone/internal/conf"
	"github.com/specphone/specphone/internal/device"
	"github.com/specphone/specphone/internal/logger"
	"github.com/specphone/specphone/internal/observability/metrics"
)

// Command creates the serve command, which exposes the quantification API
// over HTTP until interrupted.
func Command(ctx *conf.Context) *cobra.Command {
	var host, port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the quantification API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if host != "" {
				ctx.Settings.WebServer.Host = host
			}
			if port != "" {
				ctx.Settings.WebServer.Port = port
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(runCtx, ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen address (overrides config)")
	cmd.Flags().StringVar(&port, "port", "", "Listen port (overrides config)")

	return cmd
}

func run(ctx context.Context, cctx *conf.Context) error {
	settings := cctx.Settings
	log := logger.Global().Module("serve")

	store := device.NewStore(settings.Device.ProfilePath)
	if err := store.Load(); err != nil {
		return err
	}

	m, err := metrics.New()
	if err != nil {
		return err
	}

	q, err := analysis.NewFromSettings(settings, store, m)
	if err != nil {
		return err
	}

	opts := []api.ServerOption{
		api.WithProfiles(store),
		api.WithMetrics(m),
		api.WithVersion(cctx.Build.GetVersion()),
	}

	s := settings.Storage
	dialector, err := calibration.Dialector(s.Type, s.Path, s.DSN)
	if err != nil {
		return err
	}
	lib, err := calibration.Open(dialector, s.CacheTTL)
	if err != nil {
		log.Warn("curve library unavailable, curve endpoints disabled", logger.Error(err))
	} else {
		defer func() { _ = lib.Close() }()
		opts = append(opts, api.WithLibrary(lib))
	}

	server, err := api.NewFromSettings(settings, q, opts...)
	if err != nil {
		return err
	}
	server.Start()

	<-ctx.Done()
	log.Info("shutting down")
	return server.Shutdown(context.Background())
}
