package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/api"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/cli"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/config"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/governance"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/telemetry/health"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/telemetry/logging"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/telemetry/metrics"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/telemetry/tracing"
)

// healthCheckTimeout bounds each readiness check.
const healthCheckTimeout = 2 * time.Second

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the governance API server",
	Long: `Start the governance API server with the specified configuration.

The server loads policies, opens the budget ledger and event log, starts
the background learning, drift and recommendation jobs, and serves the
HTTP API until interrupted.

Examples:
  # Start with default config
  governor run

  # Start with custom config
  governor run --config /etc/governor/config.yaml

  # Override listen address
  governor run --listen 0.0.0.0:8080

  # Validate config and policies without starting the server
  governor run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config and policies without starting the server")
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()

	if runFlags.listenAddress != "" {
		cfg.API.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if _, err := logging.Setup(cfg.Telemetry.Logging, os.Stdout); err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	registry := metrics.NewRegistry()
	core, err := governance.Open(ctx, cfg, governance.Options{
		Registerer: registry,
		Tracer:     tracer.Tracer(),
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer closeCore(core)

	snap := core.Policies()
	fmt.Printf("Governor v%s\n", Version)
	fmt.Printf("✓ Configuration loaded from %s\n", cfgFile)
	fmt.Printf("✓ Policies loaded (%d policies, version %d)\n", snap.Len(), snap.Version)
	fmt.Printf("✓ Ledger backend: %s, event log: %s\n", cfg.Ledger.Backend, cfg.Events.Backend)

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	checker := health.New(healthCheckTimeout)
	core.RegisterHealthChecks(checker)

	deps := api.Deps{
		Core:    core,
		Health:  checker,
		Metrics: metrics.NewHTTPMetrics(registry),
	}
	if cfg.Telemetry.Metrics.IsEnabled() {
		deps.Gatherer = registry
	}
	srv := api.NewServer(&cfg.API, deps)

	if err := core.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Printf("✓ Server listening on %s\n", cfg.API.ListenAddress)
	fmt.Printf("✓ Health endpoint: http://%s/health\n", cfg.API.ListenAddress)
	if deps.Gatherer != nil {
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.API.ListenAddress)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil {
		slog.Error("server failed", "error", err)
		return cli.NewCommandError("run", err)
	}

	fmt.Println("✓ Server stopped")
	return nil
}
