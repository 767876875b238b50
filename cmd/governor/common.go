package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/cli"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/config"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/governance"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/telemetry/logging"
)

// loadConfig reads the --config file with environment overrides and sets up
// logging to stderr. Commands other than run share it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	} else if cfg.Telemetry.Logging.Level == "" || cfg.Telemetry.Logging.Level == "info" {
		// One-shot commands stay quiet unless something goes wrong.
		cfg.Telemetry.Logging.Level = "warn"
	}
	if _, err := logging.Setup(cfg.Telemetry.Logging, os.Stderr); err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	return cfg, nil
}

// openCore loads configuration and opens a governance core on it. The
// caller closes the core.
func openCore(ctx context.Context) (*governance.Core, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	core, err := governance.Open(ctx, cfg, governance.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open governance core: %w", err)
	}
	return core, nil
}

func closeCore(core *governance.Core) {
	if err := core.Close(); err != nil {
		slog.Warn("failed to close governance core", "error", err)
	}
}

// printResult writes v in the --output format. Text output is rendered by
// text when it is non-nil.
func printResult(w io.Writer, v any, text func(io.Writer) error) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	if format == cli.FormatText && text != nil {
		return text(w)
	}
	return cli.NewFormatter(format).FormatTo(w, v)
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd == nil || cmd.Context() == nil {
		return context.Background()
	}
	return cmd.Context()
}

func commandOut(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return rootCmd.OutOrStdout()
	}
	return cmd.OutOrStdout()
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
