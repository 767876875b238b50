package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/cli"
)

var (
	// Global flags
	cfgFile      string
	verbose      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "governor",
	Short: "Governor - governance for autonomous content operations",
	Long: `Governor decides whether autonomous actions such as content publishing,
AI generation and translation may run, under layered policies and
consumption budgets.

Every decision is recorded together with its outcome. Recorded history
feeds incident tracking, systemic risk scoring, drift detection, pattern
learning, budget recommendations and policy simulation.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return cli.ExitCode(err)
	}
	return cli.ExitOK
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json, yaml")
}
