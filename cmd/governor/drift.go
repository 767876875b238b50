package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/cli"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/drift"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/explain"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/governance"
)

var driftFlags struct {
	feature     string
	minSeverity string
	all         bool
	explain     string
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Detect and list drift signals",
	Long: `Run drift detection over the recorded decisions and list the resulting
signals. Drift compares a recent window against a baseline for override
rates, incident rates, budget pressure and decision mix.

Examples:
  # List open signals
  governor drift

  # High and critical signals for one feature, explained for a manager
  governor drift --feature translation --min-severity high --explain manager`,
	RunE: detectDrift,
}

func init() {
	rootCmd.AddCommand(driftCmd)

	driftCmd.Flags().StringVar(&driftFlags.feature, "feature", "", "only signals for this feature")
	driftCmd.Flags().StringVar(&driftFlags.minSeverity, "min-severity", "", "minimum severity (low, medium, high, critical)")
	driftCmd.Flags().BoolVar(&driftFlags.all, "all", false, "include resolved and dismissed signals")
	driftCmd.Flags().StringVar(&driftFlags.explain, "explain", "", "explain each signal for an audience")
}

type driftReport struct {
	Signal      *drift.Signal `json:"signal" yaml:"signal"`
	Explanation string        `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

func detectDrift(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	core, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer closeCore(core)

	if err := core.RunJob(ctx, governance.JobDrift); err != nil {
		return cli.NewCommandError("drift", err)
	}

	signals := core.DriftSignals(drift.Filter{
		Feature:     driftFlags.feature,
		MinSeverity: drift.Severity(driftFlags.minSeverity),
		OpenOnly:    !driftFlags.all,
	})
	reports := make([]driftReport, len(signals))
	for i, s := range signals {
		reports[i].Signal = s
		if driftFlags.explain != "" {
			if reports[i].Explanation, err = core.Explain(s, explain.Audience(driftFlags.explain)); err != nil {
				return cli.NewCommandError("drift", err)
			}
		}
	}

	return printResult(commandOut(cmd), reports, func(w io.Writer) error {
		return writeDrift(w, reports)
	})
}

func writeDrift(w io.Writer, reports []driftReport) error {
	if len(reports) == 0 {
		fmt.Fprintln(w, "No drift signals")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tSEVERITY\tTYPE\tFEATURE\tSTATUS\tDETECTED")
	for _, r := range reports {
		s := r.Signal
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Severity, s.Type, s.Feature, s.Status, s.DetectedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range reports {
		if r.Explanation != "" {
			fmt.Fprintf(w, "\n%s:\n%s\n", r.Signal.ID, r.Explanation)
		}
	}
	return nil
}
