package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/cli"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy/source"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/simulate"
)

var simulateFlags struct {
	policyFile string
	policyID   string
	since      string
	until      string
	window     time.Duration
	changes    int
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay recorded decisions against a candidate policy",
	Long: `Replay recorded decisions against a candidate policy and report how
outcomes, incidents and spend would have changed. Nothing is enforced or
recorded.

The candidate is read from a policy file. When the file defines more than
one policy, --id selects the candidate.

Examples:
  # Replay the last seven days
  governor simulate --policy candidate.yaml

  # Replay a fixed window
  governor simulate --policy candidate.yaml --since 2026-01-01T00:00:00Z --until 2026-01-08T00:00:00Z

  # Replay the last three days as JSON
  governor simulate --policy candidate.yaml --window 72h -o json`,
	RunE: simulatePolicy,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVarP(&simulateFlags.policyFile, "policy", "p", "", "policy file holding the candidate (required)")
	simulateCmd.Flags().StringVar(&simulateFlags.policyID, "id", "", "candidate policy id when the file holds several")
	simulateCmd.Flags().StringVar(&simulateFlags.since, "since", "", "window start (RFC 3339)")
	simulateCmd.Flags().StringVar(&simulateFlags.until, "until", "", "window end (RFC 3339, default now)")
	simulateCmd.Flags().DurationVar(&simulateFlags.window, "window", 0, "window length ending now, instead of --since")
	simulateCmd.Flags().IntVar(&simulateFlags.changes, "changes", 10, "changed decisions to list in text output")
	_ = simulateCmd.MarkFlagRequired("policy")
}

func simulatePolicy(cmd *cobra.Command, args []string) error {
	if simulateFlags.policyFile == "" {
		return errors.New("--policy must be specified")
	}
	candidate, err := readCandidate(simulateFlags.policyFile, simulateFlags.policyID)
	if err != nil {
		return cli.NewCommandError("simulate", err)
	}
	window, err := simulationWindow(time.Now())
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	core, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer closeCore(core)

	res, err := core.Simulate(ctx, candidate, window)
	if err != nil {
		return cli.NewCommandError("simulate", err)
	}
	return printResult(commandOut(cmd), res, func(w io.Writer) error {
		return writeSimulation(w, res, simulateFlags.changes)
	})
}

// readCandidate returns the policy with id from path, or its only policy
// when id is empty.
func readCandidate(path, id string) (*policy.Definition, error) {
	doc, err := source.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if id == "" {
		if len(doc.Policies) != 1 {
			return nil, fmt.Errorf("%s defines %d policies; select one with --id", path, len(doc.Policies))
		}
		return doc.Policies[0], nil
	}
	for _, def := range doc.Policies {
		if def.ID == id {
			return def, nil
		}
	}
	return nil, fmt.Errorf("%s has no policy %q", path, id)
}

// simulationWindow resolves the window flags. A zero window lets the core
// apply its default.
func simulationWindow(now time.Time) (simulate.Window, error) {
	var w simulate.Window
	if simulateFlags.window > 0 {
		if simulateFlags.since != "" {
			return w, errors.New("--window and --since are mutually exclusive")
		}
		return simulate.Window{Since: now.Add(-simulateFlags.window), Until: now}, nil
	}
	if simulateFlags.since == "" {
		if simulateFlags.until != "" {
			return w, errors.New("--until requires --since")
		}
		return w, nil
	}

	since, err := time.Parse(time.RFC3339, simulateFlags.since)
	if err != nil {
		return w, fmt.Errorf("invalid --since: %w", err)
	}
	until := now
	if simulateFlags.until != "" {
		if until, err = time.Parse(time.RFC3339, simulateFlags.until); err != nil {
			return w, fmt.Errorf("invalid --until: %w", err)
		}
	}
	return simulate.Window{Since: since, Until: until}, nil
}

func writeSimulation(w io.Writer, r *simulate.Result, maxChanges int) error {
	fmt.Fprintf(w, "Simulation of %s\n", r.PolicyID)
	fmt.Fprintf(w, "  Window:     %s to %s\n", r.Window.Since.Format(time.RFC3339), r.Window.Until.Format(time.RFC3339))
	fmt.Fprintf(w, "  Replayed:   %d decisions (%d skipped)\n", r.RecordsProcessed, r.Skipped)
	if r.Truncated {
		fmt.Fprintln(w, "  Warning:    the window held more decisions than the replay limit")
	}
	fmt.Fprintf(w, "  Recorded:   %d allow, %d warn, %d block\n", r.Recorded.Allow, r.Recorded.Warn, r.Recorded.Block)
	fmt.Fprintf(w, "  Simulated:  %d allow, %d warn, %d block\n", r.Replayed.Allow, r.Replayed.Warn, r.Replayed.Block)
	fmt.Fprintf(w, "  Changed:    %d decisions\n", r.DecisionsChanged)
	fmt.Fprintf(w, "  Incidents:  %+.2f predicted\n", r.PredictedIncidentDelta)
	fmt.Fprintf(w, "  Spend:      %+d\n", r.PredictedCostDelta)

	if len(r.Changes) == 0 || maxChanges <= 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw := newTable(w)
	fmt.Fprintln(tw, "AT\tFEATURE\tACTION\tRECORDED\tSIMULATED")
	for i, c := range r.Changes {
		if i == maxChanges {
			break
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.At.Format(time.RFC3339), c.Feature, c.Action, c.Recorded, c.Replayed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if n := len(r.Changes) - maxChanges; n > 0 {
		fmt.Fprintf(w, "... and %d more\n", n)
	}
	return nil
}
