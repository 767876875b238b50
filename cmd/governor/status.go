package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/cli"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/governance"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarise policies, recent decisions and systemic risk",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	core, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer closeCore(core)

	st, err := core.Status(ctx)
	if err != nil {
		return cli.NewCommandError("status", err)
	}
	return printResult(commandOut(cmd), st, func(w io.Writer) error {
		return writeStatus(w, st)
	})
}

func writeStatus(w io.Writer, st *governance.Status) error {
	enabled := "enabled"
	if !st.Enabled {
		enabled = "disabled"
	}
	fmt.Fprintf(w, "Governance %s\n", enabled)
	fmt.Fprintf(w, "  Policies:   %d (%d enabled), version %d\n", st.Policies, st.EnabledPolicies, st.PolicyVersion)
	fmt.Fprintf(w, "  Decisions:  %d in %s (%d allow, %d warn, %d block)\n",
		st.Decisions.Total, st.Window, st.Decisions.Allow, st.Decisions.Warn, st.Decisions.Block)
	fmt.Fprintf(w, "  Overrides:  %d active\n", st.ActiveOverrides)
	fmt.Fprintf(w, "  Drift:      %d open signals\n", st.OpenSignals)
	fmt.Fprintf(w, "  Patterns:   %d dangerous\n", st.DangerousPatterns)
	if st.Risk != nil {
		fmt.Fprintf(w, "  Risk:       %.1f (%s)\n", st.Risk.Score, st.Risk.Level)
	}

	if len(st.Jobs) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw := newTable(w)
	fmt.Fprintln(tw, "JOB\tSCHEDULE\tRUNS\tLAST ERROR")
	for _, j := range st.Jobs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", j.Name, j.Schedule, j.Runs, j.LastError)
	}
	return tw.Flush()
}
