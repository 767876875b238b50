package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/cli"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/decision"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/explain"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/ledger"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

var evaluateFlags struct {
	feature string
	action  string
	entity  string
	locale  string
	team    string
	spend   int64
	writes  int64
	explain string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Decide whether an action may run",
	Long: `Evaluate a single action against the loaded policies and current budget
usage. Nothing is executed, consumed or recorded.

The command exits with status 3 when the action is blocked.

Examples:
  # Check a translation
  governor evaluate --feature translation --action translate --locale de

  # Check a publish with an explanation for an operator
  governor evaluate --feature content_publishing --action content_publish --explain operator

  # JSON output for scripts
  governor evaluate --feature ai_generation --action ai_generate --spend 40 -o json`,
	RunE: evaluateAction,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVar(&evaluateFlags.feature, "feature", "", "feature requesting the action (required)")
	evaluateCmd.Flags().StringVar(&evaluateFlags.action, "action", "", "action to evaluate (required)")
	evaluateCmd.Flags().StringVar(&evaluateFlags.entity, "entity", "", "entity the action touches")
	evaluateCmd.Flags().StringVar(&evaluateFlags.locale, "locale", "", "locale the action touches")
	evaluateCmd.Flags().StringVar(&evaluateFlags.team, "team", "", "team that owns the feature")
	evaluateCmd.Flags().Int64Var(&evaluateFlags.spend, "spend", 0, "estimated spend")
	evaluateCmd.Flags().Int64Var(&evaluateFlags.writes, "db-writes", 0, "estimated database writes")
	evaluateCmd.Flags().StringVar(&evaluateFlags.explain, "explain", "", "explain the decision for an audience (executive, manager, developer, operator)")
	_ = evaluateCmd.MarkFlagRequired("feature")
	_ = evaluateCmd.MarkFlagRequired("action")
}

type evaluateResult struct {
	Decision    *decision.Decision `json:"decision" yaml:"decision"`
	Explanation string             `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

func evaluateAction(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	if evaluateFlags.feature == "" || evaluateFlags.action == "" {
		return errors.New("both --feature and --action must be specified")
	}

	core, err := openCore(ctx)
	if err != nil {
		return err
	}
	defer closeCore(core)

	req := &decision.Request{
		Feature:  policy.Feature(evaluateFlags.feature),
		Action:   policy.Action(evaluateFlags.action),
		EntityID: evaluateFlags.entity,
		Locale:   evaluateFlags.locale,
		Team:     evaluateFlags.team,
	}
	if evaluateFlags.spend > 0 || evaluateFlags.writes > 0 {
		req.Estimate = ledger.Deltas{Actions: 1, Spend: evaluateFlags.spend, DBWrites: evaluateFlags.writes}
	}

	d, err := core.Evaluate(ctx, req)
	if err != nil {
		return cli.NewCommandError("evaluate", err)
	}

	res := evaluateResult{Decision: d}
	if evaluateFlags.explain != "" {
		res.Explanation, err = core.Explain(d, explain.Audience(evaluateFlags.explain))
		if err != nil {
			return cli.NewCommandError("evaluate", err)
		}
	}

	if err := printResult(commandOut(cmd), res, res.writeText); err != nil {
		return err
	}
	if d.Outcome == decision.OutcomeBlock {
		return &cli.CommandError{
			Command: "evaluate",
			Err:     fmt.Errorf("action blocked: %s", strings.Join(d.ReasonCodes(), ", ")),
			Code:    cli.ExitBlocked,
		}
	}
	return nil
}

func (r evaluateResult) writeText(w io.Writer) error {
	d := r.Decision
	fmt.Fprintf(w, "%s %s/%s\n", d.Outcome, d.Feature, d.Action)
	if d.MatchedPolicyID != "" {
		fmt.Fprintf(w, "  Policy:  %s (%s, version %d)\n", d.MatchedPolicyID, d.MatchedTarget.Key(), d.PolicyVersion)
	}
	if d.Approval != "" {
		fmt.Fprintf(w, "  Approval: %s\n", d.Approval)
	}
	for _, reason := range d.Reasons {
		fmt.Fprintf(w, "  [%s] %s\n", reason.Code, reason.Message)
	}
	if d.RetryAfterSeconds > 0 {
		fmt.Fprintf(w, "  Retry after: %s\n", d.RetryAfter())
	}
	if d.OverrideActive {
		fmt.Fprintln(w, "  Override active")
	}
	if r.Explanation != "" {
		fmt.Fprintf(w, "\n%s\n", r.Explanation)
	}
	return nil
}
