package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/cli"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy/source"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and validate policy files",
	Long: `Inspect and validate policy files.

Subcommands:
  validate - Validate a policy file or directory
  list     - List the policies a file or directory defines

Examples:
  # Validate the configured policy path
  governor policy validate

  # Validate a candidate directory in CI
  governor policy validate ./policies -o json`,
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a policy file or directory",
	Long: `Validate policy files against the configured feature and action registry.

Every file is parsed strictly (unknown fields are rejected) and the set as
a whole must contain exactly one enabled global policy. The path defaults
to policy.path from the configuration file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: validatePolicies,
}

var policyListCmd = &cobra.Command{
	Use:   "list [path]",
	Short: "List policies in a file or directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  listPolicies,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyValidateCmd)
	policyCmd.AddCommand(policyListCmd)
}

// PolicyValidationResult is the outcome of validating a policy path.
type PolicyValidationResult struct {
	Path     string              `json:"path" yaml:"path"`
	Valid    bool                `json:"valid" yaml:"valid"`
	Policies int                 `json:"policies" yaml:"policies"`
	Errors   []policy.FieldError `json:"errors,omitempty" yaml:"errors,omitempty"`
	Message  string              `json:"message,omitempty" yaml:"message,omitempty"`
}

func (r *PolicyValidationResult) writeText(w io.Writer) error {
	if r.Valid {
		fmt.Fprintf(w, "✓ %s: %d policies valid\n", r.Path, r.Policies)
		return nil
	}
	fmt.Fprintf(w, "✗ %s: invalid\n", r.Path)
	if r.Message != "" {
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
	for _, e := range r.Errors {
		if e.PolicyID != "" {
			fmt.Fprintf(w, "  [%s] %s: %s\n", e.PolicyID, e.Field, e.Message)
		} else {
			fmt.Fprintf(w, "  %s: %s\n", e.Field, e.Message)
		}
	}
	return nil
}

func validatePolicies(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.Policy.Path
	if len(args) > 0 {
		path = args[0]
	}

	res := &PolicyValidationResult{Path: path}
	defs, err := source.NewFileSource(path, nil).Load(commandContext(cmd))
	if err != nil {
		res.Message = err.Error()
	} else {
		res.Policies = len(defs)
		verr := policy.NewValidator(cfg.Registry.Build(), cfg.Policy.StrictPriorities).ValidateSet(defs)
		var ve *policy.ValidationError
		switch {
		case verr == nil:
			res.Valid = true
		case errors.As(verr, &ve):
			res.Errors = ve.Errors
		default:
			res.Message = verr.Error()
		}
	}

	if err := printResult(commandOut(cmd), res, res.writeText); err != nil {
		return err
	}
	if !res.Valid {
		return cli.NewCommandError("policy validate", fmt.Errorf("%s is not a valid policy set", path))
	}
	return nil
}

type policySummary struct {
	ID       string `json:"id" yaml:"id"`
	Target   string `json:"target" yaml:"target"`
	Priority int    `json:"priority" yaml:"priority"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Approval string `json:"approval" yaml:"approval"`
}

func listPolicies(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.Policy.Path
	if len(args) > 0 {
		path = args[0]
	}

	defs, err := source.NewFileSource(path, nil).Load(commandContext(cmd))
	if err != nil {
		return cli.NewCommandError("policy list", err)
	}
	summaries := make([]policySummary, len(defs))
	for i, d := range defs {
		summaries[i] = policySummary{
			ID:       d.ID,
			Target:   d.Target.Key(),
			Priority: d.Priority,
			Enabled:  d.Enabled,
			Approval: string(d.Approval),
		}
	}

	return printResult(commandOut(cmd), summaries, func(w io.Writer) error {
		tw := newTable(w)
		fmt.Fprintln(tw, "ID\tTARGET\tPRIORITY\tENABLED\tAPPROVAL")
		for _, s := range summaries {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\n", s.ID, s.Target, s.Priority, s.Enabled, s.Approval)
		}
		return tw.Flush()
	})
}
