package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liamcoop/rulebook/audit"
	"github.com/liamcoop/rulebook/rules"
	"github.com/liamcoop/rulebook/worlds"
)

// RunOptions holds flags for the run command
type RunOptions struct {
	Rulebook string
	Action   string
	Parent   string
	Src      string
	Dst      string
	Dispatch bool
}

// RunStep is one rulebook run in the output
type RunStep struct {
	Action      string   `json:"action"`
	Rulebook    string   `json:"rulebook"`
	Verdict     string   `json:"verdict"`
	DecidedBy   string   `json:"decidedBy,omitempty"`
	Replacement string   `json:"replacement,omitempty"`
	Fired       []string `json:"fired"`
	Errors      []string `json:"errors,omitempty"`
}

// RunOutput is the result of a dry run
type RunOutput struct {
	Action  string    `json:"action"`
	Verdict string    `json:"verdict"`
	Steps   []RunStep `json:"steps"`
	Error   string    `json:"error,omitempty"`
}

// NewRunCommand creates the run command
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	runOpts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <catalog>",
		Short: "Dry-run an action against a catalog",
		Long: `Build the catalog in memory and run one rulebook for an action.
With --dispatch, replacements are followed until the action settles.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(rootOpts, runOpts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&runOpts.Rulebook, "rulebook", "", "rulebook to run (default rulebook when empty)")
	cmd.Flags().StringVar(&runOpts.Action, "action", "", "action kind (required)")
	cmd.Flags().StringVar(&runOpts.Parent, "parent", "", "run the action nested under a parent of this kind")
	cmd.Flags().StringVar(&runOpts.Src, "src", "", "source object")
	cmd.Flags().StringVar(&runOpts.Dst, "dst", "", "destination object")
	cmd.Flags().BoolVar(&runOpts.Dispatch, "dispatch", false, "follow replacements")
	_ = cmd.MarkFlagRequired("action")

	return cmd
}

func runRun(opts *RootOptions, runOpts *RunOptions, cmd *cobra.Command, path string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	catalog, effects, err := loadCatalog(opts, path)
	if err != nil {
		return err
	}
	s, err := worlds.Build(catalog, effects, rules.WithRecorder(audit.NewInMemoryLog(audit.DefaultCapacity)))
	if err != nil {
		return err
	}

	action := rules.NewAction(rules.ActionKind(runOpts.Action))
	if runOpts.Parent != "" {
		action = rules.NewAction(rules.ActionKind(runOpts.Parent)).Child(action.Kind)
	}
	src, dst := rules.ObjectID(runOpts.Src), rules.ObjectID(runOpts.Dst)

	var (
		results []*rules.Result
		final   = action
		runErr  error
	)
	if runOpts.Dispatch {
		d, err := s.Dispatch(ctx, runOpts.Rulebook, action, src, dst)
		if err != nil && !errors.Is(err, rules.ErrReplacementLimit) {
			return err
		}
		results, final, runErr = d.Steps, d.Action, err
	} else {
		res, err := s.Run(ctx, runOpts.Rulebook, action, src, dst)
		if err != nil {
			return err
		}
		results = []*rules.Result{res}
	}

	output := RunOutput{Action: final.String(), Steps: make([]RunStep, 0, len(results))}
	current := action
	for _, res := range results {
		step := RunStep{
			Action:    current.String(),
			Rulebook:  res.RulebookID,
			Verdict:   res.Verdict.String(),
			DecidedBy: res.RuleID,
			Fired:     []string{},
		}
		for _, rec := range res.Firings {
			step.Fired = append(step.Fired, rec.RuleID)
		}
		for _, err := range res.Errors {
			step.Errors = append(step.Errors, err.Error())
		}
		if res.Replacement != nil {
			step.Replacement = res.Replacement.String()
			current = res.Replacement
		}
		output.Steps = append(output.Steps, step)
		output.Verdict = step.Verdict
	}
	if runErr != nil {
		output.Error = runErr.Error()
	}

	if opts.Format == "json" {
		if err := writeJSON(out, output); err != nil {
			return err
		}
		return runErr
	}

	for _, step := range output.Steps {
		fmt.Fprintf(out, "%s in %s: %s", step.Action, step.Rulebook, step.Verdict)
		if step.DecidedBy != "" {
			fmt.Fprintf(out, " by %s", step.DecidedBy)
		}
		if step.Replacement != "" {
			fmt.Fprintf(out, " -> %s", step.Replacement)
		}
		fmt.Fprintln(out)
		for _, id := range step.Fired {
			fmt.Fprintf(out, "  fired %s\n", id)
		}
		for _, e := range step.Errors {
			fmt.Fprintf(out, "  ✗ %s\n", e)
		}
	}
	return runErr
}
