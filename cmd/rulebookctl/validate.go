package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liamcoop/rulebook/worlds"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid     bool   `json:"valid"`
	Rulebooks int    `json:"rulebooks"`
	Rules     int    `json:"rules"`
	Error     string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <catalog>",
		Short: "Validate a catalog without running it",
		Long: `Validate a catalog file: identifiers, outcomes, rulebook references,
CEL conditions, named effects and before/after constraints.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd, args[0])
		},
	}
}

func runValidate(opts *RootOptions, cmd *cobra.Command, path string) error {
	out := cmd.OutOrStdout()

	catalog, effects, err := loadCatalog(opts, path)
	if err != nil {
		return err
	}

	result := ValidationResult{Rules: len(catalog.Rules), Rulebooks: len(catalog.Rulebooks)}
	// Build also catches ordering cycles, which validation alone can't see
	if _, err := worlds.Build(catalog, effects); err != nil {
		result.Error = err.Error()
	} else {
		result.Valid = true
	}

	if opts.Format == "json" {
		if err := writeJSON(out, result); err != nil {
			return err
		}
	} else if result.Valid {
		fmt.Fprintf(out, "✓ %s valid (%d rulebooks, %d rules)\n", path, result.Rulebooks, result.Rules)
	} else {
		fmt.Fprintf(out, "✗ %s invalid\n  %s\n", path, result.Error)
	}

	if !result.Valid {
		return fmt.Errorf("validation failed")
	}
	return nil
}
