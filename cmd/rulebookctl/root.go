package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/liamcoop/rulebook/internal/logger"
	"github.com/liamcoop/rulebook/rules"
	"github.com/liamcoop/rulebook/worlds"
)

// RootOptions holds global flags for all commands
type RootOptions struct {
	Verbose     bool
	Format      string // "json" | "text"
	StubEffects bool
}

// ValidFormats defines the allowed output formats
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the authoring CLI
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rulebookctl",
		Short: "Author and inspect rulebook catalogs",
		Long:  "Validate catalogs, print resolved rulebook orders and dry-run actions against a catalog.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level := logger.LevelWarning
			if opts.Verbose {
				level = logger.LevelDebug
			}
			logger.SetOutput(cmd.ErrOrStderr(), "text")
			logger.SetLevel(level)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.StubEffects, "stub-effects", false, "stand in a continuing no-op for every named effect")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewOrderCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadCatalog reads a catalog file and the effect registry it is checked against
func loadCatalog(opts *RootOptions, path string) (worlds.Catalog, *worlds.EffectRegistry, error) {
	catalog, err := worlds.LoadCatalog(path)
	if err != nil {
		return worlds.Catalog{}, nil, err
	}

	effects := worlds.NewEffectRegistry()
	if !opts.StubEffects {
		return catalog, effects, nil
	}

	names := make(map[string]bool)
	for _, d := range catalog.Rules {
		if d.Effect != "" {
			names[d.Effect] = true
		}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		err := effects.Register(name, func(ctx *rules.Context) (rules.Outcome, error) {
			logger.Debug("stub effect", "effect", name, "rulebook", ctx.RulebookID, "action", ctx.Action.String())
			return rules.Continue(), nil
		})
		if err != nil {
			return worlds.Catalog{}, nil, fmt.Errorf("effect %q: %w", name, err)
		}
	}
	return catalog, effects, nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
