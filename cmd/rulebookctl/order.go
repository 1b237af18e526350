package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liamcoop/rulebook/rules"
	"github.com/liamcoop/rulebook/worlds"
)

// OrderedRulebook is one rulebook's resolved execution order
type OrderedRulebook struct {
	ID       string   `json:"id"`
	Priority int      `json:"priority"`
	Rules    []string `json:"rules"`
	Error    string   `json:"error,omitempty"`
}

// NewOrderCommand creates the order command
func NewOrderCommand(rootOpts *RootOptions) *cobra.Command {
	var rulebookID string

	cmd := &cobra.Command{
		Use:           "order <catalog>",
		Short:         "Print the resolved execution order of each rulebook",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrder(rootOpts, cmd, args[0], rulebookID)
		},
	}

	cmd.Flags().StringVar(&rulebookID, "rulebook", "", "only print this rulebook")

	return cmd
}

func runOrder(opts *RootOptions, cmd *cobra.Command, path, rulebookID string) error {
	out := cmd.OutOrStdout()

	catalog, effects, err := loadCatalog(opts, path)
	if err != nil {
		return err
	}
	s, err := worlds.Build(catalog, effects)
	if err != nil {
		return err
	}

	books := s.Rulebooks()
	if rulebookID != "" {
		rb, err := s.Rulebook(rulebookID)
		if err != nil {
			return err
		}
		books = []*rules.Rulebook{rb}
	}

	ordered := make([]OrderedRulebook, 0, len(books))
	for _, rb := range books {
		entry := OrderedRulebook{ID: rb.ID(), Priority: rb.Priority(), Rules: []string{}}
		order, err := s.Order(rb.ID())
		if err != nil {
			entry.Error = err.Error()
		}
		for _, slot := range order {
			entry.Rules = append(entry.Rules, slot.Member.Handle())
		}
		ordered = append(ordered, entry)
	}

	if opts.Format == "json" {
		return writeJSON(out, ordered)
	}

	for _, entry := range ordered {
		fmt.Fprintf(out, "%s (priority %d)\n", entry.ID, entry.Priority)
		if entry.Error != "" {
			fmt.Fprintf(out, "  ✗ %s\n", entry.Error)
			continue
		}
		for i, id := range entry.Rules {
			fmt.Fprintf(out, "  %d. %s\n", i+1, id)
		}
	}
	return nil
}
