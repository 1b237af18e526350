package rules

import (
	"context"
	"fmt"
)

// DispatchResult is the outcome of running a rulebook until no rule
// replaces the action any more
type DispatchResult struct {
	// Action is the action the chain settled on
	Action *Action
	// Final is the result of the last run
	Final *Result
	// Steps holds every run in order; Steps[len-1] == Final
	Steps []*Result
}

// Replacements returns how many times the action was substituted
func (d *DispatchResult) Replacements() int {
	return len(d.Steps) - 1
}

// Dispatch runs a rulebook and, while a rule replaces the action, runs it
// again in the same turn for the substitute with the same participants.
// Run itself never recurses; this loop is the only re-dispatch mechanism and
// is bounded by WithMaxReplacements. A replacement without an action ends
// the loop and is returned as is.
func (s *Scheduler) Dispatch(ctx context.Context, rulebookID string, action *Action, src, dst ObjectID) (*DispatchResult, error) {
	out := &DispatchResult{Action: action}

	for {
		res, err := s.Run(ctx, rulebookID, out.Action, src, dst)
		if err != nil {
			return out, err
		}
		out.Steps = append(out.Steps, res)
		out.Final = res

		if res.Verdict != Replaced || res.Replacement == nil {
			return out, nil
		}
		if out.Replacements() >= s.maxReplacements {
			s.diag.Warn("replacement chain did not settle",
				"rulebook", res.RulebookID, "action", action.String(), "limit", s.maxReplacements)
			return out, fmt.Errorf("rulebook %s: action %s: %w (%d)", res.RulebookID, action, ErrReplacementLimit, s.maxReplacements)
		}
		out.Action = res.Replacement
	}
}
