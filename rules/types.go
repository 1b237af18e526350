package rules

import (
	"context"
	"fmt"
)

// DefaultRulebookID names the rulebook used when a caller gives no id
const DefaultRulebookID = "default"

// DefaultPriority is the baseline priority for rules that don't declare one
const DefaultPriority = 100

// ObjectID identifies a game object. The empty string means "absent".
type ObjectID string

// ActionKind names a kind of action ("open", "take", ...). The empty string means "any".
type ActionKind string

// Action is the host's view of an action being processed
type Action struct {
	Kind   ActionKind
	Parent *Action         // set when the action was raised while processing another
	Args   map[string]any // opaque payload for conditions and effects
}

// NewAction creates a top-level action of the given kind
func NewAction(kind ActionKind) *Action {
	return &Action{Kind: kind}
}

// Child creates an action raised while processing a
func (a *Action) Child(kind ActionKind) *Action {
	return &Action{Kind: kind, Parent: a}
}

func (a *Action) String() string {
	if a == nil {
		return "<nil>"
	}
	return string(a.Kind)
}

// Context is the per-call bundle handed to conditions and effects.
// It is built fresh for every Run and discarded afterwards.
type Context struct {
	RulebookID string
	Action     *Action
	Src        ObjectID
	Dst        ObjectID
	Timestamp  int64
	Nested     bool

	// Perceiver answers sensory queries for authored condition code
	Perceiver Perceiver

	ctx context.Context
}

// Ctx returns the context.Context of the Run that built this invocation context
func (c *Context) Ctx() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// ActionKind returns the kind of the current action, or "" if there is none
func (c *Context) ActionKind() ActionKind {
	if c.Action == nil {
		return ""
	}
	return c.Action.Kind
}

// CanPerceive is shorthand for asking the configured perceiver
func (c *Context) CanPerceive(observer, target ObjectID, sense Sense) bool {
	if c.Perceiver == nil {
		return false
	}
	return c.Perceiver.CanPerceive(observer, target, sense)
}

// OutcomeKind is the per-rule verdict
type OutcomeKind int

const (
	// OutcomeContinue proceeds to the next rule
	OutcomeContinue OutcomeKind = iota
	// OutcomeAbort stops the rulebook and vetoes the action
	OutcomeAbort
	// OutcomeReplace stops the rulebook and substitutes another action
	OutcomeReplace
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeContinue:
		return "continue"
	case OutcomeAbort:
		return "abort"
	case OutcomeReplace:
		return "replace"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// ParseOutcomeKind converts an outcome name to an OutcomeKind
func ParseOutcomeKind(s string) (OutcomeKind, error) {
	switch s {
	case "", "continue":
		return OutcomeContinue, nil
	case "abort":
		return OutcomeAbort, nil
	case "replace":
		return OutcomeReplace, nil
	default:
		return OutcomeContinue, fmt.Errorf("unknown outcome %q (must be one of: continue, abort, replace)", s)
	}
}

// Outcome is what an effect returns
type Outcome struct {
	Kind        OutcomeKind
	Replacement *Action // only for OutcomeReplace
}

// Continue lets the rulebook proceed
func Continue() Outcome {
	return Outcome{Kind: OutcomeContinue}
}

// Abort vetoes the action
func Abort() Outcome {
	return Outcome{Kind: OutcomeAbort}
}

// Replace stops the rulebook and asks the caller to dispatch action instead
func Replace(action *Action) Outcome {
	return Outcome{Kind: OutcomeReplace, Replacement: action}
}

// Verdict summarises a whole rulebook run
type Verdict int

const (
	// NoRuleFired means every member was filtered out or had a false condition
	NoRuleFired Verdict = iota
	// Completed means at least one rule fired and all of them continued
	Completed
	// Vetoed means a rule aborted the action
	Vetoed
	// Replaced means a rule substituted another action
	Replaced
)

func (v Verdict) String() string {
	switch v {
	case NoRuleFired:
		return "no_rule_fired"
	case Completed:
		return "completed"
	case Vetoed:
		return "vetoed"
	case Replaced:
		return "replaced"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// FiringRecord is the audit entry written for every rule whose condition held
type FiringRecord struct {
	ID         string
	RulebookID string
	RuleID     string // Handle of anonymous rules
	Action     ActionKind
	Outcome    OutcomeKind
	Timestamp  int64
	Err        error
}

// Result is the aggregate outcome of one Run
type Result struct {
	RulebookID  string
	Verdict     Verdict
	RuleID      string  // rule that vetoed or replaced
	Replacement *Action // set when Verdict == Replaced
	Nested      bool
	Firings     []FiringRecord
	Errors      []error // effect failures; the run is not stopped by them
}

// Fired reports whether any rule fired during the run
func (r *Result) Fired() bool {
	return len(r.Firings) > 0
}

// Err joins all effect errors, or returns nil
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return joinErrors(r.Errors)
}
