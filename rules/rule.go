package rules

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Condition decides whether a rule fires for a context
type Condition func(*Context) (bool, error)

// Effect performs a rule's side effects and returns its verdict
type Effect func(*Context) (Outcome, error)

// Member is the capability every rulebook member provides.
// *Rule and *Trigger implement it.
type Member interface {
	// ID is the author-given id, "" for anonymous rules
	ID() string
	// Handle is ID, or a generated id for anonymous rules
	Handle() string
	Priority() int
	Enabled() bool
	SetEnabled(enabled bool)
	Matches(ctx *Context) bool
	EvaluateCondition(ctx *Context) (bool, error)
	Fire(ctx *Context) (Outcome, error)
}

// Rule is a condition/effect pair with an identity and a priority.
// Rules are shared by pointer between rulebooks, so enabling or disabling
// one is visible everywhere it is a member.
type Rule struct {
	id           string
	handle       string
	priority     int
	enabled      atomic.Bool
	topLevelOnly bool
	condition    Condition
	effect       Effect
}

// RuleOption configures a Rule
type RuleOption func(*Rule)

// WithPriority sets the rule's declared priority
func WithPriority(p int) RuleOption {
	return func(r *Rule) { r.priority = p }
}

// WithCondition sets the rule's condition. Rules without one always hold.
func WithCondition(c Condition) RuleOption {
	return func(r *Rule) { r.condition = c }
}

// WithEffect sets the rule's effect. Rules without one continue.
func WithEffect(e Effect) RuleOption {
	return func(r *Rule) { r.effect = e }
}

// WithOutcome sets an effect that does nothing but return o
func WithOutcome(o Outcome) RuleOption {
	return func(r *Rule) {
		r.effect = func(*Context) (Outcome, error) { return o, nil }
	}
}

// Disabled registers the rule in the disabled state
func Disabled() RuleOption {
	return func(r *Rule) { r.enabled.Store(false) }
}

// TopLevelOnly restricts the rule to actions that have no parent action
func TopLevelOnly() RuleOption {
	return func(r *Rule) { r.topLevelOnly = true }
}

// NewRule creates an enabled rule. id may be empty for anonymous rules.
func NewRule(id string, opts ...RuleOption) *Rule {
	r := &Rule{
		id:       id,
		handle:   id,
		priority: DefaultPriority,
	}
	r.enabled.Store(true)
	if r.handle == "" {
		r.handle = "anon-" + uuid.NewString()
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Rule) ID() string     { return r.id }
func (r *Rule) Handle() string { return r.handle }
func (r *Rule) Priority() int  { return r.priority }
func (r *Rule) Enabled() bool  { return r.enabled.Load() }

// TopLevelOnly reports whether the rule ignores nested actions
func (r *Rule) TopLevelOnly() bool { return r.topLevelOnly }

// Enable turns the rule on
func (r *Rule) Enable() { r.enabled.Store(true) }

// Disable turns the rule off. It stays registered.
func (r *Rule) Disable() { r.enabled.Store(false) }

// SetEnabled sets the enabled flag
func (r *Rule) SetEnabled(enabled bool) { r.enabled.Store(enabled) }

// Matches is true for any context while the rule is enabled
func (r *Rule) Matches(ctx *Context) bool {
	if !r.Enabled() {
		return false
	}
	if r.topLevelOnly && ctx.Nested {
		return false
	}
	return true
}

// EvaluateCondition runs the condition. A panic is turned into an error.
func (r *Rule) EvaluateCondition(ctx *Context) (ok bool, err error) {
	if r.condition == nil {
		return true, nil
	}
	defer func() {
		if p := recover(); p != nil {
			ok = false
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.condition(ctx)
}

// Fire runs the effect. A panic is turned into an error and a Continue outcome.
func (r *Rule) Fire(ctx *Context) (out Outcome, err error) {
	if r.effect == nil {
		return Continue(), nil
	}
	defer func() {
		if p := recover(); p != nil {
			out = Continue()
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.effect(ctx)
}

func (r *Rule) String() string {
	return fmt.Sprintf("rule %s (priority %d)", r.handle, r.priority)
}
