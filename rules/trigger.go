package rules

import "fmt"

// TriggerFilter narrows a trigger to an action kind and participants.
// Empty fields are wildcards.
type TriggerFilter struct {
	Action ActionKind
	Src    ObjectID
	Dst    ObjectID
}

// Trigger is a rule that only matches contexts accepted by its filter
type Trigger struct {
	*Rule
	filter TriggerFilter
}

// NewTrigger creates a trigger. A filter with every field empty makes the
// trigger behave like a plain rule.
func NewTrigger(id string, filter TriggerFilter, opts ...RuleOption) *Trigger {
	return &Trigger{
		Rule:   NewRule(id, opts...),
		filter: filter,
	}
}

// Filter returns the trigger's filter
func (t *Trigger) Filter() TriggerFilter {
	return t.filter
}

// Matches is true when the trigger is enabled and every present filter
// field equals the context's field
func (t *Trigger) Matches(ctx *Context) bool {
	if !t.Rule.Matches(ctx) {
		return false
	}
	return t.filter.Accepts(ctx)
}

// Accepts applies only the filter fields, ignoring enablement
func (f TriggerFilter) Accepts(ctx *Context) bool {
	if f.Action != "" && f.Action != ctx.ActionKind() {
		return false
	}
	if f.Src != "" && f.Src != ctx.Src {
		return false
	}
	if f.Dst != "" && f.Dst != ctx.Dst {
		return false
	}
	return true
}

func (t *Trigger) String() string {
	return fmt.Sprintf("trigger %s (priority %d, action=%q src=%q dst=%q)",
		t.Handle(), t.Priority(), t.filter.Action, t.filter.Src, t.filter.Dst)
}
