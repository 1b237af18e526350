package worlds

import (
	"fmt"

	"github.com/liamcoop/rulebook/rules"
)

// Build validates c and turns it into a ready scheduler. opts are applied
// after the catalog's default rulebook, so they may override it.
func Build(c Catalog, effects *EffectRegistry, opts ...rules.Option) (*rules.Scheduler, error) {
	if err := ValidateCatalog(c, effects); err != nil {
		return nil, err
	}

	s := rules.NewScheduler(append([]rules.Option{rules.WithDefaultRulebook(c.DefaultRulebookID())}, opts...)...)

	// Constraints go in first so every add below is checked against them
	for _, d := range c.Rules {
		for _, later := range d.Before {
			if err := s.DeclareOrder(d.ID, later); err != nil {
				return nil, fmt.Errorf("rule %s before %s: %w", d.ID, later, err)
			}
		}
		for _, earlier := range d.After {
			if err := s.DeclareOrder(earlier, d.ID); err != nil {
				return nil, fmt.Errorf("rule %s after %s: %w", d.ID, earlier, err)
			}
		}
	}

	for _, def := range c.rulebookDefs() {
		if err := s.Register(rules.NewRulebook(def.ID, def.Priority)); err != nil {
			return nil, err
		}
	}

	for _, d := range c.Rules {
		m, err := buildMember(s, d, effects)
		if err != nil {
			return nil, err
		}

		books := d.Rulebooks
		if len(books) == 0 {
			books = []string{c.DefaultRulebookID()}
		}
		for _, rb := range books {
			if err := s.AddRule(rb, m); err != nil {
				return nil, err
			}
		}
	}

	return s, nil
}

func buildMember(s *rules.Scheduler, d Definition, effects *EffectRegistry) (rules.Member, error) {
	var opts []rules.RuleOption

	if d.Priority != nil {
		opts = append(opts, rules.WithPriority(*d.Priority))
	}
	if d.Disabled {
		opts = append(opts, rules.Disabled())
	}
	if d.TopLevelOnly {
		opts = append(opts, rules.TopLevelOnly())
	}

	if d.Condition != "" {
		cond, err := s.CompileCondition(d.Condition)
		if err != nil {
			return nil, fmt.Errorf("rule %s: condition: %w", d.ID, err)
		}
		opts = append(opts, rules.WithCondition(cond))
	}

	effect, err := buildEffect(d, effects)
	if err != nil {
		return nil, err
	}
	opts = append(opts, rules.WithEffect(effect))

	if d.IsTrigger() {
		filter := rules.TriggerFilter{
			Action: rules.ActionKind(d.Action),
			Src:    rules.ObjectID(d.Src),
			Dst:    rules.ObjectID(d.Dst),
		}
		return rules.NewTrigger(d.ID, filter, opts...), nil
	}
	return rules.NewRule(d.ID, opts...), nil
}

// buildEffect runs the named effect, if any, and then applies the declared
// outcome unless the effect already stopped the rulebook or failed
func buildEffect(d Definition, effects *EffectRegistry) (rules.Effect, error) {
	kind, err := rules.ParseOutcomeKind(d.Outcome)
	if err != nil {
		return nil, err
	}
	replacement := rules.ActionKind(d.Replace)

	declared := func(ctx *rules.Context) rules.Outcome {
		switch kind {
		case rules.OutcomeAbort:
			return rules.Abort()
		case rules.OutcomeReplace:
			// The substitute keeps the original's place in the action tree
			action := &rules.Action{Kind: replacement}
			if ctx.Action != nil {
				action.Parent = ctx.Action.Parent
				action.Args = ctx.Action.Args
			}
			return rules.Replace(action)
		default:
			return rules.Continue()
		}
	}

	if d.Effect == "" {
		return func(ctx *rules.Context) (rules.Outcome, error) {
			return declared(ctx), nil
		}, nil
	}

	named, ok := effects.Lookup(d.Effect)
	if !ok {
		return nil, fmt.Errorf("rule %s uses unregistered effect %q", d.ID, d.Effect)
	}
	return func(ctx *rules.Context) (rules.Outcome, error) {
		out, err := named(ctx)
		if err != nil || out.Kind != rules.OutcomeContinue {
			return out, err
		}
		return declared(ctx), nil
	}, nil
}
