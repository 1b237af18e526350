package rules

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownRulebook is returned by Run when the rulebook id doesn't resolve
	ErrUnknownRulebook = errors.New("unknown rulebook")

	// ErrDuplicateRuleID is returned when a rule id is already a member of the rulebook
	ErrDuplicateRuleID = errors.New("duplicate rule id")

	// ErrCyclicOrdering is returned when before/after constraints form a cycle
	ErrCyclicOrdering = errors.New("cyclic ordering constraint")

	// ErrConditionEvaluation marks a condition that failed to evaluate
	ErrConditionEvaluation = errors.New("condition evaluation failed")

	// ErrEffect marks an effect that failed
	ErrEffect = errors.New("effect failed")

	// ErrReplacementLimit is returned by Dispatch when replacements don't settle
	ErrReplacementLimit = errors.New("replacement limit exceeded")

	// ErrRulebookRegistered is returned when registering a rulebook id twice
	ErrRulebookRegistered = errors.New("rulebook already registered")
)

// CycleError lists the rules whose constraints could not be ordered
type CycleError struct {
	Rulebook string
	Rules    []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("rulebook %s: cyclic ordering constraint among [%s]", e.Rulebook, strings.Join(e.Rules, ", "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCyclicOrdering
}

// ConditionError wraps a failure raised while evaluating a rule's condition
type ConditionError struct {
	RuleID string
	Err    error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("rule %s: condition: %v", e.RuleID, e.Err)
}

func (e *ConditionError) Unwrap() error {
	return e.Err
}

func (e *ConditionError) Is(target error) bool {
	return target == ErrConditionEvaluation
}

// EffectError wraps a failure raised by a rule's effect
type EffectError struct {
	RuleID string
	Err    error
}

func (e *EffectError) Error() string {
	return fmt.Sprintf("rule %s: effect: %v", e.RuleID, e.Err)
}

func (e *EffectError) Unwrap() error {
	return e.Err
}

func (e *EffectError) Is(target error) bool {
	return target == ErrEffect
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
