package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewRuleDefaults verifies a rule starts enabled at the baseline priority
func TestNewRuleDefaults(t *testing.T) {
	r := NewRule("r1")

	assert.Equal(t, "r1", r.ID())
	assert.Equal(t, "r1", r.Handle())
	assert.Equal(t, DefaultPriority, r.Priority())
	assert.True(t, r.Enabled())
	assert.True(t, r.Matches(&Context{}))
}

// TestAnonymousRulesGetDistinctHandles verifies anonymous rules can share a rulebook
func TestAnonymousRulesGetDistinctHandles(t *testing.T) {
	a := NewRule("")
	b := NewRule("")

	assert.Empty(t, a.ID())
	assert.NotEmpty(t, a.Handle())
	assert.NotEqual(t, a.Handle(), b.Handle())
}

// TestDisabledRuleDoesNotMatch verifies disabled rules are skipped but keep their identity
func TestDisabledRuleDoesNotMatch(t *testing.T) {
	r := NewRule("r1", Disabled())
	assert.False(t, r.Matches(&Context{}))

	r.Enable()
	assert.True(t, r.Matches(&Context{}))

	r.SetEnabled(false)
	assert.False(t, r.Enabled())
}

// TestTopLevelOnlyRule verifies top-level rules ignore nested actions
func TestTopLevelOnlyRule(t *testing.T) {
	r := NewRule("r1", TopLevelOnly())

	assert.True(t, r.Matches(&Context{Nested: false}))
	assert.False(t, r.Matches(&Context{Nested: true}))
}

// TestEvaluateConditionDefaultsToTrue verifies rules without a condition always hold
func TestEvaluateConditionDefaultsToTrue(t *testing.T) {
	ok, err := NewRule("r1").EvaluateCondition(&Context{})
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestEvaluateConditionRecoversPanics verifies a panicking condition is reported as an error
func TestEvaluateConditionRecoversPanics(t *testing.T) {
	r := NewRule("r1", WithCondition(func(ctx *Context) (bool, error) {
		if ctx.Action == nil {
			panic("malformed context")
		}
		return true, nil
	}))

	ok, err := r.EvaluateCondition(&Context{})
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

// TestFireWithoutEffectContinues verifies rules without an effect continue
func TestFireWithoutEffectContinues(t *testing.T) {
	out, err := NewRule("r1").Fire(&Context{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeContinue, out.Kind)
}

// TestFireRecoversPanics verifies a panicking effect becomes an error and a Continue
func TestFireRecoversPanics(t *testing.T) {
	r := NewRule("r1", WithEffect(func(*Context) (Outcome, error) {
		panic("boom")
	}))

	out, err := r.Fire(&Context{})
	require.Error(t, err)
	assert.Equal(t, OutcomeContinue, out.Kind)
}

// TestFireReturnsEffectError verifies effect errors come back with the effect's outcome
func TestFireReturnsEffectError(t *testing.T) {
	failure := errors.New("door jammed")
	r := NewRule("r1", WithEffect(func(*Context) (Outcome, error) {
		return Abort(), failure
	}))

	out, err := r.Fire(&Context{})
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, OutcomeAbort, out.Kind)
}

// TestTriggerMatching covers the action/destination filter scenario
func TestTriggerMatching(t *testing.T) {
	trig := NewTrigger("t", TriggerFilter{Action: "open", Dst: "Door1"})

	testCases := []struct {
		name   string
		ctx    *Context
		expect bool
	}{
		{"matching action and dst", &Context{Action: NewAction("open"), Dst: "Door1"}, true},
		{"other dst", &Context{Action: NewAction("open"), Dst: "Door2"}, false},
		{"other action", &Context{Action: NewAction("close"), Dst: "Door1"}, false},
		{"src is unconstrained", &Context{Action: NewAction("open"), Src: "me", Dst: "Door1"}, true},
		{"missing dst", &Context{Action: NewAction("open")}, false},
		{"no action", &Context{Dst: "Door1"}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, trig.Matches(tc.ctx))
		})
	}
}

// TestTriggerSourceFilter verifies the src filter
func TestTriggerSourceFilter(t *testing.T) {
	trig := NewTrigger("t", TriggerFilter{Src: "Bob"})

	assert.True(t, trig.Matches(&Context{Action: NewAction("take"), Src: "Bob"}))
	assert.False(t, trig.Matches(&Context{Action: NewAction("take"), Src: "Alice"}))
}

// TestWildcardTriggerBehavesLikeRule verifies a trigger without filters matches everything
func TestWildcardTriggerBehavesLikeRule(t *testing.T) {
	trig := NewTrigger("t", TriggerFilter{})
	rule := NewRule("r")

	for _, ctx := range []*Context{
		{},
		{Action: NewAction("open"), Src: "a", Dst: "b"},
		{Action: NewAction("take").Child("lift"), Nested: true},
	} {
		assert.Equal(t, rule.Matches(ctx), trig.Matches(ctx))
	}
}

// TestDisabledTriggerDoesNotMatch verifies enablement is checked before the filter
func TestDisabledTriggerDoesNotMatch(t *testing.T) {
	trig := NewTrigger("t", TriggerFilter{Action: "open"}, Disabled())
	assert.False(t, trig.Matches(&Context{Action: NewAction("open")}))
}

// TestParseOutcomeKind verifies outcome names round-trip
func TestParseOutcomeKind(t *testing.T) {
	for _, k := range []OutcomeKind{OutcomeContinue, OutcomeAbort, OutcomeReplace} {
		parsed, err := ParseOutcomeKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseOutcomeKind("explode")
	assert.Error(t, err)
}
