package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slotsFor(members ...Member) []membership {
	out := make([]membership, len(members))
	for i, m := range members {
		out[i] = membership{member: m, priority: m.Priority(), seq: uint64(i + 1)}
	}
	return out
}

func handles(ms []membership) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.member.Handle()
	}
	return out
}

// TestResolveOrderPriorityDescending verifies higher priority always runs first
func TestResolveOrderPriorityDescending(t *testing.T) {
	slots := slotsFor(
		NewRule("low", WithPriority(1)),
		NewRule("high", WithPriority(10)),
		NewRule("mid", WithPriority(5)),
	)

	ordered, err := resolveOrder("book", slots, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "mid", "low"}, handles(ordered))
}

// TestResolveOrderInsertionTieBreak verifies equal priorities keep insertion order
func TestResolveOrderInsertionTieBreak(t *testing.T) {
	slots := slotsFor(NewRule("r1"), NewRule("r2"), NewRule("r3"))

	ordered, err := resolveOrder("book", slots, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3"}, handles(ordered))
}

// TestResolveOrderBeforeConstraint verifies "A before B" overrides insertion order
func TestResolveOrderBeforeConstraint(t *testing.T) {
	slots := slotsFor(NewRule("b"), NewRule("a"))

	ordered, err := resolveOrder("book", slots, []Constraint{{Before: "a", After: "b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, handles(ordered))
}

// TestResolveOrderConstraintIsTransitive verifies constraints chain through rules
// that aren't members of the rulebook
func TestResolveOrderConstraintIsTransitive(t *testing.T) {
	slots := slotsFor(NewRule("c"), NewRule("x"), NewRule("a"))

	constraints := []Constraint{
		{Before: "a", After: "b"}, // b is not a member
		{Before: "b", After: "c"},
	}

	ordered, err := resolveOrder("book", slots, constraints)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "a", "c"}, handles(ordered))
}

// TestResolveOrderPriorityBeatsConstraint verifies constraints only break priority ties
func TestResolveOrderPriorityBeatsConstraint(t *testing.T) {
	slots := slotsFor(
		NewRule("a", WithPriority(1)),
		NewRule("b", WithPriority(10)),
	)

	ordered, err := resolveOrder("book", slots, []Constraint{{Before: "a", After: "b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, handles(ordered))
}

// TestResolveOrderDetectsCycle verifies cyclic constraints are reported, not resolved
func TestResolveOrderDetectsCycle(t *testing.T) {
	slots := slotsFor(NewRule("a"), NewRule("b"), NewRule("c"))

	_, err := resolveOrder("book", slots, []Constraint{
		{Before: "a", After: "b"},
		{Before: "b", After: "a"},
	})

	require.ErrorIs(t, err, ErrCyclicOrdering)
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, "book", cycle.Rulebook)
	assert.Contains(t, cycle.Rules, "a")
	assert.Contains(t, cycle.Rules, "b")
}

// TestResolveOrderIsDeterministic verifies repeated resolution yields the same order
func TestResolveOrderIsDeterministic(t *testing.T) {
	slots := slotsFor(
		NewRule("d"), NewRule("c"), NewRule("b"), NewRule("a"),
		NewRule("e", WithPriority(200)),
	)
	constraints := []Constraint{{Before: "a", After: "c"}, {Before: "b", After: "d"}}

	first, err := resolveOrder("book", slots, constraints)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := resolveOrder("book", slots, constraints)
		require.NoError(t, err)
		assert.Equal(t, handles(first), handles(again))
	}
	assert.Equal(t, []string{"e", "b", "d", "a", "c"}, handles(first))
}

// TestStaticSequencerRejectsCycle verifies cycles are caught when declared
func TestStaticSequencerRejectsCycle(t *testing.T) {
	seq := NewStaticSequencer()

	require.NoError(t, seq.Declare("a", "b"))
	require.NoError(t, seq.Declare("b", "c"))

	assert.ErrorIs(t, seq.Declare("c", "a"), ErrCyclicOrdering)
	assert.ErrorIs(t, seq.Declare("a", "a"), ErrCyclicOrdering)
	assert.Error(t, seq.Declare("", "a"))

	assert.Len(t, seq.Constraints(), 2)
}

// TestStaticSequencerRevision verifies the revision only moves on new constraints
func TestStaticSequencerRevision(t *testing.T) {
	seq := NewStaticSequencer()
	r0 := seq.Revision()

	require.NoError(t, seq.Declare("a", "b"))
	r1 := seq.Revision()
	assert.NotEqual(t, r0, r1)

	require.NoError(t, seq.Declare("a", "b"))
	assert.Equal(t, r1, seq.Revision())
}
