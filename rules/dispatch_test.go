package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDispatchFollowsReplacement verifies a substitute action is processed in the same turn
func TestDispatchFollowsReplacement(t *testing.T) {
	s, _ := newTestScheduler(t)
	require.NoError(t, s.AddRule("default", NewTrigger("locked", TriggerFilter{Action: "open", Dst: "Door1"},
		WithEffect(func(ctx *Context) (Outcome, error) {
			return Replace(&Action{Kind: "knock", Args: map[string]any{"door": string(ctx.Dst)}}), nil
		}))))

	var knockedOn ObjectID
	require.NoError(t, s.AddRule("default", NewTrigger("answer", TriggerFilter{Action: "knock"},
		WithEffect(func(ctx *Context) (Outcome, error) {
			knockedOn = ctx.Dst
			return Continue(), nil
		}))))

	res, err := s.Dispatch(context.Background(), "default", NewAction("open"), "me", "Door1")
	require.NoError(t, err)

	assert.Equal(t, ActionKind("knock"), res.Action.Kind)
	assert.Equal(t, 1, res.Replacements())
	require.Len(t, res.Steps, 2)
	assert.Equal(t, Replaced, res.Steps[0].Verdict)
	assert.Equal(t, Completed, res.Final.Verdict)
	assert.Equal(t, ObjectID("Door1"), knockedOn)
}

// TestDispatchWithoutReplacement verifies a single run when nothing substitutes
func TestDispatchWithoutReplacement(t *testing.T) {
	s, _ := newTestScheduler(t)
	require.NoError(t, s.AddRule("default", NewRule("veto", WithOutcome(Abort()))))

	res, err := s.Dispatch(context.Background(), "", NewAction("open"), "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Replacements())
	assert.Equal(t, Vetoed, res.Final.Verdict)
}

// TestDispatchReplacementLimit verifies a replacement loop is cut off
func TestDispatchReplacementLimit(t *testing.T) {
	s, diag := newTestScheduler(t, WithMaxReplacements(3))
	require.NoError(t, s.AddRule("default", NewTrigger("ping", TriggerFilter{Action: "ping"}, WithOutcome(Replace(NewAction("pong"))))))
	require.NoError(t, s.AddRule("default", NewTrigger("pong", TriggerFilter{Action: "pong"}, WithOutcome(Replace(NewAction("ping"))))))

	res, err := s.Dispatch(context.Background(), "default", NewAction("ping"), "", "")
	require.ErrorIs(t, err, ErrReplacementLimit)
	assert.Equal(t, 3, res.Replacements())
	assert.NotEmpty(t, diag.warns)
}

// TestDispatchReplaceWithoutAction verifies an empty replacement ends the chain
func TestDispatchReplaceWithoutAction(t *testing.T) {
	s, _ := newTestScheduler(t)
	require.NoError(t, s.AddRule("default", NewRule("empty", WithOutcome(Replace(nil)))))

	res, err := s.Dispatch(context.Background(), "default", NewAction("open"), "", "")
	require.NoError(t, err)
	assert.Len(t, res.Steps, 1)
	assert.Equal(t, Replaced, res.Final.Verdict)
	assert.Nil(t, res.Final.Replacement)
}

// TestDispatchUnknownRulebook verifies resolution errors are returned
func TestDispatchUnknownRulebook(t *testing.T) {
	s, _ := newTestScheduler(t)
	_, err := s.Dispatch(context.Background(), "nope", NewAction("open"), "", "")
	assert.ErrorIs(t, err, ErrUnknownRulebook)
}
