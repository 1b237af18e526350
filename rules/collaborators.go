package rules

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// NestingTracker tells the scheduler whether an action was raised by another one
type NestingTracker interface {
	IsNested(action *Action) bool
}

// ParentLinkTracker follows the action's parent link
type ParentLinkTracker struct{}

func (ParentLinkTracker) IsNested(action *Action) bool {
	return IsNested(action)
}

// IsNested reports whether action has a parent action
func IsNested(action *Action) bool {
	return action != nil && action.Parent != nil
}

// Clock stamps rule firings
type Clock interface {
	Now() int64
}

// LogicalClock hands out strictly increasing ticks starting at 1
type LogicalClock struct {
	tick atomic.Int64
}

// NewLogicalClock returns a clock whose first tick is start+1
func NewLogicalClock(start int64) *LogicalClock {
	c := &LogicalClock{}
	c.tick.Store(start)
	return c
}

func (c *LogicalClock) Now() int64 {
	return c.tick.Add(1)
}

// WallClock stamps firings with the system time in nanoseconds. Stamps never
// repeat and never go backwards, even if the system time does.
type WallClock struct {
	last atomic.Int64
}

// NewWallClock returns a wall clock whose stamps are all greater than start
func NewWallClock(start int64) *WallClock {
	c := &WallClock{}
	c.last.Store(start)
	return c
}

func (c *WallClock) Now() int64 {
	for {
		last := c.last.Load()
		now := time.Now().UnixNano()
		if now <= last {
			now = last + 1
		}
		if c.last.CompareAndSwap(last, now) {
			return now
		}
	}
}

// Sense is a perception channel
type Sense string

const (
	SenseSight Sense = "sight"
	SenseSound Sense = "sound"
	SenseSmell Sense = "smell"
	SenseTouch Sense = "touch"
)

// Perceiver answers "can observer perceive target". It is made available to
// conditions; the scheduler never calls it on its own.
type Perceiver interface {
	CanPerceive(observer, target ObjectID, sense Sense) bool
}

// PerceiverFunc adapts a function to Perceiver
type PerceiverFunc func(observer, target ObjectID, sense Sense) bool

func (f PerceiverFunc) CanPerceive(observer, target ObjectID, sense Sense) bool {
	return f(observer, target, sense)
}

// Recorder receives a record for every rule that fires
type Recorder interface {
	Record(ctx context.Context, rec FiringRecord) error
}

// Diagnostics receives warnings from the scheduler. *slog.Logger satisfies it.
type Diagnostics interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Constraint declares that rule Before must run ahead of rule After
// when both have the same priority
type Constraint struct {
	Before string
	After  string
}

// Sequencer supplies before/after constraints between named rules
type Sequencer interface {
	Constraints() []Constraint
	// Revision changes whenever the constraint set changes
	Revision() uint64
}

// StaticSequencer is an in-process Sequencer. Declare rejects constraints
// that would close a cycle.
type StaticSequencer struct {
	mu          sync.RWMutex
	constraints []Constraint
	edges       map[string][]string
	revision    uint64
}

// NewStaticSequencer creates an empty sequencer
func NewStaticSequencer() *StaticSequencer {
	return &StaticSequencer{edges: make(map[string][]string)}
}

// Declare records "before runs ahead of after"
func (s *StaticSequencer) Declare(before, after string) error {
	if before == "" || after == "" {
		return fmt.Errorf("ordering constraint needs two rule ids, got %q and %q", before, after)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if before == after || reachable(s.edges, after, before) {
		return &CycleError{Rulebook: "*", Rules: []string{before, after}}
	}

	for _, next := range s.edges[before] {
		if next == after {
			return nil
		}
	}

	s.edges[before] = append(s.edges[before], after)
	s.constraints = append(s.constraints, Constraint{Before: before, After: after})
	s.revision++
	return nil
}

// Constraints returns the declared constraints in declaration order
func (s *StaticSequencer) Constraints() []Constraint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Constraint, len(s.constraints))
	copy(out, s.constraints)
	return out
}

func (s *StaticSequencer) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// reachable reports whether to can be reached from from by following edges
func reachable(edges map[string][]string, from, to string) bool {
	seen := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, edges[n]...)
	}
	return false
}
