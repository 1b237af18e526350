package rules

import (
	"fmt"
	"sync"
)

// membership is one rule's slot in a rulebook
type membership struct {
	member   Member
	priority int
	seq      uint64 // insertion order, tie-break of last resort
}

// Rulebook is a named, mutable collection of rule references.
// Selection and ordering happen in the Scheduler so the rulebook stays free
// of context-dependent logic.
type Rulebook struct {
	id       string
	priority int

	members  []membership
	byHandle map[string]int
	nextSeq  uint64
	revision uint64

	// owner is the scheduler the rulebook is registered with; it validates
	// adds and keeps its rule/rulebook relation table current
	owner *Scheduler

	mu sync.RWMutex
}

// NewRulebook creates an empty rulebook. An empty id names the default rulebook.
func NewRulebook(id string, priority int) *Rulebook {
	if id == "" {
		id = DefaultRulebookID
	}
	return &Rulebook{
		id:       id,
		priority: priority,
		byHandle: make(map[string]int),
	}
}

func (rb *Rulebook) ID() string { return rb.id }

// Priority is the rulebook-level base priority
func (rb *Rulebook) Priority() int { return rb.priority }

// AddRule registers m with its own declared priority
func (rb *Rulebook) AddRule(m Member) error {
	if m == nil {
		return rb.add(nil, 0)
	}
	return rb.add(m, m.Priority())
}

// AddRuleWithPriority registers m with a rulebook-specific priority
func (rb *Rulebook) AddRuleWithPriority(m Member, priority int) error {
	return rb.add(m, priority)
}

func (rb *Rulebook) add(m Member, priority int) error {
	if m == nil {
		return fmt.Errorf("rulebook %s: cannot add nil rule", rb.id)
	}

	rb.mu.Lock()
	if _, exists := rb.byHandle[m.Handle()]; exists {
		owner := rb.owner
		rb.mu.Unlock()
		if owner != nil {
			owner.diag.Warn("rejected duplicate rule id", "rulebook", rb.id, "rule", m.Handle())
		}
		return fmt.Errorf("rulebook %s: rule %s: %w", rb.id, m.Handle(), ErrDuplicateRuleID)
	}

	rb.nextSeq++
	rb.byHandle[m.Handle()] = len(rb.members)
	rb.members = append(rb.members, membership{member: m, priority: priority, seq: rb.nextSeq})
	rb.revision++
	owner := rb.owner
	rb.mu.Unlock()

	if owner == nil {
		return nil
	}
	if err := owner.memberAdded(rb, m); err != nil {
		// Roll back so a rejected rule never takes part in a run
		rb.RemoveRule(m.Handle())
		return err
	}
	return nil
}

// RemoveRule removes the member with the given id (or handle) and reports
// whether one was found
func (rb *Rulebook) RemoveRule(ruleID string) bool {
	rb.mu.Lock()
	idx, exists := rb.byHandle[ruleID]
	if !exists {
		rb.mu.Unlock()
		return false
	}

	rb.members = append(rb.members[:idx], rb.members[idx+1:]...)
	delete(rb.byHandle, ruleID)
	for i := idx; i < len(rb.members); i++ {
		rb.byHandle[rb.members[i].member.Handle()] = i
	}
	rb.revision++
	owner := rb.owner
	rb.mu.Unlock()

	if owner != nil {
		owner.memberRemoved(rb, ruleID)
	}
	return true
}

// Member returns the member with the given id or handle
func (rb *Rulebook) Member(ruleID string) (Member, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	idx, exists := rb.byHandle[ruleID]
	if !exists {
		return nil, false
	}
	return rb.members[idx].member, true
}

// Has reports whether ruleID is a member
func (rb *Rulebook) Has(ruleID string) bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	_, exists := rb.byHandle[ruleID]
	return exists
}

// Members returns the current members in insertion order, unfiltered
func (rb *Rulebook) Members() []Member {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]Member, len(rb.members))
	for i, ms := range rb.members {
		out[i] = ms.member
	}
	return out
}

// Len returns the number of members
func (rb *Rulebook) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.members)
}

// Revision changes whenever membership changes
func (rb *Rulebook) Revision() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.revision
}

// snapshot copies the membership slots and the revision they belong to
func (rb *Rulebook) snapshot() ([]membership, uint64) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]membership, len(rb.members))
	copy(out, rb.members)
	return out, rb.revision
}

func (rb *Rulebook) setOwner(s *Scheduler) {
	rb.mu.Lock()
	rb.owner = s
	rb.mu.Unlock()
}
