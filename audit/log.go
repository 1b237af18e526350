// Package audit keeps the firing history written by the scheduler and
// answers ordering questions about it.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/liamcoop/rulebook/rules"
)

// ErrNeverFired is returned by HappenedBefore when one of the rules has no firing on record
var ErrNeverFired = errors.New("rule never fired")

// DefaultCapacity bounds an InMemoryLog created with capacity 0
const DefaultCapacity = 10000

// Log is a queryable firing history. Every Log is a rules.Recorder.
type Log interface {
	rules.Recorder

	// Last returns up to n most recent records, oldest first
	Last(ctx context.Context, n int) ([]rules.FiringRecord, error)

	// ForRule returns every record of ruleID, oldest first
	ForRule(ctx context.Context, ruleID string) ([]rules.FiringRecord, error)

	// HappenedBefore reports whether the latest firing of a is earlier than
	// the latest firing of b
	HappenedBefore(ctx context.Context, a, b string) (bool, error)

	// Latest returns the highest timestamp on record, or 0 for an empty log
	Latest(ctx context.Context) (int64, error)
}

// InMemoryLog keeps the most recent firings in memory
// Thread-safe for concurrent access
type InMemoryLog struct {
	records  []rules.FiringRecord
	capacity int
	latest   map[string]int64 // rule id -> timestamp of its latest firing
	mu       sync.RWMutex
}

// NewInMemoryLog creates a log that keeps at most capacity records
func NewInMemoryLog(capacity int) *InMemoryLog {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemoryLog{
		capacity: capacity,
		latest:   make(map[string]int64),
	}
}

// Record appends rec, dropping the oldest record when full
func (l *InMemoryLog) Record(_ context.Context, rec rules.FiringRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.records) == l.capacity {
		copy(l.records, l.records[1:])
		l.records = l.records[:len(l.records)-1]
	}
	l.records = append(l.records, rec)

	// Latest firing times outlive truncation so ordering questions stay answerable
	if ts, ok := l.latest[rec.RuleID]; !ok || rec.Timestamp > ts {
		l.latest[rec.RuleID] = rec.Timestamp
	}
	return nil
}

// Records returns a copy of every retained record, oldest first
func (l *InMemoryLog) Records() []rules.FiringRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]rules.FiringRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of retained records
func (l *InMemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *InMemoryLog) Last(_ context.Context, n int) ([]rules.FiringRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	out := make([]rules.FiringRecord, n)
	copy(out, l.records[len(l.records)-n:])
	return out, nil
}

func (l *InMemoryLog) ForRule(_ context.Context, ruleID string) ([]rules.FiringRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []rules.FiringRecord
	for _, rec := range l.records {
		if rec.RuleID == ruleID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (l *InMemoryLog) HappenedBefore(_ context.Context, a, b string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ta, ok := l.latest[a]
	if !ok {
		return false, fmt.Errorf("rule %s: %w", a, ErrNeverFired)
	}
	tb, ok := l.latest[b]
	if !ok {
		return false, fmt.Errorf("rule %s: %w", b, ErrNeverFired)
	}
	return ta < tb, nil
}

// Latest returns the highest timestamp ever recorded, including truncated records
func (l *InMemoryLog) Latest(_ context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var highest int64
	for _, ts := range l.latest {
		highest = max(highest, ts)
	}
	return highest, nil
}

// Reset drops every record
func (l *InMemoryLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = nil
	l.latest = make(map[string]int64)
}
