package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/liamcoop/rulebook/internal/logger"
)

const tracerName = "github.com/liamcoop/rulebook/rules"

// DefaultMaxReplacements bounds the Dispatch loop
const DefaultMaxReplacements = 8

// Scheduler resolves, orders and runs the rules of a rulebook for one
// action. It is built once per world and passed to whatever code needs to
// invoke rulebooks.
//
// Runs are synchronous and re-entrant: an effect may raise a nested action
// and call Run again. Each run works on its own snapshot of the eligible
// rules. Registering rulebooks or changing membership while a run is in
// flight is the caller's responsibility to avoid; it does not affect the
// in-flight snapshot.
type Scheduler struct {
	rulebooks map[string]*Rulebook
	relations map[string]map[string]struct{} // rule handle -> rulebook ids
	defaultID string

	tracker         NestingTracker
	clock           Clock
	sequencer       Sequencer
	perceiver       Perceiver
	recorder        Recorder
	diag            Diagnostics
	cache           OrderCache
	metrics         *Metrics
	tracer          trace.Tracer
	maxReplacements int

	compiler     *ExprCompiler
	compilerErr  error
	compilerOnce sync.Once

	mu sync.RWMutex
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithDefaultRulebook sets the rulebook used when Run gets an empty id.
// Pass "" to configure no default.
func WithDefaultRulebook(id string) Option {
	return func(s *Scheduler) { s.defaultID = id }
}

func WithNestingTracker(t NestingTracker) Option {
	return func(s *Scheduler) { s.tracker = t }
}

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithSequencer(seq Sequencer) Option {
	return func(s *Scheduler) { s.sequencer = seq }
}

func WithPerceiver(p Perceiver) Option {
	return func(s *Scheduler) { s.perceiver = p }
}

func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

func WithDiagnostics(d Diagnostics) Option {
	return func(s *Scheduler) { s.diag = d }
}

func WithOrderCache(c OrderCache) Option {
	return func(s *Scheduler) { s.cache = c }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Scheduler) { s.tracer = tp.Tracer(tracerName) }
}

func WithMaxReplacements(n int) Option {
	return func(s *Scheduler) { s.maxReplacements = n }
}

// NewScheduler creates a scheduler with an in-process sequencer, a logical
// clock and diagnostics routed to the package logger
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		rulebooks:       make(map[string]*Rulebook),
		relations:       make(map[string]map[string]struct{}),
		defaultID:       DefaultRulebookID,
		tracker:         ParentLinkTracker{},
		clock:           &LogicalClock{},
		sequencer:       NewStaticSequencer(),
		diag:            logger.Sampled{},
		cache:           NewInMemoryOrderCache(DefaultCacheConfig()),
		tracer:          otel.Tracer(tracerName),
		maxReplacements: DefaultMaxReplacements,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sequencer returns the ordering collaborator
func (s *Scheduler) Sequencer() Sequencer {
	return s.sequencer
}

// DefaultRulebookID returns the configured default rulebook id
func (s *Scheduler) DefaultRulebookID() string {
	return s.defaultID
}

// Register adds a rulebook to the registry. Its current membership is
// checked for ordering cycles; later additions are checked as they happen.
func (s *Scheduler) Register(rb *Rulebook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rulebooks[rb.id]; exists {
		return fmt.Errorf("rulebook %s: %w", rb.id, ErrRulebookRegistered)
	}

	slots, _ := rb.snapshot()
	if _, err := resolveOrder(rb.id, slots, s.sequencer.Constraints()); err != nil {
		s.diag.Warn("rejected rulebook with cyclic ordering constraints", "rulebook", rb.id, "error", err)
		return err
	}

	rb.setOwner(s)
	s.rulebooks[rb.id] = rb
	for _, ms := range slots {
		s.relate(ms.member.Handle(), rb.id)
	}
	s.cache.Invalidate(rb.id)
	return nil
}

// Rulebook resolves an id; "" means the default rulebook
func (s *Scheduler) Rulebook(id string) (*Rulebook, error) {
	if id == "" {
		id = s.defaultID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rb, exists := s.rulebooks[id]
	if !exists {
		return nil, fmt.Errorf("rulebook %q: %w", id, ErrUnknownRulebook)
	}
	return rb, nil
}

// Rulebooks returns every registered rulebook, highest rulebook priority first
func (s *Scheduler) Rulebooks() []*Rulebook {
	s.mu.RLock()
	out := make([]*Rulebook, 0, len(s.rulebooks))
	for _, rb := range s.rulebooks {
		out = append(out, rb)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		return out[i].id < out[j].id
	})
	return out
}

// AddRule adds m to a registered rulebook with its declared priority
func (s *Scheduler) AddRule(rulebookID string, m Member) error {
	rb, err := s.Rulebook(rulebookID)
	if err != nil {
		return err
	}
	return rb.AddRule(m)
}

// AddRuleWithPriority adds m to a registered rulebook with an explicit priority
func (s *Scheduler) AddRuleWithPriority(rulebookID string, m Member, priority int) error {
	rb, err := s.Rulebook(rulebookID)
	if err != nil {
		return err
	}
	return rb.AddRuleWithPriority(m, priority)
}

// RemoveRule removes a rule from one rulebook
func (s *Scheduler) RemoveRule(rulebookID, ruleID string) bool {
	rb, err := s.Rulebook(rulebookID)
	if err != nil {
		return false
	}
	return rb.RemoveRule(ruleID)
}

// MembershipOf lists the rulebooks ruleID belongs to, sorted by id
func (s *Scheduler) MembershipOf(ruleID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.relations[ruleID]))
	for id := range s.relations[ruleID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Rule finds a registered rule by id or handle
func (s *Scheduler) Rule(ruleID string) (Member, bool) {
	for _, rbID := range s.MembershipOf(ruleID) {
		rb, err := s.Rulebook(rbID)
		if err != nil {
			continue
		}
		if m, ok := rb.Member(ruleID); ok {
			return m, true
		}
	}
	return nil, false
}

// SetEnabled enables or disables ruleID in every rulebook it belongs to and
// reports whether the rule was found
func (s *Scheduler) SetEnabled(ruleID string, enabled bool) bool {
	found := false
	for _, rbID := range s.MembershipOf(ruleID) {
		rb, err := s.Rulebook(rbID)
		if err != nil {
			continue
		}
		if m, ok := rb.Member(ruleID); ok {
			m.SetEnabled(enabled)
			found = true
		}
	}
	return found
}

// DeclareOrder records "before runs ahead of after" with the sequencer.
// The sequencer must accept declarations (StaticSequencer does).
func (s *Scheduler) DeclareOrder(before, after string) error {
	d, ok := s.sequencer.(interface{ Declare(before, after string) error })
	if !ok {
		return fmt.Errorf("sequencer %T does not accept declarations", s.sequencer)
	}
	if err := d.Declare(before, after); err != nil {
		s.diag.Warn("rejected ordering constraint", "before", before, "after", after, "error", err)
		return err
	}
	return nil
}

// Order returns the resolved execution order of a rulebook, before any
// enablement or trigger filtering
func (s *Scheduler) Order(rulebookID string) ([]Slot, error) {
	rb, err := s.Rulebook(rulebookID)
	if err != nil {
		return nil, err
	}
	return s.orderFor(rb)
}

// CompileCondition compiles a CEL condition whose perception functions use
// the scheduler's perceiver
func (s *Scheduler) CompileCondition(expression string) (Condition, error) {
	s.compilerOnce.Do(func() {
		s.compiler, s.compilerErr = NewExprCompiler(s.perceiver)
	})
	if s.compilerErr != nil {
		return nil, s.compilerErr
	}
	return s.compiler.Compile(expression)
}

// Run selects, orders and executes the rules of a rulebook for one action.
// An empty rulebookID runs the default rulebook. The only error returned is
// for an unknown rulebook or unresolvable ordering; rule failures are in the
// Result.
func (s *Scheduler) Run(ctx context.Context, rulebookID string, action *Action, src, dst ObjectID) (*Result, error) {
	start := time.Now()

	rb, err := s.Rulebook(rulebookID)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "rules.Run", trace.WithAttributes(
		attribute.String("rulebook.id", rb.id),
		attribute.String("action.kind", action.String()),
		attribute.String("action.src", string(src)),
		attribute.String("action.dst", string(dst)),
	))
	defer span.End()

	ictx := &Context{
		RulebookID: rb.id,
		Action:     action,
		Src:        src,
		Dst:        dst,
		Timestamp:  s.clock.Now(),
		Nested:     s.tracker.IsNested(action),
		Perceiver:  s.perceiver,
		ctx:        ctx,
	}

	order, err := s.orderFor(rb)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Snapshot the eligible set before anything fires
	eligible := make([]Member, 0, len(order))
	for _, slot := range order {
		if slot.Member.Enabled() && slot.Member.Matches(ictx) {
			eligible = append(eligible, slot.Member)
		}
	}

	result := s.execute(ictx, eligible)

	span.SetAttributes(
		attribute.String("rulebook.verdict", result.Verdict.String()),
		attribute.Int("rulebook.firings", len(result.Firings)),
	)
	if result.RuleID != "" {
		span.SetAttributes(attribute.String("rulebook.decided_by", result.RuleID))
	}
	if err := result.Err(); err != nil {
		span.RecordError(err)
	}
	s.metrics.observeRun(rb.id, result.Verdict, time.Since(start))

	return result, nil
}

func (s *Scheduler) execute(ictx *Context, eligible []Member) *Result {
	result := &Result{
		RulebookID: ictx.RulebookID,
		Verdict:    NoRuleFired,
		Nested:     ictx.Nested,
	}
	span := trace.SpanFromContext(ictx.ctx)

	for _, m := range eligible {
		ok, err := m.EvaluateCondition(ictx)
		if err != nil {
			cerr := &ConditionError{RuleID: m.Handle(), Err: err}
			s.diag.Warn("condition failed, treating as false",
				"rulebook", ictx.RulebookID, "rule", m.Handle(), "error", cerr)
			s.metrics.observeConditionError(ictx.RulebookID)
			continue
		}
		if !ok {
			continue
		}

		out, err := m.Fire(ictx)
		rec := FiringRecord{
			ID:         uuid.NewString(),
			RulebookID: ictx.RulebookID,
			RuleID:     m.Handle(),
			Action:     ictx.ActionKind(),
			Outcome:    out.Kind,
			Timestamp:  s.clock.Now(),
		}
		if err != nil {
			eerr := &EffectError{RuleID: m.Handle(), Err: err}
			rec.Err = eerr
			result.Errors = append(result.Errors, eerr)
			s.diag.Warn("effect failed", "rulebook", ictx.RulebookID, "rule", m.Handle(), "error", eerr)
			s.metrics.observeEffectError(ictx.RulebookID)
		}
		result.Firings = append(result.Firings, rec)
		s.record(ictx.Ctx(), rec)
		s.metrics.observeFiring(ictx.RulebookID, out.Kind)
		span.AddEvent("rule.fired", trace.WithAttributes(
			attribute.String("rule.id", rec.RuleID),
			attribute.String("rule.outcome", out.Kind.String()),
			attribute.Int64("rule.timestamp", rec.Timestamp),
		))

		switch out.Kind {
		case OutcomeAbort:
			result.Verdict = Vetoed
			result.RuleID = m.Handle()
			return result
		case OutcomeReplace:
			result.Verdict = Replaced
			result.RuleID = m.Handle()
			result.Replacement = out.Replacement
			return result
		default:
			result.Verdict = Completed
		}
	}

	return result
}

func (s *Scheduler) record(ctx context.Context, rec FiringRecord) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, rec); err != nil {
		s.diag.Warn("failed to record firing", "rulebook", rec.RulebookID, "rule", rec.RuleID, "error", err)
	}
}

// RunRulebooks runs several rulebooks for the same action, highest
// rulebook priority first, and stops at the first veto or replacement
func (s *Scheduler) RunRulebooks(ctx context.Context, rulebookIDs []string, action *Action, src, dst ObjectID) ([]*Result, error) {
	books := make([]*Rulebook, 0, len(rulebookIDs))
	for _, id := range rulebookIDs {
		rb, err := s.Rulebook(id)
		if err != nil {
			return nil, err
		}
		books = append(books, rb)
	}
	sort.SliceStable(books, func(i, j int) bool {
		return books[i].priority > books[j].priority
	})

	results := make([]*Result, 0, len(books))
	for _, rb := range books {
		res, err := s.Run(ctx, rb.id, action, src, dst)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if res.Verdict == Vetoed || res.Verdict == Replaced {
			break
		}
	}
	return results, nil
}

// orderFor returns the cached order of rb, recomputing it when the
// membership or the constraint set changed
func (s *Scheduler) orderFor(rb *Rulebook) ([]Slot, error) {
	slots, revision := rb.snapshot()
	seqRevision := s.sequencer.Revision()

	if entry, ok := s.cache.Get(rb.id); ok &&
		entry.RulebookRevision == revision && entry.SequencerRevision == seqRevision {
		return entry.Slots, nil
	}

	ordered, err := resolveOrder(rb.id, slots, s.sequencer.Constraints())
	if err != nil {
		return nil, err
	}

	out := make([]Slot, len(ordered))
	for i, ms := range ordered {
		out[i] = Slot{Member: ms.member, Priority: ms.priority}
	}
	s.cache.Set(rb.id, OrderEntry{
		Slots:             out,
		RulebookRevision:  revision,
		SequencerRevision: seqRevision,
	})
	return out, nil
}

// memberAdded is called by a registered rulebook after an add. A non-nil
// error makes the rulebook roll the add back.
func (s *Scheduler) memberAdded(rb *Rulebook, m Member) error {
	slots, _ := rb.snapshot()
	if _, err := resolveOrder(rb.id, slots, s.sequencer.Constraints()); err != nil {
		s.diag.Warn("rejected rule with cyclic ordering constraints", "rulebook", rb.id, "rule", m.Handle(), "error", err)
		return err
	}

	s.mu.Lock()
	s.relate(m.Handle(), rb.id)
	s.mu.Unlock()
	s.cache.Invalidate(rb.id)
	return nil
}

// memberRemoved is called by a registered rulebook after a removal
func (s *Scheduler) memberRemoved(rb *Rulebook, handle string) {
	s.mu.Lock()
	if books, ok := s.relations[handle]; ok {
		delete(books, rb.id)
		if len(books) == 0 {
			delete(s.relations, handle)
		}
	}
	s.mu.Unlock()
	s.cache.Invalidate(rb.id)
}

// relate must be called with s.mu held
func (s *Scheduler) relate(handle, rulebookID string) {
	books, ok := s.relations[handle]
	if !ok {
		books = make(map[string]struct{})
		s.relations[handle] = books
	}
	books[rulebookID] = struct{}{}
}
