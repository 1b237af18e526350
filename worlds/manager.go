package worlds

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/liamcoop/rulebook/audit"
	"github.com/liamcoop/rulebook/internal/logger"
	"github.com/liamcoop/rulebook/rules"
)

// ErrWorldExists is returned by CreateWorld for an id that is already loaded
var ErrWorldExists = errors.New("world already exists")

// World is a loaded catalog and the scheduler built from it
type World struct {
	ID        string
	Version   int
	Catalog   Catalog
	Scheduler *rules.Scheduler
	Log       audit.Log

	// clock carries over reloads so firing timestamps stay comparable
	clock rules.Clock
}

// Manager keeps one scheduler per world
type Manager struct {
	worlds   map[string]*World
	store    CatalogStore
	effects  *EffectRegistry
	newLog   func(worldID string) audit.Log
	newClock func(start int64) rules.Clock
	opts     []rules.Option
	mu       sync.RWMutex
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithCatalogStore sets where catalogs are persisted
func WithCatalogStore(s CatalogStore) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithEffects sets the registry catalogs resolve effect names against
func WithEffects(r *EffectRegistry) ManagerOption {
	return func(m *Manager) { m.effects = r }
}

// WithAuditLogs sets the factory for each world's firing log
func WithAuditLogs(newLog func(worldID string) audit.Log) ManagerOption {
	return func(m *Manager) { m.newLog = newLog }
}

// WithClocks sets the factory for each world's clock. start is the highest
// timestamp already in the world's firing log; every stamp the clock hands
// out must be greater than it.
func WithClocks(newClock func(start int64) rules.Clock) ManagerOption {
	return func(m *Manager) { m.newClock = newClock }
}

// WithSchedulerOptions adds options applied to every world's scheduler
func WithSchedulerOptions(opts ...rules.Option) ManagerOption {
	return func(m *Manager) { m.opts = append(m.opts, opts...) }
}

// NewManager creates a manager with an in-memory catalog store and
// in-memory firing logs
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		worlds:  make(map[string]*World),
		store:   NewInMemoryCatalogStore(),
		effects: NewEffectRegistry(),
		newLog: func(string) audit.Log {
			return audit.NewInMemoryLog(audit.DefaultCapacity)
		},
		newClock: func(start int64) rules.Clock {
			return rules.NewLogicalClock(start)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Effects returns the manager's effect registry
func (m *Manager) Effects() *EffectRegistry {
	return m.effects
}

// LoadAll builds a scheduler for every world with an active catalog in the
// store and returns how many were loaded
func (m *Manager) LoadAll(ctx context.Context) (int, error) {
	ids, err := m.store.ListWorlds(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list worlds: %w", err)
	}

	loaded := 0
	for _, id := range ids {
		stored, err := m.store.Active(ctx, id)
		if err != nil {
			return loaded, fmt.Errorf("failed to load world %s: %w", id, err)
		}

		w, err := m.build(ctx, id, stored.Version, stored.Catalog, nil, nil)
		if err != nil {
			return loaded, fmt.Errorf("failed to initialize world %s: %w", id, err)
		}

		m.mu.Lock()
		m.worlds[id] = w
		m.mu.Unlock()
		loaded++
	}

	logger.Info("worlds loaded", "count", loaded)
	return loaded, nil
}

// CreateWorld validates, persists and loads a new world
func (m *Manager) CreateWorld(ctx context.Context, worldID string, c Catalog) (*World, error) {
	if err := validateIdentifier(worldID); err != nil {
		return nil, fmt.Errorf("invalid world id %q: %w", worldID, err)
	}

	m.mu.RLock()
	_, exists := m.worlds[worldID]
	m.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("world %s: %w", worldID, ErrWorldExists)
	}

	w, err := m.build(ctx, worldID, 0, c, nil, nil)
	if err != nil {
		return nil, err
	}

	version, err := m.store.Save(ctx, worldID, c)
	if err != nil {
		return nil, fmt.Errorf("failed to save catalog: %w", err)
	}
	w.Version = version

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.worlds[worldID]; exists {
		return nil, fmt.Errorf("world %s: %w", worldID, ErrWorldExists)
	}
	m.worlds[worldID] = w

	logger.Info("world created", "world", worldID, "version", version, "rules", len(c.Rules))
	return w, nil
}

// ReloadWorld replaces a world's catalog. The new scheduler is built and
// saved before it is swapped in, so a bad catalog leaves the running world
// untouched. The world's firing log and clock carry over. Unknown worlds
// are created.
func (m *Manager) ReloadWorld(ctx context.Context, worldID string, c Catalog) (*World, error) {
	m.mu.RLock()
	existing, exists := m.worlds[worldID]
	m.mu.RUnlock()
	if !exists {
		return m.CreateWorld(ctx, worldID, c)
	}

	w, err := m.build(ctx, worldID, 0, c, existing.Log, existing.clock)
	if err != nil {
		return nil, err
	}

	version, err := m.store.Save(ctx, worldID, c)
	if err != nil {
		return nil, fmt.Errorf("failed to save catalog: %w", err)
	}
	w.Version = version

	m.mu.Lock()
	m.worlds[worldID] = w
	m.mu.Unlock()

	logger.Info("world reloaded", "world", worldID, "version", version, "previous", existing.Version)
	return w, nil
}

// World returns a loaded world
func (m *Manager) World(worldID string) (*World, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, exists := m.worlds[worldID]
	if !exists {
		return nil, fmt.Errorf("world %s: %w", worldID, ErrWorldNotFound)
	}
	return w, nil
}

// Scheduler returns the scheduler of a loaded world
func (m *Manager) Scheduler(worldID string) (*rules.Scheduler, error) {
	w, err := m.World(worldID)
	if err != nil {
		return nil, err
	}
	return w.Scheduler, nil
}

// ListWorlds returns all loaded world ids, sorted
func (m *Manager) ListWorlds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.worlds))
	for id := range m.worlds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Unload removes a world from memory. Its catalogs stay in the store.
func (m *Manager) Unload(worldID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.worlds[worldID]; !exists {
		return fmt.Errorf("world %s: %w", worldID, ErrWorldNotFound)
	}
	delete(m.worlds, worldID)
	return nil
}

// DeleteWorld removes a world from memory and from the store
func (m *Manager) DeleteWorld(ctx context.Context, worldID string) error {
	if err := m.store.Delete(ctx, worldID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.worlds, worldID)
	m.mu.Unlock()
	return nil
}

func (m *Manager) build(ctx context.Context, worldID string, version int, c Catalog, log audit.Log, clock rules.Clock) (*World, error) {
	if log == nil {
		log = m.newLog(worldID)
	}
	if clock == nil {
		// Firings from earlier processes may already be on record
		start, err := log.Latest(ctx)
		if err != nil {
			return nil, fmt.Errorf("world %s: %w", worldID, err)
		}
		clock = m.newClock(start)
	}

	opts := append(append([]rules.Option(nil), m.opts...), rules.WithRecorder(log), rules.WithClock(clock))
	s, err := Build(c, m.effects, opts...)
	if err != nil {
		return nil, err
	}

	return &World{
		ID:        worldID,
		Version:   version,
		Catalog:   c,
		Scheduler: s,
		Log:       log,
		clock:     clock,
	}, nil
}
