package worlds

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrWorldNotFound is returned when a world has no catalog or isn't loaded
var ErrWorldNotFound = errors.New("world not found")

// StoredCatalog is one saved version of a world's catalog
type StoredCatalog struct {
	WorldID   string
	Version   int
	Catalog   Catalog
	CreatedAt time.Time
}

// CatalogStore manages catalog persistence. Every save creates a new
// version and makes it the world's active catalog.
type CatalogStore interface {
	// Save stores c as the new active catalog of worldID and returns its version
	Save(ctx context.Context, worldID string, c Catalog) (int, error)

	// Active returns the active catalog of worldID
	Active(ctx context.Context, worldID string) (StoredCatalog, error)

	// ListWorlds returns the ids of worlds with an active catalog, sorted
	ListWorlds(ctx context.Context) ([]string, error)

	// Delete removes a world and all its catalog versions
	Delete(ctx context.Context, worldID string) error
}

// InMemoryCatalogStore implements CatalogStore using an in-memory map
// Thread-safe with RWMutex
type InMemoryCatalogStore struct {
	versions map[string][]StoredCatalog
	mu       sync.RWMutex
}

// NewInMemoryCatalogStore creates a new in-memory catalog store
func NewInMemoryCatalogStore() *InMemoryCatalogStore {
	return &InMemoryCatalogStore{
		versions: make(map[string][]StoredCatalog),
	}
}

func (s *InMemoryCatalogStore) Save(_ context.Context, worldID string, c Catalog) (int, error) {
	if worldID == "" {
		return 0, fmt.Errorf("world id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version := len(s.versions[worldID]) + 1
	s.versions[worldID] = append(s.versions[worldID], StoredCatalog{
		WorldID:   worldID,
		Version:   version,
		Catalog:   c,
		CreatedAt: time.Now(),
	})
	return version, nil
}

func (s *InMemoryCatalogStore) Active(_ context.Context, worldID string) (StoredCatalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[worldID]
	if len(versions) == 0 {
		return StoredCatalog{}, fmt.Errorf("world %s: %w", worldID, ErrWorldNotFound)
	}
	return versions[len(versions)-1], nil
}

func (s *InMemoryCatalogStore) ListWorlds(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.versions))
	for id := range s.versions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemoryCatalogStore) Delete(_ context.Context, worldID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.versions[worldID]; !exists {
		return fmt.Errorf("world %s: %w", worldID, ErrWorldNotFound)
	}
	delete(s.versions, worldID)
	return nil
}
