package worlds

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresCatalogStore implements CatalogStore backed by PostgreSQL
type PostgresCatalogStore struct {
	db *sql.DB
}

// NewPostgresCatalogStore creates a new PostgreSQL-backed CatalogStore
func NewPostgresCatalogStore(db *sql.DB) *PostgresCatalogStore {
	return &PostgresCatalogStore{db: db}
}

// Save deactivates the current catalog and inserts c as the next version
func (s *PostgresCatalogStore) Save(ctx context.Context, worldID string, c Catalog) (int, error) {
	if worldID == "" {
		return 0, fmt.Errorf("world id is required")
	}

	definition, err := json.Marshal(c)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal catalog: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO worlds (id, name, created_at, updated_at)
		VALUES ($1, $1, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET updated_at = NOW()
	`, worldID)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert world: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE catalogs
		SET active = false
		WHERE world_id = $1
	`, worldID)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate old catalogs: %w", err)
	}

	var version int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO catalogs (world_id, version, definition, active, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, true, NOW()
		FROM catalogs
		WHERE world_id = $1
		RETURNING version
	`, worldID, definition).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to save catalog: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit catalog: %w", err)
	}
	return version, nil
}

// Active returns the active catalog of a world
func (s *PostgresCatalogStore) Active(ctx context.Context, worldID string) (StoredCatalog, error) {
	var (
		stored     StoredCatalog
		definition []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT world_id, version, definition, created_at
		FROM catalogs
		WHERE world_id = $1 AND active = true
	`, worldID).Scan(&stored.WorldID, &stored.Version, &definition, &stored.CreatedAt)

	if err == sql.ErrNoRows {
		return StoredCatalog{}, fmt.Errorf("world %s: %w", worldID, ErrWorldNotFound)
	}
	if err != nil {
		return StoredCatalog{}, fmt.Errorf("failed to get catalog: %w", err)
	}

	if err := json.Unmarshal(definition, &stored.Catalog); err != nil {
		return StoredCatalog{}, fmt.Errorf("invalid catalog for world %s: %w", worldID, err)
	}
	return stored, nil
}

// ListWorlds returns every world with an active catalog
func (s *PostgresCatalogStore) ListWorlds(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id
		FROM worlds w
		JOIN catalogs c ON c.world_id = w.id
		WHERE c.active = true
		ORDER BY w.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch worlds: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan world row: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating world rows: %w", err)
	}
	return ids, nil
}

// Delete removes a world; its catalogs go with it
func (s *PostgresCatalogStore) Delete(ctx context.Context, worldID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM worlds
		WHERE id = $1
	`, worldID)
	if err != nil {
		return fmt.Errorf("failed to delete world: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("world %s: %w", worldID, ErrWorldNotFound)
	}
	return nil
}
