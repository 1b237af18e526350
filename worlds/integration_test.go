//go:build integration
// +build integration

package worlds

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/rulebook/audit"
	"github.com/liamcoop/rulebook/rules"
)

// setupTestDB creates a PostgreSQL testcontainer and runs migrations
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	migrationSQL, err := os.ReadFile("../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db, func() {
		db.Close()
		postgres.Terminate(ctx)
	}
}

func TestPostgresCatalogStore_Versions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresCatalogStore(db)

	v1, err := store.Save(ctx, "castle", vetoCatalog("old"))
	require.NoError(t, err)
	v2, err := store.Save(ctx, "castle", vetoCatalog("locked"))
	require.NoError(t, err)
	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)

	active, err := store.Active(ctx, "castle")
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)
	require.Len(t, active.Catalog.Rules, 1)
	assert.Equal(t, "locked", active.Catalog.Rules[0].ID)

	var activeCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM catalogs WHERE world_id = 'castle' AND active`).Scan(&activeCount))
	assert.Equal(t, 1, activeCount)

	_, err = store.Active(ctx, "nowhere")
	assert.ErrorIs(t, err, ErrWorldNotFound)
}

func TestPostgresCatalogStore_ListAndDelete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresCatalogStore(db)

	for _, id := range []string{"village", "castle"} {
		_, err := store.Save(ctx, id, Catalog{})
		require.NoError(t, err)
	}

	ids, err := store.ListWorlds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"castle", "village"}, ids)

	require.NoError(t, store.Delete(ctx, "castle"))
	assert.ErrorIs(t, store.Delete(ctx, "castle"), ErrWorldNotFound)

	ids, err = store.ListWorlds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"village"}, ids)
}

// TestManager_PostgresRoundTrip builds worlds from PostgreSQL and audits into it
func TestManager_PostgresRoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresCatalogStore(db)
	newLog := func(worldID string) audit.Log { return audit.NewPostgresLog(db, worldID) }

	m := NewManager(WithCatalogStore(store), WithAuditLogs(newLog))
	w, err := m.CreateWorld(ctx, "castle", vetoCatalog("locked"))
	require.NoError(t, err)
	_, err = w.Scheduler.Run(ctx, "", rules.NewAction("open"), "me", "door")
	require.NoError(t, err)

	// A fresh manager sees the saved world
	restarted := NewManager(WithCatalogStore(store), WithAuditLogs(newLog))
	loaded, err := restarted.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	w, err = restarted.World("castle")
	require.NoError(t, err)
	res, err := w.Scheduler.Run(ctx, "", rules.NewAction("open"), "me", "door")
	require.NoError(t, err)
	assert.Equal(t, rules.Vetoed, res.Verdict)

	records, err := w.Log.ForRule(ctx, "locked")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, rules.OutcomeAbort, records[1].Outcome)
	assert.Less(t, records[0].Timestamp, records[1].Timestamp, "stamps continue after a restart")

	// Firings are deleted with their world
	require.NoError(t, restarted.DeleteWorld(ctx, "castle"))
	latest, err := w.Log.Latest(ctx)
	require.NoError(t, err)
	assert.Zero(t, latest)
}
