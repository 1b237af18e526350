//go:build integration
// +build integration

package audit_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/rulebook/audit"
	"github.com/liamcoop/rulebook/rules"

	_ "github.com/lib/pq"
)

// setupTestDB creates a PostgreSQL container and returns a migrated connection
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "rulebook_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=rulebook_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			if err = db.Ping(); err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "failed to connect to database")

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	require.NoError(t, err)
	_, err = db.Exec(string(migrationSQL))
	require.NoError(t, err, "failed to run migrations")

	// Firings belong to a world row
	_, err = db.Exec(`INSERT INTO worlds (id) VALUES ('world-1'), ('world-2')`)
	require.NoError(t, err)

	return db, func() {
		db.Close()
		container.Terminate(ctx)
	}
}

func TestPostgresLog(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	log := audit.NewPostgresLog(db, "world-1")
	other := audit.NewPostgresLog(db, "world-2")

	failure := errors.New("hinge rusted")
	for i, rec := range []rules.FiringRecord{
		{RuleID: "a", Outcome: rules.OutcomeContinue},
		{RuleID: "b", Outcome: rules.OutcomeAbort, Err: failure},
		{RuleID: "a", Outcome: rules.OutcomeReplace},
	} {
		rec.ID = uuid.NewString()
		rec.RulebookID = "default"
		rec.Action = "open"
		rec.Timestamp = int64(i + 1)
		require.NoError(t, log.Record(ctx, rec))
	}
	require.NoError(t, other.Record(ctx, rules.FiringRecord{ID: uuid.NewString(), RulebookID: "default", RuleID: "z", Timestamp: 99}))

	last, err := log.Last(ctx, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "b", last[0].RuleID)
	assert.Equal(t, rules.OutcomeAbort, last[0].Outcome)
	require.Error(t, last[0].Err)
	assert.Equal(t, "hinge rusted", last[0].Err.Error())
	assert.Equal(t, rules.OutcomeReplace, last[1].Outcome)

	forA, err := log.ForRule(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, forA, 2)

	before, err := log.HappenedBefore(ctx, "b", "a")
	require.NoError(t, err)
	assert.True(t, before)

	_, err = log.HappenedBefore(ctx, "a", "z")
	assert.ErrorIs(t, err, audit.ErrNeverFired, "firings of other worlds must not leak")

	latest, err := log.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest)
	latest, err = other.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(99), latest)
}

// TestPostgresLogDeletedWithWorld verifies firings go away with their world
func TestPostgresLogDeletedWithWorld(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	log := audit.NewPostgresLog(db, "world-1")
	require.NoError(t, log.Record(ctx, rules.FiringRecord{ID: uuid.NewString(), RulebookID: "default", RuleID: "a", Timestamp: 12}))

	_, err := db.ExecContext(ctx, `DELETE FROM worlds WHERE id = $1`, "world-1")
	require.NoError(t, err)

	latest, err := log.Latest(ctx)
	require.NoError(t, err)
	assert.Zero(t, latest)

	records, err := log.ForRule(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestPostgresLogWithScheduler records a real run end to end
func TestPostgresLogWithScheduler(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	log := audit.NewPostgresLog(db, "world-1")
	s := rules.NewScheduler(rules.WithRecorder(log))
	require.NoError(t, s.Register(rules.NewRulebook("", 0)))
	require.NoError(t, s.AddRule("default", rules.NewRule("", rules.WithPriority(200))))
	require.NoError(t, s.AddRule("default", rules.NewTrigger("locked", rules.TriggerFilter{Action: "open"}, rules.WithOutcome(rules.Abort()))))

	res, err := s.Run(context.Background(), "", rules.NewAction("open"), "me", "Door1")
	require.NoError(t, err)
	assert.Equal(t, rules.Vetoed, res.Verdict)

	records, err := log.Last(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, res.Firings[0].RuleID, records[0].RuleID)
	assert.Equal(t, "locked", records[1].RuleID)
}
