package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/liamcoop/rulebook/rules"
)

// PostgresLog implements Log backed by the firings table
type PostgresLog struct {
	db      *sql.DB
	worldID string
}

// NewPostgresLog creates a PostgreSQL-backed Log for a specific world
func NewPostgresLog(db *sql.DB, worldID string) *PostgresLog {
	return &PostgresLog{
		db:      db,
		worldID: worldID,
	}
}

// Record inserts a firing
func (l *PostgresLog) Record(ctx context.Context, rec rules.FiringRecord) error {
	var errText sql.NullString
	if rec.Err != nil {
		errText = sql.NullString{String: rec.Err.Error(), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO firings (id, world_id, rulebook_id, rule_id, action, outcome, logical_ts, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, l.worldID, rec.RulebookID, rec.RuleID, string(rec.Action),
		rec.Outcome.String(), rec.Timestamp, errText)
	if err != nil {
		return fmt.Errorf("failed to insert firing: %w", err)
	}
	return nil
}

// Last returns up to n most recent firings of the world, oldest first
func (l *PostgresLog) Last(ctx context.Context, n int) ([]rules.FiringRecord, error) {
	if n <= 0 {
		n = DefaultCapacity
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, rulebook_id, rule_id, action, outcome, logical_ts, error
		FROM (
			SELECT * FROM firings
			WHERE world_id = $1
			ORDER BY logical_ts DESC
			LIMIT $2
		) recent
		ORDER BY logical_ts ASC
	`, l.worldID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list firings: %w", err)
	}
	return scanFirings(rows)
}

// ForRule returns every firing of ruleID, oldest first
func (l *PostgresLog) ForRule(ctx context.Context, ruleID string) ([]rules.FiringRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, rulebook_id, rule_id, action, outcome, logical_ts, error
		FROM firings
		WHERE world_id = $1 AND rule_id = $2
		ORDER BY logical_ts ASC
	`, l.worldID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list firings for rule %s: %w", ruleID, err)
	}
	return scanFirings(rows)
}

// HappenedBefore compares the latest firings of a and b
func (l *PostgresLog) HappenedBefore(ctx context.Context, a, b string) (bool, error) {
	ta, err := l.latest(ctx, a)
	if err != nil {
		return false, err
	}
	tb, err := l.latest(ctx, b)
	if err != nil {
		return false, err
	}
	return ta < tb, nil
}

// Latest returns the highest timestamp recorded for the world
func (l *PostgresLog) Latest(ctx context.Context) (int64, error) {
	var ts int64
	err := l.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(logical_ts), 0) FROM firings
		WHERE world_id = $1
	`, l.worldID).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest firing: %w", err)
	}
	return ts, nil
}

func (l *PostgresLog) latest(ctx context.Context, ruleID string) (int64, error) {
	var ts sql.NullInt64
	err := l.db.QueryRowContext(ctx, `
		SELECT MAX(logical_ts) FROM firings
		WHERE world_id = $1 AND rule_id = $2
	`, l.worldID, ruleID).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("failed to query firings for rule %s: %w", ruleID, err)
	}
	if !ts.Valid {
		return 0, fmt.Errorf("rule %s: %w", ruleID, ErrNeverFired)
	}
	return ts.Int64, nil
}

func scanFirings(rows *sql.Rows) ([]rules.FiringRecord, error) {
	defer rows.Close()

	var out []rules.FiringRecord
	for rows.Next() {
		var (
			rec     rules.FiringRecord
			action  string
			outcome string
			errText sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.RulebookID, &rec.RuleID, &action, &outcome, &rec.Timestamp, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan firing: %w", err)
		}
		rec.Action = rules.ActionKind(action)
		kind, err := rules.ParseOutcomeKind(outcome)
		if err != nil {
			return nil, fmt.Errorf("firing %s: %w", rec.ID, err)
		}
		rec.Outcome = kind
		if errText.Valid {
			rec.Err = errors.New(errText.String)
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating firings: %w", err)
	}
	return out, nil
}
