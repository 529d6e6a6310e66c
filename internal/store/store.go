// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threadweaver/internal/scheduler"
)

// ErrRunNotFound is returned by LoadLedger for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// DBPool is the subset of pgxpool.Pool the store uses, so tests can mock it.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists run ledgers in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id      TEXT PRIMARY KEY,
    post_url    TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    posted      INTEGER NOT NULL,
    skipped     INTEGER NOT NULL,
    failed      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS run_outcomes (
    run_id      TEXT NOT NULL REFERENCES runs (run_id) ON DELETE CASCADE,
    position    INTEGER NOT NULL,
    item_order  TEXT NOT NULL,
    status      TEXT NOT NULL,
    reason      TEXT NOT NULL,
    identity    TEXT NOT NULL,
    events      JSONB NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, position)
);`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const insertRunSQL = `
INSERT INTO runs (run_id, post_url, started_at, finished_at, posted, skipped, failed)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

var outcomeColumns = []string{"run_id", "position", "item_order", "status", "reason", "identity", "events", "started_at", "finished_at"}

// SaveLedger writes the run header and every outcome in one transaction.
func (s *Store) SaveLedger(ctx context.Context, l scheduler.Ledger) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction.", zap.Error(rbErr))
		}
	}()

	sum := l.Summary()
	if _, err := tx.Exec(ctx, insertRunSQL,
		l.RunID, l.PostURL, l.StartedAt.UTC(), l.FinishedAt.UTC(), sum.Posted, sum.Skipped, sum.Failed,
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", l.RunID, err)
	}

	if len(l.Entries) > 0 {
		rows := make([][]interface{}, len(l.Entries))
		for i, e := range l.Entries {
			events := e.Events
			if events == nil {
				events = []scheduler.Event{}
			}
			encoded, err := json.ConfigCompatibleWithStandardLibrary.Marshal(events)
			if err != nil {
				return fmt.Errorf("failed to encode events for %s: %w", e.Order, err)
			}
			rows[i] = []interface{}{
				l.RunID, i, e.Order, string(e.Status), e.Reason, e.Identity,
				encoded, e.StartedAt.UTC(), e.FinishedAt.UTC(),
			}
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"run_outcomes"}, outcomeColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy outcomes: %w", err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("mismatch in copied outcome count: expected %d, got %d", len(rows), n)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Ledger saved.", zap.String("run_id", l.RunID), zap.Int("entries", len(l.Entries)))
	return nil
}

const (
	selectRunSQL = `
SELECT post_url, started_at, finished_at
FROM runs
WHERE run_id = $1;`
	selectOutcomesSQL = `
SELECT item_order, status, reason, identity, events, started_at, finished_at
FROM run_outcomes
WHERE run_id = $1
ORDER BY position ASC;`
)

// LoadLedger reads a saved run back.
func (s *Store) LoadLedger(ctx context.Context, runID string) (scheduler.Ledger, error) {
	l := scheduler.Ledger{RunID: runID}

	rows, err := s.pool.Query(ctx, selectRunSQL, runID)
	if err != nil {
		return l, fmt.Errorf("failed to query run: %w", err)
	}
	found := false
	for rows.Next() {
		if err := rows.Scan(&l.PostURL, &l.StartedAt, &l.FinishedAt); err != nil {
			rows.Close()
			return l, fmt.Errorf("failed to scan run row: %w", err)
		}
		found = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return l, fmt.Errorf("error during run iteration: %w", err)
	}
	if !found {
		return l, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rows, err = s.pool.Query(ctx, selectOutcomesSQL, runID)
	if err != nil {
		return l, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			o      scheduler.Outcome
			status string
			events []byte
			start  time.Time
			finish time.Time
		)
		if err := rows.Scan(&o.Order, &status, &o.Reason, &o.Identity, &events, &start, &finish); err != nil {
			return l, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		o.Status = scheduler.Status(status)
		o.StartedAt, o.FinishedAt = start, finish
		if len(events) > 0 {
			if err := json.ConfigCompatibleWithStandardLibrary.Unmarshal(events, &o.Events); err != nil {
				return l, fmt.Errorf("failed to decode events for %s: %w", o.Order, err)
			}
		}
		l.Entries = append(l.Entries, o)
	}
	if err := rows.Err(); err != nil {
		return l, fmt.Errorf("error during outcome iteration: %w", err)
	}
	return l, nil
}
