// Package journal persists execution results to SQLite for audit and
// debugging. The journal is a downstream consumer of ExecutionResult, not a
// recovery log: the engine never reads it on its own behalf, and rollback
// works entirely from in-memory compensation closures.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"arbiter/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Journal is an append-only execution log.
// Uses SQLite with WAL mode for concurrent read access.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Entry is one journaled execution.
type Entry struct {
	ID         int64
	TxID       string
	ActionType ir.ActionType
	ActorID    string
	Phase      ir.Phase
	Turn       int
	Success    bool

	// Result is the canonical-JSON rendering of the ExecutionResult,
	// byte-stable across runs for a given outcome.
	Result string

	ElapsedUS  int64
	RecordedAt time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// Open creates or opens the journal database at path. ":memory:" works for
// tests. Idempotent: pragmas and schema apply on every open.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("open journal: %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal: apply schema: %w", err)
	}

	j := &Journal{db: db, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends one execution. The result is serialized canonically so two
// identical outcomes journal byte-identical payloads.
func (j *Journal) Record(ctx context.Context, action ir.Action, phase ir.Phase, turn int, result *ir.ExecutionResult) error {
	payload, err := ir.MarshalCanonical(result.CanonicalMap())
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}

	success := 0
	if result.Success {
		success = 1
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO executions
		(tx_id, action_type, actor_id, phase, turn, success, result, elapsed_us, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.TxID,
		string(action.Type),
		action.ActorID,
		string(phase),
		turn,
		success,
		string(payload),
		result.Elapsed.Microseconds(),
		j.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// ByActor returns the most recent entries for one actor, newest first.
// A non-positive limit means no limit.
func (j *Journal) ByActor(ctx context.Context, actorID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, tx_id, action_type, actor_id, phase, turn, success, result, elapsed_us, recorded_at
		FROM executions
		WHERE actor_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ByTx returns the entry for one transaction id.
func (j *Journal) ByTx(ctx context.Context, txID string) (Entry, bool, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, tx_id, action_type, actor_id, phase, turn, success, result, elapsed_us, recorded_at
		FROM executions
		WHERE tx_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, txID)
	if err != nil {
		return Entry{}, false, fmt.Errorf("read journal: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return entries[0], true, nil
}

// Count returns the number of journaled executions.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			actionType string
			phase      string
			success    int
			recordedAt string
		)
		if err := rows.Scan(&e.ID, &e.TxID, &actionType, &e.ActorID, &phase, &e.Turn,
			&success, &e.Result, &e.ElapsedUS, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.ActionType = ir.ActionType(actionType)
		e.Phase = ir.Phase(phase)
		e.Success = success == 1
		if t, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
			e.RecordedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
