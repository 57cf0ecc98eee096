package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/cashutrack/internal/token"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Index on (funding_source, position) for ordered loads
const currentSchemaVersion = 1

// Store persists live token records in SQLite.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadAll returns every persisted record grouped by funding source,
// each group in admission order. An empty database yields an empty Snapshot.
func (s *Store) LoadAll(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, funding_source, payload, owner, correlation_handles, state, retry_count, enqueued_at
		FROM pending_tokens
		ORDER BY funding_source ASC, position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	defer rows.Close()

	snap := make(Snapshot)
	for rows.Next() {
		var (
			r          token.Record
			handlesRaw string
			state      string
			enqueuedAt int64
		)
		if err := rows.Scan(&r.ID, &r.FundingSource, &r.Payload, &r.Owner, &handlesRaw, &state, &r.RetryCount, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("load tokens: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(handlesRaw), &r.Handles); err != nil {
			return nil, fmt.Errorf("load tokens: handles for %s: %w", r.ID, err)
		}
		if len(r.Handles) == 0 {
			r.Handles = nil
		}
		r.State = token.State(state)
		r.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
		snap[r.FundingSource] = append(snap[r.FundingSource], r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load tokens: iterate: %w", err)
	}

	return snap, nil
}

// SaveAll replaces the persisted record set with snap in one transaction.
// Either the full snapshot is visible afterwards or the previous one is.
func (s *Store) SaveAll(ctx context.Context, snap Snapshot) error {
	if err := snap.validate(); err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save tokens: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_tokens`); err != nil {
		return fmt.Errorf("save tokens: clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pending_tokens
		(id, funding_source, position, payload, owner, correlation_handles, state, retry_count, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save tokens: prepare: %w", err)
	}
	defer stmt.Close()

	for _, source := range snap.Sources() {
		for pos, r := range snap[source] {
			handles := r.Handles
			if handles == nil {
				handles = []string{}
			}
			handlesJSON, err := json.Marshal(handles)
			if err != nil {
				return fmt.Errorf("save tokens: handles for %s: %w", r.ID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				r.ID,
				source,
				pos,
				r.Payload,
				r.Owner,
				string(handlesJSON),
				string(r.State),
				r.RetryCount,
				r.EnqueuedAt.UnixNano(),
			); err != nil {
				return fmt.Errorf("save tokens: insert %s: %w", r.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save tokens: commit: %w", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_pending_tokens_source_position
		ON pending_tokens(funding_source, position)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
