// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package store implements the durable persistence layer: watermarks, the
// commit map, the PR sync log, the conflict queue, the audit log, and the orchestrator's
// sync-state snapshot, all behind one atomic transaction primitive.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Watermark source identifiers.
const (
	WatermarkSvnLastRev    = "svn_last_rev"
	WatermarkGitLastPrTime = "git_last_pr_time"
)

// Direction of a sync operation.
type Direction string

const (
	DirectionSvnToGit Direction = "svn_to_git"
	DirectionGitToSvn Direction = "git_to_svn"
)

// PrStatus is the lifecycle status of a PrLogEntry.
type PrStatus string

const (
	PrStatusPending   PrStatus = "pending"
	PrStatusCompleted PrStatus = "completed"
	PrStatusFailed    PrStatus = "failed"
)

// ConflictStatus mirrors conflict.State, persisted as plain text.
type ConflictStatus string

const (
	ConflictStatusDetected ConflictStatus = "detected"
	ConflictStatusQueued   ConflictStatus = "queued"
	ConflictStatusDeferred ConflictStatus = "deferred"
	ConflictStatusResolved ConflictStatus = "resolved"
)

// Store wraps the SQLite connection backing one GitSvnSync data directory.
type Store struct {
	conn *sql.DB
}

// Open opens or creates the database at path and applies pending migrations. Only a single
// connection is kept open (mirroring the single-writer WAL convention used elsewhere in the
// pack): GitSvnSync has exactly one orchestrator goroutine driving writes per cycle.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS watermarks (
    source TEXT PRIMARY KEY,
    value  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS commit_map (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    direction   TEXT NOT NULL,
    svn_rev     INTEGER NOT NULL,
    git_sha     TEXT NOT NULL,
    svn_author  TEXT,
    git_author  TEXT,
    synced_at   TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_commit_map_svn_rev_direction ON commit_map(direction, svn_rev);
CREATE INDEX IF NOT EXISTS idx_commit_map_git_sha ON commit_map(git_sha);

CREATE TABLE IF NOT EXISTS pr_log (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    pr_number       INTEGER NOT NULL,
    title           TEXT,
    source_branch   TEXT,
    merge_sha       TEXT NOT NULL UNIQUE,
    strategy        TEXT NOT NULL,
    first_svn_rev   INTEGER,
    last_svn_rev    INTEGER,
    commit_count    INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL CHECK(status IN ('pending','completed','failed')),
    error_message   TEXT,
    detected_at     TEXT NOT NULL DEFAULT (datetime('now')),
    completed_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_pr_log_status ON pr_log(status);

CREATE TABLE IF NOT EXISTS conflicts (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    path           TEXT NOT NULL,
    kind           TEXT NOT NULL,
    svn_content    BLOB,
    git_content    BLOB,
    base_content   BLOB,
    svn_rev        INTEGER,
    git_sha        TEXT,
    status         TEXT NOT NULL CHECK(status IN ('detected','queued','deferred','resolved')),
    resolution     TEXT,
    resolver       TEXT,
    created_at     TEXT NOT NULL DEFAULT (datetime('now')),
    resolved_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status);

CREATE TABLE IF NOT EXISTS audit_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    action      TEXT NOT NULL,
    direction   TEXT,
    svn_rev     INTEGER,
    git_sha     TEXT,
    author      TEXT,
    detail      TEXT,
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);

CREATE TABLE IF NOT EXISTS sync_state (
    id         INTEGER PRIMARY KEY CHECK(id = 1),
    state      TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// schemaV2 adds the columns needed to replay a resolved conflict back into both working copies:
// operator-supplied bytes for the manual-content strategy, and a marker distinguishing "resolution
// decided" from "resolution written to both repos", since those happen in different sync cycles.
const schemaV2 = `
ALTER TABLE conflicts ADD COLUMN manual_content BLOB;
ALTER TABLE conflicts ADD COLUMN applied_at TEXT;
CREATE INDEX IF NOT EXISTS idx_conflicts_resolved_unapplied ON conflicts(status, applied_at);
`

// migrate applies schema migrations in order. New migrations should be added as schemaV3, etc.,
// each gated behind its own schema_version row check, never by mutating schemaV1/schemaV2 in place.
func (s *Store) migrate() error {
	if err := s.applyMigration(1, schemaV1); err != nil {
		return err
	}
	if err := s.applyMigration(2, schemaV2); err != nil {
		return err
	}
	return nil
}

func (s *Store) applyMigration(version int, statements string) error {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&count)
	if err == nil && count > 0 {
		return nil
	}
	// schema_version itself does not exist yet before v1 runs; that's expected on a fresh database.
	if err != nil && version != 1 {
		return fmt.Errorf("check schema version %d: %w", version, err)
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(statements); err != nil {
		return fmt.Errorf("apply schema v%d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT OR IGNORE INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("record schema version %d: %w", version, err)
	}
	return tx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting every operation below be shared
// between the unscoped Store and a transaction-scoped Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a transaction-scoped handle passed to the function given to Store.Transaction.
type Tx struct {
	q querier
}

// Transaction runs fn within a single database transaction: it commits atomically on normal
// return and rolls back on error. A watermark advance and its commit-map insert must be one
// atomic unit, which callers satisfy by calling PutWatermark and RecordCommitMap on the same Tx.
func (s *Store) Transaction(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Tx{q: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
