// Package catalog persists per-target version-chain metadata and run
// records in a SQLite database.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"backhaul/internal/catalog/migrations"
	"backhaul/internal/core"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const timeLayout = time.RFC3339

// SQLiteCatalog implements core.Catalog using SQLite.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the catalog at path and applies pending schema
// migrations. path can be a file path or ":memory:" for tests.
func Open(path string) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating catalog schema: %w", err)
	}

	return &SQLiteCatalog{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tools and tests that need a raw connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward
	// compatibility).
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// LatestVersion returns the most recent version for a target, or nil if the
// target has no versions.
func (c *SQLiteCatalog) LatestVersion(targetName string) (*core.Version, error) {
	row := c.db.QueryRow(
		`SELECT target, sequence, method, fingerprint, created_at
		 FROM versions WHERE target = ? ORDER BY sequence DESC LIMIT 1`,
		targetName,
	)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// ChainState returns the chain summary for the method decision: the most
// recent full version and the number of incrementals appended after it.
func (c *SQLiteCatalog) ChainState(targetName string) (*core.ChainState, error) {
	row := c.db.QueryRow(
		`SELECT target, sequence, method, fingerprint, created_at
		 FROM versions WHERE target = ? AND method = 'full'
		 ORDER BY sequence DESC LIMIT 1`,
		targetName,
	)
	lastFull, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &core.ChainState{}, nil
	}
	if err != nil {
		return nil, err
	}

	var count int
	err = c.db.QueryRow(
		`SELECT COUNT(*) FROM versions
		 WHERE target = ? AND method = 'incremental' AND sequence > ?`,
		targetName, lastFull.Sequence,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("counting incrementals for %s: %w", targetName, err)
	}

	return &core.ChainState{LastFull: lastFull, IncrementalsSinceFull: count}, nil
}

// AppendVersion records a newly committed version, assigning the next
// sequence number for the target. The chain is append-only; versions are
// never mutated or deleted here.
func (c *SQLiteCatalog) AppendVersion(targetName string, method core.Method, fingerprint string, createdAt time.Time) (*core.Version, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRow(
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM versions WHERE target = ?`,
		targetName,
	).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("allocating sequence for %s: %w", targetName, err)
	}

	_, err = tx.Exec(
		`INSERT INTO versions (target, sequence, method, fingerprint, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		targetName, seq, string(method), fingerprint, createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting version for %s: %w", targetName, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing version for %s: %w", targetName, err)
	}

	return &core.Version{
		TargetName:  targetName,
		Sequence:    seq,
		Method:      method,
		Fingerprint: fingerprint,
		CreatedAt:   createdAt.UTC(),
	}, nil
}

// ListVersions returns all versions for a target, oldest first.
func (c *SQLiteCatalog) ListVersions(targetName string) ([]*core.Version, error) {
	rows, err := c.db.Query(
		`SELECT target, sequence, method, fingerprint, created_at
		 FROM versions WHERE target = ? ORDER BY sequence ASC`,
		targetName,
	)
	if err != nil {
		return nil, fmt.Errorf("listing versions for %s: %w", targetName, err)
	}
	defer rows.Close()

	var versions []*core.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// CreateRun records the start of a backup or sync run.
func (c *SQLiteCatalog) CreateRun(operation, targetName string) (int64, error) {
	res, err := c.db.Exec(
		`INSERT INTO runs (operation, target, status, started_at) VALUES (?, ?, 'started', ?)`,
		operation, targetName, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("recording run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun marks a run finished with the given status.
func (c *SQLiteCatalog) FinishRun(id int64, status string) error {
	_, err := c.db.Exec(
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("finishing run %d: %w", id, err)
	}
	return nil
}

// Close closes the database connection.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(s scanner) (*core.Version, error) {
	var (
		v       core.Version
		method  string
		created string
	)
	if err := s.Scan(&v.TargetName, &v.Sequence, &method, &v.Fingerprint, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning version: %w", err)
	}
	v.Method = core.Method(method)

	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	v.CreatedAt = t
	return &v, nil
}

// Compile-time check that SQLiteCatalog implements core.Catalog.
var _ core.Catalog = (*SQLiteCatalog)(nil)
