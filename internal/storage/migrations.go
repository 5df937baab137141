package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.2.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
	{
		Version: "1.2.0",
		Up:      migrationV12Up,
		Down:    migrationV12Down,
	},
}

// Timestamps are stored as Unix nanoseconds. Fragment order depends on
// sub-microsecond differences, which text timestamps do not keep on every
// driver.
const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Processing jobs
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    repository_id TEXT NOT NULL,
    status TEXT NOT NULL,
    progress REAL NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    stage TEXT NOT NULL DEFAULT '',
    units_total INTEGER NOT NULL DEFAULT 0,
    units_done INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_repository ON jobs(repository_id, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, updated_at);

-- Code units of a job's forest, in pre-order
CREATE TABLE IF NOT EXISTS units (
    job_id TEXT NOT NULL,
    unit_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    kind TEXT NOT NULL,
    name TEXT NOT NULL,
    path TEXT NOT NULL,
    language TEXT NOT NULL,
    signature TEXT,
    doc_comment TEXT,
    roles TEXT,
    source TEXT,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    start_byte INTEGER NOT NULL,
    end_byte INTEGER NOT NULL,
    parent TEXT,
    children TEXT,
    refs TEXT,
    imports TEXT,
    PRIMARY KEY (job_id, unit_id),
    FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_units_position ON units(job_id, position);
CREATE INDEX IF NOT EXISTS idx_units_path ON units(job_id, path);

-- Current embedding of each unit; re-embedding replaces the row
CREATE TABLE IF NOT EXISTS embeddings (
    job_id TEXT NOT NULL,
    unit_id TEXT NOT NULL,
    vector BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    provider TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (job_id, unit_id),
    FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
);

-- Documentation fragments
CREATE TABLE IF NOT EXISTS fragments (
    job_id TEXT NOT NULL,
    unit_id TEXT NOT NULL,
    text TEXT NOT NULL,
    sources TEXT NOT NULL,
    placeholder BOOLEAN NOT NULL DEFAULT 0,
    reason TEXT,
    generated_at INTEGER NOT NULL,
    PRIMARY KEY (job_id, unit_id),
    FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_fragments_placeholder ON fragments(job_id, placeholder);

-- Project-level summary, one per completed job
CREATE TABLE IF NOT EXISTS project_summaries (
    job_id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    sources TEXT NOT NULL,
    placeholder BOOLEAN NOT NULL DEFAULT 0,
    reason TEXT,
    generated_at INTEGER NOT NULL,
    FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
);
`

const migrationV1Down = `
-- Drop all tables in reverse order of dependencies
DROP TABLE IF EXISTS project_summaries;
DROP TABLE IF EXISTS fragments;
DROP TABLE IF EXISTS embeddings;
DROP TABLE IF EXISTS units;
DROP TABLE IF EXISTS jobs;
DROP TABLE IF EXISTS schema_version;
`

const migrationV11Up = `
-- Files skipped by the parser
CREATE TABLE IF NOT EXISTS parse_failures (
    job_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    path TEXT NOT NULL,
    line INTEGER NOT NULL DEFAULT 0,
    col INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL,
    PRIMARY KEY (job_id, position),
    FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
);
`

const migrationV11Down = `
DROP TABLE IF EXISTS parse_failures;
`

const migrationV12Up = `
-- Row of each unit in units_fts
ALTER TABLE units ADD COLUMN search_id INTEGER;
UPDATE units SET search_id = rowid;

-- Full-text search on units, ranked by bm25. terms holds identifier parts
-- and roles, body the unit's documentation text.
CREATE VIRTUAL TABLE IF NOT EXISTS units_fts USING fts5(
    job_id UNINDEXED,
    unit_id UNINDEXED,
    kind UNINDEXED,
    name,
    terms,
    signature,
    doc_comment,
    body,
    tokenize = 'unicode61'
);

INSERT INTO units_fts (rowid, job_id, unit_id, kind, name, terms, signature, doc_comment, body)
SELECT u.search_id, u.job_id, u.unit_id, u.kind, u.name,
       COALESCE(u.roles, ''),
       COALESCE(u.signature, ''), COALESCE(u.doc_comment, ''),
       CASE WHEN f.placeholder THEN '' ELSE COALESCE(f.text, '') END
FROM units u
LEFT JOIN fragments f ON f.job_id = u.job_id AND f.unit_id = u.unit_id;
`

const migrationV12Down = `
DROP TABLE IF EXISTS units_fts;
ALTER TABLE units DROP COLUMN search_id;
`

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	currentVersion, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	// Run migrations in order
	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}

// SchemaVersion returns the highest applied migration, 0.0.0 on a fresh
// database
func SchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer rows.Close()

	// applied_at has one-second resolution, so compare versions instead
	// of trusting insertion time.
	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid current schema version %s: %w", s, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		if semver.MustParse(AllMigrations[i].Version).Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	// The first migration drops schema_version itself.
	if migration.Version == AllMigrations[0].Version {
		return nil
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}
	return nil
}
