package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/ragdoc/internal/jobs"
	"github.com/dshills/ragdoc/pkg/types"
)

// ErrNotFound is returned when a requested row doesn't exist
var ErrNotFound = errors.New("not found")

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:"
	// databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn inside a transaction. The store has one connection, so
// fn must only use the querier it is given.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Job operations

const jobColumns = `id, repository_id, status, progress, message, stage, units_total, units_done, created_at, updated_at`

func (s *SQLiteStorage) Create(ctx context.Context, job types.Job) error {
	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.RepositoryID, string(job.Status), job.Progress, job.Message, string(job.Stage),
		job.UnitsTotal, job.UnitsDone, toNanos(job.CreatedAt), toNanos(job.UpdatedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %s", jobs.ErrJobExists, job.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) getJobWithQuerier(ctx context.Context, q querier, jobID string) (types.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	job, err := scanJob(q.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return types.Job{}, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	if err != nil {
		return types.Job{}, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// Get returns a job. A completed job carries its documentation tree.
func (s *SQLiteStorage) Get(ctx context.Context, jobID string) (types.Job, error) {
	job, err := s.getJobWithQuerier(ctx, s.db, jobID)
	if err != nil {
		return types.Job{}, err
	}
	if job.Status != types.StatusCompleted {
		return job, nil
	}
	tree, err := s.Tree(ctx, jobID)
	if err != nil && !errors.Is(err, jobs.ErrTreeNotReady) {
		return types.Job{}, err
	}
	job.Tree = tree
	return job, nil
}

func (s *SQLiteStorage) Apply(ctx context.Context, update types.JobUpdate) error {
	query := `
		UPDATE jobs
		SET status = ?, progress = ?, message = ?, stage = ?, units_total = ?, units_done = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		string(update.Status), update.Progress, update.Message, string(update.Stage),
		update.UnitsTotal, update.UnitsDone, toNanos(update.At), update.JobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, update.JobID)
	}
	return nil
}

func (s *SQLiteStorage) List(ctx context.Context, repositoryID string) ([]types.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []interface{}
	if repositoryID != "" {
		query += ` WHERE repository_id = ?`
		args = append(args, repositoryID)
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Purge(ctx context.Context, cutoff time.Time) ([]string, error) {
	var purged []string
	err := s.withTx(ctx, func(q querier) error {
		rows, err := q.QueryContext(ctx,
			`SELECT id FROM jobs WHERE status IN (?, ?) AND updated_at < ? ORDER BY id`,
			string(types.StatusCompleted), string(types.StatusFailed), toNanos(cutoff),
		)
		if err != nil {
			return fmt.Errorf("failed to select expired jobs: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			purged = append(purged, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		// Units, embeddings and fragments follow through ON DELETE CASCADE.
		// units_fts is a virtual table and has no foreign keys.
		for _, id := range purged {
			if err := unindexJobWithQuerier(ctx, q, id); err != nil {
				return err
			}
			if _, err := q.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
				return fmt.Errorf("failed to delete job %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purged, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (types.Job, error) {
	var (
		job                  types.Job
		status, stage        string
		createdAt, updatedAt int64
	)
	err := row.Scan(&job.ID, &job.RepositoryID, &status, &job.Progress, &job.Message, &stage,
		&job.UnitsTotal, &job.UnitsDone, &createdAt, &updatedAt)
	if err != nil {
		return types.Job{}, err
	}
	job.Status = types.JobStatus(status)
	job.Stage = types.Stage(stage)
	job.CreatedAt = fromNanos(createdAt)
	job.UpdatedAt = fromNanos(updatedAt)
	return job, nil
}

// Unit operations

// SaveUnits replaces the stored forest of a job, including its parse
// failures
func (s *SQLiteStorage) SaveUnits(ctx context.Context, jobID string, forest *types.Forest) error {
	return s.withTx(ctx, func(q querier) error {
		if _, err := s.getJobWithQuerier(ctx, q, jobID); err != nil {
			return err
		}
		return s.replaceUnitsWithQuerier(ctx, q, jobID, forest)
	})
}

func (s *SQLiteStorage) replaceUnitsWithQuerier(ctx context.Context, q querier, jobID string, forest *types.Forest) error {
	if err := unindexJobWithQuerier(ctx, q, jobID); err != nil {
		return err
	}
	for _, table := range []string{"units", "parse_failures"} {
		if _, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE job_id = ?`, jobID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	query := `
		INSERT INTO units (
			job_id, unit_id, position, kind, name, path, language, signature, doc_comment, roles, source,
			start_line, end_line, start_byte, end_byte, parent, children, refs, imports
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, u := range forest.Units {
		_, err := q.ExecContext(ctx, query,
			jobID, u.ID, i, string(u.Kind), u.Name, u.Path, string(u.Language), u.Signature, u.DocComment,
			encodeStrings(u.Roles), u.Source,
			u.Span.StartLine, u.Span.EndLine, u.Span.StartByte, u.Span.EndByte,
			u.Parent, encodeStrings(u.Children), encodeStrings(u.References), encodeStrings(u.Imports),
		)
		if err != nil {
			return fmt.Errorf("failed to insert unit %s: %w", u.ID, err)
		}
	}
	if err := indexUnitsWithQuerier(ctx, q, jobID, forest); err != nil {
		return err
	}

	for i, f := range forest.Failures {
		var line, col int
		message := ""
		if f.Err != nil {
			line, col, message = f.Err.Line, f.Err.Column, f.Err.Message
		}
		_, err := q.ExecContext(ctx,
			`INSERT INTO parse_failures (job_id, position, path, line, col, message) VALUES (?, ?, ?, ?, ?, ?)`,
			jobID, i, f.Path, line, col, message,
		)
		if err != nil {
			return fmt.Errorf("failed to insert parse failure %s: %w", f.Path, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) Units(ctx context.Context, jobID string) (*types.Forest, error) {
	if _, err := s.getJobWithQuerier(ctx, s.db, jobID); err != nil {
		return nil, err
	}
	return s.loadForestWithQuerier(ctx, s.db, jobID)
}

func (s *SQLiteStorage) loadForestWithQuerier(ctx context.Context, q querier, jobID string) (*types.Forest, error) {
	query := `
		SELECT unit_id, kind, name, path, language, signature, doc_comment, roles, source,
		       start_line, end_line, start_byte, end_byte, parent, children, refs, imports
		FROM units
		WHERE job_id = ?
		ORDER BY position
	`
	rows, err := q.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load units: %w", err)
	}

	var units []*types.CodeUnit
	for rows.Next() {
		var (
			u                                  types.CodeUnit
			kind, language                     string
			signature, docComment, source      sql.NullString
			parent, roles, children, refs, imp sql.NullString
		)
		err := rows.Scan(&u.ID, &kind, &u.Name, &u.Path, &language, &signature, &docComment, &roles, &source,
			&u.Span.StartLine, &u.Span.EndLine, &u.Span.StartByte, &u.Span.EndByte,
			&parent, &children, &refs, &imp)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		u.Kind = types.UnitKind(kind)
		u.Language = types.Language(language)
		u.Signature = signature.String
		u.DocComment = docComment.String
		u.Source = source.String
		u.Parent = parent.String
		if u.Roles, err = decodeStrings(roles); err == nil {
			if u.Children, err = decodeStrings(children); err == nil {
				if u.References, err = decodeStrings(refs); err == nil {
					u.Imports, err = decodeStrings(imp)
				}
			}
		}
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode unit %s: %w", u.ID, err)
		}
		units = append(units, &u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	failures, err := s.loadFailuresWithQuerier(ctx, q, jobID)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 && len(failures) == 0 {
		return nil, fmt.Errorf("%w: no units for job %s", ErrNotFound, jobID)
	}
	return types.NewForest(units, failures)
}

// loadFailuresWithQuerier rebuilds parse failures. Stubs keep their
// identity but not the file text.
func (s *SQLiteStorage) loadFailuresWithQuerier(ctx context.Context, q querier, jobID string) ([]types.ParseFailure, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT path, line, col, message FROM parse_failures WHERE job_id = ? ORDER BY position`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parse failures: %w", err)
	}
	defer rows.Close()

	var failures []types.ParseFailure
	for rows.Next() {
		perr := &types.ParseError{}
		if err := rows.Scan(&perr.File, &perr.Line, &perr.Column, &perr.Message); err != nil {
			return nil, fmt.Errorf("failed to scan parse failure: %w", err)
		}
		failures = append(failures, types.ParseFailure{
			Path: perr.File,
			Stub: &types.CodeUnit{
				ID:   perr.File,
				Kind: types.KindUnparseable,
				Name: perr.File,
				Path: perr.File,
			},
			Err: perr,
		})
	}
	return failures, rows.Err()
}

// Fragment operations

// SaveFragment stores one fragment. The project summary arrives under
// types.ProjectNodeID and is kept apart from unit fragments.
func (s *SQLiteStorage) SaveFragment(ctx context.Context, jobID string, fragment *types.Fragment) error {
	return s.withTx(ctx, func(q querier) error {
		return s.saveFragmentWithQuerier(ctx, q, jobID, fragment)
	})
}

func (s *SQLiteStorage) saveFragmentWithQuerier(ctx context.Context, q querier, jobID string, f *types.Fragment) error {
	sources, err := json.Marshal(f.Sources)
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}

	if f.UnitID == types.ProjectNodeID {
		_, err = q.ExecContext(ctx, `
			INSERT OR REPLACE INTO project_summaries (job_id, text, sources, placeholder, reason, generated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, jobID, f.Text, string(sources), f.Placeholder, f.Reason, toNanos(f.GeneratedAt))
	} else {
		_, err = q.ExecContext(ctx, `
			INSERT OR REPLACE INTO fragments (job_id, unit_id, text, sources, placeholder, reason, generated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, jobID, f.UnitID, f.Text, string(sources), f.Placeholder, f.Reason, toNanos(f.GeneratedAt))
	}
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
		}
		return fmt.Errorf("failed to save fragment %s: %w", f.UnitID, err)
	}
	if f.UnitID == types.ProjectNodeID {
		return nil
	}
	return indexFragmentWithQuerier(ctx, q, jobID, f)
}

// SetTree stores a complete documentation tree in one transaction,
// replacing whatever the sink recorded for the job
func (s *SQLiteStorage) SetTree(ctx context.Context, jobID string, tree *types.DocTree) error {
	if tree == nil || tree.Forest == nil {
		return types.ErrMissingForest
	}
	if tree.Summary == nil {
		return types.ErrMissingSummary
	}
	return s.withTx(ctx, func(q querier) error {
		if _, err := s.getJobWithQuerier(ctx, q, jobID); err != nil {
			return err
		}
		if err := s.replaceUnitsWithQuerier(ctx, q, jobID, tree.Forest); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM fragments WHERE job_id = ?`, jobID); err != nil {
			return fmt.Errorf("failed to clear fragments: %w", err)
		}
		for _, u := range tree.Forest.Units {
			f, ok := tree.Fragments[u.ID]
			if !ok {
				return fmt.Errorf("%w: no fragment for %s", types.ErrFragmentCount, u.ID)
			}
			if err := s.saveFragmentWithQuerier(ctx, q, jobID, f); err != nil {
				return err
			}
		}
		return s.saveFragmentWithQuerier(ctx, q, jobID, tree.Summary)
	})
}

// Tree rebuilds the documentation tree of a job. Only jobs with a stored
// project summary have one.
func (s *SQLiteStorage) Tree(ctx context.Context, jobID string) (*types.DocTree, error) {
	job, err := s.getJobWithQuerier(ctx, s.db, jobID)
	if err != nil {
		return nil, err
	}

	summary, err := s.loadSummary(ctx, jobID)
	if err == sql.ErrNoRows {
		return nil, jobs.ErrTreeNotReady
	}
	if err != nil {
		return nil, err
	}

	forest, err := s.loadForestWithQuerier(ctx, s.db, jobID)
	if err != nil {
		return nil, err
	}

	fragments, err := s.loadFragments(ctx, jobID)
	if err != nil {
		return nil, err
	}

	tree := &types.DocTree{
		RepositoryID: job.RepositoryID,
		JobID:        jobID,
		Summary:      summary,
		Fragments:    fragments,
		Forest:       forest,
	}
	if err := tree.Validate(); err != nil {
		return nil, fmt.Errorf("stored tree for job %s is invalid: %w", jobID, err)
	}
	return tree, nil
}

func (s *SQLiteStorage) loadSummary(ctx context.Context, jobID string) (*types.Fragment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT text, sources, placeholder, reason, generated_at FROM project_summaries WHERE job_id = ?`, jobID)
	f, err := scanFragment(row)
	if err != nil {
		return nil, err
	}
	f.UnitID = types.ProjectNodeID
	return f, nil
}

func (s *SQLiteStorage) loadFragments(ctx context.Context, jobID string) (map[string]*types.Fragment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT unit_id, text, sources, placeholder, reason, generated_at FROM fragments WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fragments: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*types.Fragment)
	for rows.Next() {
		var unitID string
		f, err := scanFragment(rows, &unitID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		f.UnitID = unitID
		out[unitID] = f
	}
	return out, rows.Err()
}

// scanFragment reads the common fragment columns, preceded by any extra
// destinations
func scanFragment(row rowScanner, extra ...interface{}) (*types.Fragment, error) {
	var (
		f           types.Fragment
		sources     string
		reason      sql.NullString
		generatedAt int64
	)
	dest := append(extra, &f.Text, &sources, &f.Placeholder, &reason, &generatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sources), &f.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources: %w", err)
	}
	f.Reason = reason.String
	f.GeneratedAt = fromNanos(generatedAt)
	return &f, nil
}

// Helpers

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// encodeStrings stores nil and empty lists as NULL
func encodeStrings(values []string) interface{} {
	if len(values) == 0 {
		return nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return string(data)
}

func decodeStrings(v sql.NullString) ([]string, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// isConstraintError matches primary key, unique and foreign key violations
// from either driver
func isConstraintError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "constraint")
}
