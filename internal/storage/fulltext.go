package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dshills/ragdoc/internal/searcher"
	"github.com/dshills/ragdoc/pkg/types"
)

// indexUnitsWithQuerier writes the units_fts rows of a forest. Units must
// already be stored without a search_id. Bodies start empty and are filled
// as fragments are saved.
func indexUnitsWithQuerier(ctx context.Context, q querier, jobID string, forest *types.Forest) error {
	var next int64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(rowid), 0) FROM units_fts`).Scan(&next); err != nil {
		return fmt.Errorf("failed to read search index: %w", err)
	}

	for _, u := range forest.Units {
		next++
		if _, err := q.ExecContext(ctx,
			`UPDATE units SET search_id = ? WHERE job_id = ? AND unit_id = ?`,
			next, jobID, u.ID,
		); err != nil {
			return fmt.Errorf("failed to assign search id to %s: %w", u.ID, err)
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO units_fts (rowid, job_id, unit_id, kind, name, terms, signature, doc_comment, body)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, '')
		`, next, jobID, u.ID, string(u.Kind), u.Name, searchTerms(u), u.Signature, u.DocComment)
		if err != nil {
			return fmt.Errorf("failed to index unit %s: %w", u.ID, err)
		}
	}
	return nil
}

// unindexJobWithQuerier removes the units_fts rows of a job. It must run
// before the job's units are deleted.
func unindexJobWithQuerier(ctx context.Context, q querier, jobID string) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM units_fts WHERE rowid IN (SELECT search_id FROM units WHERE job_id = ?)`, jobID)
	if err != nil {
		return fmt.Errorf("failed to clear search index: %w", err)
	}
	return nil
}

// indexFragmentWithQuerier makes a fragment's text searchable. Placeholders
// contribute nothing.
func indexFragmentWithQuerier(ctx context.Context, q querier, jobID string, f *types.Fragment) error {
	body := f.Text
	if f.Placeholder {
		body = ""
	}
	_, err := q.ExecContext(ctx,
		`UPDATE units_fts SET body = ? WHERE rowid = (SELECT search_id FROM units WHERE job_id = ? AND unit_id = ?)`,
		body, jobID, f.UnitID)
	if err != nil {
		return fmt.Errorf("failed to index fragment %s: %w", f.UnitID, err)
	}
	return nil
}

// KeywordIndex returns the full-text index of a stored job. tree is only
// used for its job ID; the rows were written by SaveUnits and SaveFragment.
func (s *SQLiteStorage) KeywordIndex(ctx context.Context, tree *types.DocTree) (searcher.KeywordIndex, error) {
	if _, err := s.getJobWithQuerier(ctx, s.db, tree.JobID); err != nil {
		return nil, err
	}
	return &keywordIndex{db: s.db, jobID: tree.JobID}, nil
}

// MemoryKeywordIndexer builds the full-text index of a job in a private
// in-memory database. Managers without persistent storage use it.
type MemoryKeywordIndexer struct{}

// KeywordIndex stores tree in a fresh :memory: database. Closing the index
// drops the database.
func (MemoryKeywordIndexer) KeywordIndex(ctx context.Context, tree *types.DocTree) (searcher.KeywordIndex, error) {
	store, err := NewSQLiteStorage(":memory:")
	if err != nil {
		return nil, err
	}

	created := time.Now()
	if tree.Summary != nil && !tree.Summary.GeneratedAt.IsZero() {
		created = tree.Summary.GeneratedAt
	}
	job := types.Job{
		ID:           tree.JobID,
		RepositoryID: tree.RepositoryID,
		Status:       types.StatusCompleted,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	if err := store.Create(ctx, job); err != nil {
		store.Close()
		return nil, err
	}
	if err := store.SetTree(ctx, tree.JobID, tree); err != nil {
		store.Close()
		return nil, err
	}
	return &keywordIndex{db: store.db, jobID: tree.JobID, owner: store}, nil
}

// keywordIndex answers searcher keyword queries from units_fts
type keywordIndex struct {
	db    *sql.DB
	jobID string
	owner *SQLiteStorage // closed with the index when set
}

var _ searcher.KeywordIndex = (*keywordIndex)(nil)

// Search ranks the job's units with FTS5. rank is bm25 negated, so the
// best match has the lowest rank.
func (k *keywordIndex) Search(ctx context.Context, q searcher.KeywordQuery) ([]searcher.KeywordHit, error) {
	match := matchExpression(q.Text)
	if match == "" || q.Limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT unit_id, rank
		FROM units_fts
		WHERE units_fts MATCH ? AND job_id = ?`
	args := []interface{}{match, k.jobID}
	if len(q.Kinds) > 0 {
		query += ` AND kind IN (?` + strings.Repeat(`, ?`, len(q.Kinds)-1) + `)`
		for _, kind := range q.Kinds {
			args = append(args, string(kind))
		}
	}
	query += ` ORDER BY rank, unit_id LIMIT ?`
	args = append(args, q.Limit)

	rows, err := k.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("full-text query failed: %w", err)
	}
	defer rows.Close()

	var hits []searcher.KeywordHit
	for rows.Next() {
		var (
			id   string
			rank float64
		)
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, err
		}
		hits = append(hits, searcher.KeywordHit{UnitID: id, Score: -rank})
	}
	return hits, rows.Err()
}

func (k *keywordIndex) Close() error {
	if k.owner == nil {
		return nil
	}
	return k.owner.Close()
}

// matchExpression turns free text into an FTS5 query matching any of its
// words. Every token is quoted, so operators and punctuation in the input
// are never interpreted.
func matchExpression(text string) string {
	seen := make(map[string]bool)
	var terms []string
	for _, t := range tokenize(text) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, `"`+t+`"`)
		}
	}
	return strings.Join(terms, " OR ")
}

// searchTerms lists the identifier parts and roles of a unit, so that
// "parse file" finds ParseFile
func searchTerms(u *types.CodeUnit) string {
	terms := splitIdentifier(u.Name)
	terms = append(terms, u.Roles...)
	return strings.Join(terms, " ")
}

// tokenize lowercases and splits on non-alphanumerics, also splitting
// camelCase and snake_case identifiers into their parts
func tokenize(text string) []string {
	var tokens []string
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, f := range fields {
		lower := strings.ToLower(f)
		tokens = append(tokens, strings.Trim(lower, "_"))
		parts := splitIdentifier(f)
		if len(parts) > 1 {
			tokens = append(tokens, parts...)
		}
	}
	out := tokens[:0]
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func splitIdentifier(s string) []string {
	var parts []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '_' || r == '.':
			flush()
		case unicode.IsUpper(r) && i > 0 && (unicode.IsLower(runes[i-1]) ||
			(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return parts
}
