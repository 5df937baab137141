// Package storage persists processing jobs and their results in SQLite.
//
// A database holds every job, the forest of code units each job parsed,
// the unit embeddings, and the generated fragments with the project
// summary. Rows belong to a job and are removed with it.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite, a pure Go driver:
//
//	go build ./...
//
// Building with the sqlite_cgo tag switches to github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags "sqlite_cgo sqlite_fts5" ./...
//
// Both drivers need FTS5, which backs keyword search.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("ragdoc.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	manager := jobs.NewManager(run, emb, gen, store,
//	    jobs.WithSink(store), jobs.WithKeywordIndexer(store))
//
// # Schema
//
// The schema is versioned with semantic versions and migrated on open.
// Timestamps are Unix nanoseconds so fragment order survives a round trip.
//
// # Full-text Search
//
// units_fts is an FTS5 table with one row per unit: name, identifier parts
// and roles, signature, doc comment and the unit's documentation text.
// KeywordIndex ranks a job's rows by the FTS5 rank column (bm25):
//
//	SELECT unit_id, rank FROM units_fts
//	WHERE units_fts MATCH '"parse" OR "file"' AND job_id = ?
//	ORDER BY rank
//
// Jobs kept in memory get the same index from MemoryKeywordIndexer, which
// copies the finished tree into a private :memory: database.
package storage
