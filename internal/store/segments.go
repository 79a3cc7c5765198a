package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// segments is the SQLite database of one partition.
// WAL mode lets readers in other processes snapshot while a writer commits.
type segments struct {
	db   *sql.DB
	path string
	// file identifies the database file the pool was opened on.
	file os.FileInfo
}

// segmentsDSN builds the connection string. Pragmas are passed through
// _pragma so that every pooled connection gets them, not just the first.
// Write transactions begin IMMEDIATE; read-only ones stay deferred.
func segmentsDSN(path string) string {
	return path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_txlock=immediate"
}

func openSegments(ctx context.Context, path string) (*segments, error) {
	db, err := sql.Open("sqlite", segmentsDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Readers and the writer share the pool; SQLite serializes writes itself.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	s := &segments{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}
	s.file = fi
	return s, nil
}

// sameFile reports whether the database file on disk is still the one the
// pool was opened on. It is false once the file was removed or replaced.
func (s *segments) sameFile() bool {
	fi, err := os.Stat(s.path)
	if err != nil {
		return false
	}
	return os.SameFile(fi, s.file)
}

func (s *segments) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS docs (
		id      TEXT PRIMARY KEY,
		content TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', 1);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	// A new database starts its generation at the creation time in
	// nanoseconds, above anything a deleted predecessor in the same place
	// could have counted to. Readers of the old file never look current.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta (key, value) VALUES ('generation', ?)`,
		time.Now().UnixNano())
	return err
}

func (s *segments) generation(ctx context.Context) (int64, error) {
	var gen int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'generation'`).Scan(&gen)
	if err != nil {
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}
	return gen, nil
}

func (s *segments) count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM docs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// snapshot reads the generation and every document in one read transaction,
// so the two always agree.
func (s *segments) snapshot(ctx context.Context) (int64, []Document, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var gen int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'generation'`).Scan(&gen); err != nil {
		return 0, nil, fmt.Errorf("failed to read generation: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, content FROM docs ORDER BY id`)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Content); err != nil {
			return 0, nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}
	return gen, docs, nil
}

// mutation is a pending writer operation.
type mutation struct {
	deleteAll bool
	deleteID  string
	doc       *Document
}

// apply runs mutations in one transaction and bumps the generation.
func (s *segments) apply(ctx context.Context, muts []mutation) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE meta SET value = value + 1 WHERE key = 'generation'`); err != nil {
		return 0, fmt.Errorf("failed to bump generation: %w", err)
	}

	upsert, err := tx.PrepareContext(ctx,
		`INSERT INTO docs (id, content) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET content = excluded.content`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer upsert.Close()

	for _, m := range muts {
		switch {
		case m.deleteAll:
			_, err = tx.ExecContext(ctx, `DELETE FROM docs`)
		case m.doc != nil:
			_, err = upsert.ExecContext(ctx, m.doc.ID, m.doc.Content)
		default:
			_, err = tx.ExecContext(ctx, `DELETE FROM docs WHERE id = ?`, m.deleteID)
		}
		if err != nil {
			return 0, fmt.Errorf("failed to apply mutation: %w", err)
		}
	}

	var gen int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'generation'`).Scan(&gen); err != nil {
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return gen, nil
}

// replaceAll swaps the full document set for docs in one transaction.
func (s *segments) replaceAll(ctx context.Context, docs []Document) (int64, error) {
	muts := make([]mutation, 0, len(docs)+1)
	muts = append(muts, mutation{deleteAll: true})
	for i := range docs {
		muts = append(muts, mutation{doc: &docs[i]})
	}
	return s.apply(ctx, muts)
}

// checkpoint folds the WAL back into the main database file.
func (s *segments) checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)")
	return err
}

// reset deletes every document and bumps the generation.
func (s *segments) reset(ctx context.Context) (int64, error) {
	return s.apply(ctx, []mutation{{deleteAll: true}})
}

// integrity runs SQLite's integrity check and verifies the schema.
func (s *segments) integrity(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('meta', 'docs')`).Scan(&n)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if n != 2 {
		return fmt.Errorf("schema incomplete: %d of 2 tables", n)
	}
	return nil
}

func (s *segments) close() error {
	return s.db.Close()
}

// removeSegmentFiles deletes the database and its WAL side files.
func removeSegmentFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
