package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/corpuskit/annodb/pkg/annodb/internalerr"
	"github.com/corpuskit/annodb/pkg/annodb/store"
)

// Store implements store.Store against a single SQLite file. Mutating
// access during ingestion goes through the BulkWriter obtained from
// Writer(); everything here is read-only or maintenance.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, enables foreign keys and
// WAL, and applies any pending schema migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=10000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is the ordered schema history. PRAGMA user_version records
// how many entries have been applied; new entries are appended, never
// edited in place.
var migrations = []string{
	// v1: ingestion schema
	`
CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY,
	title TEXT,
	word_count INTEGER DEFAULT 0,
	token_count INTEGER DEFAULT 0,
	alpha_count INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sentences (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL,
	sentence_index INTEGER NOT NULL,
	document_id INTEGER NOT NULL,
	word_count INTEGER DEFAULT 0,
	token_count INTEGER DEFAULT 0,
	alpha_count INTEGER DEFAULT 0,
	UNIQUE(document_id, sentence_index),
	FOREIGN KEY(document_id) REFERENCES documents(id)
);

CREATE TABLE IF NOT EXISTS entities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_occurrences (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_text TEXT NOT NULL,
	span_start INTEGER NOT NULL,
	span_end INTEGER NOT NULL,
	entity_id INTEGER NOT NULL,
	sentence_id INTEGER NOT NULL,
	intra_doc_fq INTEGER DEFAULT 0,
	tf REAL DEFAULT 0,
	inter_doc_fq INTEGER DEFAULT 0,
	tf_idf REAL DEFAULT 0,
	idf REAL DEFAULT 0,
	FOREIGN KEY(entity_id) REFERENCES entities(id),
	FOREIGN KEY(sentence_id) REFERENCES sentences(id)
);

CREATE TABLE IF NOT EXISTS source_files (
	file_name TEXT PRIMARY KEY,
	inserted_at TEXT NOT NULL
);
`,
	// v2: co-occurrence schema and the indexes the analytics passes lean on
	`
CREATE TABLE IF NOT EXISTS entity_cooccurrences (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	e1_text TEXT NOT NULL,
	e2_text TEXT NOT NULL,
	e1_ne_id INTEGER NOT NULL,
	e2_ne_id INTEGER NOT NULL,
	e1_id INTEGER NOT NULL,
	e2_id INTEGER NOT NULL,
	sentence_id INTEGER NOT NULL,
	coentity_summary_id INTEGER,
	UNIQUE(e1_id, e2_id, sentence_id),
	FOREIGN KEY(e1_ne_id) REFERENCES entities(id),
	FOREIGN KEY(e2_ne_id) REFERENCES entities(id),
	FOREIGN KEY(e1_id) REFERENCES entity_occurrences(id),
	FOREIGN KEY(e2_id) REFERENCES entity_occurrences(id),
	FOREIGN KEY(sentence_id) REFERENCES sentences(id)
);

CREATE TABLE IF NOT EXISTS coentity_summary (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	e1_text TEXT NOT NULL,
	e2_text TEXT NOT NULL,
	fq INTEGER NOT NULL,
	weighted_fq REAL DEFAULT 0,
	avg_e1_tf_idf REAL DEFAULT 0,
	avg_e2_tf_idf REAL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sentences_document ON sentences(document_id);
CREATE INDEX IF NOT EXISTS idx_occurrences_sentence ON entity_occurrences(sentence_id);
CREATE INDEX IF NOT EXISTS idx_occurrences_term ON entity_occurrences(entity_id, entity_text);
`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build supports (%d)", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		// PRAGMA does not take bind parameters
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", i+1)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion reports the applied migration count.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version)
	return version, err
}

// LedgerContains reports whether fileName has been fully ingested.
func (s *Store) LedgerContains(ctx context.Context, fileName string) (bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM source_files WHERE file_name=?`, fileName).Scan(&n)
	return n > 0, err
}

// Ledger returns the full set of ingested file names.
func (s *Store) Ledger(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file_name FROM source_files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		files[name] = struct{}{}
	}
	return files, rows.Err()
}

// EntityTypeID resolves an annotation class name to its dictionary id.
func (s *Store) EntityTypeID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM entities WHERE entity=?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("entity type %q: %w", name, internalerr.ErrNotFound)
	}
	return id, err
}

// EntityTypes returns the annotation-class dictionary.
func (s *Store) EntityTypes(ctx context.Context) ([]store.EntityType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, entity FROM entities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []store.EntityType
	for rows.Next() {
		var et store.EntityType
		if err := rows.Scan(&et.ID, &et.Name); err != nil {
			return nil, err
		}
		types = append(types, et)
	}
	return types, rows.Err()
}

// DocumentCount returns the total number of documents.
func (s *Store) DocumentCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// Size returns the database file size in bytes.
func (s *Store) Size(ctx context.Context) (int64, error) {
	var size int64
	err := s.db.QueryRowContext(ctx,
		`SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`).Scan(&size)
	return size, err
}

func (s *Store) maxID(ctx context.Context, query string) (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64, nil
}

// MaxDocumentID returns the highest document id, 0 when empty.
func (s *Store) MaxDocumentID(ctx context.Context) (int64, error) {
	return s.maxID(ctx, `SELECT MAX(id) FROM documents`)
}

// MaxSentenceID returns the highest sentence id, 0 when empty.
func (s *Store) MaxSentenceID(ctx context.Context) (int64, error) {
	return s.maxID(ctx, `SELECT MAX(id) FROM sentences`)
}

// MaxOccurrenceID returns the highest occurrence id, 0 when empty.
func (s *Store) MaxOccurrenceID(ctx context.Context) (int64, error) {
	return s.maxID(ctx, `SELECT MAX(id) FROM entity_occurrences`)
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
