package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/corpuskit/annodb/pkg/annodb/internalerr"
	"github.com/corpuskit/annodb/pkg/annodb/store"
)

// DefaultInsertChunk bounds the rows packed into one multi-row INSERT so
// a huge file never produces a single oversized statement. SQLite caps
// bind parameters per statement, so this stays well under that limit.
const DefaultInsertChunk = 500

// bulk-phase tuning and the safe defaults restored on Close. synchronous
// is per-connection, so the writer pins one connection for its lifetime.
var (
	bulkPragmas = []string{
		"PRAGMA synchronous=OFF",
		"PRAGMA journal_size_limit=67108864",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA cache_size=100000",
	}
	safePragmas = []string{
		"PRAGMA synchronous=FULL",
		"PRAGMA journal_size_limit=-1",
		"PRAGMA temp_store=0",
		"PRAGMA cache_size=-2000",
	}
)

// BulkWriter is the single handle with write access during ingestion.
// Commit is atomic per file: all rows plus the ledger entry, or nothing.
type BulkWriter struct {
	conn  *sql.Conn
	chunk int
}

// Writer pins a connection, applies bulk write tuning to it, and returns
// the store's one mutating handle. insertChunk <= 0 selects the default.
func (s *Store) Writer(ctx context.Context, insertChunk int) (*BulkWriter, error) {
	if insertChunk <= 0 {
		insertChunk = DefaultInsertChunk
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	for _, pragma := range bulkPragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return &BulkWriter{conn: conn, chunk: insertChunk}, nil
}

// Close restores safe durability settings and releases the connection.
func (w *BulkWriter) Close() error {
	ctx := context.Background()
	for _, pragma := range safePragmas {
		if _, err := w.conn.ExecContext(ctx, pragma); err != nil {
			w.conn.Close()
			return err
		}
	}
	return w.conn.Close()
}

// Commit writes one parsed batch file in a single transaction, in
// dependency order: documents, sentences, entity dictionary entries,
// occurrences, then the ledger row. Any error rolls the whole file back.
func (w *BulkWriter) Commit(ctx context.Context, fileName string, batch store.ParsedBatch) error {
	tx, err := w.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", internalerr.ErrStorage, err)
	}
	defer tx.Rollback()

	skippedDocs, err := w.insertDocuments(ctx, tx, batch.Documents)
	if err != nil {
		return fmt.Errorf("%w: documents: %v", internalerr.ErrStorage, err)
	}

	typeIDs, err := w.insertEntityTypes(ctx, tx, batch.EntityTypes)
	if err != nil {
		return fmt.Errorf("%w: entities: %v", internalerr.ErrStorage, err)
	}

	if err := w.insertSentences(ctx, tx, batch.Sentences, skippedDocs, typeIDs); err != nil {
		return fmt.Errorf("%w: sentences: %v", internalerr.ErrStorage, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO source_files (file_name, inserted_at) VALUES (?, ?)`,
		fileName, nowUTC()); err != nil {
		return fmt.Errorf("%w: ledger: %v", internalerr.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", internalerr.ErrStorage, err)
	}
	return nil
}

// insertDocuments inserts document rows, skipping ids already present
// (overlapping batch exports). Returns the set of skipped ids so the
// dependent sentence rows are skipped too.
func (w *BulkWriter) insertDocuments(ctx context.Context, tx *sql.Tx, docs []store.Document) (map[int64]struct{}, error) {
	skipped := make(map[int64]struct{})
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO documents (id, title, word_count, token_count, alpha_count) VALUES (?, ?, 0, 0, 0)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, d := range docs {
		res, err := stmt.ExecContext(ctx, d.ID, d.Title)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			skipped[d.ID] = struct{}{}
		}
	}
	return skipped, nil
}

func (w *BulkWriter) insertEntityTypes(ctx context.Context, tx *sql.Tx, names []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO entities (entity) VALUES (?)`, name); err != nil {
			return nil, err
		}
		var id int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM entities WHERE entity=?`, name).Scan(&id); err != nil {
			return nil, err
		}
		ids[name] = id
	}
	return ids, nil
}

type occurrenceRow struct {
	text       string
	spanStart  int
	spanEnd    int
	entityID   int64
	sentenceID int64
}

func (w *BulkWriter) insertSentences(ctx context.Context, tx *sql.Tx, sents []store.ParsedSentence, skippedDocs map[int64]struct{}, typeIDs map[string]int64) error {
	sentStmt, err := tx.PrepareContext(ctx, `
INSERT INTO sentences (text, sentence_index, document_id, word_count, token_count, alpha_count)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer sentStmt.Close()

	var occRows []occurrenceRow
	for _, sent := range sents {
		if _, ok := skippedDocs[sent.DocumentID]; ok {
			continue
		}
		res, err := sentStmt.ExecContext(ctx,
			sent.Text, sent.Index, sent.DocumentID,
			sent.WordCount, sent.TokenCount, sent.AlphaCount)
		if err != nil {
			return err
		}
		sentenceID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for _, occ := range sent.Occurrences {
			typeID, ok := typeIDs[occ.EntityType]
			if !ok {
				return fmt.Errorf("occurrence references unseeded entity type %q", occ.EntityType)
			}
			occRows = append(occRows, occurrenceRow{
				text:       occ.Text,
				spanStart:  occ.SpanStart,
				spanEnd:    occ.SpanEnd,
				entityID:   typeID,
				sentenceID: sentenceID,
			})
		}
	}
	return w.insertOccurrences(ctx, tx, occRows)
}

// insertOccurrences packs rows into multi-row INSERTs of at most chunk
// rows each.
func (w *BulkWriter) insertOccurrences(ctx context.Context, tx *sql.Tx, rows []occurrenceRow) error {
	for start := 0; start < len(rows); start += w.chunk {
		end := start + w.chunk
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO entity_occurrences (entity_text, span_start, span_end, entity_id, sentence_id) VALUES `)
		args := make([]interface{}, 0, len(batch)*5)
		for i, r := range batch {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("(?, ?, ?, ?, ?)")
			args = append(args, r.text, r.spanStart, r.spanEnd, r.entityID, r.sentenceID)
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return err
		}
	}
	return nil
}
