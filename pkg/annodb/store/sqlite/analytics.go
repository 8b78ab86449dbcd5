package sqlite

import (
	"context"
	"database/sql"

	"github.com/corpuskit/annodb/pkg/annodb/store"
)

// The statement texts the frequency and co-occurrence engines drive in
// windowed batches. The engines own pass ordering, windowing, parallelism
// and reporting; this file owns the SQL.

// FillDocumentCounts sums sentence counters into the owning documents for
// document ids in [lo, hi]. Returns the number of updated rows.
func (s *Store) FillDocumentCounts(ctx context.Context, lo, hi int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE documents SET
	word_count  = (SELECT COALESCE(SUM(word_count), 0)  FROM sentences WHERE sentences.document_id = documents.id),
	token_count = (SELECT COALESCE(SUM(token_count), 0) FROM sentences WHERE sentences.document_id = documents.id),
	alpha_count = (SELECT COALESCE(SUM(alpha_count), 0) FROM sentences WHERE sentences.document_id = documents.id)
WHERE documents.id BETWEEN ? AND ?`, lo, hi)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FillIntraDocFq writes, for each occurrence in the id window, the count
// of occurrences with the same (entity type, mention text) inside the
// same document.
func (s *Store) FillIntraDocFq(ctx context.Context, lo, hi int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE entity_occurrences SET intra_doc_fq = (
	SELECT COUNT(*)
	FROM entity_occurrences eo2
	JOIN sentences s2 ON s2.id = eo2.sentence_id
	WHERE eo2.entity_id = entity_occurrences.entity_id
	  AND eo2.entity_text = entity_occurrences.entity_text
	  AND s2.document_id = (SELECT document_id FROM sentences WHERE id = entity_occurrences.sentence_id)
)
WHERE entity_occurrences.id BETWEEN ? AND ?`, lo, hi)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FillInterDocFq writes the distinct-document count for each occurrence's
// (entity type, mention text) in the id window. At least 1 by
// construction: the occurrence's own document always counts.
func (s *Store) FillInterDocFq(ctx context.Context, lo, hi int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE entity_occurrences SET inter_doc_fq = (
	SELECT COUNT(DISTINCT s2.document_id)
	FROM entity_occurrences eo2
	JOIN sentences s2 ON s2.id = eo2.sentence_id
	WHERE eo2.entity_id = entity_occurrences.entity_id
	  AND eo2.entity_text = entity_occurrences.entity_text
)
WHERE entity_occurrences.id BETWEEN ? AND ?`, lo, hi)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FillTermFrequency writes tf = intra_doc_fq / document word count for the
// id window. Documents with a zero word count are left untouched.
func (s *Store) FillTermFrequency(ctx context.Context, lo, hi int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE entity_occurrences SET tf = CAST(intra_doc_fq AS REAL) / (
	SELECT d.word_count
	FROM documents d
	JOIN sentences s ON s.document_id = d.id
	WHERE s.id = entity_occurrences.sentence_id
)
WHERE entity_occurrences.id BETWEEN ? AND ?
  AND (
	SELECT d.word_count
	FROM documents d
	JOIN sentences s ON s.document_id = d.id
	WHERE s.id = entity_occurrences.sentence_id
  ) > 0`, lo, hi)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TermDocFrequency is the per-(entity type, mention text) document
// frequency used to broadcast idf.
type TermDocFrequency struct {
	EntityID int64
	Text     string
	DocFq    int64
}

// TermDocFrequencies pages through the distinct terms of the occurrence
// table in a stable order.
func (s *Store) TermDocFrequencies(ctx context.Context, limit, offset int64) ([]TermDocFrequency, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT entity_id, entity_text, MIN(inter_doc_fq)
FROM entity_occurrences
GROUP BY entity_id, entity_text
ORDER BY entity_id, entity_text
LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var terms []TermDocFrequency
	for rows.Next() {
		var t TermDocFrequency
		if err := rows.Scan(&t.EntityID, &t.Text, &t.DocFq); err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// SetTermIdf broadcasts an idf value to every occurrence of a term.
func (s *Store) SetTermIdf(ctx context.Context, entityID int64, text string, idf float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE entity_occurrences SET idf=? WHERE entity_id=? AND entity_text=?`,
		idf, entityID, text)
	return err
}

// FillTfIdf writes tf_idf = tf * idf for the id window.
func (s *Store) FillTfIdf(ctx context.Context, lo, hi int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entity_occurrences SET tf_idf = tf * idf WHERE id BETWEEN ? AND ?`, lo, hi)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertCooccurrences self-joins the occurrence table on sentence id for
// sentences in [loSent, hiSent], keeping pairs whose first entity-type id
// is strictly lower. typeA must be the lower id. The unique index on
// (e1_id, e2_id, sentence_id) makes re-runs insert-if-absent.
func (s *Store) InsertCooccurrences(ctx context.Context, typeA, typeB, loSent, hiSent int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO entity_cooccurrences
	(e1_text, e2_text, e1_ne_id, e2_ne_id, e1_id, e2_id, sentence_id)
SELECT eo1.entity_text, eo2.entity_text, eo1.entity_id, eo2.entity_id, eo1.id, eo2.id, eo1.sentence_id
FROM entity_occurrences eo1
JOIN entity_occurrences eo2 ON eo1.sentence_id = eo2.sentence_id
WHERE eo1.entity_id < eo2.entity_id
  AND eo1.entity_id = ? AND eo2.entity_id = ?
  AND eo1.sentence_id BETWEEN ? AND ?`, typeA, typeB, loSent, hiSent)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PairGroup is one (e1_text, e2_text) aggregate of the pair table.
type PairGroup struct {
	E1Text string
	E2Text string
	Fq     int64
}

// CooccurrenceGroups returns the raw frequency per text combination.
func (s *Store) CooccurrenceGroups(ctx context.Context) ([]PairGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT e1_text, e2_text, COUNT(*)
FROM entity_cooccurrences
GROUP BY e1_text, e2_text
ORDER BY e1_text, e2_text`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []PairGroup
	for rows.Next() {
		var g PairGroup
		if err := rows.Scan(&g.E1Text, &g.E2Text, &g.Fq); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// AvgTfIdf returns the mean tf_idf over all occurrences of a mention text.
func (s *Store) AvgTfIdf(ctx context.Context, text string) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(tf_idf) FROM entity_occurrences WHERE entity_text=?`, text).Scan(&avg)
	if err != nil {
		return 0, err
	}
	return avg.Float64, nil
}

// OccurrencesByText returns every occurrence of a mention text in id
// order, with whatever derived fields the passes have filled so far.
func (s *Store) OccurrencesByText(ctx context.Context, text string) ([]store.Occurrence, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, entity_text, span_start, span_end, entity_id, sentence_id,
       intra_doc_fq, tf, inter_doc_fq, tf_idf, idf
FROM entity_occurrences
WHERE entity_text = ?
ORDER BY id`, text)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var occs []store.Occurrence
	for rows.Next() {
		var o store.Occurrence
		if err := rows.Scan(&o.ID, &o.Text, &o.SpanStart, &o.SpanEnd, &o.EntityID, &o.SentenceID,
			&o.IntraDocFq, &o.Tf, &o.InterDocFq, &o.TfIdf, &o.Idf); err != nil {
			return nil, err
		}
		occs = append(occs, o)
	}
	return occs, rows.Err()
}

// CooccurrencePairs returns the materialized pair rows in id order.
func (s *Store) CooccurrencePairs(ctx context.Context) ([]store.CooccurrencePair, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, e1_text, e2_text, e1_ne_id, e2_ne_id, e1_id, e2_id, sentence_id,
       COALESCE(coentity_summary_id, 0)
FROM entity_cooccurrences
ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []store.CooccurrencePair
	for rows.Next() {
		var p store.CooccurrencePair
		if err := rows.Scan(&p.ID, &p.E1Text, &p.E2Text, &p.E1NeID, &p.E2NeID,
			&p.E1ID, &p.E2ID, &p.SentenceID, &p.SummaryID); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// ReplaceSummaries rebuilds coentity_summary from scratch and back-fills
// the pair rows' summary references, in one transaction. The summary is
// fully derived, so truncate-and-rebuild is always safe.
func (s *Store) ReplaceSummaries(ctx context.Context, summaries []store.CoentitySummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM coentity_summary`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO coentity_summary (e1_text, e2_text, fq, weighted_fq, avg_e1_tf_idf, avg_e2_tf_idf)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sum := range summaries {
		if _, err := stmt.ExecContext(ctx,
			sum.E1Text, sum.E2Text, sum.Fq, sum.WeightedFq, sum.AvgE1TfIdf, sum.AvgE2TfIdf); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE entity_cooccurrences SET coentity_summary_id = (
	SELECT cs.id FROM coentity_summary cs
	WHERE cs.e1_text = entity_cooccurrences.e1_text
	  AND cs.e2_text = entity_cooccurrences.e2_text
)`); err != nil {
		return err
	}

	return tx.Commit()
}

// TopSummaries returns up to n summary rows ordered by raw frequency.
// n <= 0 returns all rows.
func (s *Store) TopSummaries(ctx context.Context, n int) ([]store.CoentitySummary, error) {
	query := `
SELECT id, e1_text, e2_text, fq, weighted_fq, avg_e1_tf_idf, avg_e2_tf_idf
FROM coentity_summary
ORDER BY fq DESC, e1_text, e2_text`
	var rows *sql.Rows
	var err error
	if n > 0 {
		rows, err = s.db.QueryContext(ctx, query+` LIMIT ?`, n)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.CoentitySummary
	for rows.Next() {
		var c store.CoentitySummary
		if err := rows.Scan(&c.ID, &c.E1Text, &c.E2Text, &c.Fq, &c.WeightedFq, &c.AvgE1TfIdf, &c.AvgE2TfIdf); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// OccurrenceConsistencySample reports how many occurrences in the id
// window still have inter_doc_fq = 0; nonzero means the frequency pass
// has not run over them.
func (s *Store) OccurrenceConsistencySample(ctx context.Context, lo, hi int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM entity_occurrences
WHERE id BETWEEN ? AND ? AND inter_doc_fq = 0`, lo, hi).Scan(&n)
	return n, err
}
