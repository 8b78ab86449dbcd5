package sqlite

import (
	"context"
	"fmt"

	"github.com/corpuskit/annodb/pkg/annodb/internalerr"
)

// knownTables is the fixed allow-list for maintenance operations that
// interpolate identifiers into SQL. Anything else is rejected outright.
var knownTables = map[string]struct{}{
	"documents":            {},
	"sentences":            {},
	"entities":             {},
	"entity_occurrences":   {},
	"entity_cooccurrences": {},
	"coentity_summary":     {},
	"source_files":         {},
}

func checkTable(name string) error {
	if _, ok := knownTables[name]; !ok {
		return fmt.Errorf("table %q: %w", name, internalerr.ErrNotFound)
	}
	return nil
}

// TableCounts returns the row count of every schema table.
func (s *Store) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(knownTables))
	for table := range knownTables {
		var n int64
		if err := s.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n); err != nil {
			return nil, err
		}
		counts[table] = n
	}
	return counts, nil
}

// Truncate deletes every row of an allow-listed table. Intended for the
// derived tables, which are always safe to rebuild.
func (s *Store) Truncate(ctx context.Context, table string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table))
	return err
}

// CloneTable copies an allow-listed table into a backup table named
// <src>_backup, replacing a previous backup.
func (s *Store) CloneTable(ctx context.Context, src string) error {
	if err := checkTable(src); err != nil {
		return err
	}
	dst := src + "_backup"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, dst)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`CREATE TABLE %s AS SELECT * FROM %s`, dst, src)); err != nil {
		return err
	}
	return tx.Commit()
}

// RenameEntityType renames an annotation class in the dictionary. The
// occurrence rows reference the id, so no data rewrite is needed.
func (s *Store) RenameEntityType(ctx context.Context, oldName, newName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET entity=? WHERE entity=?`, newName, oldName)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("entity type %q: %w", oldName, internalerr.ErrNotFound)
	}
	return nil
}

// analysisIndexes speed up the frequency passes but slow the bulk load;
// the engines create them before a run and may drop them after.
var analysisIndexes = map[string]string{
	"idx_occurrences_text": `CREATE INDEX IF NOT EXISTS idx_occurrences_text ON entity_occurrences(entity_text)`,
}

// CreateAnalysisIndexes builds the optional pass-supporting indexes.
func (s *Store) CreateAnalysisIndexes(ctx context.Context) error {
	for _, stmt := range analysisIndexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// DropAnalysisIndexes removes them again, e.g. before another bulk load.
func (s *Store) DropAnalysisIndexes(ctx context.Context) error {
	for name := range analysisIndexes {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s`, name)); err != nil {
			return err
		}
	}
	return nil
}
