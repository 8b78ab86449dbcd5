// Package memstore is an in-memory Store/Writer pair for tests that
// exercise the pipeline without SQLite.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/corpuskit/annodb/pkg/annodb/internalerr"
	"github.com/corpuskit/annodb/pkg/annodb/store"
)

// Store implements store.Store and store.Writer in memory.
type Store struct {
	mu      sync.RWMutex
	ledger  map[string]struct{}
	types   map[string]int64
	nextID  int64
	commits []Commit

	// FailFiles makes Commit fail for the named files, simulating a
	// storage error; the file is then not ledgered.
	FailFiles map[string]struct{}
}

// Commit records one successful Commit call.
type Commit struct {
	FileName    string
	Documents   int
	Sentences   int
	Occurrences int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		ledger: make(map[string]struct{}),
		types:  make(map[string]int64),
		nextID: 1,
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// Commit implements store.Writer: all-or-nothing per file.
func (s *Store) Commit(ctx context.Context, fileName string, batch store.ParsedBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, fail := s.FailFiles[fileName]; fail {
		return fmt.Errorf("%w: injected failure for %s", internalerr.ErrStorage, fileName)
	}
	if _, done := s.ledger[fileName]; done {
		return fmt.Errorf("%w: duplicate ledger entry %s", internalerr.ErrStorage, fileName)
	}

	for _, name := range batch.EntityTypes {
		if _, ok := s.types[name]; !ok {
			s.types[name] = s.nextID
			s.nextID++
		}
	}
	s.commits = append(s.commits, Commit{
		FileName:    fileName,
		Documents:   len(batch.Documents),
		Sentences:   len(batch.Sentences),
		Occurrences: batch.OccurrenceCount(),
	})
	s.ledger[fileName] = struct{}{}
	return nil
}

// Commits returns a copy of the successful commits in order.
func (s *Store) Commits() []Commit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Commit, len(s.commits))
	copy(out, s.commits)
	return out
}

// LedgerContains implements store.Store.
func (s *Store) LedgerContains(ctx context.Context, fileName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ledger[fileName]
	return ok, nil
}

// Ledger implements store.Store.
func (s *Store) Ledger(ctx context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.ledger))
	for name := range s.ledger {
		out[name] = struct{}{}
	}
	return out, nil
}

// EntityTypeID implements store.Store.
func (s *Store) EntityTypeID(ctx context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.types[name]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("entity type %q: %w", name, internalerr.ErrNotFound)
}

// EntityTypes implements store.Store.
func (s *Store) EntityTypes(ctx context.Context) ([]store.EntityType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.EntityType
	for name, id := range s.types {
		out = append(out, store.EntityType{ID: id, Name: name})
	}
	return out, nil
}

// DocumentCount implements store.Store.
func (s *Store) DocumentCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, c := range s.commits {
		n += int64(c.Documents)
	}
	return n, nil
}

// TableCounts implements store.Store.
func (s *Store) TableCounts(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[string]int64{"source_files": int64(len(s.ledger))}
	for _, c := range s.commits {
		counts["documents"] += int64(c.Documents)
		counts["sentences"] += int64(c.Sentences)
		counts["entity_occurrences"] += int64(c.Occurrences)
	}
	return counts, nil
}

// Size implements store.Store.
func (s *Store) Size(ctx context.Context) (int64, error) { return 0, nil }
