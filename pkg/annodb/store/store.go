package store

import (
	"context"
	"time"
)

// Document is one source document (e.g., a publication). The three
// counters stay zero until the analytics document-count pass fills them.
type Document struct {
	ID         int64
	Title      string
	WordCount  int64
	TokenCount int64
	AlphaCount int64
}

// Sentence is owned by exactly one document. (DocumentID, Index) is unique.
type Sentence struct {
	ID         int64
	Text       string
	Index      int
	DocumentID int64
	WordCount  int64
	TokenCount int64
	AlphaCount int64
}

// EntityType is one entry of the closed annotation-class dictionary.
type EntityType struct {
	ID   int64
	Name string
}

// Occurrence is one concrete entity mention inside a sentence. The
// frequency and TF-IDF fields are filled by the analytics passes.
type Occurrence struct {
	ID         int64
	Text       string
	SpanStart  int
	SpanEnd    int
	EntityID   int64
	SentenceID int64
	IntraDocFq int64
	Tf         float64
	InterDocFq int64
	TfIdf      float64
	Idf        float64
}

// CooccurrencePair records that two occurrences of two entity types share
// a sentence, canonically ordered so E1NeID < E2NeID.
type CooccurrencePair struct {
	ID         int64
	E1Text     string
	E2Text     string
	E1NeID     int64
	E2NeID     int64
	E1ID       int64
	E2ID       int64
	SentenceID int64
	SummaryID  int64
}

// CoentitySummary aggregates all pairs sharing the same text combination.
type CoentitySummary struct {
	ID           int64
	E1Text       string
	E2Text       string
	Fq           int64
	WeightedFq   float64
	AvgE1TfIdf   float64
	AvgE2TfIdf   float64
}

// LedgerEntry is one fully-ingested source file. Its existence is the only
// proof of completion the pipeline trusts.
type LedgerEntry struct {
	FileName   string
	InsertedAt time.Time
}

// ParsedOccurrence is a mention before the entity-type dictionary has
// assigned ids; the writer resolves EntityType to entities.id on commit.
type ParsedOccurrence struct {
	EntityType string
	Text       string
	SpanStart  int
	SpanEnd    int
}

// ParsedSentence is a sentence row plus its mentions, before insertion.
type ParsedSentence struct {
	DocumentID  int64
	Index       int
	Text        string
	WordCount   int64
	TokenCount  int64
	AlphaCount  int64
	Occurrences []ParsedOccurrence
}

// ParsedBatch is the record parser's output for one batch file: normalized
// rows in dependency order, derived fields zeroed.
type ParsedBatch struct {
	Documents   []Document
	Sentences   []ParsedSentence
	EntityTypes []string // seed names, insert-if-absent
}

// OccurrenceCount returns the total number of mention rows in the batch.
func (b ParsedBatch) OccurrenceCount() int {
	n := 0
	for _, s := range b.Sentences {
		n += len(s.Occurrences)
	}
	return n
}

// Store is the read and maintenance surface of the annotation store.
// Mutating access during ingestion goes through Writer only.
type Store interface {
	Close() error

	// Ledger
	LedgerContains(ctx context.Context, fileName string) (bool, error)
	Ledger(ctx context.Context) (map[string]struct{}, error)

	// Dictionary
	EntityTypeID(ctx context.Context, name string) (int64, error)
	EntityTypes(ctx context.Context) ([]EntityType, error)

	// Statistics
	DocumentCount(ctx context.Context) (int64, error)
	TableCounts(ctx context.Context) (map[string]int64, error)
	Size(ctx context.Context) (int64, error)
}

// Writer is the single mutating handle. There is exactly one Writer per
// store at ingestion time; Commit is atomic per file.
type Writer interface {
	// Commit durably writes every row derived from batch together with a
	// ledger entry for fileName, or nothing at all.
	Commit(ctx context.Context, fileName string, batch ParsedBatch) error
}
