package frequency

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpuskit/annodb/pkg/annodb/internalerr"
	"github.com/corpuskit/annodb/pkg/annodb/store"
	"github.com/corpuskit/annodb/pkg/annodb/store/sqlite"
)

func seedStore(t *testing.T, batch store.ParsedBatch) *sqlite.Store {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	w, err := st.Writer(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, w.Commit(ctx, "batch_0.json", batch))
	require.NoError(t, w.Close())
	return st
}

func mention(entityType, text string) store.ParsedOccurrence {
	return store.ParsedOccurrence{EntityType: entityType, Text: text, SpanStart: 0, SpanEnd: len(text)}
}

// Two documents, both containing the term: doc_fq equals the corpus size,
// so idf and tf_idf collapse to zero while tf stays meaningful.
func TestRunTermInEveryDocument(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t, store.ParsedBatch{
		Documents: []store.Document{
			{ID: 1, Title: "one"},
			{ID: 2, Title: "two"},
		},
		EntityTypes: []string{"phenomenon"},
		Sentences: []store.ParsedSentence{
			{
				DocumentID: 1, Index: 0, Text: "s", WordCount: 10,
				Occurrences: []store.ParsedOccurrence{
					mention("phenomenon", "lensing"),
					mention("phenomenon", "lensing"),
				},
			},
			{
				DocumentID: 2, Index: 0, Text: "s", WordCount: 5,
				Occurrences: []store.ParsedOccurrence{
					mention("phenomenon", "lensing"),
				},
			},
		},
	})

	// Window of 1 forces the multi-window path through every pass.
	engine := New(st, Options{DocumentWindow: 1, OccurrenceWindow: 1, TermPage: 1})
	require.NoError(t, engine.Run(ctx))

	occs, err := st.OccurrencesByText(ctx, "lensing")
	require.NoError(t, err)
	require.Len(t, occs, 3)

	for _, o := range occs {
		assert.Equal(t, int64(2), o.InterDocFq, "occurrence %d", o.ID)
		assert.InDelta(t, 0.2, o.Tf, 1e-9, "occurrence %d", o.ID)
		assert.InDelta(t, 0.0, o.Idf, 1e-9, "occurrence %d", o.ID)
		assert.InDelta(t, 0.0, o.TfIdf, 1e-9, "occurrence %d", o.ID)
	}
	// Doc 1 holds two of the three mentions.
	assert.Equal(t, int64(2), occs[0].IntraDocFq)
	assert.Equal(t, int64(2), occs[1].IntraDocFq)
	assert.Equal(t, int64(1), occs[2].IntraDocFq)
}

// Four documents, the term in only one: idf = ln(4).
func TestRunRareTerm(t *testing.T) {
	ctx := context.Background()
	batch := store.ParsedBatch{
		EntityTypes: []string{"disease", "phenomenon"},
	}
	for id := int64(1); id <= 4; id++ {
		batch.Documents = append(batch.Documents, store.Document{ID: id, Title: "d"})
		sent := store.ParsedSentence{
			DocumentID: id, Index: 0, Text: "s", WordCount: 8,
			Occurrences: []store.ParsedOccurrence{mention("disease", "measles")},
		}
		if id == 3 {
			sent.Occurrences = append(sent.Occurrences, mention("phenomenon", "lensing"))
		}
		batch.Sentences = append(batch.Sentences, sent)
	}
	st := seedStore(t, batch)

	engine := New(st, Options{})
	require.NoError(t, engine.Run(ctx))

	occs, err := st.OccurrencesByText(ctx, "lensing")
	require.NoError(t, err)
	require.Len(t, occs, 1)

	o := occs[0]
	assert.Equal(t, int64(1), o.IntraDocFq)
	assert.Equal(t, int64(1), o.InterDocFq)
	assert.InDelta(t, 1.0/8.0, o.Tf, 1e-9)
	assert.InDelta(t, math.Log(4), o.Idf, 1e-9)
	assert.InDelta(t, (1.0/8.0)*math.Log(4), o.TfIdf, 1e-9)
}

// Running the engine twice must not change any value: every pass writes
// absolute results.
func TestRunIdempotent(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t, store.ParsedBatch{
		Documents:   []store.Document{{ID: 1, Title: "d"}},
		EntityTypes: []string{"disease"},
		Sentences: []store.ParsedSentence{
			{
				DocumentID: 1, Index: 0, Text: "s", WordCount: 4,
				Occurrences: []store.ParsedOccurrence{mention("disease", "measles")},
			},
		},
	})

	engine := New(st, Options{})
	require.NoError(t, engine.Run(ctx))
	first, err := st.OccurrencesByText(ctx, "measles")
	require.NoError(t, err)

	require.NoError(t, engine.Run(ctx))
	second, err := st.OccurrencesByText(ctx, "measles")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

// Asking for idf while inter_doc_fq is still zero means the entity
// frequency pass never ran over those occurrences; that is a consistency
// violation, and earlier passes' results must survive it.
func TestIdfRequiresEntityFrequencies(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t, store.ParsedBatch{
		Documents:   []store.Document{{ID: 1, Title: "d"}},
		EntityTypes: []string{"disease"},
		Sentences: []store.ParsedSentence{
			{
				DocumentID: 1, Index: 0, Text: "s", WordCount: 4,
				Occurrences: []store.ParsedOccurrence{mention("disease", "measles")},
			},
		},
	})

	engine := New(st, Options{})
	require.NoError(t, engine.DocumentCounts(ctx))

	err := engine.InverseDocumentFrequencies(ctx)
	require.ErrorIs(t, err, internalerr.ErrConsistency)

	// the document-count pass's results are intact and nothing was broadcast
	occs, err := st.OccurrencesByText(ctx, "measles")
	require.NoError(t, err)
	require.Len(t, occs, 1)
	assert.Zero(t, occs[0].InterDocFq)
	assert.Zero(t, occs[0].Idf)
	assert.Zero(t, occs[0].TfIdf)
}

func TestRunEmptyStore(t *testing.T) {
	st := seedStore(t, store.ParsedBatch{})
	engine := New(st, Options{})
	assert.NoError(t, engine.Run(context.Background()))
}

// Same mention text under two entity types: the terms are distinct, so
// their document frequencies diverge.
func TestTermsAreTypeScoped(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t, store.ParsedBatch{
		Documents: []store.Document{
			{ID: 1, Title: "one"},
			{ID: 2, Title: "two"},
		},
		EntityTypes: []string{"disease", "symptom"},
		Sentences: []store.ParsedSentence{
			{
				DocumentID: 1, Index: 0, Text: "s", WordCount: 4,
				Occurrences: []store.ParsedOccurrence{
					mention("disease", "fever"),
					mention("symptom", "fever"),
				},
			},
			{
				DocumentID: 2, Index: 0, Text: "s", WordCount: 4,
				Occurrences: []store.ParsedOccurrence{mention("symptom", "fever")},
			},
		},
	})

	engine := New(st, Options{})
	require.NoError(t, engine.Run(ctx))

	occs, err := st.OccurrencesByText(ctx, "fever")
	require.NoError(t, err)
	require.Len(t, occs, 3)

	byType := make(map[int64][]store.Occurrence)
	for _, o := range occs {
		byType[o.EntityID] = append(byType[o.EntityID], o)
	}
	require.Len(t, byType, 2)
	for _, group := range byType {
		switch len(group) {
		case 1: // the disease reading, document 1 only
			assert.Equal(t, int64(1), group[0].InterDocFq)
			assert.InDelta(t, math.Log(2), group[0].Idf, 1e-9)
		case 2: // the symptom reading, both documents
			for _, o := range group {
				assert.Equal(t, int64(2), o.InterDocFq)
				assert.InDelta(t, 0.0, o.Idf, 1e-9)
			}
		default:
			t.Fatalf("unexpected group size %d", len(group))
		}
	}
}
