// Package frequency computes the per-entity statistics: document
// counters, raw and document frequencies, tf, idf, and tf-idf. Every
// pass is windowed by a fixed row count so a full-table scan never holds
// more than one window in memory, and every pass is idempotent.
package frequency

import (
	"context"
	"fmt"
	"math"

	"github.com/corpuskit/annodb/pkg/annodb/internalerr"
	"github.com/corpuskit/annodb/pkg/annodb/logging"
	"github.com/corpuskit/annodb/pkg/annodb/store/sqlite"
)

// Store is the slice of the SQLite store the engine drives.
type Store interface {
	DocumentCount(ctx context.Context) (int64, error)
	MaxDocumentID(ctx context.Context) (int64, error)
	MaxOccurrenceID(ctx context.Context) (int64, error)
	FillDocumentCounts(ctx context.Context, lo, hi int64) (int64, error)
	FillIntraDocFq(ctx context.Context, lo, hi int64) (int64, error)
	FillInterDocFq(ctx context.Context, lo, hi int64) (int64, error)
	FillTermFrequency(ctx context.Context, lo, hi int64) (int64, error)
	TermDocFrequencies(ctx context.Context, limit, offset int64) ([]sqlite.TermDocFrequency, error)
	SetTermIdf(ctx context.Context, entityID int64, text string, idf float64) error
	FillTfIdf(ctx context.Context, lo, hi int64) (int64, error)
	CreateAnalysisIndexes(ctx context.Context) error
}

// Options tunes the window sizes.
type Options struct {
	DocumentWindow   int64
	OccurrenceWindow int64
	TermPage         int64
}

func (o *Options) defaults() {
	if o.DocumentWindow < 1 {
		o.DocumentWindow = 100000
	}
	if o.OccurrenceWindow < 1 {
		o.OccurrenceWindow = 100000
	}
	if o.TermPage < 1 {
		o.TermPage = 50000
	}
}

// Engine runs the dependent passes in order.
type Engine struct {
	store Store
	opts  Options
}

// New creates a frequency engine over an analytics-capable store.
func New(st Store, opts Options) *Engine {
	opts.defaults()
	return &Engine{store: st, opts: opts}
}

// Run executes document counts followed by the four TF-IDF passes. A
// failing pass leaves earlier passes' results intact.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.store.CreateAnalysisIndexes(ctx); err != nil {
		return err
	}
	if err := e.DocumentCounts(ctx); err != nil {
		return fmt.Errorf("document counts: %w", err)
	}
	if err := e.EntityFrequencies(ctx); err != nil {
		return fmt.Errorf("entity frequencies: %w", err)
	}
	if err := e.TermFrequencies(ctx); err != nil {
		return fmt.Errorf("term frequencies: %w", err)
	}
	if err := e.InverseDocumentFrequencies(ctx); err != nil {
		return fmt.Errorf("inverse document frequencies: %w", err)
	}
	if err := e.TfIdf(ctx); err != nil {
		return fmt.Errorf("tf-idf: %w", err)
	}
	return nil
}

// DocumentCounts fills the word/token/alpha counters of every document
// from its sentences.
func (e *Engine) DocumentCounts(ctx context.Context) error {
	log := logging.WithComponent("frequency")
	return e.windowed(ctx, e.maxDoc, e.opts.DocumentWindow, func(lo, hi int64) error {
		n, err := e.store.FillDocumentCounts(ctx, lo, hi)
		if err != nil {
			return err
		}
		log.Debug("document counts window", "lo", lo, "hi", hi, "updated", n)
		return nil
	})
}

// EntityFrequencies writes intra_doc_fq and inter_doc_fq onto every
// occurrence.
func (e *Engine) EntityFrequencies(ctx context.Context) error {
	log := logging.WithComponent("frequency")
	return e.windowed(ctx, e.maxOcc, e.opts.OccurrenceWindow, func(lo, hi int64) error {
		if _, err := e.store.FillIntraDocFq(ctx, lo, hi); err != nil {
			return err
		}
		n, err := e.store.FillInterDocFq(ctx, lo, hi)
		if err != nil {
			return err
		}
		log.Debug("entity frequency window", "lo", lo, "hi", hi, "updated", n)
		return nil
	})
}

// TermFrequencies writes tf = intra_doc_fq / document word count.
func (e *Engine) TermFrequencies(ctx context.Context) error {
	return e.windowed(ctx, e.maxOcc, e.opts.OccurrenceWindow, func(lo, hi int64) error {
		_, err := e.store.FillTermFrequency(ctx, lo, hi)
		return err
	})
}

// InverseDocumentFrequencies computes idf = ln(N / doc_fq) once per
// distinct (entity type, mention text) and broadcasts it onto every
// occurrence of that term. A zero doc_fq means the frequency pass never
// ran; that is a consistency violation, not a math error.
func (e *Engine) InverseDocumentFrequencies(ctx context.Context) error {
	totalDocs, err := e.store.DocumentCount(ctx)
	if err != nil {
		return err
	}
	if totalDocs == 0 {
		return nil
	}

	log := logging.WithComponent("frequency")
	var offset int64
	for {
		terms, err := e.store.TermDocFrequencies(ctx, e.opts.TermPage, offset)
		if err != nil {
			return err
		}
		if len(terms) == 0 {
			return nil
		}
		for _, term := range terms {
			if term.DocFq == 0 {
				return fmt.Errorf("%w: term (%d, %q) has doc_fq=0; run the entity frequency pass first",
					internalerr.ErrConsistency, term.EntityID, term.Text)
			}
			idf := math.Log(float64(totalDocs) / float64(term.DocFq))
			if err := e.store.SetTermIdf(ctx, term.EntityID, term.Text, idf); err != nil {
				return err
			}
		}
		log.Debug("idf page", "offset", offset, "terms", len(terms))
		offset += int64(len(terms))
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// TfIdf writes tf_idf = tf * idf for every occurrence.
func (e *Engine) TfIdf(ctx context.Context) error {
	return e.windowed(ctx, e.maxOcc, e.opts.OccurrenceWindow, func(lo, hi int64) error {
		_, err := e.store.FillTfIdf(ctx, lo, hi)
		return err
	})
}

func (e *Engine) maxDoc(ctx context.Context) (int64, error) { return e.store.MaxDocumentID(ctx) }
func (e *Engine) maxOcc(ctx context.Context) (int64, error) { return e.store.MaxOccurrenceID(ctx) }

// windowed splits [1, max] into fixed-size id windows and applies fn to
// each, honoring cancellation between windows.
func (e *Engine) windowed(ctx context.Context, max func(context.Context) (int64, error), window int64, fn func(lo, hi int64) error) error {
	maxID, err := max(ctx)
	if err != nil {
		return err
	}
	for lo := int64(1); lo <= maxID; lo += window {
		hi := lo + window - 1
		if hi > maxID {
			hi = maxID
		}
		if err := fn(lo, hi); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
