// Package cooccur materializes sentence-level entity pair facts and the
// weighted summary over them. Pairs are recorded under a canonical
// ordering of the two entity-type ids, lower id first, so each unordered
// combination appears exactly once per occurrence pair per sentence.
package cooccur

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/corpuskit/annodb/pkg/annodb/logging"
	"github.com/corpuskit/annodb/pkg/annodb/store"
	"github.com/corpuskit/annodb/pkg/annodb/store/sqlite"
)

// Store is the slice of the SQLite store the engine drives.
type Store interface {
	EntityTypeID(ctx context.Context, name string) (int64, error)
	MaxSentenceID(ctx context.Context) (int64, error)
	InsertCooccurrences(ctx context.Context, typeA, typeB, loSent, hiSent int64) (int64, error)
	CooccurrenceGroups(ctx context.Context) ([]sqlite.PairGroup, error)
	AvgTfIdf(ctx context.Context, text string) (float64, error)
	ReplaceSummaries(ctx context.Context, summaries []store.CoentitySummary) error
	TopSummaries(ctx context.Context, n int) ([]store.CoentitySummary, error)
}

// Options tunes batching and the read-phase parallelism.
type Options struct {
	SentenceWindow int64
	Readers        int
}

func (o *Options) defaults() {
	if o.SentenceWindow < 1 {
		o.SentenceWindow = 300000
	}
	if o.Readers < 1 {
		o.Readers = 4
	}
}

// Engine detects and summarizes co-occurrences.
type Engine struct {
	store Store
	opts  Options
}

// New creates a co-occurrence engine.
func New(st Store, opts Options) *Engine {
	opts.defaults()
	return &Engine{store: st, opts: opts}
}

// Detect finds every sentence where the two entity types co-occur and
// records each pair once, windowed over sentence ids. The order of the
// two names does not matter; the lower dictionary id always ends up on
// the left. Re-runs are insert-if-absent. Returns new pairs recorded.
func (e *Engine) Detect(ctx context.Context, type1, type2 string) (int64, error) {
	log := logging.WithComponent("cooccur")

	id1, err := e.store.EntityTypeID(ctx, type1)
	if err != nil {
		return 0, err
	}
	id2, err := e.store.EntityTypeID(ctx, type2)
	if err != nil {
		return 0, err
	}
	if id1 == id2 {
		return 0, fmt.Errorf("co-occurrence of a type with itself is not recorded (%q)", type1)
	}
	if id1 > id2 {
		id1, id2 = id2, id1
	}

	maxSent, err := e.store.MaxSentenceID(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for lo := int64(1); lo <= maxSent; lo += e.opts.SentenceWindow {
		hi := lo + e.opts.SentenceWindow - 1
		if hi > maxSent {
			hi = maxSent
		}
		n, err := e.store.InsertCooccurrences(ctx, id1, id2, lo, hi)
		if err != nil {
			return total, err
		}
		total += n
		log.Debug("co-occurrence window", "lo", lo, "hi", hi, "inserted", n)
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
	log.Info("detection complete", "type1", type1, "type2", type2, "inserted", total)
	return total, nil
}

// Summarize rebuilds the coentity summary: raw frequency per text pair
// and a weighted frequency combining it with the mean tf-idf of each
// side. The per-text averages are computed in parallel read batches; the
// write-back is a single serialized phase. Returns summary rows written.
func (e *Engine) Summarize(ctx context.Context) (int, error) {
	log := logging.WithComponent("cooccur")

	groups, err := e.store.CooccurrenceGroups(ctx)
	if err != nil {
		return 0, err
	}
	if len(groups) == 0 {
		return 0, e.store.ReplaceSummaries(ctx, nil)
	}

	// every text appears in many groups; average each one once
	textSet := make(map[string]struct{}, len(groups)*2)
	for _, g := range groups {
		textSet[g.E1Text] = struct{}{}
		textSet[g.E2Text] = struct{}{}
	}
	texts := make([]string, 0, len(textSet))
	for t := range textSet {
		texts = append(texts, t)
	}
	sort.Strings(texts)

	avgs := make(map[string]float64, len(texts))
	var mu sync.Mutex

	readers, rctx := errgroup.WithContext(ctx)
	readers.SetLimit(e.opts.Readers)
	for _, text := range texts {
		text := text
		readers.Go(func() error {
			avg, err := e.store.AvgTfIdf(rctx, text)
			if err != nil {
				return err
			}
			mu.Lock()
			avgs[text] = avg
			mu.Unlock()
			return nil
		})
	}
	if err := readers.Wait(); err != nil {
		return 0, err
	}

	summaries := make([]store.CoentitySummary, 0, len(groups))
	for _, g := range groups {
		avg1 := avgs[g.E1Text]
		avg2 := avgs[g.E2Text]
		summaries = append(summaries, store.CoentitySummary{
			E1Text:     g.E1Text,
			E2Text:     g.E2Text,
			Fq:         g.Fq,
			WeightedFq: float64(g.Fq) * avg1 * avg2,
			AvgE1TfIdf: avg1,
			AvgE2TfIdf: avg2,
		})
	}

	if err := e.store.ReplaceSummaries(ctx, summaries); err != nil {
		return 0, err
	}
	log.Info("summary complete", "pairs", len(groups), "texts", len(texts))
	return len(summaries), nil
}

// ExportCSV writes the top-n summary rows (all rows when n <= 0) as CSV.
func (e *Engine) ExportCSV(ctx context.Context, w io.Writer, n int) error {
	rows, err := e.store.TopSummaries(ctx, n)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"entity_1", "entity_2", "fq", "weighted_fq", "avg_e1_tf_idf", "avg_e2_tf_idf"}); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.E1Text,
			r.E2Text,
			strconv.FormatInt(r.Fq, 10),
			strconv.FormatFloat(r.WeightedFq, 'g', -1, 64),
			strconv.FormatFloat(r.AvgE1TfIdf, 'g', -1, 64),
			strconv.FormatFloat(r.AvgE2TfIdf, 'g', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
