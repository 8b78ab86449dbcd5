// Package pipeline coordinates the concurrent, resumable bulk load: a
// pool of parser workers feeding a bounded queue drained by the single
// store writer.
package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/corpuskit/annodb/pkg/annodb/annotation"
	"github.com/corpuskit/annodb/pkg/annodb/internalerr"
	"github.com/corpuskit/annodb/pkg/annodb/logging"
	"github.com/corpuskit/annodb/pkg/annodb/store"
)

// Options tunes the pipeline run.
type Options struct {
	// Workers is the parser pool size.
	Workers int
	// QueueDepth bounds the parsed-batch queue. Producers block when the
	// writer falls behind; that blocking is the backpressure.
	QueueDepth int
}

// Report is the user-visible outcome of one pipeline run.
type Report struct {
	RunID            string
	Candidates       int
	AlreadyIngested  int
	Processed        int
	MalformedFiles   []string
	FailedFiles      []string
	SkippedDocuments int
	Documents        int
	Sentences        int
	Occurrences      int
}

// Failed reports whether any file was skipped as malformed or failed to
// commit. It backs the process exit status.
func (r Report) Failed() bool {
	return len(r.MalformedFiles) > 0 || len(r.FailedFiles) > 0
}

type parsedFile struct {
	name   string
	batch  store.ParsedBatch
	report annotation.ParseReport
}

// Run scans inputDir for batch files, subtracts the ledger, and ingests
// the remainder. Cancellation is observed at file boundaries by the
// parsers and between items by the writer; an in-flight commit always
// finishes so no file is left half-written.
func Run(ctx context.Context, st store.Store, w store.Writer, inputDir string, opts Options) (Report, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueDepth < 1 {
		opts.QueueDepth = 1
	}
	log := logging.WithComponent("pipeline")

	report := Report{RunID: ulid.Make().String()}

	// Scanning
	candidates, err := filepath.Glob(filepath.Join(inputDir, "*.json"))
	if err != nil {
		return report, err
	}
	sortByBatchIndex(candidates)
	report.Candidates = len(candidates)

	ledger, err := st.Ledger(ctx)
	if err != nil {
		return report, err
	}
	var pending []string
	for _, path := range candidates {
		if _, done := ledger[filepath.Base(path)]; done {
			report.AlreadyIngested++
			continue
		}
		pending = append(pending, path)
	}
	log.Info("scan complete",
		"run_id", report.RunID,
		"candidates", report.Candidates,
		"already_ingested", report.AlreadyIngested,
		"pending", len(pending))
	if len(pending) == 0 {
		return report, nil
	}

	// Dispatching
	paths := make(chan string)
	queue := make(chan parsedFile, opts.QueueDepth)

	var mu sync.Mutex // guards report during the concurrent phase

	producers, pctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Workers; i++ {
		producers.Go(func() error {
			for path := range paths {
				batch, pr, err := annotation.ParseFile(path)
				if err != nil {
					if errors.Is(err, internalerr.ErrMalformedInput) {
						log.Warn("malformed file skipped", "file", path, "err", err)
						mu.Lock()
						report.MalformedFiles = append(report.MalformedFiles, filepath.Base(path))
						mu.Unlock()
						continue
					}
					// read failures are file-scoped too: the file stays
					// un-ledgered and the rest of the run proceeds
					log.Error("file unreadable, left for retry", "file", path, "err", err)
					mu.Lock()
					report.FailedFiles = append(report.FailedFiles, filepath.Base(path))
					mu.Unlock()
					continue
				}
				select {
				case queue <- parsedFile{name: filepath.Base(path), batch: batch, report: pr}:
				case <-pctx.Done():
					return pctx.Err()
				}
			}
			return nil
		})
	}

	go func() {
		defer close(paths)
		for _, path := range pending {
			select {
			case paths <- path:
			case <-pctx.Done():
				return
			}
		}
	}()

	// Draining: once every producer is done the queue is closed, which is
	// the writer's signal to exit.
	go func() {
		producers.Wait()
		close(queue)
	}()

	// The single writer. Commits run under a non-cancelable context so an
	// interrupt never aborts a transaction midway; the loop itself stops
	// between items.
	commitCtx := context.WithoutCancel(ctx)
	var canceled bool
	for item := range queue {
		if ctx.Err() != nil && !canceled {
			canceled = true
			log.Info("cancellation observed, draining without committing")
		}
		if canceled {
			continue
		}
		if err := w.Commit(commitCtx, item.name, item.batch); err != nil {
			log.Error("commit failed, file left for retry", "file", item.name, "err", err)
			mu.Lock()
			report.FailedFiles = append(report.FailedFiles, item.name)
			mu.Unlock()
			continue
		}
		mu.Lock()
		report.Processed++
		report.SkippedDocuments += len(item.report.SkippedDocuments)
		report.Documents += item.report.Documents
		report.Sentences += item.report.Sentences
		report.Occurrences += item.report.Occurrences
		mu.Unlock()
		for _, skipped := range item.report.SkippedDocuments {
			log.Warn("document skipped", "file", item.name, "doc", skipped.ID, "reason", skipped.Reason)
		}
		log.Debug("file committed", "file", item.name,
			"documents", item.report.Documents,
			"sentences", item.report.Sentences,
			"occurrences", item.report.Occurrences)
	}

	if err := producers.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return report, err
	}

	log.Info("run complete",
		"run_id", report.RunID,
		"processed", report.Processed,
		"malformed", len(report.MalformedFiles),
		"failed", len(report.FailedFiles),
		"documents", report.Documents,
		"sentences", report.Sentences,
		"occurrences", report.Occurrences)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

var trailingIndex = regexp.MustCompile(`(\d+)\.json$`)

// sortByBatchIndex orders files by their trailing numeric batch index
// when present, lexically otherwise.
func sortByBatchIndex(files []string) {
	sort.Slice(files, func(i, j int) bool {
		a, aok := batchIndex(files[i])
		b, bok := batchIndex(files[j])
		if aok && bok && a != b {
			return a < b
		}
		return files[i] < files[j]
	})
}

func batchIndex(path string) (int, bool) {
	m := trailingIndex.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
