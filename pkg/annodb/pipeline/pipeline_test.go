package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/corpuskit/annodb/pkg/annodb/store"
	"github.com/corpuskit/annodb/pkg/annodb/store/memstore"
)

const minimalBatch = `{
	"%d": {
		"title": "Document %d",
		"sentences": [
			{
				"text": "Measles spreads fast.",
				"entities": {"disease": ["Measles"]},
				"entity_spans": {"disease": [[0, 7]]}
			}
		]
	}
}`

func writeBatchDir(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, fmt.Sprintf("batch_%d.json", i))
		content := fmt.Sprintf(minimalBatch, 100+i, 100+i)
		if err := os.WriteFile(name, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestRunIngestsAllFiles(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	dir := writeBatchDir(t, 5)

	report, err := Run(ctx, st, st, dir, Options{Workers: 2, QueueDepth: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Failed() {
		t.Fatalf("run failed: malformed=%v failed=%v", report.MalformedFiles, report.FailedFiles)
	}
	if report.Candidates != 5 || report.Processed != 5 {
		t.Errorf("got candidates=%d processed=%d, want 5/5", report.Candidates, report.Processed)
	}
	if report.Documents != 5 || report.Sentences != 5 || report.Occurrences != 5 {
		t.Errorf("got documents=%d sentences=%d occurrences=%d, want 5 each",
			report.Documents, report.Sentences, report.Occurrences)
	}
	if report.RunID == "" {
		t.Error("run id should be set")
	}
	if len(st.Commits()) != 5 {
		t.Errorf("got %d commits, want 5", len(st.Commits()))
	}
}

// TestRunIsIdempotent tests the resume behavior: a second run over the
// same directory finds everything in the ledger and writes nothing.
func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	dir := writeBatchDir(t, 3)

	if _, err := Run(ctx, st, st, dir, Options{Workers: 2, QueueDepth: 2}); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	report, err := Run(ctx, st, st, dir, Options{Workers: 2, QueueDepth: 2})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if report.AlreadyIngested != 3 {
		t.Errorf("got already_ingested=%d, want 3", report.AlreadyIngested)
	}
	if report.Processed != 0 {
		t.Errorf("got processed=%d, want 0", report.Processed)
	}
	if len(st.Commits()) != 3 {
		t.Errorf("got %d total commits after both runs, want 3", len(st.Commits()))
	}
}

// TestRunSkipsMalformedFiles tests that an unparsable file is recorded
// and skipped while the rest of the run proceeds.
func TestRunSkipsMalformedFiles(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	dir := writeBatchDir(t, 3)
	broken := filepath.Join(dir, "batch_99.json")
	if err := os.WriteFile(broken, []byte(`{"101": [not json`), 0o644); err != nil {
		t.Fatalf("write broken file: %v", err)
	}

	report, err := Run(ctx, st, st, dir, Options{Workers: 2, QueueDepth: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Failed() {
		t.Error("a malformed file should mark the run as failed")
	}
	if len(report.MalformedFiles) != 1 || report.MalformedFiles[0] != "batch_99.json" {
		t.Errorf("got malformed=%v, want [batch_99.json]", report.MalformedFiles)
	}
	if report.Processed != 3 {
		t.Errorf("got processed=%d, want 3", report.Processed)
	}

	// The malformed file never reaches the ledger, so a fixed copy is
	// eligible on the next run.
	if ok, _ := st.LedgerContains(ctx, "batch_99.json"); ok {
		t.Error("malformed file must not be ledgered")
	}
}

// TestRunRetriesFailedCommits tests that a file whose commit fails stays
// out of the ledger and is picked up again by the next run.
func TestRunRetriesFailedCommits(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	st.FailFiles = map[string]struct{}{"batch_1.json": {}}
	dir := writeBatchDir(t, 3)

	report, err := Run(ctx, st, st, dir, Options{Workers: 1, QueueDepth: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Failed() {
		t.Error("a failed commit should mark the run as failed")
	}
	if len(report.FailedFiles) != 1 || report.FailedFiles[0] != "batch_1.json" {
		t.Errorf("got failed=%v, want [batch_1.json]", report.FailedFiles)
	}
	if report.Processed != 2 {
		t.Errorf("got processed=%d, want 2", report.Processed)
	}

	st.FailFiles = nil
	report, err = Run(ctx, st, st, dir, Options{Workers: 1, QueueDepth: 1})
	if err != nil {
		t.Fatalf("retry Run: %v", err)
	}
	if report.AlreadyIngested != 2 || report.Processed != 1 {
		t.Errorf("retry: got already_ingested=%d processed=%d, want 2/1",
			report.AlreadyIngested, report.Processed)
	}
}

// TestRunSkipsUnreadableFiles tests that a file that cannot be read at
// all is recorded like a failed commit and does not take the run down
// with it.
func TestRunSkipsUnreadableFiles(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	dir := writeBatchDir(t, 3)
	// a directory matching the glob: ReadFile fails on it
	if err := os.Mkdir(filepath.Join(dir, "batch_9.json"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	report, err := Run(ctx, st, st, dir, Options{Workers: 2, QueueDepth: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Failed() {
		t.Error("an unreadable file should mark the run as failed")
	}
	if len(report.FailedFiles) != 1 || report.FailedFiles[0] != "batch_9.json" {
		t.Errorf("got failed=%v, want [batch_9.json]", report.FailedFiles)
	}
	if report.Processed != 3 {
		t.Errorf("got processed=%d, want 3 healthy files ingested", report.Processed)
	}
	if ok, _ := st.LedgerContains(ctx, "batch_9.json"); ok {
		t.Error("unreadable file must not be ledgered")
	}
}

func TestRunCanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := memstore.New()
	dir := writeBatchDir(t, 3)

	report, err := Run(ctx, st, st, dir, Options{Workers: 2, QueueDepth: 2})
	if err != context.Canceled {
		t.Fatalf("got err=%v, want context.Canceled", err)
	}
	if report.Processed != 0 {
		t.Errorf("got processed=%d, want 0", report.Processed)
	}
	if len(st.Commits()) != 0 {
		t.Errorf("got %d commits, want 0", len(st.Commits()))
	}
}

// cancelingWriter cancels the run context during its first Commit; the
// commit itself must still complete and be ledgered.
type cancelingWriter struct {
	*memstore.Store
	cancel context.CancelFunc
	fired  bool
}

func (w *cancelingWriter) Commit(ctx context.Context, fileName string, batch store.ParsedBatch) error {
	if !w.fired {
		w.fired = true
		w.cancel()
	}
	return w.Store.Commit(ctx, fileName, batch)
}

// TestRunCanceledMidRun tests the drain path: cancellation is observed
// between items, the in-flight commit finishes, and everything behind it
// stays un-ledgered for the next run.
func TestRunCanceledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := memstore.New()
	w := &cancelingWriter{Store: st, cancel: cancel}
	dir := writeBatchDir(t, 4)

	report, err := Run(ctx, st, w, dir, Options{Workers: 1, QueueDepth: 1})
	if err != context.Canceled {
		t.Fatalf("got err=%v, want context.Canceled", err)
	}
	if report.Processed != 1 {
		t.Errorf("got processed=%d, want exactly the in-flight commit", report.Processed)
	}
	if len(st.Commits()) != 1 {
		t.Fatalf("got %d commits, want 1", len(st.Commits()))
	}
	if ok, _ := st.LedgerContains(ctx, st.Commits()[0].FileName); !ok {
		t.Error("the completed commit must be ledgered")
	}

	// the remaining files are picked up by a fresh run
	report, err = Run(context.Background(), st, st, dir, Options{Workers: 1, QueueDepth: 1})
	if err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	if report.AlreadyIngested != 1 || report.Processed != 3 {
		t.Errorf("resume: got already_ingested=%d processed=%d, want 1/3",
			report.AlreadyIngested, report.Processed)
	}
}

func TestRunEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	report, err := Run(ctx, st, st, t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Candidates != 0 || report.Failed() {
		t.Errorf("empty directory: got candidates=%d failed=%v", report.Candidates, report.Failed())
	}
}

func TestSortByBatchIndex(t *testing.T) {
	files := []string{
		"in/batch_10.json",
		"in/batch_2.json",
		"in/notes.json",
		"in/batch_1.json",
	}
	sortByBatchIndex(files)

	want := []string{
		"in/batch_1.json",
		"in/batch_2.json",
		"in/batch_10.json",
		"in/notes.json",
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("position %d: got %s, want %s (full order %v)", i, files[i], want[i], files)
		}
	}
}
