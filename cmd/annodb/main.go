// Command annodb drives the annotation store: bulk ingestion, the
// frequency/TF-IDF passes, co-occurrence analysis, and store statistics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corpuskit/annodb/pkg/annodb/config"
	"github.com/corpuskit/annodb/pkg/annodb/cooccur"
	"github.com/corpuskit/annodb/pkg/annodb/frequency"
	"github.com/corpuskit/annodb/pkg/annodb/logging"
	"github.com/corpuskit/annodb/pkg/annodb/pipeline"
	"github.com/corpuskit/annodb/pkg/annodb/store/sqlite"
)

var (
	dbPath     string
	configPath string
	cfg        config.Config
)

func main() {
	root := &cobra.Command{
		Use:          "annodb",
		Short:        "Annotated-corpus store: ingestion and co-occurrence analytics",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the store database file (required)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "Optional YAML config file")
	root.MarkPersistentFlagRequired("db")

	root.AddCommand(ingestCmd(), frequencyCmd(), cooccurCmd(), statsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (*sqlite.Store, error) {
	return sqlite.Open(ctx, dbPath)
}

func ingestCmd() *cobra.Command {
	var inputDir string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Bulk-load annotation batch files, resuming past the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			writer, err := st.Writer(ctx, cfg.Ingest.InsertChunk)
			if err != nil {
				return err
			}
			defer writer.Close()

			report, err := pipeline.Run(ctx, st, writer, inputDir, pipeline.Options{
				Workers:    cfg.Ingest.Workers,
				QueueDepth: cfg.Ingest.QueueDepth,
			})
			printIngestReport(report)
			if err != nil {
				return err
			}
			if report.Failed() {
				// partial success: some files were skipped or failed
				writer.Close()
				st.Close()
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&inputDir, "input", "", "Directory of batch .json files (required)")
	cmd.MarkFlagRequired("input")
	return cmd
}

func printIngestReport(r pipeline.Report) {
	fmt.Printf("run %s\n", r.RunID)
	fmt.Printf("  candidates:        %d\n", r.Candidates)
	fmt.Printf("  already ingested:  %d\n", r.AlreadyIngested)
	fmt.Printf("  processed:         %d\n", r.Processed)
	fmt.Printf("  malformed files:   %d\n", len(r.MalformedFiles))
	fmt.Printf("  failed files:      %d\n", len(r.FailedFiles))
	fmt.Printf("  skipped documents: %d\n", r.SkippedDocuments)
	fmt.Printf("  rows: %d documents, %d sentences, %d occurrences\n",
		r.Documents, r.Sentences, r.Occurrences)
	for _, f := range r.MalformedFiles {
		fmt.Printf("  malformed: %s\n", f)
	}
	for _, f := range r.FailedFiles {
		fmt.Printf("  failed: %s\n", f)
	}
}

func frequencyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "frequency",
		Short: "Compute document counts and the TF-IDF passes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := printTableCounts(ctx, st, "before"); err != nil {
				return err
			}
			engine := frequency.New(st, frequency.Options{
				DocumentWindow:   cfg.Analytics.DocumentWindow,
				OccurrenceWindow: cfg.Analytics.OccurrenceWindow,
				TermPage:         cfg.Analytics.TermPage,
			})
			if err := engine.Run(ctx); err != nil {
				return err
			}
			return printTableCounts(ctx, st, "after")
		},
	}
}

func cooccurCmd() *cobra.Command {
	var (
		type1, type2 string
		exportPath   string
		topN         int
	)
	cmd := &cobra.Command{
		Use:   "cooccur",
		Short: "Detect entity-type co-occurrences and rebuild the weighted summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := printTableCounts(ctx, st, "before"); err != nil {
				return err
			}
			engine := cooccur.New(st, cooccur.Options{
				SentenceWindow: cfg.Analytics.SentenceWindow,
				Readers:        cfg.Analytics.Readers,
			})
			inserted, err := engine.Detect(ctx, type1, type2)
			if err != nil {
				return err
			}
			written, err := engine.Summarize(ctx)
			if err != nil {
				return err
			}
			if err := printTableCounts(ctx, st, "after"); err != nil {
				return err
			}
			fmt.Printf("pairs inserted: %d, summary rows: %d\n", inserted, written)

			if exportPath != "" {
				f, err := os.Create(exportPath)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := engine.ExportCSV(ctx, f, topN); err != nil {
					return err
				}
				fmt.Printf("exported summary to %s\n", exportPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&type1, "type1", "", "First entity type name (required)")
	cmd.Flags().StringVar(&type2, "type2", "", "Second entity type name (required)")
	cmd.Flags().StringVar(&exportPath, "export", "", "Optional CSV output path for the summary")
	cmd.Flags().IntVar(&topN, "top", 0, "Limit exported rows (0 = all)")
	cmd.MarkFlagRequired("type1")
	cmd.MarkFlagRequired("type2")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print row counts per table and the store size",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := printTableCounts(ctx, st, "tables"); err != nil {
				return err
			}
			size, err := st.Size(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("size: %.2f MB\n", float64(size)/(1024*1024))
			return nil
		},
	}
}

func printTableCounts(ctx context.Context, st *sqlite.Store, label string) error {
	counts, err := st.TableCounts(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Printf("%s:\n", label)
	for _, name := range names {
		fmt.Printf("  %-22s %d\n", name, counts[name])
	}
	return nil
}
