package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fagpt/fagpt/internal/app"
	"github.com/fagpt/fagpt/internal/config"
	"github.com/fagpt/fagpt/internal/ingest"
)

var (
	ingestInputDir    string
	ingestFile        string
	ingestLimit       int
	ingestClearDB     bool
	ingestStopOnError bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest PDF documents into the vector store and knowledge graph",
	Long: `Ingest parses each PDF into typed elements, describes figures with the
vision model, embeds every element, and stores the results. Knowledge-graph
facts are extracted from text and table elements as a best-effort step.

Unparseable documents are moved to the quarantine directory and the run
continues unless --stop-on-error is set.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestInputDir, "input-dir", "",
		"directory of PDF files to ingest")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "",
		"single PDF file to ingest")
	ingestCmd.Flags().IntVar(&ingestLimit, "limit", 0,
		"maximum number of documents to process (0 = no limit)")
	ingestCmd.Flags().BoolVar(&ingestClearDB, "clear-db", false,
		"wipe the vector store and knowledge graph before ingesting")
	ingestCmd.Flags().BoolVar(&ingestStopOnError, "stop-on-error", false,
		"abort the run on the first failed document")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestInputDir == "" && ingestFile == "" {
		return fmt.Errorf("one of --input-dir or --file is required")
	}
	if ingestInputDir != "" && ingestFile != "" {
		return fmt.Errorf("--input-dir and --file are mutually exclusive")
	}

	logger := newLogger()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	if ingestClearDB {
		logger.Info("clearing existing data")
		if err := a.Ingest.Clear(ctx); err != nil {
			return fmt.Errorf("clearing stores: %w", err)
		}
	}

	if ingestFile != "" {
		n, entities, rels, err := a.Ingest.IngestFile(ctx, ingestFile)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", ingestFile, err)
		}
		fmt.Printf("Ingested %s: %d elements, %d entities, %d relationships\n",
			filepath.Base(ingestFile), n, entities, rels)
		return nil
	}

	report, err := a.Ingest.IngestDir(ctx, ingestInputDir, ingestLimit, ingestStopOnError)
	if report != nil {
		printReport(report)
	}
	if err != nil {
		return err
	}
	// Without --stop-on-error only a run that ingests nothing fails.
	if report.Documents == 0 {
		return fmt.Errorf("no documents ingested from %s", ingestInputDir)
	}
	return nil
}

func printReport(r *ingest.Report) {
	fmt.Printf("Documents ingested:    %d\n", r.Documents)
	fmt.Printf("Elements stored:       %d\n", r.Elements)
	fmt.Printf("Entities extracted:    %d\n", r.Entities)
	fmt.Printf("Relationships:         %d\n", r.Relationships)
	if len(r.Quarantined) > 0 {
		fmt.Printf("Quarantined:           %d\n", len(r.Quarantined))
		for _, p := range r.Quarantined {
			fmt.Fprintf(os.Stderr, "  quarantined: %s\n", p)
		}
	}
	if len(r.Failed) > 0 {
		fmt.Printf("Failed:                %d\n", len(r.Failed))
		for _, p := range r.Failed {
			fmt.Fprintf(os.Stderr, "  failed: %s\n", p)
		}
	}
}
