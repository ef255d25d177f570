package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fagpt/fagpt/internal/app"
	"github.com/fagpt/fagpt/internal/config"
)

var (
	queryJSON      bool
	querySaveImage string
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Answer one question against the ingested documents",
	Long: `Query analyzes the question's intent, retrieves and reranks matching
elements, optionally pulls knowledge-graph context, and prints a grounded
answer to stdout.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&queryJSON, "json", false,
		"print the answer and its metadata as JSON")
	queryCmd.Flags().StringVar(&querySaveImage, "save-images", "",
		"directory to write images referenced by the answer")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question is empty")
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

	answer, err := a.Query.Ask(ctx, question)
	if err != nil {
		return err
	}

	if querySaveImage != "" && len(answer.Images) > 0 {
		if err := saveImages(querySaveImage, answer.Images); err != nil {
			logger.Warn("saving answer images failed", "error", err)
		}
	}

	if queryJSON {
		out := struct {
			Answer   string `json:"answer"`
			Metadata any    `json:"metadata"`
		}{answer.Text, answer.Metadata}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Println(answer.Text)
	logger.Debug("query answered",
		"intent", answer.Metadata.Intent.Type,
		"retrieved", answer.Metadata.RetrievedCount,
		"kg_triples", answer.Metadata.TripleCount,
		"graph_degraded", answer.Metadata.GraphDegraded)
	return nil
}

func saveImages(dir string, images [][]byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, data := range images {
		name := filepath.Join(dir, fmt.Sprintf("answer_%03d.png", i+1))
		if err := os.WriteFile(name, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
