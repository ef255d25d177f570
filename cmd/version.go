package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fagpt/fagpt/internal/config"
)

// Version information (injected at build time via ldflags).
var (
	Version   = "development"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and configuration information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersion(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(w io.Writer) error {
	fmt.Fprintf(w, "fagpt %s\n", Version)
	fmt.Fprintf(w, "Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "Git Commit: %s\n", GitCommit)

	cfg, err := config.Load()
	if err != nil {
		// Version must work even with a broken config.
		fmt.Fprintf(w, "\nConfiguration: unavailable (%v)\n", err)
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Provider:        %s\n", cfg.Provider)
	fmt.Fprintf(w, "  Model:           %s\n", cfg.ModelName)
	fmt.Fprintf(w, "  Vision model:    %s\n", cfg.VisionModel)
	fmt.Fprintf(w, "  Embedder:        %s (dim %d)\n", cfg.EmbedderModel, cfg.EmbeddingDim)
	fmt.Fprintf(w, "  Parser:          %s\n", cfg.ParserURL)
	fmt.Fprintf(w, "  Postgres:        %s:%d/%s\n", cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDBName)
	fmt.Fprintf(w, "  Neo4j:           %s\n", cfg.Neo4jURI)
	return nil
}
