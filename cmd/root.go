// Package cmd provides the fagpt CLI commands.
//
// Commands:
//   - ingest: parse, describe, embed and store documents
//   - query: answer one question against the ingested corpus
//   - version: show build and configuration information
//
// All commands cancel on SIGINT/SIGTERM via context cancellation.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fagpt/fagpt/internal/log"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "fagpt",
	Short: "Multimodal document question answering",
	Long: `fagpt ingests PDF documents into a vector store and knowledge graph,
then answers questions grounded in the ingested content.

Run "fagpt ingest" to load documents and "fagpt query" to ask questions.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is the single entry point called
// from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
}

// newLogger builds the process logger from the verbosity flag and
// installs it as the slog default.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})
	slog.SetDefault(logger)
	return logger
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
