// Package app wires the application together: configuration, tracing,
// PostgreSQL with migrations, Neo4j, Genkit with the configured AI
// provider, and the ingestion and query pipelines. Collaborators are
// passed explicitly; there are no package-level singletons, and Close
// tears down in reverse initialization order.
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fagpt/fagpt/internal/config"
	"github.com/fagpt/fagpt/internal/graph"
	"github.com/fagpt/fagpt/internal/ingest"
	"github.com/fagpt/fagpt/internal/query"
	"github.com/fagpt/fagpt/internal/vectorstore"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	DBPool   *pgxpool.Pool
	Vectors  *vectorstore.Store
	GraphDrv neo4j.DriverWithContext
	Graph    *graph.Store

	Ingest *ingest.Pipeline
	Query  *query.Engine

	otelCleanup func()
}

// Close shuts down all resources. Safe to call on a partially
// initialized App; Setup relies on that for cleanup after failures.
func (a *App) Close() error {
	var errs []error

	if a.GraphDrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := a.GraphDrv.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if a.DBPool != nil {
		a.DBPool.Close()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	if a.Logger != nil {
		a.Logger.Info("application shut down")
	}
	return errors.Join(errs...)
}
