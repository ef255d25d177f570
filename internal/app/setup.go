package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fagpt/fagpt/db"
	"github.com/fagpt/fagpt/internal/config"
	"github.com/fagpt/fagpt/internal/graph"
	"github.com/fagpt/fagpt/internal/ingest"
	"github.com/fagpt/fagpt/internal/observability"
	"github.com/fagpt/fagpt/internal/parse"
	"github.com/fagpt/fagpt/internal/query"
	"github.com/fagpt/fagpt/internal/vectorstore"
)

const closeTimeout = 5 * time.Second

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool
	a.Vectors = vectorstore.New(pool, cfg.EmbeddingDim, logger)

	driver, err := graph.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		return nil, err
	}
	a.GraphDrv = driver
	a.Graph = graph.New(driver, logger)

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	parser, err := parse.New(cfg.ParserURL, logger, parse.WithTimeout(cfg.ParserTimeout))
	if err != nil {
		return nil, err
	}

	a.Ingest, err = ingest.New(ingest.Config{
		Genkit:      g,
		Embedder:    embedder,
		Parser:      parser,
		Vectors:     a.Vectors,
		Graph:       a.Graph,
		ModelName:   cfg.QualifiedModelName(),
		VisionModel: cfg.QualifiedVisionModel(),
		DataDir:     cfg.DataDir,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	a.Query, err = query.New(query.Config{
		Genkit:           g,
		Embedder:         embedder,
		Search:           a.Vectors,
		Graph:            a.Graph,
		Logger:           logger,
		ModelName:        cfg.QualifiedModelName(),
		VisionModel:      cfg.QualifiedVisionModel(),
		Temperature:      float64(cfg.Temperature),
		RetrieveTopK:     cfg.RetrieveTopK,
		RerankTopK:       cfg.RerankTopK,
		SimilarityWeight: cfg.SimilarityWeight,
		JudgmentWeight:   cfg.JudgmentWeight,
		GraphEntityLimit: cfg.GraphEntityLimit,
		SearchTimeout:    cfg.SearchTimeout,
		InferenceTimeout: cfg.InferenceTimeout,
	})
	if err != nil {
		return nil, err
	}

	return a, nil
}

// provideOtelShutdown sets up OTLP trace export before Genkit
// initialization so Genkit's TracerProvider picks up the processor.
// Export is off by default; the returned cleanup is always safe to call.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	tc := cfg.Tracing
	if !tc.Enabled {
		return func() {}
	}

	shutdown := observability.Setup(ctx, observability.Config{
		AgentHost:   tc.AgentHost,
		Environment: tc.Environment,
		ServiceName: tc.ServiceName,
	}, logger)

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the configured AI provider.
// Ollama is the default; it requires explicit model registration.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	switch cfg.Provider {
	case config.ProviderGoogleAI:
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with googleai provider")
		}
		logger.Info("initialized Genkit with googleai provider",
			"model", cfg.ModelName, "vision_model", cfg.VisionModel)
		return g, nil

	default: // ollama
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama has no auto-discovery; register the text model, the
		// vision model and the embedder explicitly.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		if cfg.VisionModel != cfg.ModelName {
			ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
				Name: cfg.VisionModel,
				Type: "chat",
			}, nil)
		}
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName,
			"vision_model", cfg.VisionModel,
			"host", cfg.OllamaHost)
		return g, nil
	}
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderGoogleAI:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	default: // ollama embedders are keyed by server address
		return ollama.Embedder(g, cfg.OllamaHost)
	}
}

// provideDBPool runs migrations and creates a PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
