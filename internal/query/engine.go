// Package query answers questions over ingested documents.
//
// A query runs a strictly sequential chain: intent analysis, vector
// retrieval, model reranking, optional graph context, generation. Stages
// parallelize internally (rerank judges candidates concurrently) but join
// before the next stage. Per-stage degradation rules keep availability
// over completeness: a malformed intent falls back to the default, a
// failed judgment keeps the similarity score, an unreachable graph store
// yields an answer without graph facts. Only an unreachable vector store
// or a failed generation call fail the query.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/fagpt/fagpt/internal/config"
	"github.com/fagpt/fagpt/internal/graph"
)

// judgeRatePerSecond smooths judgment calls against the inference
// endpoint across concurrent queries.
const judgeRatePerSecond = 10

// Engine runs the query pipeline. Safe for concurrent use; all per-query
// state is request-scoped.
type Engine struct {
	g        *genkit.Genkit
	embedder ai.Embedder
	search   Searcher
	graph    GraphReader // nil disables graph context entirely
	logger   *slog.Logger

	modelName   string
	visionModel string
	temperature float64

	retrieveTopK     int
	rerankTopK       int
	similarityWeight float64
	judgmentWeight   float64
	graphEntityLimit int

	searchTimeout    time.Duration
	inferenceTimeout time.Duration

	judgeLimiter *rate.Limiter
}

// Config carries the Engine's dependencies and tuning. Zero tuning values
// fall back to the deployment defaults.
type Config struct {
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Search   Searcher
	Graph    GraphReader
	Logger   *slog.Logger

	ModelName   string
	VisionModel string
	Temperature float64

	RetrieveTopK     int
	RerankTopK       int
	SimilarityWeight float64
	JudgmentWeight   float64
	GraphEntityLimit int

	SearchTimeout    time.Duration
	InferenceTimeout time.Duration
}

// New creates a query engine. Genkit, Embedder, Search and the model
// names are required; Graph may be nil for deployments without a graph
// store.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Genkit == nil:
		return nil, errors.New("genkit instance is required")
	case cfg.Embedder == nil:
		return nil, errors.New("embedder is required")
	case cfg.Search == nil:
		return nil, errors.New("search store is required")
	case cfg.ModelName == "":
		return nil, errors.New("model name is required")
	case cfg.VisionModel == "":
		return nil, errors.New("vision model is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetrieveTopK <= 0 {
		cfg.RetrieveTopK = config.DefaultRetrieveTopK
	}
	if cfg.RerankTopK <= 0 {
		cfg.RerankTopK = config.DefaultRerankTopK
	}
	if cfg.SimilarityWeight <= 0 {
		cfg.SimilarityWeight = config.DefaultSimilarityWeight
	}
	if cfg.JudgmentWeight <= 0 {
		cfg.JudgmentWeight = config.DefaultJudgmentWeight
	}
	if cfg.GraphEntityLimit <= 0 {
		cfg.GraphEntityLimit = config.DefaultGraphEntityLimit
	}

	return &Engine{
		g:                cfg.Genkit,
		embedder:         cfg.Embedder,
		search:           cfg.Search,
		graph:            cfg.Graph,
		logger:           logger,
		modelName:        cfg.ModelName,
		visionModel:      cfg.VisionModel,
		temperature:      cfg.Temperature,
		retrieveTopK:     cfg.RetrieveTopK,
		rerankTopK:       cfg.RerankTopK,
		similarityWeight: cfg.SimilarityWeight,
		judgmentWeight:   cfg.JudgmentWeight,
		graphEntityLimit: cfg.GraphEntityLimit,
		searchTimeout:    cfg.SearchTimeout,
		inferenceTimeout: cfg.InferenceTimeout,
		judgeLimiter:     rate.NewLimiter(rate.Limit(judgeRatePerSecond), maxJudgmentConcurrency),
	}, nil
}

// Ask answers one question. An empty store yields a "nothing found"
// answer with zero-count metadata, never an error; see the package
// documentation for which failures are fatal.
func (e *Engine) Ask(ctx context.Context, queryText string) (*Answer, error) {
	if queryText == "" {
		return nil, errors.New("query cannot be empty")
	}

	intent, err := analyzeIntent(ctx, e.g, e.modelName, queryText)
	if err != nil {
		e.logger.Warn("intent analysis failed, using default intent", "error", err)
		intent = DefaultIntent()
	}
	e.logger.Debug("analyzed intent",
		"type", intent.Type,
		"needs_kg", intent.NeedsGraph,
		"needs_images", intent.NeedsImages,
		"key_entities", intent.KeyEntities)

	candidates, err := e.retrieve(ctx, queryText, intent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	if len(candidates) == 0 {
		e.logger.Info("no candidates retrieved", "intent", intent.Type)
		return &Answer{
			Text:     noContentResponse,
			Metadata: Metadata{Intent: intent},
		}, nil
	}

	retrieved := len(candidates)
	candidates = e.rerank(ctx, queryText, candidates)

	graphCtx, degraded := e.fetchGraphContext(ctx, intent)

	text, images, err := e.generate(ctx, queryText, candidates, graphCtx)
	if err != nil {
		return nil, err
	}

	answer := &Answer{
		Text:   text,
		Images: images,
		Metadata: Metadata{
			Intent:         intent,
			RetrievedCount: retrieved,
			TripleCount:    graph.TripleCount(graphCtx),
			GraphDegraded:  degraded,
		},
	}
	e.logger.Info("answered query",
		"intent", intent.Type,
		"candidates", answer.Metadata.RetrievedCount,
		"kg_triples", answer.Metadata.TripleCount,
		"graph_degraded", degraded)
	return answer, nil
}
