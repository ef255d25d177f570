package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Provider validation
	switch c.Provider {
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty for the ollama provider", ErrInvalidProvider)
		}
	case ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required for the googleai provider", ErrInvalidProvider)
		}
	default:
		return fmt.Errorf("%w: %q (expected %q or %q)", ErrInvalidProvider, c.Provider, ProviderOllama, ProviderGoogleAI)
	}

	// Model configuration
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}
	if c.VisionModel == "" {
		return fmt.Errorf("%w: vision_model cannot be empty", ErrInvalidModelName)
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	// Embedding configuration. The dimension is pinned per deployment;
	// changing it invalidates every stored vector.
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbeddingDim < 64 || c.EmbeddingDim > 4096 {
		return fmt.Errorf("%w: must be between 64 and 4096, got %d", ErrInvalidEmbeddingDim, c.EmbeddingDim)
	}

	// PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "fagpt_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"hint", "change postgres_password in config.yaml for production deployments")
	}

	// Modern SSL modes only; allow/prefer are excluded (MITM vulnerable).
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q (expected one of %v)", ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// Neo4j configuration
	if c.Neo4jURI == "" {
		return fmt.Errorf("%w: neo4j_uri cannot be empty", ErrInvalidNeo4jURI)
	}
	if !strings.HasPrefix(c.Neo4jURI, "bolt://") && !strings.HasPrefix(c.Neo4jURI, "neo4j://") &&
		!strings.HasPrefix(c.Neo4jURI, "bolt+s://") && !strings.HasPrefix(c.Neo4jURI, "neo4j+s://") {
		return fmt.Errorf("%w: %q (expected bolt:// or neo4j:// scheme)", ErrInvalidNeo4jURI, c.Neo4jURI)
	}

	// Parser endpoint
	if c.ParserURL == "" {
		return fmt.Errorf("%w: parser_url cannot be empty", ErrInvalidParserURL)
	}
	if !strings.HasPrefix(c.ParserURL, "http://") && !strings.HasPrefix(c.ParserURL, "https://") {
		return fmt.Errorf("%w: %q (expected http:// or https:// scheme)", ErrInvalidParserURL, c.ParserURL)
	}

	// Retrieval tuning. Bounds are generous; they exist to catch typos
	// (0, negative, or absurdly large values), not to tune relevance.
	if c.RetrieveTopK < 1 || c.RetrieveTopK > 200 {
		return fmt.Errorf("%w: retrieve_top_k must be between 1 and 200, got %d", ErrInvalidRetrieval, c.RetrieveTopK)
	}
	if c.RerankTopK < 1 || c.RerankTopK > c.RetrieveTopK {
		return fmt.Errorf("%w: rerank_top_k must be between 1 and retrieve_top_k (%d), got %d",
			ErrInvalidRetrieval, c.RetrieveTopK, c.RerankTopK)
	}
	if c.SimilarityWeight < 0 || c.JudgmentWeight < 0 {
		return fmt.Errorf("%w: rerank weights must be non-negative (similarity=%.2f judgment=%.2f)",
			ErrInvalidRetrieval, c.SimilarityWeight, c.JudgmentWeight)
	}
	if c.SimilarityWeight == 0 && c.JudgmentWeight == 0 {
		return fmt.Errorf("%w: rerank weights cannot both be zero", ErrInvalidRetrieval)
	}
	if c.GraphEntityLimit < 1 || c.GraphEntityLimit > 100 {
		return fmt.Errorf("%w: graph_entity_limit must be between 1 and 100, got %d",
			ErrInvalidRetrieval, c.GraphEntityLimit)
	}

	return nil
}
