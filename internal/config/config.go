// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.fagpt/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, generation/vision models, embedder, temperature
//   - Storage: PostgreSQL + pgvector connection (storage.go)
//   - Graph: Neo4j bolt connection (storage.go)
//   - Parser: document converter endpoint
//   - Retrieval: candidate counts, rerank weights, timeouts
//
// Security: sensitive fields (passwords) are masked in MarshalJSON/String.
// Validation: range checks in validation.go with sentinel errors for
// errors.Is() checking.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbeddingDim indicates the embedding dimension is out of range.
	ErrInvalidEmbeddingDim = errors.New("invalid embedding dimension")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidNeo4jURI indicates the Neo4j connection URI is invalid.
	ErrInvalidNeo4jURI = errors.New("invalid Neo4j URI")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidRetrieval indicates a retrieval tuning value is out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval configuration")

	// ErrInvalidParserURL indicates the parser endpoint is invalid.
	ErrInvalidParserURL = errors.New("invalid parser URL")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"
)

// Retrieval tuning defaults. These are deployment tunables, not contracts;
// the rerank combination only has to stay monotonic in both scores.
const (
	DefaultRetrieveTopK     = 30
	DefaultRerankTopK       = 5
	DefaultSimilarityWeight = 0.4
	DefaultJudgmentWeight   = 0.6
	DefaultGraphEntityLimit = 10
)

// TracingConfig holds OTLP trace export configuration.
// Spans are shipped to a local agent over OTLP HTTP; the agent handles
// authentication and forwarding.
type TracingConfig struct {
	// Enabled turns trace export on. Default: false.
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// AgentHost is the OTLP HTTP endpoint (default: localhost:4318).
	AgentHost string `mapstructure:"agent_host" json:"agent_host"`
	// Environment is the deployment environment tag.
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the reported service name (default: fagpt).
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`         // "ollama" (default), "googleai"
	ModelName   string  `mapstructure:"model_name" json:"model_name"`     // text/generation model
	VisionModel string  `mapstructure:"vision_model" json:"vision_model"` // vision-capable model for image work
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	OllamaHost  string  `mapstructure:"ollama_host" json:"ollama_host"`

	// Embedding configuration. One embedder per deployment: query and
	// element embeddings must come from the same model or similarity
	// silently degrades with no error signal.
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbeddingDim  int    `mapstructure:"embedding_dim" json:"embedding_dim"`

	// PostgreSQL (pgvector element store)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Neo4j (knowledge graph store)
	Neo4jURI      string `mapstructure:"neo4j_uri" json:"neo4j_uri"`
	Neo4jUser     string `mapstructure:"neo4j_user" json:"neo4j_user"`
	Neo4jPassword string `mapstructure:"neo4j_password" json:"neo4j_password"` // SENSITIVE: masked in MarshalJSON

	// Document parser endpoint (docling-serve compatible converter)
	ParserURL        string        `mapstructure:"parser_url" json:"parser_url"`
	ParserTimeout    time.Duration `mapstructure:"parser_timeout" json:"parser_timeout"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout" json:"inference_timeout"`
	SearchTimeout    time.Duration `mapstructure:"search_timeout" json:"search_timeout"`

	// Retrieval tuning
	RetrieveTopK     int     `mapstructure:"retrieve_top_k" json:"retrieve_top_k"`
	RerankTopK       int     `mapstructure:"rerank_top_k" json:"rerank_top_k"`
	SimilarityWeight float64 `mapstructure:"similarity_weight" json:"similarity_weight"`
	JudgmentWeight   float64 `mapstructure:"judgment_weight" json:"judgment_weight"`
	GraphEntityLimit int     `mapstructure:"graph_entity_limit" json:"graph_entity_limit"`

	// DataDir holds extracted artifacts and the quarantine directory.
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	// Tracing configuration
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".fagpt")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is not an error; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
// Model defaults match a local Ollama deployment.
func setDefaults() {
	viper.SetDefault("provider", ProviderOllama)
	viper.SetDefault("model_name", "qwen2.5:7b")
	viper.SetDefault("vision_model", "qwen2.5vl:7b")
	viper.SetDefault("temperature", 0.3)
	viper.SetDefault("ollama_host", "http://localhost:11434")

	viper.SetDefault("embedder_model", "nomic-embed-text")
	viper.SetDefault("embedding_dim", 768)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "fagpt")
	viper.SetDefault("postgres_password", "fagpt_dev_password")
	viper.SetDefault("postgres_db_name", "fagpt")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("neo4j_uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j_user", "neo4j")
	viper.SetDefault("neo4j_password", "")

	viper.SetDefault("parser_url", "http://localhost:5001")
	viper.SetDefault("parser_timeout", 5*time.Minute)
	viper.SetDefault("inference_timeout", 60*time.Second)
	viper.SetDefault("search_timeout", 10*time.Second)

	viper.SetDefault("retrieve_top_k", DefaultRetrieveTopK)
	viper.SetDefault("rerank_top_k", DefaultRerankTopK)
	viper.SetDefault("similarity_weight", DefaultSimilarityWeight)
	viper.SetDefault("judgment_weight", DefaultJudgmentWeight)
	viper.SetDefault("graph_entity_limit", DefaultGraphEntityLimit)

	viper.SetDefault("data_dir", "data")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.agent_host", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "fagpt")
}

// bindEnvVariables binds environment variable overrides explicitly.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a failure here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "FAGPT_PROVIDER")
	mustBind("model_name", "FAGPT_MODEL_NAME")
	mustBind("vision_model", "FAGPT_VISION_MODEL")
	mustBind("embedder_model", "FAGPT_EMBEDDER_MODEL")
	mustBind("ollama_host", "FAGPT_OLLAMA_HOST")
	mustBind("parser_url", "FAGPT_PARSER_URL")
	mustBind("neo4j_uri", "FAGPT_NEO4J_URI")
	mustBind("neo4j_user", "FAGPT_NEO4J_USER")
	mustBind("neo4j_password", "FAGPT_NEO4J_PASSWORD")
	mustBind("data_dir", "FAGPT_DATA_DIR")

	// NOTE: GEMINI_API_KEY is read directly by the Genkit googlegenai
	// plugin, not via viper. Validation checks its presence when the
	// googleai provider is selected.
}

// QualifiedModelName returns the full provider-prefixed name of the text
// generation model, e.g. "ollama/qwen2.5:7b" or "googleai/gemini-2.5-flash".
func (c *Config) QualifiedModelName() string {
	return c.Provider + "/" + c.ModelName
}

// QualifiedVisionModel returns the full provider-prefixed name of the
// vision-capable model used for image description and image judgment.
func (c *Config) QualifiedVisionModel() string {
	return c.Provider + "/" + c.VisionModel
}

// ArtifactsDir is where ingestion writes extracted element artifacts.
func (c *Config) ArtifactsDir() string {
	return filepath.Join(c.DataDir, "artifacts")
}

// QuarantineDir is where unparseable documents are moved.
func (c *Config) QuarantineDir() string {
	return filepath.Join(c.DataDir, "quarantine")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid substring matches against real secret content.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Short secrets are
// fully masked; longer ones keep the first and last two characters for
// debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.Neo4jPassword = maskSecret(a.Neo4jPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
