// Package config provides configuration loading for docqa.
//
// Configuration is an explicit struct with documented defaults. Values are
// layered defaults -> YAML file -> environment (see LoadWithFile). Components
// never read the environment themselves; they receive the relevant section.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete docqa configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Chunking     ChunkingConfig     `koanf:"chunking"`
	Retrieval    RetrievalConfig    `koanf:"retrieval"`
	Agents       AgentsConfig       `koanf:"agents"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	LLM          LLMConfig          `koanf:"llm"`
	Embeddings   EmbeddingsConfig   `koanf:"embeddings"`
	VectorStore  VectorStoreConfig  `koanf:"vectorstore"`
	Corpus       CorpusConfig       `koanf:"corpus"`
	Cache        CacheConfig        `koanf:"cache"`
	Ingest       IngestConfig       `koanf:"ingest"`
	Secrets      SecretsConfig      `koanf:"secrets"`
	Evaluation   EvaluationConfig   `koanf:"evaluation"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	MaxUploadBytes  int64    `koanf:"max_upload_bytes"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig selects the zap logger setup.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	Sampling bool   `koanf:"sampling"`
	OTEL     bool   `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry export configuration.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure        bool     `koanf:"insecure"`
	ServiceName     string   `koanf:"service_name"`
	ServiceVersion  string   `koanf:"service_version"`
	SampleRate      float64  `koanf:"sample_rate"`
	MetricsInterval Duration `koanf:"metrics_interval"`
}

// ChunkingConfig controls how extracted pages are split into chunks.
type ChunkingConfig struct {
	MaxChars int `koanf:"max_chars"`
	MinChars int `koanf:"min_chars"`
}

// RetrievalConfig holds hybrid ranking parameters.
type RetrievalConfig struct {
	TopK                   int     `koanf:"top_k"`
	VectorWeight           float64 `koanf:"vector_weight"`
	KeywordWeight          float64 `koanf:"keyword_weight"`
	ContradictionThreshold float64 `koanf:"contradiction_threshold"`
	CandidateMultiplier    int     `koanf:"candidate_multiplier"`
}

// AgentsConfig holds reasoning stage parameters.
type AgentsConfig struct {
	ContextTokens int     `koanf:"context_tokens"`
	Temperature   float64 `koanf:"temperature"`
	MaxTokens     int     `koanf:"max_tokens"`
}

// OrchestratorConfig holds pipeline deadlines.
type OrchestratorConfig struct {
	StageTimeout   Duration `koanf:"stage_timeout"`
	RequestTimeout Duration `koanf:"request_timeout"`
	StageRetries   int      `koanf:"stage_retries"`
}

// LLMConfig configures the reasoning model endpoint. With Provider "none"
// the agents run their heuristic paths.
type LLMConfig struct {
	Provider   string   `koanf:"provider"` // "azure", "openai" or "none"
	Endpoint   string   `koanf:"endpoint"`
	APIKey     Secret   `koanf:"api_key"`
	APIVersion string   `koanf:"api_version"`
	Deployment string   `koanf:"deployment"`
	Model      string   `koanf:"model"`
	RateLimit  float64  `koanf:"rate_limit"` // requests per second
	Burst      int      `koanf:"burst"`
	Timeout    Duration `koanf:"timeout"`
}

// Enabled reports whether a model endpoint is configured.
func (l LLMConfig) Enabled() bool {
	return l.Provider != "" && l.Provider != "none"
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Provider    string `koanf:"provider"` // "hash", "azure", "openai", "fastembed"
	Model       string `koanf:"model"`
	Deployment  string `koanf:"deployment"`
	Dimension   int    `koanf:"dimension"`
	BatchSize   int    `koanf:"batch_size"`
	Concurrency int    `koanf:"concurrency"`
	CacheDir    string `koanf:"cache_dir"`
}

// VectorStoreConfig selects the vector index backend.
type VectorStoreConfig struct {
	Provider        string `koanf:"provider"` // "chromem" or "qdrant"
	Collection      string `koanf:"collection"`
	ChromemPath     string `koanf:"chromem_path"` // empty keeps the index in memory
	ChromemCompress bool   `koanf:"chromem_compress"`
	QdrantHost      string `koanf:"qdrant_host"`
	QdrantPort      int    `koanf:"qdrant_port"`
	QdrantAPIKey    Secret `koanf:"qdrant_api_key"`
	QdrantUseTLS    bool   `koanf:"qdrant_use_tls"`
}

// CorpusConfig selects where documents and chunks are persisted.
type CorpusConfig struct {
	Provider string `koanf:"provider"` // "memory" or "badger"
	Path     string `koanf:"path"`
}

// CacheConfig configures the model response cache.
type CacheConfig struct {
	Provider      string   `koanf:"provider"` // "none", "memory" or "redis"
	RedisAddr     string   `koanf:"redis_addr"`
	RedisPassword Secret   `koanf:"redis_password"`
	RedisDB       int      `koanf:"redis_db"`
	TTL           Duration `koanf:"ttl"`
	MaxEntries    int      `koanf:"max_entries"`
}

// IngestConfig controls document intake.
type IngestConfig struct {
	InboxDir          string   `koanf:"inbox_dir"`
	AllowedExtensions []string `koanf:"allowed_extensions"`
}

// SecretsConfig controls credential scrubbing of uploaded text.
type SecretsConfig struct {
	Enabled         bool   `koanf:"enabled"`
	RedactionString string `koanf:"redaction_string"`
}

// EvaluationConfig configures the evaluation harness.
type EvaluationConfig struct {
	LabelsPath             string  `koanf:"labels_path"`
	HallucinationThreshold float64 `koanf:"hallucination_threshold"`
	Concurrency            int     `koanf:"concurrency"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
			MaxUploadBytes:  32 << 20,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sampling: true,
		},
		Telemetry: TelemetryConfig{
			Endpoint:        "localhost:4317",
			Protocol:        "grpc",
			Insecure:        true,
			ServiceName:     "docqa",
			ServiceVersion:  "0.1.0",
			SampleRate:      1.0,
			MetricsInterval: Duration(15 * time.Second),
		},
		Chunking: ChunkingConfig{
			MaxChars: 800,
			MinChars: 50,
		},
		Retrieval: RetrievalConfig{
			TopK:                   5,
			VectorWeight:           0.5,
			KeywordWeight:          0.5,
			ContradictionThreshold: 0.8,
			CandidateMultiplier:    4,
		},
		Agents: AgentsConfig{
			ContextTokens: 6000,
			Temperature:   0.1,
			MaxTokens:     1024,
		},
		Orchestrator: OrchestratorConfig{
			StageTimeout:   Duration(30 * time.Second),
			RequestTimeout: Duration(90 * time.Second),
			StageRetries:   1,
		},
		LLM: LLMConfig{
			APIVersion: "2024-02-15-preview",
			Model:      "gpt-4o-mini",
			RateLimit:  2,
			Burst:      4,
			Timeout:    Duration(60 * time.Second),
		},
		Embeddings: EmbeddingsConfig{
			Provider:    "hash",
			Model:       "text-embedding-3-small",
			Dimension:   384,
			BatchSize:   32,
			Concurrency: 4,
		},
		VectorStore: VectorStoreConfig{
			Provider:        "chromem",
			Collection:      "docqa_chunks",
			ChromemCompress: true,
			QdrantHost:      "localhost",
			QdrantPort:      6334,
		},
		Corpus: CorpusConfig{
			Provider: "memory",
		},
		Cache: CacheConfig{
			Provider:   "memory",
			RedisAddr:  "localhost:6379",
			TTL:        Duration(24 * time.Hour),
			MaxEntries: 1000,
		},
		Ingest: IngestConfig{
			AllowedExtensions: []string{".pdf", ".txt", ".md", ".markdown", ".html", ".htm"},
		},
		Secrets: SecretsConfig{
			Enabled:         true,
			RedactionString: "[REDACTED]",
		},
		Evaluation: EvaluationConfig{
			HallucinationThreshold: 0.5,
			Concurrency:            1,
		},
	}
}

// applyDefaults fills values that must never be zero after loading.
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = def.Server.MaxUploadBytes
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Retrieval.CandidateMultiplier == 0 {
		cfg.Retrieval.CandidateMultiplier = def.Retrieval.CandidateMultiplier
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = def.Embeddings.BatchSize
	}
	if cfg.Embeddings.Concurrency == 0 {
		cfg.Embeddings.Concurrency = def.Embeddings.Concurrency
	}
	if cfg.Evaluation.Concurrency == 0 {
		cfg.Evaluation.Concurrency = 1
	}

	// An endpoint without an explicit provider means Azure OpenAI.
	if cfg.LLM.Provider == "" {
		if cfg.LLM.Endpoint != "" {
			cfg.LLM.Provider = "azure"
		} else {
			cfg.LLM.Provider = "none"
		}
	}
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	cfg.Embeddings.Provider = strings.ToLower(cfg.Embeddings.Provider)
	cfg.VectorStore.Provider = strings.ToLower(cfg.VectorStore.Provider)
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxUploadBytes < 0 {
		errs = append(errs, errors.New("server.max_upload_bytes cannot be negative"))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate))
	}
	if c.Chunking.MaxChars < 100 {
		errs = append(errs, fmt.Errorf("chunking.max_chars must be >= 100, got %d", c.Chunking.MaxChars))
	}
	if c.Chunking.MinChars < 0 || c.Chunking.MinChars >= c.Chunking.MaxChars {
		errs = append(errs, fmt.Errorf("chunking.min_chars must be in [0, max_chars), got %d", c.Chunking.MinChars))
	}
	if c.Retrieval.TopK < 1 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be >= 1, got %d", c.Retrieval.TopK))
	}
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.KeywordWeight < 0 {
		errs = append(errs, errors.New("retrieval weights cannot be negative"))
	}
	if c.Retrieval.VectorWeight+c.Retrieval.KeywordWeight == 0 {
		errs = append(errs, errors.New("retrieval weights cannot both be zero"))
	}
	if c.Retrieval.ContradictionThreshold < 0 || c.Retrieval.ContradictionThreshold > 1 {
		errs = append(errs, fmt.Errorf("retrieval.contradiction_threshold must be between 0 and 1, got %f", c.Retrieval.ContradictionThreshold))
	}
	if c.Orchestrator.StageTimeout.Duration() <= 0 || c.Orchestrator.RequestTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("orchestrator timeouts must be positive"))
	}
	if c.Orchestrator.StageRetries < 0 || c.Orchestrator.StageRetries > 1 {
		errs = append(errs, fmt.Errorf("orchestrator.stage_retries must be 0 or 1, got %d", c.Orchestrator.StageRetries))
	}

	switch c.LLM.Provider {
	case "none":
	case "azure":
		if c.LLM.Endpoint == "" || c.LLM.Deployment == "" {
			errs = append(errs, errors.New("llm.endpoint and llm.deployment are required for the azure provider"))
		}
		if !c.LLM.APIKey.IsSet() {
			errs = append(errs, errors.New("llm.api_key is required for the azure provider"))
		}
	case "openai":
		if !c.LLM.APIKey.IsSet() {
			errs = append(errs, errors.New("llm.api_key is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}

	switch c.Embeddings.Provider {
	case "hash", "fastembed":
	case "azure", "openai":
		if !c.LLM.APIKey.IsSet() {
			errs = append(errs, fmt.Errorf("embeddings.provider %q reuses llm.api_key, which is not set", c.Embeddings.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embeddings.provider %q", c.Embeddings.Provider))
	}
	if c.Embeddings.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embeddings.dimension must be positive, got %d", c.Embeddings.Dimension))
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("unknown vectorstore.provider %q", c.VectorStore.Provider))
	}
	if c.VectorStore.Collection == "" {
		errs = append(errs, errors.New("vectorstore.collection is required"))
	}

	switch c.Corpus.Provider {
	case "memory":
	case "badger":
		if c.Corpus.Path == "" {
			errs = append(errs, errors.New("corpus.path is required for the badger provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown corpus.provider %q", c.Corpus.Provider))
	}

	switch c.Cache.Provider {
	case "none", "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown cache.provider %q", c.Cache.Provider))
	}

	if c.Evaluation.HallucinationThreshold < 0 || c.Evaluation.HallucinationThreshold > 1 {
		errs = append(errs, fmt.Errorf("evaluation.hallucination_threshold must be between 0 and 1, got %f", c.Evaluation.HallucinationThreshold))
	}

	return errors.Join(errs...)
}
