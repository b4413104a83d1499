// Package config loads and validates Trailblazer configuration.
//
// Configuration is a closed set carried as an immutable value: load once,
// validate once, pass by value into each phase. Precedence is defaults <
// YAML file < environment variables (TRAILBLAZER_*).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	pperrors "github.com/trailblazer-io/trailblazer/internal/errors"
)

// MaxDimension is the upper bound accepted for embedding dimensions.
const MaxDimension = 8192

// Config is the complete Trailblazer configuration.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Database  DatabaseConfig  `yaml:"database"`
	Embed     EmbedConfig     `yaml:"embed"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Enrich    EnrichConfig    `yaml:"enrich"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Worker    WorkerConfig    `yaml:"worker"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// WorkspaceConfig locates the artifact store.
type WorkspaceConfig struct {
	// Root is the workroot holding runs/ and logs/.
	Root string `yaml:"root"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	// URL is the Postgres connection string. Empty selects the in-memory
	// backend (test configurations only).
	URL string `yaml:"url"`
	// StatementTimeout bounds individual statements.
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// EmbedConfig configures the embedding provider and loader.
type EmbedConfig struct {
	// Provider selects the embedding provider: "dummy" or "remote".
	Provider string `yaml:"provider"`
	// Model is the provider model identifier.
	Model string `yaml:"model"`
	// Dimension is the provider-declared embedding dimension.
	Dimension int `yaml:"dimension"`
	// BatchSize is the number of chunk texts per provider call.
	BatchSize int `yaml:"batch_size"`
	// Endpoint is the remote provider base URL (remote only).
	Endpoint string `yaml:"endpoint"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
	// ChangedOnly skips documents whose enrichment fingerprint is unchanged.
	ChangedOnly bool `yaml:"changed_only"`
	// CacheSize is the LRU size for query-embedding caching.
	CacheSize int `yaml:"cache_size"`
}

// ChunkConfig configures the deterministic chunker.
type ChunkConfig struct {
	MaxTokens      int     `yaml:"max_tokens"`
	MinTokens      int     `yaml:"min_tokens"`
	PreferHeadings bool    `yaml:"prefer_headings"`
	OverlapPct     float64 `yaml:"overlap_pct"`
}

// EnrichConfig configures enrichment and quality gating.
type EnrichConfig struct {
	// MinQuality is the qualityScore threshold below which a document lands
	// on the preflight skiplist.
	MinQuality float64 `yaml:"min_quality"`
	// MaxBelowThresholdPct is the advisory gate: the allowed fraction of
	// below-threshold docs before an advisory is recorded.
	MaxBelowThresholdPct float64 `yaml:"max_below_threshold_pct"`
	// LLMEnabled turns on the optional LLM overlay and suggested edges.
	LLMEnabled bool `yaml:"llm_enabled"`
}

// RetrievalConfig configures the hybrid retriever.
type RetrievalConfig struct {
	TopKDense       int     `yaml:"topk_dense"`
	TopKBM25        int     `yaml:"topk_bm25"`
	TopK            int     `yaml:"topk"`
	RRFK            int     `yaml:"rrf_k"`
	MaxChars        int     `yaml:"max_chars"`
	MaxChunksPerDoc int     `yaml:"max_chunks_per_doc"`
	BoostsEnabled   bool    `yaml:"boosts_enabled"`
	ExpandN2S       bool    `yaml:"expand_n2s"`
	MinScore        float64 `yaml:"min_score"`
}

// WorkerConfig configures claim-based worker coordination.
type WorkerConfig struct {
	// Count is the number of parallel workers.
	Count int `yaml:"count"`
	// ClaimTTL bounds how long a crashed worker's claim survives.
	ClaimTTL time.Duration `yaml:"claim_ttl"`
	// HeartbeatInterval spaces liveness events.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// LoggingConfig configures operator logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Workspace: WorkspaceConfig{Root: "var"},
		Database: DatabaseConfig{
			StatementTimeout: 30 * time.Second,
		},
		Embed: EmbedConfig{
			Provider:    "dummy",
			Model:       "dummy-embedder",
			Dimension:   256,
			BatchSize:   64,
			APIKeyEnv:   "TRAILBLAZER_EMBED_API_KEY",
			ChangedOnly: true,
			CacheSize:   1000,
		},
		Chunk: ChunkConfig{
			MaxTokens:      800,
			MinTokens:      120,
			PreferHeadings: true,
			OverlapPct:     0.15,
		},
		Enrich: EnrichConfig{
			MinQuality:           0.30,
			MaxBelowThresholdPct: 0.25,
		},
		Retrieval: RetrievalConfig{
			TopKDense:       50,
			TopKBM25:        50,
			TopK:            12,
			RRFK:            60,
			MaxChars:        24000,
			MaxChunksPerDoc: 3,
			BoostsEnabled:   true,
			ExpandN2S:       true,
		},
		Worker: WorkerConfig{
			Count:             2,
			ClaimTTL:          30 * time.Minute,
			HeartbeatInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration from path (optional) and applies environment
// overrides. An empty path skips the file step.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, pperrors.ConfigError(fmt.Sprintf("read config %s", path), err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, pperrors.ConfigError(fmt.Sprintf("parse config %s", path), err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv applies TRAILBLAZER_* environment overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TRAILBLAZER_WORKROOT"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := os.Getenv("TRAILBLAZER_DB_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("TRAILBLAZER_EMBED_PROVIDER"); v != "" {
		cfg.Embed.Provider = v
	}
	if v := os.Getenv("TRAILBLAZER_EMBED_MODEL"); v != "" {
		cfg.Embed.Model = v
	}
	if v := os.Getenv("TRAILBLAZER_EMBED_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embed.Dimension = n
		}
	}
	if v := os.Getenv("TRAILBLAZER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Count = n
		}
	}
	if v := os.Getenv("TRAILBLAZER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks coherence of the closed configuration set.
func (c Config) Validate() error {
	if c.Workspace.Root == "" {
		return pperrors.ConfigError("workspace.root must not be empty", nil)
	}
	switch strings.ToLower(c.Embed.Provider) {
	case "dummy", "remote":
	default:
		return pperrors.Newf(pperrors.ErrCodeUnknownProvider,
			"unknown embed provider %q (want dummy or remote)", c.Embed.Provider)
	}
	if c.Embed.Dimension <= 0 || c.Embed.Dimension > MaxDimension {
		return pperrors.ConfigError(
			fmt.Sprintf("embed.dimension must be in (0, %d], got %d", MaxDimension, c.Embed.Dimension), nil)
	}
	if c.Embed.BatchSize <= 0 {
		return pperrors.ConfigError("embed.batch_size must be positive", nil)
	}
	if c.Chunk.MaxTokens <= 0 || c.Chunk.MinTokens < 0 || c.Chunk.MinTokens > c.Chunk.MaxTokens {
		return pperrors.ConfigError("chunk token bounds invalid: need 0 <= min_tokens <= max_tokens, max_tokens > 0", nil)
	}
	if c.Chunk.OverlapPct < 0 || c.Chunk.OverlapPct >= 1 {
		return pperrors.ConfigError("chunk.overlap_pct must be in [0, 1)", nil)
	}
	if c.Enrich.MinQuality < 0 || c.Enrich.MinQuality > 1 {
		return pperrors.ConfigError("enrich.min_quality must be in [0, 1]", nil)
	}
	if c.Worker.Count <= 0 {
		return pperrors.ConfigError("worker.count must be positive", nil)
	}
	if c.Worker.ClaimTTL <= 0 {
		return pperrors.ConfigError("worker.claim_ttl must be positive", nil)
	}
	if c.Retrieval.RRFK <= 0 {
		return pperrors.ConfigError("retrieval.rrf_k must be positive", nil)
	}
	return nil
}
