// Package config loads and validates ingestion configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	PDF        PDFConfig        `mapstructure:"pdf"`
	RAG        RAGConfig        `mapstructure:"rag"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RegistryConfig points at the source registry file.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// FetchConfig governs the fetcher pool and politeness.
type FetchConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	MaxConcurrency   int    `mapstructure:"max_concurrency"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxBodyMB        int    `mapstructure:"max_body_mb"`
	RespectRobots    bool   `mapstructure:"respect_robots"`
	DefaultRateLimit string `mapstructure:"default_rate_limit"`
}

// ProcessingConfig bounds per-run work.
type ProcessingConfig struct {
	MaxItemsPerRun int `mapstructure:"max_items_per_run"`
	MaxFileSizeMB  int `mapstructure:"max_file_size_mb"`
}

// ClassifierConfig selects the relevance mode.
type ClassifierConfig struct {
	Mode              string   `mapstructure:"mode"`
	MinRelevanceScore float64  `mapstructure:"min_relevance_score"`
	Keywords          []string `mapstructure:"keywords"`
}

// DedupConfig selects the duplicate test.
type DedupConfig struct {
	Method            string  `mapstructure:"method"`
	Threshold         float64 `mapstructure:"threshold"`
	ModerateBandFloor float64 `mapstructure:"moderate_band_floor"`
}

// PDFConfig configures text extraction.
type PDFConfig struct {
	StructuralURL            string `mapstructure:"structural_url"`
	StructuralTimeoutSeconds int    `mapstructure:"structural_timeout_seconds"`
}

// RAGConfig configures windowed oracle extraction.
type RAGConfig struct {
	Mode           string `mapstructure:"mode"`
	ChunkSize      int    `mapstructure:"chunk_size"`
	ChunkOverlap   int    `mapstructure:"chunk_overlap"`
	TopK           int    `mapstructure:"top_k"`
	Query          string `mapstructure:"query"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
}

// OracleConfig configures the extraction oracle client.
type OracleConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	JudgeMaxTokens int     `mapstructure:"judge_max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
}

// StorageConfig sets the snapshot backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the run ledger database.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// RedisConfig controls the source health store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// PubSubConfig holds metadata for the handoff topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScheduleConfig holds the cron trigger.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// DefaultKeywords is the IT relevance vocabulary used when none is configured.
var DefaultKeywords = []string{
	"informatique", "logiciel", "réseau", "serveur", "ordinateur",
	"internet", "site web", "application", "base de données",
	"cybersécurité", "cloud", "données", "numérique", "digital",
	"ERP", "CRM", "SIG", "GIS", "télécommunication", "fibre optique",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TENDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("registry.path", "sources.yaml")
	v.SetDefault("fetch.user_agent", "TenderIngest/1.0 (+https://github.com/JakeFAU/tender-ingest)")
	v.SetDefault("fetch.max_concurrency", 8)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_body_mb", 50)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.default_rate_limit", "10/m")
	v.SetDefault("processing.max_items_per_run", 100)
	v.SetDefault("processing.max_file_size_mb", 50)
	v.SetDefault("classifier.mode", "keyword")
	v.SetDefault("classifier.min_relevance_score", 0.7)
	v.SetDefault("classifier.keywords", DefaultKeywords)
	v.SetDefault("dedup.method", "hash_similarity")
	v.SetDefault("dedup.threshold", 0.85)
	v.SetDefault("dedup.moderate_band_floor", 70)
	v.SetDefault("pdf.structural_timeout_seconds", 120)
	v.SetDefault("rag.mode", "direct")
	v.SetDefault("rag.chunk_size", 2000)
	v.SetDefault("rag.chunk_overlap", 200)
	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.query", "avis d'appel d'offres marché public date limite référence")
	v.SetDefault("rag.max_concurrency", 4)
	v.SetDefault("oracle.enabled", false)
	v.SetDefault("oracle.model", "claude-sonnet-4-5")
	v.SetDefault("oracle.max_tokens", 2048)
	v.SetDefault("oracle.judge_max_tokens", 256)
	v.SetDefault("oracle.temperature", 0.1)
	v.SetDefault("oracle.timeout_seconds", 60)
	v.SetDefault("oracle.max_retries", 2)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("db.table", "runs")
	v.SetDefault("redis.key_prefix", "tender:source:")
	v.SetDefault("pubsub.topic_name", "tender-runs")
	v.SetDefault("server.port", 8080)
	v.SetDefault("schedule.cron", "0 7 * * *")
}

var (
	classifierModes = map[string]bool{"keyword": true, "oracle": true}
	dedupMethods    = map[string]bool{
		"hash_only": true, "similarity_only": true, "hash_similarity": true, "llm_only": true, "hybrid": true,
	}
	ragModes        = map[string]bool{"direct": true, "retrieval": true}
	storageBackends = map[string]bool{"gcs": true, "local": true, "memory": true, "none": true}
)

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Fetch.MaxConcurrency <= 0 {
		return fmt.Errorf("fetch.max_concurrency must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Processing.MaxItemsPerRun <= 0 {
		return fmt.Errorf("processing.max_items_per_run must be > 0")
	}
	if !classifierModes[c.Classifier.Mode] {
		return fmt.Errorf("classifier.mode must be keyword or oracle, got %q", c.Classifier.Mode)
	}
	if c.Classifier.MinRelevanceScore < 0 || c.Classifier.MinRelevanceScore > 1 {
		return fmt.Errorf("classifier.min_relevance_score must be within [0,1]")
	}
	if !dedupMethods[c.Dedup.Method] {
		return fmt.Errorf("dedup.method %q is not supported", c.Dedup.Method)
	}
	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		return fmt.Errorf("dedup.threshold must be within (0,1]")
	}
	if c.Dedup.ModerateBandFloor < 0 || c.Dedup.ModerateBandFloor > c.Dedup.Threshold*100 {
		return fmt.Errorf("dedup.moderate_band_floor must be within [0, threshold*100]")
	}
	if !ragModes[c.RAG.Mode] {
		return fmt.Errorf("rag.mode must be direct or retrieval, got %q", c.RAG.Mode)
	}
	if c.RAG.ChunkSize <= 0 || c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be >= 0 and below rag.chunk_size")
	}
	if c.Oracle.Enabled && c.Oracle.APIKey == "" {
		return fmt.Errorf("oracle.api_key must be set when the oracle is enabled")
	}
	if !storageBackends[c.Storage.Backend] {
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
	}
	if c.Storage.Backend == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir must be set for the local backend")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// FetchTimeout converts the per-request timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// OracleTimeout converts the oracle timeout to a duration.
func (c Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutSeconds) * time.Second
}

// StructuralTimeout converts the structural PDF converter timeout to a duration.
func (c Config) StructuralTimeout() time.Duration {
	return time.Duration(c.PDF.StructuralTimeoutSeconds) * time.Second
}
