// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
	Sentiment    SentimentConfig    `mapstructure:"sentiment"`
	Topics       TopicsConfig       `mapstructure:"topics"`
	Storage      StorageConfig      `mapstructure:"storage"`
	DB           DBConfig           `mapstructure:"db"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PipelineConfig governs the worker pool and per-item budgets.
type PipelineConfig struct {
	Workers               int `mapstructure:"workers"`
	QueueDepth            int `mapstructure:"queue_depth"`
	ItemBudgetSeconds     int `mapstructure:"item_budget_seconds"`
	BulkMaxItems          int `mapstructure:"bulk_max_items"`
	EnrichmentParallelism int `mapstructure:"enrichment_parallelism"`
}

// CapabilitiesConfig selects and tunes the external capability backends.
type CapabilitiesConfig struct {
	// Recognizer selects the text-recognition backend: "gemini" or
	// "tesseract".
	Recognizer string `mapstructure:"recognizer"`

	Gemini GeminiConfig `mapstructure:"gemini"`
	NLP    NLPConfig    `mapstructure:"nlp"`

	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RateLimitRPS     float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
}

// GeminiConfig points at the vision-model recognition endpoint.
type GeminiConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// NLPConfig points at the NLP sidecar serving NER, sentiment and topics.
type NLPConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	// TopicTimeoutSeconds bounds the batch clustering call, which runs far
	// longer than per-article requests.
	TopicTimeoutSeconds int `mapstructure:"topic_timeout_seconds"`
}

// SentimentConfig holds the label thresholds.
type SentimentConfig struct {
	PositiveThreshold float64 `mapstructure:"positive_threshold"`
	NegativeThreshold float64 `mapstructure:"negative_threshold"`
}

// TopicsConfig tunes the batch assigner.
type TopicsConfig struct {
	MinCorpusSize int `mapstructure:"min_corpus_size"`
	MinTopicSize  int `mapstructure:"min_topic_size"`
}

// StorageConfig selects the blob backend for page images.
type StorageConfig struct {
	// Provider is one of gcs, local, memory.
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEDIASCOPE")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.item_budget_seconds", 300)
	v.SetDefault("pipeline.bulk_max_items", 50)
	v.SetDefault("pipeline.enrichment_parallelism", 4)
	v.SetDefault("capabilities.recognizer", "gemini")
	v.SetDefault("capabilities.gemini.timeout_seconds", 60)
	v.SetDefault("capabilities.nlp.timeout_seconds", 30)
	v.SetDefault("capabilities.nlp.topic_timeout_seconds", 600)
	v.SetDefault("capabilities.max_retries", 3)
	v.SetDefault("capabilities.backoff_initial_ms", 250)
	v.SetDefault("capabilities.backoff_max_ms", 5000)
	v.SetDefault("capabilities.rate_limit_rps", 2)
	v.SetDefault("capabilities.rate_limit_burst", 4)
	v.SetDefault("sentiment.positive_threshold", 0.1)
	v.SetDefault("sentiment.negative_threshold", -0.1)
	v.SetDefault("topics.min_corpus_size", 25)
	v.SetDefault("topics.min_topic_size", 3)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.BulkMaxItems <= 0 || c.Pipeline.BulkMaxItems > 500 {
		return fmt.Errorf("pipeline.bulk_max_items must be in (0, 500]")
	}
	if c.Pipeline.EnrichmentParallelism <= 0 {
		return fmt.Errorf("pipeline.enrichment_parallelism must be > 0")
	}
	switch c.Capabilities.Recognizer {
	case "gemini", "tesseract":
	default:
		return fmt.Errorf("capabilities.recognizer must be gemini or tesseract")
	}
	if c.Capabilities.Recognizer == "gemini" && c.Capabilities.Gemini.Endpoint == "" {
		return fmt.Errorf("capabilities.gemini.endpoint is required when recognizer is gemini")
	}
	if c.Sentiment.PositiveThreshold <= c.Sentiment.NegativeThreshold {
		return fmt.Errorf("sentiment.positive_threshold must exceed negative_threshold")
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required when provider is gcs")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required when provider is local")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	return nil
}

// ItemBudget converts the per-item processing ceiling into a duration.
func (c Config) ItemBudget() time.Duration {
	return time.Duration(c.Pipeline.ItemBudgetSeconds) * time.Second
}

// CapabilityBackoff returns the initial and max retry delays.
func (c Config) CapabilityBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Capabilities.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Capabilities.BackoffMaxMs) * time.Millisecond
}
