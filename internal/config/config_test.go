package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfigFile(t, `
capabilities:
  gemini:
    endpoint: https://vision.example/v1/recognize
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4, cfg.Pipeline.Workers)
	require.Equal(t, 64, cfg.Pipeline.QueueDepth)
	require.Equal(t, 50, cfg.Pipeline.BulkMaxItems)
	require.Equal(t, "gemini", cfg.Capabilities.Recognizer)
	require.Equal(t, "memory", cfg.Storage.Provider)
	require.Equal(t, "pages", cfg.Storage.Prefix)
	require.InDelta(t, 0.1, cfg.Sentiment.PositiveThreshold, 1e-9)
	require.InDelta(t, -0.1, cfg.Sentiment.NegativeThreshold, 1e-9)
	require.Equal(t, 25, cfg.Topics.MinCorpusSize)
	require.Equal(t, 5*time.Minute, cfg.ItemBudget())

	initial, max := cfg.CapabilityBackoff()
	require.Equal(t, 250*time.Millisecond, initial)
	require.Equal(t, 5*time.Second, max)
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
pipeline:
  workers: 2
  item_budget_seconds: 60
capabilities:
  recognizer: tesseract
storage:
  provider: local
  local_dir: /tmp/pages
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 2, cfg.Pipeline.Workers)
	require.Equal(t, time.Minute, cfg.ItemBudget())
	require.Equal(t, "tesseract", cfg.Capabilities.Recognizer)
	require.Equal(t, "local", cfg.Storage.Provider)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MEDIASCOPE_SERVER_PORT", "7070")
	path := writeConfigFile(t, `
capabilities:
  recognizer: tesseract
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadRequiresGeminiEndpoint(t *testing.T) {
	path := writeConfigFile(t, `
capabilities:
  recognizer: gemini
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "gemini.endpoint")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "read config")
}

func validConfig() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Pipeline: PipelineConfig{
			Workers:               4,
			QueueDepth:            64,
			ItemBudgetSeconds:     300,
			BulkMaxItems:          50,
			EnrichmentParallelism: 4,
		},
		Capabilities: CapabilitiesConfig{Recognizer: "tesseract"},
		Sentiment:    SentimentConfig{PositiveThreshold: 0.1, NegativeThreshold: -0.1},
		Storage:      StorageConfig{Provider: "memory"},
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"zero workers", func(c *Config) { c.Pipeline.Workers = 0 }, "pipeline.workers"},
		{"bulk limit too high", func(c *Config) { c.Pipeline.BulkMaxItems = 501 }, "bulk_max_items"},
		{"zero enrichment parallelism", func(c *Config) { c.Pipeline.EnrichmentParallelism = 0 }, "enrichment_parallelism"},
		{"unknown recognizer", func(c *Config) { c.Capabilities.Recognizer = "sorcery" }, "recognizer"},
		{"gemini without endpoint", func(c *Config) { c.Capabilities.Recognizer = "gemini" }, "gemini.endpoint"},
		{"inverted thresholds", func(c *Config) { c.Sentiment.PositiveThreshold = -0.2 }, "positive_threshold"},
		{"gcs without bucket", func(c *Config) { c.Storage.Provider = "gcs" }, "gcs_bucket"},
		{"local without dir", func(c *Config) { c.Storage.Provider = "local" }, "local_dir"},
		{"unknown provider", func(c *Config) { c.Storage.Provider = "tape" }, "storage provider"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}
