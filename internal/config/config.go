// Package config loads gateway configuration with the teacher's layered
// precedence: built-in defaults, then an optional YAML file, then
// environment variable overrides. The resulting Config is read-only after
// Load returns and safe for concurrent reads.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server          ServerConfig              `yaml:"server"`
	Database        DatabaseConfig            `yaml:"database"`
	Stores          StoresConfig              `yaml:"stores"`
	Auth            AuthConfig                `yaml:"auth"`
	HLC             HLCConfig                 `yaml:"hlc"`
	Sync            SyncConfig                `yaml:"sync"`
	Broadcaster     BroadcasterConfig         `yaml:"broadcaster"`
	Platforms       map[string]PlatformConfig `yaml:"platforms"`
	Webhooks        WebhooksConfig            `yaml:"webhooks"`
	Quality         QualityConfig             `yaml:"quality"`
	Embedding       EmbeddingConfig           `yaml:"embedding"`
	ANN             ANNConfig                 `yaml:"ann"`
	Blender         BlenderConfig             `yaml:"blender"`
	LoRA            LoRAConfig                `yaml:"lora"`
	RateLimitTiers  map[string]RateTier       `yaml:"rate_limit_tiers"`
	Log             LogConfig                 `yaml:"log"`
	Worker          WorkerConfig              `yaml:"worker"`
	SnapshotStorage SnapshotStorageConfig     `yaml:"snapshot_storage"`
	FeatureStore    FeatureStoreConfig        `yaml:"feature_store"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains the per-process relational store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StoresConfig contains the per-user SyncStore root settings.
type StoresConfig struct {
	RootPath string `yaml:"root_path"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// HLCConfig contains hybrid logical clock settings.
type HLCConfig struct {
	OriginID string `yaml:"origin_id"`
}

// SyncConfig contains Broadcaster/DeviceRegistry timing settings
// (spec.md §4.4, §4.5).
type SyncConfig struct {
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	StaleTimeout      Duration `yaml:"stale_timeout"`
	CommandTTL        Duration `yaml:"command_ttl"`
	ORSetRetention    Duration `yaml:"orset_retention"`
}

// BroadcasterConfig contains per-channel queue sizing.
type BroadcasterConfig struct {
	QueueDepth int `yaml:"queue_depth"`
}

// PlatformRateLimit configures the per-platform token bucket
// (spec.md §4.6).
type PlatformRateLimit struct {
	Quota   int      `yaml:"quota"`
	Window  Duration `yaml:"window"`
	APIKeys []string `yaml:"api_keys"`
}

// PlatformBreaker configures the per-platform circuit breaker
// (spec.md §4.6).
type PlatformBreaker struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	Cooldown         Duration `yaml:"cooldown"`
	HalfOpenProbes   int      `yaml:"half_open_probes"`
}

// PlatformConfig is one platform's adapter configuration.
type PlatformConfig struct {
	BaseURL   string            `yaml:"base_url"`
	RateLimit PlatformRateLimit `yaml:"rate_limit"`
	Breaker   PlatformBreaker   `yaml:"breaker"`
}

// WebhooksConfig contains webhook ingestion settings (spec.md §4.8).
type WebhooksConfig struct {
	Secrets        map[string]string `yaml:"-"` // env-only, never in YAML
	DedupTTL       Duration          `yaml:"dedup_ttl"`
	QueueThreshold int               `yaml:"queue_threshold"`
}

// QualityConfig contains QualityScorer freshness-decay settings
// (spec.md §4.9).
type QualityConfig struct {
	FreshnessLambda float64 `yaml:"freshness_lambda"`
	FreshnessFloor  float64 `yaml:"freshness_floor"`
}

// EmbeddingConfig contains embedding service settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"-"` // env-only, never in YAML
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// ANNConfig contains the content ANN index settings.
type ANNConfig struct {
	IndexPath string `yaml:"index_path"`
}

// BlenderWeights is the per-source weighting used by the Blender
// (spec.md §4.11).
type BlenderWeights struct {
	Collaborative float64 `yaml:"collaborative"`
	Content       float64 `yaml:"content"`
	Graph         float64 `yaml:"graph"`
	Context       float64 `yaml:"context"`
}

// BlenderConfig contains Blender settings.
type BlenderConfig struct {
	Weights            BlenderWeights `yaml:"weights"`
	MMRLambda          float64        `yaml:"mmr_lambda"`
	TTLDefault         Duration       `yaml:"ttl_default"`
	TTLContextDominant Duration       `yaml:"ttl_context_dominant"`
}

// FeatureStoreConfig contains user-profile update settings: how fast a
// preference vector forgets old interactions and the minimum engagement
// an interaction needs to count at all.
type FeatureStoreConfig struct {
	TemporalDecayRate  float64 `yaml:"temporal_decay_rate"`
	TemporalHalfLife   Duration `yaml:"temporal_half_life"`
	MinWatchThreshold  float64 `yaml:"min_watch_threshold"`
}

// LoRAConfig contains LoRA Service training settings (spec.md §4.12).
type LoRAConfig struct {
	Rank         int     `yaml:"rank"`
	Alpha        int     `yaml:"alpha"`
	LearningRate float64 `yaml:"learning_rate"`
	MinEvents    int     `yaml:"min_events"`
	Iterations   int     `yaml:"iterations"`
}

// RateTier configures a request-quota tier for external API consumers.
type RateTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	IngestPollInterval        Duration `yaml:"ingest_poll_interval"`
	IngestRegions             []string `yaml:"ingest_regions"`
	ScoringInterval           Duration `yaml:"scoring_interval"`
	ScoringBatchSize          int      `yaml:"scoring_batch_size"`
	EmbeddingRetryInterval    Duration `yaml:"embedding_retry_interval"`
	EmbeddingRetryMaxAttempts int      `yaml:"embedding_retry_max_attempts"`
	EmbeddingRetryBatchSize   int      `yaml:"embedding_retry_batch_size"`
	CollaborativeInterval     Duration `yaml:"collaborative_interval"`
	SnapshotInterval          Duration `yaml:"snapshot_interval"`
	CompactionInterval        Duration `yaml:"compaction_interval"`
	CompactionRetention       Duration `yaml:"compaction_retention"`
}

// SnapshotStorageConfig contains optional S3-compatible snapshot archival
// settings. Empty Bucket disables archival; the worker falls back to a
// no-op uploader (internal/snapshot).
type SnapshotStorageConfig struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"-"` // env-only
	SecretKey string `yaml:"-"` // env-only
}

// Duration is a wrapper around time.Duration that supports YAML string
// parsing ("30s", "1h", ...).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("GATEWAY_CONFIG_PATH", "config/gateway.yaml")

	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{Path: "data/gateway.db"},
		Stores:   StoresConfig{RootPath: "~/.gateway/stores"},
		HLC:      HLCConfig{OriginID: "gateway"},
		Sync: SyncConfig{
			HeartbeatInterval: Duration(30 * time.Second),
			StaleTimeout:      Duration(60 * time.Second),
			CommandTTL:        Duration(5 * time.Second),
			ORSetRetention:    Duration(168 * time.Hour),
		},
		Broadcaster: BroadcasterConfig{QueueDepth: 256},
		Platforms:   defaultPlatforms(),
		Webhooks: WebhooksConfig{
			DedupTTL:       Duration(24 * time.Hour),
			QueueThreshold: 1000,
		},
		Quality: QualityConfig{
			FreshnessLambda: 0.01,
			FreshnessFloor:  0.5,
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 512,
		},
		ANN: ANNConfig{IndexPath: "data/content.ann"},
		Blender: BlenderConfig{
			Weights: BlenderWeights{
				Collaborative: 0.35,
				Content:       0.25,
				Graph:         0.30,
				Context:       0.10,
			},
			MMRLambda:          0.7,
			TTLDefault:         Duration(3600 * time.Second),
			TTLContextDominant: Duration(600 * time.Second),
		},
		LoRA: LoRAConfig{
			Rank:         8,
			Alpha:        16,
			LearningRate: 0.001,
			MinEvents:    10,
			Iterations:   5,
		},
		FeatureStore: FeatureStoreConfig{
			TemporalDecayRate: 0.95,
			TemporalHalfLife:  Duration(30 * 24 * time.Hour),
			MinWatchThreshold: 0.3,
		},
		RateLimitTiers: map[string]RateTier{
			"free":     {RequestsPerMinute: 60, Burst: 10},
			"standard": {RequestsPerMinute: 600, Burst: 50},
			"premium":  {RequestsPerMinute: 6000, Burst: 200},
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Worker: WorkerConfig{
			IngestPollInterval:        Duration(5 * time.Minute),
			IngestRegions:             []string{"us"},
			ScoringInterval:           Duration(30 * time.Minute),
			ScoringBatchSize:          200,
			EmbeddingRetryInterval:    Duration(2 * time.Minute),
			EmbeddingRetryMaxAttempts: 5,
			EmbeddingRetryBatchSize:   50,
			CollaborativeInterval:     Duration(1 * time.Hour),
			SnapshotInterval:          Duration(6 * time.Hour),
			CompactionInterval:        Duration(1 * time.Hour),
			CompactionRetention:       Duration(168 * time.Hour),
		},
	}
}

func defaultPlatforms() map[string]PlatformConfig {
	ids := []string{
		"netflix", "prime_video", "disney_plus", "youtube", "hulu",
		"hbo_max", "apple_tv_plus", "paramount_plus", "peacock",
	}
	out := make(map[string]PlatformConfig, len(ids))
	for _, id := range ids {
		out[id] = PlatformConfig{
			BaseURL: "https://partner-api." + id + ".example.com",
			RateLimit: PlatformRateLimit{
				Quota:  100,
				Window: Duration(time.Minute),
			},
			Breaker: PlatformBreaker{
				FailureThreshold: 5,
				Cooldown:         Duration(30 * time.Second),
				HalfOpenProbes:   3,
			},
		}
	}
	return out
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values. Secrets (API keys,
// webhook HMAC secrets, snapshot storage credentials) are env-only and
// never read from YAML.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEWAY_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GATEWAY_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("GATEWAY_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("GATEWAY_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	if v := os.Getenv("GATEWAY_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("GATEWAY_STORES_ROOT"); v != "" {
		cfg.Stores.RootPath = v
	}
	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("GATEWAY_HLC_ORIGIN"); v != "" {
		cfg.HLC.OriginID = v
	}

	// Embedding (OPENAI_API_KEY is industry convention)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("GATEWAY_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("GATEWAY_INGEST_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.IngestPollInterval = Duration(d)
		}
	}
	if v := os.Getenv("GATEWAY_INGEST_REGIONS"); v != "" {
		cfg.Worker.IngestRegions = strings.Split(v, ",")
	}
	if v := os.Getenv("GATEWAY_SCORING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.ScoringInterval = Duration(d)
		}
	}
	if v := os.Getenv("GATEWAY_SCORING_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.ScoringBatchSize = n
		}
	}
	if v := os.Getenv("GATEWAY_EMBEDDING_RETRY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.EmbeddingRetryInterval = Duration(d)
		}
	}
	if v := os.Getenv("GATEWAY_COLLABORATIVE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.CollaborativeInterval = Duration(d)
		}
	}
	if v := os.Getenv("GATEWAY_SNAPSHOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.SnapshotInterval = Duration(d)
		}
	}
	if v := os.Getenv("GATEWAY_COMPACTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.CompactionInterval = Duration(d)
		}
	}
	if v := os.Getenv("GATEWAY_COMPACTION_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.CompactionRetention = Duration(d)
		}
	}

	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("GATEWAY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	cfg.Webhooks.Secrets = platformSecretsFromEnv(cfg.Platforms)

	if v := os.Getenv("GATEWAY_SNAPSHOT_BUCKET"); v != "" {
		cfg.SnapshotStorage.Bucket = v
	}
	if v := os.Getenv("GATEWAY_SNAPSHOT_REGION"); v != "" {
		cfg.SnapshotStorage.Region = v
	}
	if v := os.Getenv("GATEWAY_SNAPSHOT_ENDPOINT"); v != "" {
		cfg.SnapshotStorage.Endpoint = v
	}
	if v := os.Getenv("GATEWAY_SNAPSHOT_ACCESS_KEY"); v != "" {
		cfg.SnapshotStorage.AccessKey = v
	}
	if v := os.Getenv("GATEWAY_SNAPSHOT_SECRET_KEY"); v != "" {
		cfg.SnapshotStorage.SecretKey = v
	}
}

// platformSecretsFromEnv reads GATEWAY_WEBHOOK_SECRET_<PLATFORM> for every
// configured platform, the platform id upper-cased with non-alphanumerics
// turned to '_'.
func platformSecretsFromEnv(platforms map[string]PlatformConfig) map[string]string {
	secrets := make(map[string]string, len(platforms))
	for id := range platforms {
		envKey := "GATEWAY_WEBHOOK_SECRET_" + envSuffix(id)
		if v := os.Getenv(envKey); v != "" {
			secrets[id] = v
		}
	}
	return secrets
}

func envSuffix(platformID string) string {
	out := make([]rune, 0, len(platformID))
	for _, r := range platformID {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-'a'+'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// validate checks that required configuration values are set.
// In dev mode (GATEWAY_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	if os.Getenv("GATEWAY_DEV_MODE") == "true" {
		return nil
	}

	if c.Embedding.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.Auth.APIKey == "" {
		return errors.New("GATEWAY_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
