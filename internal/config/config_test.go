package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// clearEnv removes every config-related env var so tests start from a known
// state regardless of execution order.
func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"GATEWAY_HOST",
		"GATEWAY_PORT",
		"GATEWAY_READ_TIMEOUT",
		"GATEWAY_WRITE_TIMEOUT",
		"GATEWAY_SHUTDOWN_TIMEOUT",
		"GATEWAY_DB_PATH",
		"GATEWAY_STORES_ROOT",
		"GATEWAY_API_KEY",
		"GATEWAY_HLC_ORIGIN",
		"OPENAI_API_KEY",
		"GATEWAY_EMBEDDING_MODEL",
		"GATEWAY_INGEST_POLL_INTERVAL",
		"GATEWAY_INGEST_REGIONS",
		"GATEWAY_SCORING_INTERVAL",
		"GATEWAY_SCORING_BATCH_SIZE",
		"GATEWAY_EMBEDDING_RETRY_INTERVAL",
		"GATEWAY_COLLABORATIVE_INTERVAL",
		"GATEWAY_SNAPSHOT_INTERVAL",
		"GATEWAY_COMPACTION_INTERVAL",
		"GATEWAY_COMPACTION_RETENTION",
		"GATEWAY_LOG_LEVEL",
		"GATEWAY_LOG_FORMAT",
		"GATEWAY_CONFIG_PATH",
		"GATEWAY_DEV_MODE",
		"GATEWAY_SNAPSHOT_BUCKET",
		"GATEWAY_SNAPSHOT_REGION",
		"GATEWAY_SNAPSHOT_ENDPOINT",
		"GATEWAY_SNAPSHOT_ACCESS_KEY",
		"GATEWAY_SNAPSHOT_SECRET_KEY",
		"GATEWAY_WEBHOOK_SECRET_NETFLIX",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func setDevModeEnv(t *testing.T) {
	t.Helper()
	os.Setenv("GATEWAY_DEV_MODE", "true")
}

func setProdEnv(t *testing.T) {
	t.Helper()
	os.Setenv("OPENAI_API_KEY", "sk-test-openai-key")
	os.Setenv("GATEWAY_API_KEY", "test-api-key")
}

func dur(d Duration) time.Duration {
	return time.Duration(d)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if dur(cfg.Server.ReadTimeout) != 30*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 30s", cfg.Server.ReadTimeout)
	}

	if cfg.Database.Path != "data/gateway.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "data/gateway.db")
	}
	if cfg.Stores.RootPath != "~/.gateway/stores" {
		t.Errorf("Stores.RootPath = %q, want %q", cfg.Stores.RootPath, "~/.gateway/stores")
	}

	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("Embedding.Model = %q, want %q", cfg.Embedding.Model, "text-embedding-3-small")
	}
	if cfg.Embedding.Dimensions != 512 {
		t.Errorf("Embedding.Dimensions = %d, want 512", cfg.Embedding.Dimensions)
	}

	if dur(cfg.Sync.HeartbeatInterval) != 30*time.Second {
		t.Errorf("Sync.HeartbeatInterval = %v, want 30s", cfg.Sync.HeartbeatInterval)
	}
	if dur(cfg.Sync.StaleTimeout) != 60*time.Second {
		t.Errorf("Sync.StaleTimeout = %v, want 60s", cfg.Sync.StaleTimeout)
	}
	if dur(cfg.Sync.ORSetRetention) != 168*time.Hour {
		t.Errorf("Sync.ORSetRetention = %v, want 168h", cfg.Sync.ORSetRetention)
	}

	if len(cfg.Platforms) != 9 {
		t.Fatalf("len(Platforms) = %d, want 9", len(cfg.Platforms))
	}
	netflix, ok := cfg.Platforms["netflix"]
	if !ok {
		t.Fatal("expected default netflix platform entry")
	}
	if netflix.Breaker.FailureThreshold != 5 {
		t.Errorf("netflix.Breaker.FailureThreshold = %d, want 5", netflix.Breaker.FailureThreshold)
	}

	if cfg.Blender.MMRLambda != 0.7 {
		t.Errorf("Blender.MMRLambda = %v, want 0.7", cfg.Blender.MMRLambda)
	}
	if math.Abs(cfg.Blender.Weights.Collaborative+cfg.Blender.Weights.Content+cfg.Blender.Weights.Graph+cfg.Blender.Weights.Context-1.0) > 1e-9 {
		t.Errorf("Blender.Weights do not sum to 1.0: %+v", cfg.Blender.Weights)
	}

	if cfg.LoRA.Rank != 8 || cfg.LoRA.Iterations != 5 {
		t.Errorf("LoRA defaults = %+v, want rank=8 iterations=5", cfg.LoRA)
	}

	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log defaults = %+v", cfg.Log)
	}
}

func TestLoad_ValidationFailsWithoutAPIKeys(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	if err == nil {
		t.Error("Load() expected error when API keys missing, got nil")
	}
}

func TestLoad_ValidationPassesWithAPIKeys(t *testing.T) {
	clearEnv(t)
	setProdEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Embedding.APIKey != "sk-test-openai-key" {
		t.Errorf("Embedding.APIKey = %q, want %q", cfg.Embedding.APIKey, "sk-test-openai-key")
	}
	if cfg.Auth.APIKey != "test-api-key" {
		t.Errorf("Auth.APIKey = %q, want %q", cfg.Auth.APIKey, "test-api-key")
	}
}

func TestLoad_DevModeBypassesValidation(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Embedding.APIKey != "" {
		t.Errorf("Embedding.APIKey = %q, want empty", cfg.Embedding.APIKey)
	}
	if cfg.Auth.APIKey != "" {
		t.Errorf("Auth.APIKey = %q, want empty", cfg.Auth.APIKey)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	os.Setenv("GATEWAY_PORT", "9090")
	os.Setenv("GATEWAY_DB_PATH", "/custom/path.db")
	os.Setenv("GATEWAY_LOG_LEVEL", "debug")
	os.Setenv("GATEWAY_COLLABORATIVE_INTERVAL", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if dur(cfg.Worker.CollaborativeInterval) != 2*time.Hour {
		t.Errorf("Worker.CollaborativeInterval = %v, want 2h", cfg.Worker.CollaborativeInterval)
	}
}

func TestLoad_EmptyEnvVarDoesNotOverride(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)
	os.Setenv("GATEWAY_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080 (default)", cfg.Server.Port)
	}
}

func TestLoadFromFile_ValidYAML(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlContent := `
server:
  port: 9999
  read_timeout: 60s
database:
  path: /yaml/path.db
log:
  level: warn
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if dur(cfg.Server.ReadTimeout) != 60*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 60s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.Path != "/yaml/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/yaml/path.db")
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlContent := `
server:
  port: 9000
log:
  level: warn
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	os.Setenv("GATEWAY_CONFIG_PATH", configPath)
	os.Setenv("GATEWAY_PORT", "8888")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8888 {
		t.Errorf("Server.Port = %d, want 8888 (env override)", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q (from YAML)", cfg.Log.Level, "warn")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")
	invalidYAML := `
server:
  port: not_a_number
  this is invalid yaml [
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("LoadFromFile() expected error for invalid YAML, got nil")
	}
}

func TestLoad_MissingConfigFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)
	os.Setenv("GATEWAY_CONFIG_PATH", "/nonexistent/path/config.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() should not error on missing file, got: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080 (default)", cfg.Server.Port)
	}
}

func TestLoadFromFile_DurationParsing(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "durations.yaml")
	yamlContent := `
server:
  read_timeout: 5m30s
  write_timeout: 90s
sync:
  heartbeat_interval: 45s
  orset_retention: 72h
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if dur(cfg.Server.ReadTimeout) != 5*time.Minute+30*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 5m30s", cfg.Server.ReadTimeout)
	}
	if dur(cfg.Server.WriteTimeout) != 90*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want 90s", cfg.Server.WriteTimeout)
	}
	if dur(cfg.Sync.HeartbeatInterval) != 45*time.Second {
		t.Errorf("Sync.HeartbeatInterval = %v, want 45s", cfg.Sync.HeartbeatInterval)
	}
	if dur(cfg.Sync.ORSetRetention) != 72*time.Hour {
		t.Errorf("Sync.ORSetRetention = %v, want 72h", cfg.Sync.ORSetRetention)
	}
}

func TestLoadFromFile_InvalidDuration(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad_duration.yaml")
	yamlContent := `
server:
  read_timeout: not_a_duration
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("LoadFromFile() expected error for invalid duration, got nil")
	}
}

func TestConfig_SecretsNotInYAML(t *testing.T) {
	cfg := &Config{
		Embedding: EmbeddingConfig{APIKey: "secret-key", Model: "test"},
		Auth:      AuthConfig{APIKey: "another-secret"},
		SnapshotStorage: SnapshotStorageConfig{
			AccessKey: "s3-access-secret",
			SecretKey: "s3-secret-secret",
		},
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}

	yamlStr := string(data)
	for _, secret := range []string{"secret-key", "another-secret", "s3-access-secret", "s3-secret-secret"} {
		if strings.Contains(yamlStr, secret) {
			t.Errorf("YAML contains secret %q: %s", secret, yamlStr)
		}
	}
}

func TestLoad_AllEnvVarMappings(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	os.Setenv("GATEWAY_HOST", "127.0.0.1")
	os.Setenv("GATEWAY_PORT", "3000")
	os.Setenv("GATEWAY_READ_TIMEOUT", "45s")
	os.Setenv("GATEWAY_WRITE_TIMEOUT", "45s")
	os.Setenv("GATEWAY_SHUTDOWN_TIMEOUT", "20s")
	os.Setenv("GATEWAY_DB_PATH", "/env/db.sqlite")
	os.Setenv("GATEWAY_STORES_ROOT", "/env/stores")
	os.Setenv("OPENAI_API_KEY", "sk-openai")
	os.Setenv("GATEWAY_EMBEDDING_MODEL", "text-embedding-ada-002")
	os.Setenv("GATEWAY_API_KEY", "api-key-123")
	os.Setenv("GATEWAY_EMBEDDING_RETRY_INTERVAL", "10m")
	os.Setenv("GATEWAY_COLLABORATIVE_INTERVAL", "12h")
	os.Setenv("GATEWAY_SNAPSHOT_INTERVAL", "3h")
	os.Setenv("GATEWAY_COMPACTION_INTERVAL", "2h")
	os.Setenv("GATEWAY_COMPACTION_RETENTION", "336h")
	os.Setenv("GATEWAY_LOG_LEVEL", "error")
	os.Setenv("GATEWAY_LOG_FORMAT", "text")
	os.Setenv("GATEWAY_WEBHOOK_SECRET_NETFLIX", "whsec_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if dur(cfg.Server.ReadTimeout) != 45*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 45s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.Path != "/env/db.sqlite" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/env/db.sqlite")
	}
	if cfg.Stores.RootPath != "/env/stores" {
		t.Errorf("Stores.RootPath = %q, want %q", cfg.Stores.RootPath, "/env/stores")
	}
	if cfg.Embedding.APIKey != "sk-openai" {
		t.Errorf("Embedding.APIKey = %q, want %q", cfg.Embedding.APIKey, "sk-openai")
	}
	if cfg.Auth.APIKey != "api-key-123" {
		t.Errorf("Auth.APIKey = %q, want %q", cfg.Auth.APIKey, "api-key-123")
	}
	if dur(cfg.Worker.CollaborativeInterval) != 12*time.Hour {
		t.Errorf("Worker.CollaborativeInterval = %v, want 12h", cfg.Worker.CollaborativeInterval)
	}
	if dur(cfg.Worker.EmbeddingRetryInterval) != 10*time.Minute {
		t.Errorf("Worker.EmbeddingRetryInterval = %v, want 10m", cfg.Worker.EmbeddingRetryInterval)
	}
	if dur(cfg.Worker.SnapshotInterval) != 3*time.Hour {
		t.Errorf("Worker.SnapshotInterval = %v, want 3h", cfg.Worker.SnapshotInterval)
	}
	if dur(cfg.Worker.CompactionInterval) != 2*time.Hour {
		t.Errorf("Worker.CompactionInterval = %v, want 2h", cfg.Worker.CompactionInterval)
	}
	if dur(cfg.Worker.CompactionRetention) != 336*time.Hour {
		t.Errorf("Worker.CompactionRetention = %v, want 336h", cfg.Worker.CompactionRetention)
	}
	if cfg.Log.Level != "error" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want level=error format=text", cfg.Log)
	}
	if cfg.Webhooks.Secrets["netflix"] != "whsec_test" {
		t.Errorf("Webhooks.Secrets[netflix] = %q, want %q", cfg.Webhooks.Secrets["netflix"], "whsec_test")
	}
}

func TestConfig_PlatformsFromYAML(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlContent := `
platforms:
  netflix:
    rate_limit:
      quota: 250
      window: 1m
      api_keys: ["k1", "k2"]
    breaker:
      failure_threshold: 3
      cooldown: 10s
      half_open_probes: 2
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	netflix := cfg.Platforms["netflix"]
	if netflix.RateLimit.Quota != 250 {
		t.Errorf("netflix quota = %d, want 250", netflix.RateLimit.Quota)
	}
	if len(netflix.RateLimit.APIKeys) != 2 {
		t.Errorf("netflix api_keys = %v, want 2 entries", netflix.RateLimit.APIKeys)
	}
	if netflix.Breaker.FailureThreshold != 3 {
		t.Errorf("netflix breaker.failure_threshold = %d, want 3", netflix.Breaker.FailureThreshold)
	}
}

func TestConfig_SnapshotStorage_FromYAML(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlContent := `
snapshot_storage:
  bucket: yaml-bucket
  endpoint: minio.local:9000
  region: eu-west-1
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.SnapshotStorage.Bucket != "yaml-bucket" {
		t.Errorf("Bucket = %q, want %q", cfg.SnapshotStorage.Bucket, "yaml-bucket")
	}
	if cfg.SnapshotStorage.Endpoint != "minio.local:9000" {
		t.Errorf("Endpoint = %q, want %q", cfg.SnapshotStorage.Endpoint, "minio.local:9000")
	}
	if cfg.SnapshotStorage.Region != "eu-west-1" {
		t.Errorf("Region = %q, want %q", cfg.SnapshotStorage.Region, "eu-west-1")
	}
}
