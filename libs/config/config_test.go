package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != "dev" {
		t.Fatalf("expected env dev, got %s", cfg.Env)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.ReadTimeout != 5*time.Second {
		t.Fatalf("expected read timeout 5s, got %s", cfg.HTTP.ReadTimeout)
	}
	if !cfg.IsLocal() {
		t.Fatalf("expected dev to be local")
	}
	if cfg.Tracing.Endpoint != "" || cfg.Tracing.SampleRatio != 1 {
		t.Fatalf("unexpected tracing defaults %+v", cfg.Tracing)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "service_name: portal\nlog_level: debug\nhttp:\n  port: 9000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PORTAL_HTTP_PORT", "9100")
	t.Setenv("PORTAL_ENV", "prod")
	t.Setenv("PORTAL_TRACING_SAMPLE_RATIO", "0.1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "portal" {
		t.Fatalf("expected service name from file, got %s", cfg.ServiceName)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from file, got %s", cfg.LogLevel)
	}
	if cfg.HTTP.Port != 9100 {
		t.Fatalf("expected env to override port, got %d", cfg.HTTP.Port)
	}
	if cfg.IsLocal() {
		t.Fatalf("expected prod not to be local")
	}
	if cfg.Tracing.SampleRatio != 0.1 {
		t.Fatalf("expected env to set sample ratio, got %v", cfg.Tracing.SampleRatio)
	}
}

func TestEnvHelpersPreferPrefixedKey(t *testing.T) {
	t.Setenv("PORTAL_REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_ADDR", "other:6379")
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("PORTAL_QUEUE_SIZE", "not-a-number")

	if got := EnvString("REDIS_ADDR", ""); got != "redis:6379" {
		t.Fatalf("expected prefixed value, got %s", got)
	}
	brokers := EnvCSV("KAFKA_BROKERS", nil)
	if len(brokers) != 2 || brokers[0] != "a:9092" || brokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", brokers)
	}
	if got := EnvInt("QUEUE_SIZE", 64); got != 64 {
		t.Fatalf("expected default on parse failure, got %d", got)
	}
	if got := EnvDuration("MISSING_TTL", time.Minute); got != time.Minute {
		t.Fatalf("expected default duration, got %s", got)
	}
}
