package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"AUDIT_CONFIG_FILE", "AUDIT_SEND_LOGS_TO", "AUDIT_SEND_INTERVAL",
	"AUDIT_HTTP_CLIENT_TIMEOUT_SECONDS", "AUDIT_LOKI_HOST", "AUDIT_LOKI_TENANT",
	"AUDIT_LOKI_USERNAME", "AUDIT_LOKI_PASSWORD", "AUDIT_AZUL_NAMESPACE",
	"AUDIT_LOKI_APP", "AUDIT_LOKI_QUERY_LIMIT", "AUDIT_LOKI_WINDOW",
	"AUDIT_LOKI_SAFETY_MARGIN", "AUDIT_TARGET_ENDPOINT", "AUDIT_TARGET_PROXY",
	"AUDIT_STATIC_HEADERS", "AUDIT_CLOUDWATCH_LOG_GROUP", "AUDIT_CLOUDWATCH_LOG_STREAM",
	"AUDIT_CLOUDWATCH_REGION", "AUDIT_CLOUDWATCH_AWS_ACCESS_KEY_ID",
	"AUDIT_CLOUDWATCH_AWS_SECRET_ACCESS_KEY", "AUDIT_CUSTOM_AWS_ENDPOINT",
	"AUDIT_KAFKA_BROKERS", "AUDIT_KAFKA_TOPIC", "AUDIT_KAFKA_REQUIRED_ACKS",
	"AUDIT_FILE_PATH", "AUDIT_FILE_MAX_SIZE", "AUDIT_CHECKPOINT_BACKEND",
	"AUDIT_LAST_SENT_FILE", "AUDIT_CHECKPOINT_PEBBLE_DIR", "AUDIT_CHECKPOINT_LOOKBACK",
	"AUDIT_HEALTH_HOST", "AUDIT_HEALTH_PORT", "LOGGER_LOG_LEVEL", "LOGGER_LOG_FORMAT",
	"LOGGER_LOG_FILE", "LOGGER_LOG_MAX_SIZE_MB", "LOGGER_LOG_RETENTION_DAYS",
	"LOGGER_LOG_MAX_BACKUPS",
}

// clearEnv unsets every variable Load reads and restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		if old, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, old) })
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SendLogsTo != SinkLogOnly {
		t.Fatalf("expected default sink %q, got %q", SinkLogOnly, cfg.SendLogsTo)
	}
	if cfg.SendInterval != 5*time.Second {
		t.Fatalf("expected default interval 5s, got %v", cfg.SendInterval)
	}
	if cfg.Loki.Host != "http://localhost:3100" {
		t.Fatalf("unexpected loki host %q", cfg.Loki.Host)
	}
	if cfg.Loki.QueryLimit != 5000 || cfg.Loki.Window != 5*time.Minute || cfg.Loki.Margin != time.Minute {
		t.Fatalf("unexpected loki paging defaults: %+v", cfg.Loki)
	}
	if cfg.Checkpoint.File != "/tmp/last_sent.txt" || cfg.Checkpoint.Lookback != time.Hour {
		t.Fatalf("unexpected checkpoint defaults: %+v", cfg.Checkpoint)
	}
	if cfg.Health.Addr() != "0.0.0.0:8855" {
		t.Fatalf("unexpected health addr %q", cfg.Health.Addr())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUDIT_SEND_LOGS_TO", "SERVER")
	t.Setenv("AUDIT_TARGET_ENDPOINT", "http://audit-server:9999/audit")
	t.Setenv("AUDIT_STATIC_HEADERS", `{"feed":"AZUL-V3.0-EVENTS","system":"Azul3"}`)
	t.Setenv("AUDIT_SEND_INTERVAL", "10")
	t.Setenv("AUDIT_HTTP_CLIENT_TIMEOUT_SECONDS", "2.5")
	t.Setenv("AUDIT_KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("AUDIT_HEALTH_PORT", "9000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SendLogsTo != SinkServer {
		t.Fatalf("expected sink to be lower-cased to %q, got %q", SinkServer, cfg.SendLogsTo)
	}
	if cfg.Target.StaticHeaders["feed"] != "AZUL-V3.0-EVENTS" || len(cfg.Target.StaticHeaders) != 2 {
		t.Fatalf("unexpected headers: %v", cfg.Target.StaticHeaders)
	}
	if cfg.SendInterval != 10*time.Second {
		t.Fatalf("expected plain seconds to parse, got %v", cfg.SendInterval)
	}
	if cfg.HTTPTimeout != 2500*time.Millisecond {
		t.Fatalf("expected fractional seconds to parse, got %v", cfg.HTTPTimeout)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Health.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", cfg.Health.Port)
	}
}

func TestLoad_InvalidStaticHeaders(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUDIT_STATIC_HEADERS", `["not","an","object"]`)

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-object static headers")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "auditfwd.yaml")
	yml := `
send_logs_to: kafka
send_interval: 30s
loki:
  host: http://loki:3100
  namespace: prod
kafka:
  brokers: [kafka:9092]
  topic: audit
checkpoint:
  backend: pebble
  pebble_dir: /var/lib/auditfwd
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AUDIT_AZUL_NAMESPACE", "staging")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SendLogsTo != SinkKafka || cfg.Kafka.Topic != "audit" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.SendInterval != 30*time.Second {
		t.Fatalf("expected 30s interval from file, got %v", cfg.SendInterval)
	}
	if cfg.Loki.Namespace != "staging" {
		t.Fatalf("env should override file, got namespace %q", cfg.Loki.Namespace)
	}
	if cfg.Loki.QueryLimit != 5000 {
		t.Fatalf("unset file keys should keep defaults, got limit %d", cfg.Loki.QueryLimit)
	}
	if cfg.Checkpoint.Backend != BackendPebble {
		t.Fatalf("expected pebble backend, got %q", cfg.Checkpoint.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_EmptyLogFileDisablesFileLog(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOGGER_LOG_FILE", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Logging.File != "" {
		t.Fatalf("expected file log disabled, got %q", cfg.Logging.File)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"server without endpoint", func(c *Config) { c.SendLogsTo = SinkServer }, "target endpoint"},
		{"kafka without topic", func(c *Config) { c.SendLogsTo = SinkKafka; c.Kafka.Brokers = []string{"k:9092"} }, "brokers and topic"},
		{"file without path", func(c *Config) { c.SendLogsTo = SinkFile }, "file path"},
		{"unknown sink", func(c *Config) { c.SendLogsTo = "carrier-pigeon" }, "unknown send_logs_to"},
		{"zero interval", func(c *Config) { c.SendInterval = 0 }, "send interval"},
		{"unknown backend", func(c *Config) { c.Checkpoint.Backend = "redis" }, "unknown checkpoint backend"},
		{"bad port", func(c *Config) { c.Health.Port = 70000 }, "health port"},
		{"zero limit", func(c *Config) { c.Loki.QueryLimit = 0 }, "query limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.SendLogsTo = SinkServer
	cfg.SendInterval = 0
	cfg.HTTPTimeout = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"target endpoint", "send interval", "http client timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %q", want, err)
		}
	}
}
