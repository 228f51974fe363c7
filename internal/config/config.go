package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sink names accepted by SendLogsTo.
const (
	SinkLogOnly    = "log_only"
	SinkServer     = "server"
	SinkCloudWatch = "cloudwatch"
	SinkKafka      = "kafka"
	SinkFile       = "file"
)

// Checkpoint backends.
const (
	BackendFile   = "file"
	BackendPebble = "pebble"
)

// EnvConfigFile names the optional YAML file read before env overrides.
const EnvConfigFile = "AUDIT_CONFIG_FILE"

// Config holds all forwarder configuration.
type Config struct {
	SendLogsTo   string        `yaml:"send_logs_to"`
	SendInterval time.Duration `yaml:"send_interval"`
	HTTPTimeout  time.Duration `yaml:"http_client_timeout"`

	Loki       LokiConfig       `yaml:"loki"`
	Target     TargetConfig     `yaml:"target"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	File       FileConfig       `yaml:"file"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Health     HealthConfig     `yaml:"health"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LokiConfig describes the upstream log store and the audit query.
type LokiConfig struct {
	Host       string        `yaml:"host"`
	Tenant     string        `yaml:"tenant"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	Namespace  string        `yaml:"namespace"`
	App        string        `yaml:"app"`
	QueryLimit int           `yaml:"query_limit"`
	Window     time.Duration `yaml:"window"`
	Margin     time.Duration `yaml:"safety_margin"`
}

// TargetConfig holds settings for the generic HTTP sink.
type TargetConfig struct {
	Endpoint      string            `yaml:"endpoint"`
	Proxy         string            `yaml:"proxy"`
	StaticHeaders map[string]string `yaml:"static_headers"`
}

// CloudWatchConfig holds settings for the CloudWatch Logs sink.
type CloudWatchConfig struct {
	LogGroup        string `yaml:"log_group"`
	LogStream       string `yaml:"log_stream"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"aws_access_key_id"`
	SecretAccessKey string `yaml:"aws_secret_access_key"`
	Endpoint        string `yaml:"custom_aws_endpoint"`
}

// KafkaConfig holds settings for the Kafka sink.
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	RequiredAcks string   `yaml:"required_acks"` // "none", "one", "all"
}

// FileConfig holds settings for the local file sink.
type FileConfig struct {
	Path    string `yaml:"path"`
	MaxSize int64  `yaml:"max_size"` // bytes, 0 disables rotation
}

// CheckpointConfig selects where the last-sent timestamp lives.
type CheckpointConfig struct {
	Backend   string        `yaml:"backend"`
	File      string        `yaml:"last_sent_file"`
	PebbleDir string        `yaml:"pebble_dir"`
	Lookback  time.Duration `yaml:"lookback"`
}

// HealthConfig holds the health endpoint bind address.
type HealthConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (h HealthConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// LoggingConfig holds diagnostic logger settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "text" or "json"
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		SendLogsTo:   SinkLogOnly,
		SendInterval: 5 * time.Second,
		HTTPTimeout:  30 * time.Second,
		Loki: LokiConfig{
			Host:       "http://localhost:3100",
			Namespace:  "azul",
			App:        "restapi-server-audit",
			QueryLimit: 5000,
			Window:     5 * time.Minute,
			Margin:     time.Minute,
		},
		CloudWatch: CloudWatchConfig{
			LogGroup:  "azul-audit-logs",
			LogStream: "azul-audit-forwarder",
			Region:    "us-east-1",
		},
		Kafka: KafkaConfig{
			RequiredAcks: "all",
		},
		Checkpoint: CheckpointConfig{
			Backend:   BackendFile,
			File:      "/tmp/last_sent.txt",
			PebbleDir: "/tmp/auditfwd-checkpoint",
			Lookback:  time.Hour,
		},
		Health: HealthConfig{
			Host: "0.0.0.0",
			Port: 8855,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			File:       "/tmp/azul_audit_forwarder.log",
			MaxSizeMB:  100,
			MaxAgeDays: 30,
			MaxBackups: 7,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// (falling back to $AUDIT_CONFIG_FILE), then environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.SendLogsTo = strings.ToLower(getenv("AUDIT_SEND_LOGS_TO", cfg.SendLogsTo))
	cfg.SendInterval = getenvDuration("AUDIT_SEND_INTERVAL", cfg.SendInterval)
	cfg.HTTPTimeout = getenvDuration("AUDIT_HTTP_CLIENT_TIMEOUT_SECONDS", cfg.HTTPTimeout)

	cfg.Loki.Host = getenv("AUDIT_LOKI_HOST", cfg.Loki.Host)
	cfg.Loki.Tenant = getenv("AUDIT_LOKI_TENANT", cfg.Loki.Tenant)
	cfg.Loki.Username = getenv("AUDIT_LOKI_USERNAME", cfg.Loki.Username)
	cfg.Loki.Password = getenv("AUDIT_LOKI_PASSWORD", cfg.Loki.Password)
	cfg.Loki.Namespace = getenv("AUDIT_AZUL_NAMESPACE", cfg.Loki.Namespace)
	cfg.Loki.App = getenv("AUDIT_LOKI_APP", cfg.Loki.App)
	cfg.Loki.QueryLimit = getenvInt("AUDIT_LOKI_QUERY_LIMIT", cfg.Loki.QueryLimit)
	cfg.Loki.Window = getenvDuration("AUDIT_LOKI_WINDOW", cfg.Loki.Window)
	cfg.Loki.Margin = getenvDuration("AUDIT_LOKI_SAFETY_MARGIN", cfg.Loki.Margin)

	cfg.Target.Endpoint = getenv("AUDIT_TARGET_ENDPOINT", cfg.Target.Endpoint)
	cfg.Target.Proxy = getenv("AUDIT_TARGET_PROXY", cfg.Target.Proxy)
	if raw := os.Getenv("AUDIT_STATIC_HEADERS"); raw != "" {
		var h map[string]string
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			return fmt.Errorf("config: AUDIT_STATIC_HEADERS must be a JSON object of strings: %w", err)
		}
		cfg.Target.StaticHeaders = h
	}

	cfg.CloudWatch.LogGroup = getenv("AUDIT_CLOUDWATCH_LOG_GROUP", cfg.CloudWatch.LogGroup)
	cfg.CloudWatch.LogStream = getenv("AUDIT_CLOUDWATCH_LOG_STREAM", cfg.CloudWatch.LogStream)
	cfg.CloudWatch.Region = getenv("AUDIT_CLOUDWATCH_REGION", cfg.CloudWatch.Region)
	cfg.CloudWatch.AccessKeyID = getenv("AUDIT_CLOUDWATCH_AWS_ACCESS_KEY_ID", cfg.CloudWatch.AccessKeyID)
	cfg.CloudWatch.SecretAccessKey = getenv("AUDIT_CLOUDWATCH_AWS_SECRET_ACCESS_KEY", cfg.CloudWatch.SecretAccessKey)
	cfg.CloudWatch.Endpoint = getenv("AUDIT_CUSTOM_AWS_ENDPOINT", cfg.CloudWatch.Endpoint)

	if raw := os.Getenv("AUDIT_KAFKA_BROKERS"); raw != "" {
		cfg.Kafka.Brokers = splitList(raw)
	}
	cfg.Kafka.Topic = getenv("AUDIT_KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.RequiredAcks = getenv("AUDIT_KAFKA_REQUIRED_ACKS", cfg.Kafka.RequiredAcks)

	cfg.File.Path = getenv("AUDIT_FILE_PATH", cfg.File.Path)
	cfg.File.MaxSize = int64(getenvInt("AUDIT_FILE_MAX_SIZE", int(cfg.File.MaxSize)))

	cfg.Checkpoint.Backend = strings.ToLower(getenv("AUDIT_CHECKPOINT_BACKEND", cfg.Checkpoint.Backend))
	cfg.Checkpoint.File = getenv("AUDIT_LAST_SENT_FILE", cfg.Checkpoint.File)
	cfg.Checkpoint.PebbleDir = getenv("AUDIT_CHECKPOINT_PEBBLE_DIR", cfg.Checkpoint.PebbleDir)
	cfg.Checkpoint.Lookback = getenvDuration("AUDIT_CHECKPOINT_LOOKBACK", cfg.Checkpoint.Lookback)

	cfg.Health.Host = getenv("AUDIT_HEALTH_HOST", cfg.Health.Host)
	cfg.Health.Port = getenvInt("AUDIT_HEALTH_PORT", cfg.Health.Port)

	cfg.Logging.Level = getenv("LOGGER_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(getenv("LOGGER_LOG_FORMAT", cfg.Logging.Format))
	if v, ok := os.LookupEnv("LOGGER_LOG_FILE"); ok {
		// An explicitly empty value disables the file log.
		cfg.Logging.File = v
	}
	cfg.Logging.MaxSizeMB = getenvInt("LOGGER_LOG_MAX_SIZE_MB", cfg.Logging.MaxSizeMB)
	cfg.Logging.MaxAgeDays = getenvInt("LOGGER_LOG_RETENTION_DAYS", cfg.Logging.MaxAgeDays)
	cfg.Logging.MaxBackups = getenvInt("LOGGER_LOG_MAX_BACKUPS", cfg.Logging.MaxBackups)
	return nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	switch c.SendLogsTo {
	case SinkLogOnly, SinkCloudWatch:
	case SinkServer:
		if c.Target.Endpoint == "" {
			errs = append(errs, errors.New("send_logs_to=server requires a target endpoint"))
		}
	case SinkKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			errs = append(errs, errors.New("send_logs_to=kafka requires brokers and topic"))
		}
	case SinkFile:
		if c.File.Path == "" {
			errs = append(errs, errors.New("send_logs_to=file requires a file path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown send_logs_to %q", c.SendLogsTo))
	}

	if c.SendInterval <= 0 {
		errs = append(errs, fmt.Errorf("send interval must be positive, got %v", c.SendInterval))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http client timeout must be positive, got %v", c.HTTPTimeout))
	}
	if c.Loki.Host == "" {
		errs = append(errs, errors.New("loki host is required"))
	}
	if c.Loki.Window <= 0 {
		errs = append(errs, fmt.Errorf("loki window must be positive, got %v", c.Loki.Window))
	}
	if c.Loki.Margin < 0 {
		errs = append(errs, fmt.Errorf("loki safety margin cannot be negative, got %v", c.Loki.Margin))
	}
	if c.Loki.QueryLimit <= 0 {
		errs = append(errs, fmt.Errorf("loki query limit must be positive, got %d", c.Loki.QueryLimit))
	}

	switch c.Checkpoint.Backend {
	case BackendFile:
		if c.Checkpoint.File == "" {
			errs = append(errs, errors.New("checkpoint backend file requires last_sent_file"))
		}
	case BackendPebble:
		if c.Checkpoint.PebbleDir == "" {
			errs = append(errs, errors.New("checkpoint backend pebble requires pebble_dir"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend))
	}

	if c.Health.Port < 0 || c.Health.Port > 65535 {
		errs = append(errs, fmt.Errorf("health port out of range: %d", c.Health.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getenvDuration accepts Go durations ("90s") or plain seconds ("5", "2.5").
func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
