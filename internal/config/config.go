package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Probe failure policies for the access operation
const (
	ProbePolicyAbsent = "absent"
	ProbePolicyFail   = "fail"
)

// Config holds all configuration for the connector
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Mailgun MailgunConfig `yaml:"mailgun"`
	Redis   RedisConfig   `yaml:"redis"`
	Audit   AuditConfig   `yaml:"audit"`
	Archive ArchiveConfig `yaml:"archive"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns host:port for the listener
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// MailgunConfig holds Mailgun API configuration
type MailgunConfig struct {
	APIKey             string        `yaml:"api_key"`
	BaseURL            string        `yaml:"base_url"`
	TimeoutSeconds     int           `yaml:"timeout_seconds"`
	PageLimit          int           `yaml:"page_limit"`
	MaxConcurrency     int           `yaml:"max_concurrency"` // 0 = one request per list, unbounded
	ProbeFailurePolicy string        `yaml:"probe_failure_policy"`
	Breaker            BreakerConfig `yaml:"breaker"`
}

// Timeout returns the configured timeout as a duration
func (c MailgunConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BreakerConfig controls the optional circuit breaker around Mailgun calls
type BreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failure_threshold"`
	OpenSeconds      int    `yaml:"open_seconds"`
}

// OpenDuration returns how long a tripped breaker stays open
func (c BreakerConfig) OpenDuration() time.Duration {
	return time.Duration(c.OpenSeconds) * time.Second
}

// RedisConfig holds the context-store and lock backend settings
type RedisConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Addr              string `yaml:"addr"`
	Password          string `yaml:"password"`
	DB                int    `yaml:"db"`
	ContextTTLMinutes int    `yaml:"context_ttl_minutes"`
	LockTTLSeconds    int    `yaml:"lock_ttl_seconds"`
}

// ContextTTL returns how long a saved context dictionary lives
func (c RedisConfig) ContextTTL() time.Duration {
	return time.Duration(c.ContextTTLMinutes) * time.Minute
}

// LockTTL returns the erasure lock lifetime
func (c RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// AuditConfig holds the Postgres audit log settings
type AuditConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DatabaseURL string `yaml:"database_url"`
}

// ArchiveConfig holds the S3 access-report archive settings
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
	Prefix   string `yaml:"prefix"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on (default true)
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with every default applied and no file read
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Mailgun.BaseURL == "" {
		cfg.Mailgun.BaseURL = "https://api.mailgun.net"
	}
	if cfg.Mailgun.TimeoutSeconds == 0 {
		cfg.Mailgun.TimeoutSeconds = 30
	}
	if cfg.Mailgun.PageLimit == 0 {
		cfg.Mailgun.PageLimit = 100
	}
	if cfg.Mailgun.ProbeFailurePolicy == "" {
		cfg.Mailgun.ProbeFailurePolicy = ProbePolicyAbsent
	}
	if cfg.Mailgun.Breaker.FailureThreshold == 0 {
		cfg.Mailgun.Breaker.FailureThreshold = 5
	}
	if cfg.Mailgun.Breaker.OpenSeconds == 0 {
		cfg.Mailgun.Breaker.OpenSeconds = 30
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.ContextTTLMinutes == 0 {
		cfg.Redis.ContextTTLMinutes = 24 * 60
	}
	if cfg.Redis.LockTTLSeconds == 0 {
		cfg.Redis.LockTTLSeconds = 120
	}
	if cfg.Archive.S3Region == "" {
		cfg.Archive.S3Region = "us-east-1"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "dsr"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file is loaded first when present. An empty path skips the YAML
// file and starts from defaults.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if apiKey := os.Getenv("MAILGUN_API_KEY"); apiKey != "" {
		cfg.Mailgun.APIKey = apiKey
	}
	if baseURL := os.Getenv("MAILGUN_BASE_URL"); baseURL != "" {
		cfg.Mailgun.BaseURL = baseURL
	}
	if v := os.Getenv("MAILGUN_MAX_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("MAILGUN_MAX_CONCURRENCY: %w", err)
		}
		cfg.Mailgun.MaxConcurrency = n
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Audit.DatabaseURL = dbURL
		cfg.Audit.Enabled = true
	}
	if bucket := os.Getenv("ARCHIVE_S3_BUCKET"); bucket != "" {
		cfg.Archive.S3Bucket = bucket
		cfg.Archive.Enabled = true
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}

// Validate checks the settings every binary needs
func (cfg *Config) Validate() error {
	if cfg.Mailgun.APIKey == "" {
		return fmt.Errorf("mailgun api_key is required (set MAILGUN_API_KEY)")
	}
	u, err := url.Parse(cfg.Mailgun.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("mailgun base_url %q must be an absolute URL", cfg.Mailgun.BaseURL)
	}
	switch cfg.Mailgun.ProbeFailurePolicy {
	case ProbePolicyAbsent, ProbePolicyFail:
	default:
		return fmt.Errorf("unknown probe_failure_policy %q", cfg.Mailgun.ProbeFailurePolicy)
	}
	if cfg.Mailgun.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must not be negative")
	}
	if cfg.Audit.Enabled && cfg.Audit.DatabaseURL == "" {
		return fmt.Errorf("audit enabled without database_url")
	}
	if cfg.Archive.Enabled && cfg.Archive.S3Bucket == "" {
		return fmt.Errorf("archive enabled without s3_bucket")
	}
	return nil
}
