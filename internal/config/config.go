package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/mail-tracker/internal/service/tracking"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config holds all configuration for the tracking service
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Tracking TrackingConfig `yaml:"tracking"`
	Notify   NotifyConfig   `yaml:"notify"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                   int    `yaml:"port"`
	Host                   string `yaml:"host"`
	ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// StoreConfig selects and configures the persistence backend
type StoreConfig struct {
	Driver       string `yaml:"driver"` // "postgres" or "redis"
	DatabaseURL  string `yaml:"database_url"`
	RedisURL     string `yaml:"redis_url"`
	RedisPrefix  string `yaml:"redis_prefix"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// TrackingConfig holds the open-classification policy. Unset values fall
// back to the built-in defaults; an explicit zero switches the rule off.
// Durations need a unit ("0s", "5s", "1m30s"); a bare integer is rejected.
type TrackingConfig struct {
	MinUserAgentLength *int           `yaml:"min_user_agent_length"`
	SendGrace          *time.Duration `yaml:"send_grace"`
	DedupWindow        *time.Duration `yaml:"dedup_window"`
	Denylist           []string       `yaml:"denylist"`
	LoopbackAddresses  []string       `yaml:"loopback_addresses"`
}

// Policy converts the config section into a classification policy.
func (c TrackingConfig) Policy() tracking.Policy {
	p := tracking.DefaultPolicy()
	if c.MinUserAgentLength != nil {
		p.MinUserAgentLength = *c.MinUserAgentLength
	}
	if c.SendGrace != nil {
		p.SendGrace = *c.SendGrace
	}
	if c.DedupWindow != nil {
		p.DedupWindow = *c.DedupWindow
	}
	if len(c.Denylist) > 0 {
		p.Denylist = append([]string(nil), c.Denylist...)
	}
	if len(c.LoopbackAddresses) > 0 {
		p.LoopbackAddresses = append([]string(nil), c.LoopbackAddresses...)
	}
	return p
}

// NotifyConfig holds the SQS open-notification settings. An empty queue
// URL disables notifications.
type NotifyConfig struct {
	SQSQueueURL string `yaml:"sqs_queue_url"`
	Region      string `yaml:"region"`
	// Endpoint overrides the SQS endpoint (LocalStack, ElasticMQ).
	Endpoint string `yaml:"endpoint"`
	// Static credentials; empty means the default AWS chain.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Enabled reports whether open notifications should be published.
func (c NotifyConfig) Enabled() bool { return c.SQSQueueURL != "" }

// APIConfig holds sync API settings. An empty key leaves the API open.
type APIConfig struct {
	Key            string   `yaml:"key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. Defaults to true.
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads the YAML file at path and fills defaults. An empty path
// yields a config built from defaults alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 10
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 10
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = 15
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverPostgres
	}
	if cfg.Store.MaxOpenConns == 0 {
		cfg.Store.MaxOpenConns = 25
	}
	if cfg.Store.MaxIdleConns == 0 {
		cfg.Store.MaxIdleConns = 5
	}
	if cfg.Notify.Region == "" {
		cfg.Notify.Region = "us-east-1"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv("SQS_OPEN_QUEUE_URL"); v != "" {
		cfg.Notify.SQSQueueURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Notify.Region = v
	}
	if v := os.Getenv("SQS_ENDPOINT"); v != "" {
		cfg.Notify.Endpoint = v
	}
	if v := os.Getenv("SQS_ACCESS_KEY_ID"); v != "" {
		cfg.Notify.AccessKeyID = v
	}
	if v := os.Getenv("SQS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Notify.SecretAccessKey = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.API.Key = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

// Validate checks the store selection has what it needs and the policy
// thresholds are not negative.
func (c *Config) Validate() error {
	if err := c.Tracking.validate(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("store driver postgres requires DATABASE_URL")
		}
	case DriverRedis:
		if c.Store.RedisURL == "" {
			return errors.New("store driver redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}

func (c TrackingConfig) validate() error {
	if c.MinUserAgentLength != nil && *c.MinUserAgentLength < 0 {
		return errors.New("tracking.min_user_agent_length must not be negative")
	}
	if c.SendGrace != nil && *c.SendGrace < 0 {
		return errors.New("tracking.send_grace must not be negative")
	}
	if c.DedupWindow != nil && *c.DedupWindow < 0 {
		return errors.New("tracking.dedup_window must not be negative")
	}
	return nil
}
