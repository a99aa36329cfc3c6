package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ignite/mail-tracker/internal/service/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"

store:
  driver: redis
  redis_url: "redis://localhost:6379/2"
  redis_prefix: "mt:"

tracking:
  min_user_agent_length: 12
  send_grace: 8s
  dedup_window: 1m
  denylist: ["scanner", "prefetch"]
  loopback_addresses: ["127.0.0.1"]

notify:
  sqs_queue_url: "https://sqs.us-west-2.amazonaws.com/1/opens"
  region: us-west-2

api:
  key: "secret"
  allowed_origins: ["app://desktop"]

log:
  level: debug
  redact_pii: false
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Store.RedisURL)
	assert.Equal(t, "mt:", cfg.Store.RedisPrefix)
	assert.True(t, cfg.Notify.Enabled())
	assert.Equal(t, "us-west-2", cfg.Notify.Region)
	assert.Equal(t, "secret", cfg.API.Key)
	assert.Equal(t, []string{"app://desktop"}, cfg.API.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Redact())

	p := cfg.Tracking.Policy()
	assert.Equal(t, 12, p.MinUserAgentLength)
	assert.Equal(t, 8*time.Second, p.SendGrace)
	assert.Equal(t, time.Minute, p.DedupWindow)
	assert.Equal(t, []string{"scanner", "prefetch"}, p.Denylist)
	assert.Equal(t, []string{"127.0.0.1"}, p.LoopbackAddresses)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 0\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout())
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout())
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 25, cfg.Store.MaxOpenConns)
	assert.False(t, cfg.Notify.Enabled())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Log.Redact())
	assert.Equal(t, tracking.DefaultPolicy(), cfg.Tracking.Policy())
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFromEnv(t *testing.T) {
	configPath := writeConfig(t, `
store:
  driver: redis
  database_url: "postgres://file"
`)

	t.Setenv("PORT", "7070")
	t.Setenv("STORE_DRIVER", "POSTGRES")
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("SQS_OPEN_QUEUE_URL", "https://sqs/opens")
	t.Setenv("API_KEY", "env-key")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("SQS_ENDPOINT", "http://localhost:4566")
	t.Setenv("SQS_ACCESS_KEY_ID", "test")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	// Environment variables should override file values
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://env", cfg.Store.DatabaseURL)
	assert.Equal(t, "https://sqs/opens", cfg.Notify.SQSQueueURL)
	assert.Equal(t, "env-key", cfg.API.Key)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "http://localhost:4566", cfg.Notify.Endpoint)
	assert.Equal(t, "test", cfg.Notify.AccessKeyID)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_BadPort(t *testing.T) {
	t.Setenv("PORT", "eighty")
	_, err := LoadFromEnv("")
	assert.Error(t, err)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		store   StoreConfig
		wantErr bool
	}{
		{"postgres ok", StoreConfig{Driver: DriverPostgres, DatabaseURL: "postgres://x"}, false},
		{"postgres missing url", StoreConfig{Driver: DriverPostgres}, true},
		{"redis ok", StoreConfig{Driver: DriverRedis, RedisURL: "redis://x"}, false},
		{"redis missing url", StoreConfig{Driver: DriverRedis}, true},
		{"unknown driver", StoreConfig{Driver: "mysql"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Config{Store: tt.store}).Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTrackingPolicy_ExplicitZeroDisablesRule(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
tracking:
  min_user_agent_length: 0
  send_grace: 0s
  dedup_window: 1500ms
`))
	require.NoError(t, err)

	p := cfg.Tracking.Policy()
	assert.Equal(t, 0, p.MinUserAgentLength)
	assert.Equal(t, time.Duration(0), p.SendGrace)
	assert.Equal(t, 1500*time.Millisecond, p.DedupWindow)
	assert.Equal(t, tracking.DefaultDenylist, p.Denylist)
}

func TestValidate_NegativeThresholds(t *testing.T) {
	store := StoreConfig{Driver: DriverRedis, RedisURL: "redis://x"}
	neg := -time.Second
	negLen := -1

	assert.Error(t, (&Config{Store: store, Tracking: TrackingConfig{SendGrace: &neg}}).Validate())
	assert.Error(t, (&Config{Store: store, Tracking: TrackingConfig{DedupWindow: &neg}}).Validate())
	assert.Error(t, (&Config{Store: store, Tracking: TrackingConfig{MinUserAgentLength: &negLen}}).Validate())
}

func TestServerAddr(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("SERVER_HOST", "")
	assert.Equal(t, "localhost:8081", ServerConfig{Host: "localhost", Port: 8081}.Addr())
}
