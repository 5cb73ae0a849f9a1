package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/returns-service/internal/domain"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PLATFORM_BASE_URL", "https://oms.example.com/api")
	t.Setenv("PLATFORM_TOKEN", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "returns_db", cfg.MongoDB.Database)
	assert.Equal(t, "return_queue", cfg.QueueCollection)
	assert.Equal(t, 30*time.Second, cfg.Platform.Timeout)
	assert.Equal(t, domain.DefaultFailurePolicy(), cfg.FailurePolicy)
	assert.True(t, cfg.KafkaEnabled)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "refund-processor", cfg.ServiceName())
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MONGODB_URI", "mongodb://mongo:27017")
	t.Setenv("BATCH_LIMIT", "250")
	t.Setenv("PLATFORM_TIMEOUT", "5s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("FAILURE_POLICY_RETURN_CLOSE", "strict")
	t.Setenv("FAILURE_POLICY_RETURN_SUBMIT", "best_effort")
	t.Setenv("PUSHGATEWAY_URL", "http://pushgateway:9091")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "mongodb://mongo:27017", cfg.MongoDB.URI)
	assert.Equal(t, 250, cfg.BatchLimit)
	assert.Equal(t, 5*time.Second, cfg.Platform.Timeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, domain.FailureModeStrict, cfg.FailurePolicy.ReturnClose)
	assert.Equal(t, domain.FailureModeBestEffort, cfg.FailurePolicy.ReturnSubmit)
	assert.Equal(t, domain.FailureModeBestEffort, cfg.FailurePolicy.ReturnFetch)
	assert.Equal(t, "http://pushgateway:9091", cfg.PushgatewayURL)
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logLevel: warn
queueCollection: returns_inbox
batchLimit: 50
platform:
  baseUrl: https://file.example.com
  token: from-file
  timeout: 12s
failurePolicy:
  returnFetch: strict
  returnSubmit: strict
  returnClose: best_effort
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PLATFORM_TOKEN", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "returns_inbox", cfg.QueueCollection)
	assert.Equal(t, 50, cfg.BatchLimit)
	assert.Equal(t, "https://file.example.com", cfg.Platform.BaseURL)
	assert.Equal(t, "from-env", cfg.Platform.Token)
	assert.Equal(t, 12*time.Second, cfg.Platform.Timeout)
	assert.Equal(t, domain.FailureModeStrict, cfg.FailurePolicy.ReturnFetch)
	assert.Equal(t, domain.FailureModeStrict, cfg.FailurePolicy.ReturnSubmit)
	assert.Equal(t, domain.FailureModeBestEffort, cfg.FailurePolicy.ReturnClose)
	// keys absent from the file keep their defaults
	assert.Equal(t, "returns_db", cfg.MongoDB.Database)
}

func TestLoad_YAMLRejectsUnknownFailureMode(t *testing.T) {
	setRequiredEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("failurePolicy:\n  returnFetch: sometimes\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown failure mode")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing platform token", env: map[string]string{"PLATFORM_BASE_URL": "https://oms.example.com"}},
		{name: "bad failure mode", env: map[string]string{"FAILURE_POLICY_RETURN_FETCH": "sometimes"}},
		{name: "bad batch limit", env: map[string]string{"BATCH_LIMIT": "many"}},
		{name: "negative batch limit", env: map[string]string{"BATCH_LIMIT": "-1"}},
		{name: "bad timeout", env: map[string]string{"PLATFORM_TIMEOUT": "soon"}},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "verbose"}},
		{name: "missing config file", env: map[string]string{"CONFIG_FILE": "/nonexistent/config.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name != "missing platform token" {
				setRequiredEnv(t)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
