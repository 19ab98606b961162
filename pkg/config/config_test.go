package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "itemetl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "oldest", cfg.Kafka.InitialOffset)
	assert.Equal(t, 30*time.Second, cfg.Kafka.ConnectTimeout)
	assert.Equal(t, "item-events", cfg.Topic.Name)
	assert.Equal(t, int32(2), cfg.Topic.Partitions)
	assert.Equal(t, int32(0), cfg.Forwarder.RawPartition)
	assert.Equal(t, int32(1), cfg.Forwarder.ProcessedPartition)
	assert.Equal(t, "manage-item-etl", cfg.Forwarder.GroupID)
	assert.Equal(t, 100*time.Millisecond, cfg.Forwarder.RetryInitialInterval)
	assert.Equal(t, 10*time.Second, cfg.Forwarder.RetryMaxInterval)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
kafka:
  brokers:
    - kafka-0:9092
    - kafka-1:9092
  connectTimeout: 5s
  sasl:
    enable: true
    algorithm: sha256
    username: etl
topic:
  name: items
  partitions: 4
forwarder:
  rawPartition: 2
  processedPartition: 3
  groupID: etl-blue
  retryMaxInterval: 1m
metrics:
  addr: 127.0.0.1:9200
logLevel: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-0:9092", "kafka-1:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.Kafka.ConnectTimeout)
	assert.True(t, cfg.Kafka.SASL.Enable)
	assert.Equal(t, "sha256", cfg.Kafka.SASL.Algorithm)
	assert.Equal(t, "etl", cfg.Kafka.SASL.Username)
	assert.Equal(t, "items", cfg.Topic.Name)
	assert.Equal(t, int32(2), cfg.Forwarder.RawPartition)
	assert.Equal(t, int32(3), cfg.Forwarder.ProcessedPartition)
	assert.Equal(t, "etl-blue", cfg.Forwarder.GroupID)
	assert.Equal(t, time.Minute, cfg.Forwarder.RetryMaxInterval)
	assert.Equal(t, "127.0.0.1:9200", cfg.Metrics.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())

	spec := cfg.TopicSpec()
	assert.Equal(t, "items", spec.Name)
	assert.Equal(t, int32(4), spec.Partitions)
}

func TestLoadEnv(t *testing.T) {
	path := writeConfig(t, "logLevel: warn\n")
	t.Setenv("ITEMETL_FORWARDER_GROUPID", "from-env")
	t.Setenv("ITEMETL_KAFKA_CONNECTTIMEOUT", "2s")
	t.Setenv("ITEMETL_METRICS_ENABLED", "false")
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "b1:9092,b2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Forwarder.GroupID)
	assert.Equal(t, 2*time.Second, cfg.Kafka.ConnectTimeout)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadPrefixedBrokersWin(t *testing.T) {
	path := writeConfig(t, "")
	t.Setenv("ITEMETL_KAFKA_BROKERS", "primary:9092")
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "fallback:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"primary:9092"}, cfg.Kafka.Brokers)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})

	t.Run("bad duration", func(t *testing.T) {
		path := writeConfig(t, "forwarder:\n  retryMaxInterval: soon\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unable to decode config")
	})
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }, "kafka.brokers must not be empty"},
		{"blank broker", func(c *Config) { c.Kafka.Brokers = []string{" "} }, "empty address"},
		{"no topic", func(c *Config) { c.Topic.Name = "" }, "topic.name must not be empty"},
		{"no group", func(c *Config) { c.Forwarder.GroupID = "" }, "forwarder.groupID must not be empty"},
		{"same partition", func(c *Config) { c.Forwarder.ProcessedPartition = 0 }, "must differ"},
		{"negative partition", func(c *Config) { c.Forwarder.RawPartition = -1 }, "must not be negative"},
		{"topic too small", func(c *Config) { c.Topic.Partitions = 1 }, "need at least 2"},
		{"bad retry", func(c *Config) { c.Forwarder.RetryMaxInterval = time.Millisecond }, "retry intervals"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
