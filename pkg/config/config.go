package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgeflare/itemetl/pkg/pipeline/peer/kafka"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X .../pkg/config.Version=...".
var Version = "dev"

const envPrefix = "ITEMETL"

// Config holds application-wide configuration
type Config struct {
	Kafka     kafka.Config    `mapstructure:"kafka"`
	Topic     TopicConfig     `mapstructure:"topic"`
	Forwarder ForwarderConfig `mapstructure:"forwarder"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	LogLevel  string          `mapstructure:"logLevel"`
}

// TopicConfig describes the shared item-events topic.
type TopicConfig struct {
	Name        string `mapstructure:"name"`
	Partitions  int32  `mapstructure:"partitions"`
	Replicas    int16  `mapstructure:"replicas"`
	RetentionMS int64  `mapstructure:"retentionMS"`
}

type ForwarderConfig struct {
	RawPartition         int32         `mapstructure:"rawPartition"`
	ProcessedPartition   int32         `mapstructure:"processedPartition"`
	GroupID              string        `mapstructure:"groupID"`
	RetryInitialInterval time.Duration `mapstructure:"retryInitialInterval"`
	RetryMaxInterval     time.Duration `mapstructure:"retryMaxInterval"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// SetDefaults registers every key so that environment overrides reach
// nested fields on Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.version", "")
	v.SetDefault("kafka.clientID", "itemetl")
	v.SetDefault("kafka.initialOffset", "oldest")
	v.SetDefault("kafka.connectTimeout", 30*time.Second)
	v.SetDefault("kafka.sasl.enable", false)
	v.SetDefault("kafka.sasl.algorithm", "sha512")
	v.SetDefault("kafka.sasl.username", "")
	v.SetDefault("kafka.sasl.password", "")
	v.SetDefault("kafka.tls.enable", false)
	v.SetDefault("kafka.tls.certFile", "")
	v.SetDefault("kafka.tls.keyFile", "")
	v.SetDefault("kafka.tls.caFile", "")
	v.SetDefault("kafka.tls.skipVerify", false)

	v.SetDefault("topic.name", "item-events")
	v.SetDefault("topic.partitions", 2)
	v.SetDefault("topic.replicas", 1)
	v.SetDefault("topic.retentionMS", 0)

	v.SetDefault("forwarder.rawPartition", 0)
	v.SetDefault("forwarder.processedPartition", 1)
	v.SetDefault("forwarder.groupID", "manage-item-etl")
	v.SetDefault("forwarder.retryInitialInterval", 100*time.Millisecond)
	v.SetDefault("forwarder.retryMaxInterval", 10*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logLevel", "info")
}

// New returns a viper instance with defaults and environment bindings for
// itemetl. Keys map to ITEMETL_<SECTION>_<KEY>, e.g. ITEMETL_KAFKA_BROKERS.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the deployment manifests pass brokers as KAFKA_BOOTSTRAP_SERVERS
	_ = v.BindEnv("kafka.brokers", envPrefix+"_KAFKA_BROKERS", "KAFKA_BOOTSTRAP_SERVERS")

	return v
}

// Load reads config from file or environment
func Load(cfgFile string) (*Config, error) {
	return LoadWith(New(), cfgFile)
}

// LoadWith reads config into v, which may already carry bound flags.
func LoadWith(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("itemetl")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings the forwarder cannot run without.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers must not be empty"))
	}
	for _, b := range c.Kafka.Brokers {
		if strings.TrimSpace(b) == "" {
			errs = append(errs, errors.New("kafka.brokers contains an empty address"))
			break
		}
	}
	if c.Topic.Name == "" {
		errs = append(errs, errors.New("topic.name must not be empty"))
	}
	if c.Forwarder.GroupID == "" {
		errs = append(errs, errors.New("forwarder.groupID must not be empty"))
	}
	if c.Forwarder.RawPartition < 0 || c.Forwarder.ProcessedPartition < 0 {
		errs = append(errs, errors.New("partitions must not be negative"))
	}
	if c.Forwarder.RawPartition == c.Forwarder.ProcessedPartition {
		errs = append(errs, fmt.Errorf("raw and processed partition must differ, both are %d", c.Forwarder.RawPartition))
	}
	if need := max(c.Forwarder.RawPartition, c.Forwarder.ProcessedPartition) + 1; c.Topic.Partitions < need {
		errs = append(errs, fmt.Errorf("topic.partitions is %d, need at least %d", c.Topic.Partitions, need))
	}
	if c.Forwarder.RetryInitialInterval <= 0 || c.Forwarder.RetryMaxInterval < c.Forwarder.RetryInitialInterval {
		errs = append(errs, errors.New("forwarder retry intervals must be positive and max >= initial"))
	}

	return errors.Join(errs...)
}

// TopicSpec returns the topic layout for kafka.Client.EnsureTopic.
func (c *Config) TopicSpec() kafka.TopicSpec {
	return kafka.TopicSpec{
		Name:        c.Topic.Name,
		Partitions:  c.Topic.Partitions,
		Replicas:    c.Topic.Replicas,
		RetentionMS: c.Topic.RetentionMS,
	}
}
