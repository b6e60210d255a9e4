// Package kconfig loads and validates the service's configuration, the
// same viper-driven shape the teacher's internal/common/config uses, cut
// down to what the lag computation core and its surrounding CLI/HTTP shell
// actually need.
package kconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/kafkesc/kcl-lag-exporter/internal/kcerrors"
	"github.com/kafkesc/kcl-lag-exporter/internal/logger"
)

// ErrConfiguration is re-exported for convenience at call sites that only
// import kconfig.
var ErrConfiguration = kcerrors.ErrConfiguration

// EmitterConfig is the fetch/send tuning for one of the snapshot emitters
// (spec.md §4.1's table). FetchTimeout documents the intended per-emitter
// budget; since the admin connection is shared across emitters and
// sarama's ClusterAdmin calls take no context, it isn't separately
// enforced per call (see kafkaclient.Dial's shared scfg.Admin.Timeout).
type EmitterConfig struct {
	FetchInterval time.Duration `mapstructure:"fetch_interval"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
}

// KafkaConfig holds bootstrap and auth options for the admin/consumer
// clients built on top of it.
type KafkaConfig struct {
	Brokers               []string `mapstructure:"brokers" validate:"required,min=1"`
	SASLUsername          string   `mapstructure:"sasl_username"`
	SASLPassword          string   `mapstructure:"sasl_password"`
	TLSEnable             bool     `mapstructure:"tls_enable"`
	TLSInsecureSkip       bool     `mapstructure:"tls_insecure_skip_verify"`
	ConsumerOffsetsTopic  string   `mapstructure:"consumer_offsets_topic" validate:"required"`
	InternalConsumerGroup string   `mapstructure:"internal_consumer_group" validate:"required"`
}

// ServerConfig holds the HTTP surface's listen address.
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// Config is the top-level configuration for the service.
type Config struct {
	ClusterID string `mapstructure:"cluster_id"`

	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Server ServerConfig `mapstructure:"server"`
	Logger logger.Config `mapstructure:"logger"`

	OffsetsHistory int `mapstructure:"offsets_history" validate:"min=1"`

	ClusterStatus  EmitterConfig `mapstructure:"cluster_status"`
	ConsumerGroups EmitterConfig `mapstructure:"consumer_groups"`

	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	LagStaleAfter     time.Duration `mapstructure:"lag_stale_after"`
}

// Default returns the configuration defaults documented in spec.md §4.1 and
// §4.4, before any file or flag overrides are applied.
func Default() Config {
	return Config{
		Kafka: KafkaConfig{
			ConsumerOffsetsTopic:  "__consumer_offsets",
			InternalConsumerGroup: "kcl-lag-exporter",
		},
		Server: ServerConfig{Addr: ":8080"},
		Logger: logger.Config{Level: "info", Format: "text", Output: "console"},

		OffsetsHistory: 100,

		ClusterStatus: EmitterConfig{
			FetchInterval: 10 * time.Second,
			FetchTimeout:  5 * time.Second,
			SendTimeout:   100 * time.Millisecond,
		},
		ConsumerGroups: EmitterConfig{
			FetchInterval: 1 * time.Second,
			FetchTimeout:  100 * time.Millisecond,
			SendTimeout:   100 * time.Millisecond,
		},

		ReconcileInterval: 1 * time.Second,
		LagStaleAfter:     5 * time.Second,
	}
}

// Load reads configuration from the given file (if non-empty and present),
// environment variables prefixed KCL_, any flags already bound onto v, and
// viper defaults, then validates the result. A load or validation failure
// is a ConfigurationError: fatal at startup, per spec.md §7.
//
// v is the caller's viper instance: the CLI layer binds its persistent
// flags onto it with BindPFlag before calling Load, so a flag value set on
// the command line is visible here without Load needing to know about
// cobra at all. Pass a fresh viper.New() for isolated, flag-free loading
// (as the tests do).
func Load(path string, v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("KCL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("cluster_id", def.ClusterID)
	v.SetDefault("kafka.brokers", def.Kafka.Brokers)
	v.SetDefault("kafka.consumer_offsets_topic", def.Kafka.ConsumerOffsetsTopic)
	v.SetDefault("kafka.internal_consumer_group", def.Kafka.InternalConsumerGroup)
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("logger.level", def.Logger.Level)
	v.SetDefault("logger.format", def.Logger.Format)
	v.SetDefault("logger.output", def.Logger.Output)
	v.SetDefault("offsets_history", def.OffsetsHistory)
	v.SetDefault("cluster_status.fetch_interval", def.ClusterStatus.FetchInterval)
	v.SetDefault("cluster_status.fetch_timeout", def.ClusterStatus.FetchTimeout)
	v.SetDefault("cluster_status.send_timeout", def.ClusterStatus.SendTimeout)
	v.SetDefault("consumer_groups.fetch_interval", def.ConsumerGroups.FetchInterval)
	v.SetDefault("consumer_groups.fetch_timeout", def.ConsumerGroups.FetchTimeout)
	v.SetDefault("consumer_groups.send_timeout", def.ConsumerGroups.SendTimeout)
	v.SetDefault("reconcile_interval", def.ReconcileInterval)
	v.SetDefault("lag_stale_after", def.LagStaleAfter)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading config file %q: %v", ErrConfiguration, path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshalling config: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct-tag constraints and the few cross-field rules
// viper/mapstructure can't express on their own.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if c.OffsetsHistory < 1 {
		return fmt.Errorf("%w: offsets_history must be >= 1", ErrConfiguration)
	}
	return nil
}
