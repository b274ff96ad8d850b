// Package config loads mediatorctl settings from a YAML file, SCG_ environment
// variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SCG_TRANSPORT_KIND.
const EnvPrefix = "SCG"

// Config is the main configuration struct combining all sub-configs.
type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	NATS      NATSConfig      `mapstructure:"nats"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	SQS       SQSConfig       `mapstructure:"sqs"`
	Mediator  MediatorConfig  `mapstructure:"mediator"`
	Signal    SignalConfig    `mapstructure:"signal"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type TransportConfig struct {
	Kind string `mapstructure:"kind" validate:"required,oneof=inmemory nats rabbitmq kafka sqs"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	Token         string        `mapstructure:"token"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	ConnTimeout   time.Duration `mapstructure:"conn_timeout" validate:"min=0"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" validate:"min=0"`
	MaxReconnects int           `mapstructure:"max_reconnects" validate:"min=-1"`
}

type RabbitMQConfig struct {
	URL         string        `mapstructure:"url"`
	ConnTimeout time.Duration `mapstructure:"conn_timeout" validate:"min=0"`
	Exchange    string        `mapstructure:"exchange"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	ClientID    string   `mapstructure:"client_id"`
	Acks        string   `mapstructure:"acks" validate:"omitempty,oneof=all leader none"`
	Compression string   `mapstructure:"compression" validate:"omitempty,oneof=gzip snappy lz4 zstd"`
}

type SQSConfig struct {
	Region            string        `mapstructure:"region"`
	Endpoint          string        `mapstructure:"endpoint" validate:"omitempty,url"`
	AccessKeyID       string        `mapstructure:"access_key_id"`
	SecretAccessKey   string        `mapstructure:"secret_access_key"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"min=0"`
	WaitTime          time.Duration `mapstructure:"wait_time" validate:"min=0,max=20s"`
	DiscoveryTTL      time.Duration `mapstructure:"discovery_ttl" validate:"min=0"`
}

type MediatorConfig struct {
	RequestChannel  string        `mapstructure:"request_channel" validate:"required"`
	ReplyChannel    string        `mapstructure:"reply_channel"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout" validate:"gt=0"`
	Prefetch        int           `mapstructure:"prefetch" validate:"min=1"`
	Consumers       int           `mapstructure:"consumers" validate:"min=1"`
}

type SignalConfig struct {
	Channel   string `mapstructure:"channel" validate:"required"`
	Group     string `mapstructure:"group"`
	Prefetch  int    `mapstructure:"prefetch" validate:"min=1"`
	Consumers int    `mapstructure:"consumers" validate:"min=1"`
}

// CacheConfig enables the response cache in front of the mediator.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl" validate:"gt=0"`
	Store   string        `mapstructure:"store" validate:"required,oneof=memory sql"`
	Driver  string        `mapstructure:"driver" validate:"omitempty,oneof=sqlite postgres"`
	DSN     string        `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address" validate:"required_if=Enabled true"`
}

// Load reads configuration with priority env > file > defaults. An empty path
// looks for config.yaml in the working directory and ./configs; a missing file
// is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env is optional

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg) //nolint:errcheck // defaults always decode

	return &cfg
}
