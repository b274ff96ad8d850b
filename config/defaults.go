package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults registers a default for every key. Registering each key also lets
// AutomaticEnv resolve variables for keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("transport.kind", "inmemory")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.name", "scg-mediator")
	v.SetDefault("nats.token", "")
	v.SetDefault("nats.user", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.conn_timeout", 5*time.Second)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.max_reconnects", 60)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.conn_timeout", 5*time.Second)
	v.SetDefault("rabbitmq.exchange", "scg.mediator")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "scg-mediator")
	v.SetDefault("kafka.acks", "all")
	v.SetDefault("kafka.compression", "")

	v.SetDefault("sqs.region", "")
	v.SetDefault("sqs.endpoint", "")
	v.SetDefault("sqs.access_key_id", "")
	v.SetDefault("sqs.secret_access_key", "")
	v.SetDefault("sqs.visibility_timeout", 30*time.Second)
	v.SetDefault("sqs.wait_time", 20*time.Second)
	v.SetDefault("sqs.discovery_ttl", 30*time.Second)

	v.SetDefault("mediator.request_channel", "mediator.requests")
	v.SetDefault("mediator.reply_channel", "")
	v.SetDefault("mediator.response_timeout", 5*time.Second)
	v.SetDefault("mediator.prefetch", 10)
	v.SetDefault("mediator.consumers", 1)

	v.SetDefault("signal.channel", "signals")
	v.SetDefault("signal.group", "signals")
	v.SetDefault("signal.prefetch", 10)
	v.SetDefault("signal.consumers", 1)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", time.Second)
	v.SetDefault("cache.store", "memory")
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.dsn", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9090")
}
