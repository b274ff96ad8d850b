package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/next-trace/scg-mediator/adapters/inmemory"
	"github.com/next-trace/scg-mediator/adapters/kafka"
	"github.com/next-trace/scg-mediator/adapters/nats"
	"github.com/next-trace/scg-mediator/adapters/rabbitmq"
	"github.com/next-trace/scg-mediator/adapters/sqs"
	"github.com/next-trace/scg-mediator/cache"
	"github.com/next-trace/scg-mediator/config"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
	"github.com/next-trace/scg-mediator/mediator"
	"github.com/next-trace/scg-mediator/signal"
)

// runtime holds what every command builds from configuration.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	// shared by all in-process transports of one command
	broker *inmemory.Broker
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:    cfg,
		logger: cfg.Logging.Logger(cmd.ErrOrStderr()),
		broker: inmemory.NewBroker(),
	}, nil
}

// NewTransport builds the transport selected by cfg.Transport.Kind. Nothing is
// dialed until Connect.
func NewTransport(cfg *config.Config, broker *inmemory.Broker) (cmed.Transport, error) {
	switch cfg.Transport.Kind {
	case "inmemory":
		return inmemory.New(broker), nil
	case "nats":
		return nats.New(nats.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			Token:         cfg.NATS.Token,
			User:          cfg.NATS.User,
			Password:      cfg.NATS.Password,
			ConnTimeout:   cfg.NATS.ConnTimeout,
			ReconnectWait: cfg.NATS.ReconnectWait,
			MaxReconnects: cfg.NATS.MaxReconnects,
		}), nil
	case "rabbitmq":
		return rabbitmq.New(rabbitmq.Config{
			URL:         cfg.RabbitMQ.URL,
			ConnTimeout: cfg.RabbitMQ.ConnTimeout,
			Exchange:    cfg.RabbitMQ.Exchange,
		}), nil
	case "kafka":
		return kafka.New(kafka.Config{
			Brokers:     cfg.Kafka.Brokers,
			ClientID:    cfg.Kafka.ClientID,
			Acks:        cfg.Kafka.Acks,
			Compression: cfg.Kafka.Compression,
		}), nil
	case "sqs":
		return sqs.New(sqs.Config{
			Region:            cfg.SQS.Region,
			Endpoint:          cfg.SQS.Endpoint,
			AccessKeyID:       cfg.SQS.AccessKeyID,
			SecretAccessKey:   cfg.SQS.SecretAccessKey,
			VisibilityTimeout: cfg.SQS.VisibilityTimeout,
			WaitTime:          cfg.SQS.WaitTime,
			DiscoveryTTL:      cfg.SQS.DiscoveryTTL,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
	}
}

func (rt *runtime) mediatorOptions(extra ...mediator.Option) []mediator.Option {
	m := rt.cfg.Mediator

	return append([]mediator.Option{
		mediator.WithRequestChannel(m.RequestChannel),
		mediator.WithReplyChannel(m.ReplyChannel),
		mediator.WithResponseTimeout(m.ResponseTimeout),
		mediator.WithPrefetch(m.Prefetch),
		mediator.WithConsumers(m.Consumers),
		mediator.WithLogger(rt.logger),
	}, extra...)
}

func (rt *runtime) signalOptions(extra ...signal.Option) []signal.Option {
	s := rt.cfg.Signal

	return append([]signal.Option{
		signal.WithChannel(s.Channel),
		signal.WithGroup(s.Group),
		signal.WithPrefetch(s.Prefetch),
		signal.WithConsumers(s.Consumers),
		signal.WithLogger(rt.logger),
	}, extra...)
}

// withCache wraps m in the response cache when enabled. The returned function
// releases the store.
func (rt *runtime) withCache(m cmed.Mediator) (cmed.Mediator, func(), error) {
	c := rt.cfg.Cache
	if !c.Enabled {
		return m, func() {}, nil
	}

	opts := []cache.Option{
		cache.WithTTL(c.TTL),
		cache.WithKind(rt.cfg.Transport.Kind),
		cache.WithLogger(rt.logger),
	}

	if c.Store == "memory" {
		return cache.New(m, cache.NewMemoryStore(), opts...), func() {}, nil
	}

	store, err := cache.OpenGormStore(c.Driver, c.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache store: %w", err)
	}

	return cache.New(m, store, opts...), func() { _ = store.Close() }, nil
}
