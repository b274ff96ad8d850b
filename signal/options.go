package signal

import (
	"log/slog"

	cmed "github.com/next-trace/scg-mediator/contract/mediator"
	"github.com/next-trace/scg-mediator/internal/telemetry"
)

// Defaults applied by NewBroker.
const (
	DefaultChannel   = "signals"
	DefaultGroup     = "signals"
	DefaultPrefetch  = 10
	DefaultConsumers = 1
)

type options struct {
	handlers   cmed.SignalHandlerFactory
	channel    string
	group      string
	prefetch   int
	consumers  int
	logger     *slog.Logger
	propagator cmed.HeaderPropagator
}

// Option configures a Local or Broker emitter.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		channel:    DefaultChannel,
		group:      DefaultGroup,
		prefetch:   DefaultPrefetch,
		consumers:  DefaultConsumers,
		propagator: telemetry.Propagator{},
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}

	return o
}

// WithHandlers makes a Broker consume the signal channel and dispatch events to the
// handlers resolved through factory.
func WithHandlers(factory cmed.SignalHandlerFactory) Option {
	return func(o *options) { o.handlers = factory }
}

// WithChannel sets the channel events are published to and consumed from.
func WithChannel(name string) Option {
	return func(o *options) {
		if name != "" {
			o.channel = name
		}
	}
}

// WithGroup sets the consumer group. Instances sharing a group split the events between
// them; every group receives every event.
func WithGroup(name string) Option {
	return func(o *options) {
		if name != "" {
			o.group = name
		}
	}
}

// WithPrefetch bounds in-flight events per consumer.
func WithPrefetch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.prefetch = n
		}
	}
}

// WithConsumers sets the number of consumers started by Init.
func WithConsumers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.consumers = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPropagator replaces the OpenTelemetry header propagator.
func WithPropagator(p cmed.HeaderPropagator) Option {
	return func(o *options) {
		if p != nil {
			o.propagator = p
		}
	}
}
