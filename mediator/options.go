package mediator

import (
	"log/slog"
	"time"

	cmed "github.com/next-trace/scg-mediator/contract/mediator"
	"github.com/next-trace/scg-mediator/internal/telemetry"
)

// Defaults applied by NewBroker.
const (
	DefaultRequestChannel  = "mediator.requests"
	DefaultResponseTimeout = 5 * time.Second
	DefaultPrefetch        = 10
	DefaultConsumers       = 1
)

type options struct {
	services        cmed.ServiceFactory
	requestChannel  string
	replyChannel    string
	responseTimeout time.Duration
	prefetch        int
	consumers       int
	logger          *slog.Logger
	metrics         *Metrics
	propagator      cmed.HeaderPropagator
}

// Option configures a Local or Broker mediator. Options that only concern the broker
// path are ignored by Local.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		requestChannel:  DefaultRequestChannel,
		responseTimeout: DefaultResponseTimeout,
		prefetch:        DefaultPrefetch,
		consumers:       DefaultConsumers,
		propagator:      telemetry.Propagator{},
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}

	return o
}

// WithServices enables the receiving side of a Broker: requests on the request channel
// are resolved through factory and answered on their reply channel.
func WithServices(factory cmed.ServiceFactory) Option {
	return func(o *options) { o.services = factory }
}

// WithRequestChannel sets the channel requests are published to and consumed from.
func WithRequestChannel(name string) Option {
	return func(o *options) {
		if name != "" {
			o.requestChannel = name
		}
	}
}

// WithReplyChannel sets this instance's exclusive reply channel. It must be unique per
// instance; the default is derived from the request channel and a ULID.
func WithReplyChannel(name string) Option {
	return func(o *options) { o.replyChannel = name }
}

// WithResponseTimeout bounds how long Send waits for a reply.
func WithResponseTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.responseTimeout = d
		}
	}
}

// WithPrefetch bounds in-flight deliveries per consumer.
func WithPrefetch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.prefetch = n
		}
	}
}

// WithConsumers sets the number of request consumers started by Init.
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

// WithMetrics records request metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPropagator replaces the OpenTelemetry header propagator.
func WithPropagator(p cmed.HeaderPropagator) Option {
	return func(o *options) {
		if p != nil {
			o.propagator = p
		}
	}
}
