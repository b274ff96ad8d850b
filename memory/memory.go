// Package memory wires a broker mediator and a signal emitter to one in-process
// broker. It gives tests and examples the full broker path (envelopes, correlation,
// reply channels, groups) without running a message broker.
package memory

import (
	"context"
	"errors"
	"log/slog"

	"github.com/next-trace/scg-mediator/adapters/inmemory"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
	"github.com/next-trace/scg-mediator/mediator"
	"github.com/next-trace/scg-mediator/signal"
)

// Registry provides both services and signal handlers; *service.Registry satisfies it.
type Registry interface {
	cmed.ServiceFactory
	cmed.SignalHandlerFactory
}

// Bus is a running mediator and emitter sharing one broker.
type Bus struct {
	Mediator *mediator.Broker
	Signals  *signal.Broker
	Broker   *inmemory.Broker
}

// New starts a mediator serving r and an emitter dispatching to r. The cleanup
// function shuts both down.
func New(ctx context.Context, r Registry, logger *slog.Logger) (*Bus, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	b := inmemory.NewBroker()
	bus := &Bus{
		Mediator: mediator.NewBroker(inmemory.New(b), mediator.WithServices(r), mediator.WithLogger(logger)),
		Signals:  signal.NewBroker(inmemory.New(b), signal.WithHandlers(r), signal.WithLogger(logger)),
		Broker:   b,
	}

	if err := bus.Mediator.Init(ctx); err != nil {
		return nil, nil, err
	}

	if err := bus.Signals.Init(ctx); err != nil {
		return nil, nil, errors.Join(err, bus.Mediator.Shutdown(context.WithoutCancel(ctx)))
	}

	cleanup := func() {
		_ = bus.Shutdown(context.Background()) //nolint:errcheck // cleanup is best-effort
	}

	return bus, cleanup, nil
}

// Shutdown stops the emitter, then the mediator.
func (b *Bus) Shutdown(ctx context.Context) error {
	return errors.Join(b.Signals.Shutdown(ctx), b.Mediator.Shutdown(ctx))
}
