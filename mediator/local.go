package mediator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
	"github.com/next-trace/scg-mediator/internal/telemetry"
)

const localTransport = "local"

// Local dispatches requests in-process: the service runs in the caller's goroutine.
//
// Local is concurrency-safe and contains no global state.
type Local struct {
	factory cmed.ServiceFactory
	opts    options
	state   atomic.Int32
}

var _ cmed.Mediator = (*Local)(nil)

// NewLocal constructs a Local mediator resolving services through factory.
func NewLocal(factory cmed.ServiceFactory, opts ...Option) *Local {
	return &Local{factory: factory, opts: newOptions(opts)}
}

// Init opens the dispatch window. A shut down mediator cannot be restarted.
func (m *Local) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if m.state.CompareAndSwap(stateIdle, stateRunning) || m.state.Load() == stateRunning {
		return nil
	}

	return fmt.Errorf("local mediator init: %w", merr.ErrNotRunning)
}

// Shutdown closes the dispatch window. Requests already running complete normally.
func (m *Local) Shutdown(context.Context) error {
	m.state.Store(stateStopped)
	return nil
}

// Send resolves pattern and runs the bound service.
func (m *Local) Send(ctx context.Context, pattern string, message any) cmed.Response[any] {
	start := time.Now()

	ctx, span := telemetry.Start(ctx, telemetry.SpanSend, trace.SpanKindInternal, pattern, localTransport)
	resp := m.send(ctx, pattern, message)
	telemetry.Finish(span, resp.Error)

	m.opts.metrics.observe(localTransport, pattern, resp.Error, time.Since(start))

	return resp
}

func (m *Local) send(ctx context.Context, pattern string, message any) cmed.Response[any] {
	if m.state.Load() != stateRunning {
		return cmed.Failure[any](merr.Unavailable)
	}

	if pattern == "" {
		return cmed.Failure[any](merr.InvalidPattern)
	}

	if err := ctx.Err(); err != nil {
		return cmed.Failure[any](codeFor(err))
	}

	svc, ok := m.factory.Service(pattern)
	if !ok {
		m.opts.logger.DebugContext(ctx, "no service bound", "pattern", pattern)
		return cmed.Failure[any](merr.ServiceNotFound)
	}

	return svc.Run(ctx, message)
}
