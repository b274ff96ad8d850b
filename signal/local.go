package signal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
	"github.com/next-trace/scg-mediator/internal/telemetry"
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// Local dispatches events to in-process handlers, each in its own goroutine.
//
// Local is concurrency-safe and contains no global state.
type Local struct {
	factory cmed.SignalHandlerFactory
	opts    options
	state   atomic.Int32

	// mu orders the running check and wg.Add in Emit before Shutdown starts waiting.
	mu sync.Mutex
	wg sync.WaitGroup
}

var _ cmed.SignalEmitter = (*Local)(nil)

// NewLocal constructs a Local emitter resolving handlers through factory.
func NewLocal(factory cmed.SignalHandlerFactory, opts ...Option) *Local {
	return &Local{factory: factory, opts: newOptions(opts)}
}

// Init opens the emit window. A shut down emitter cannot be restarted.
func (l *Local) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if l.state.CompareAndSwap(stateIdle, stateRunning) || l.state.Load() == stateRunning {
		return nil
	}

	return fmt.Errorf("local emitter init: %w", merr.ErrNotRunning)
}

// Shutdown closes the emit window and waits for running handlers, bounded by ctx.
func (l *Local) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.state.Store(stateStopped)
	l.mu.Unlock()

	done := make(chan struct{})

	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("local emitter drain: %w", ctx.Err())
	}
}

// Emit starts every handler bound to pattern and returns without waiting for them.
// Handlers run detached from ctx cancellation.
func (l *Local) Emit(ctx context.Context, pattern string, event any) error {
	if pattern == "" {
		return fmt.Errorf("emit: %w", merr.ErrInvalidPattern)
	}

	handlers := l.factory.SignalHandlers(pattern)

	l.mu.Lock()

	if l.state.Load() != stateRunning {
		l.mu.Unlock()
		return fmt.Errorf("emit %s: %w", pattern, merr.ErrNotRunning)
	}

	l.wg.Add(len(handlers))
	l.mu.Unlock()

	if len(handlers) == 0 {
		l.opts.logger.DebugContext(ctx, "no signal handlers bound", "pattern", pattern)
		return nil
	}

	detached := context.WithoutCancel(ctx)

	for _, h := range handlers {
		go func() {
			defer l.wg.Done()

			hctx, span := telemetry.Start(detached, telemetry.SpanSignal, trace.SpanKindInternal, pattern, "local")
			telemetry.FinishErr(span, dispatch(hctx, h, event, l.opts.logger))
		}()
	}

	return nil
}

// dispatch runs one handler with panic isolation and logs its failure.
func dispatch(ctx context.Context, h cmed.SignalHandler, event any, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("signal handler %s panicked: %v", h.Pattern(), r)
		}

		if err != nil {
			logger.ErrorContext(ctx, "signal handler failed", "pattern", h.Pattern(), "err", err)
		}
	}()

	return h.Handle(ctx, event)
}
