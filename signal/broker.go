package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
	"github.com/next-trace/scg-mediator/internal/consume"
	"github.com/next-trace/scg-mediator/internal/telemetry"
)

// Broker publishes events to a signal channel. With WithHandlers it also consumes that
// channel in its group and dispatches each event to every bound handler.
//
// Broker is concurrency-safe and contains no global state.
type Broker struct {
	transport cmed.Transport
	opts      options

	mu     sync.Mutex
	state  atomic.Int32
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ cmed.SignalEmitter = (*Broker)(nil)

// NewBroker constructs a broker emitter over transport. Nothing is connected until Init.
func NewBroker(transport cmed.Transport, opts ...Option) *Broker {
	o := newOptions(opts)
	o.logger = o.logger.With("transport", transport.Name())

	return &Broker{transport: transport, opts: o}
}

// Init connects the transport and, when handlers are configured, starts the consumers.
// Connection errors are returned unchanged.
func (b *Broker) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state.Load() {
	case stateRunning:
		return nil
	case stateStopped:
		return fmt.Errorf("broker emitter init: %w", merr.ErrNotRunning)
	}

	if err := b.transport.Connect(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if b.opts.handlers != nil {
		for range b.opts.consumers {
			events, err := b.transport.Subscribe(runCtx, b.opts.channel, cmed.SubscribeOptions{
				Group:    b.opts.group,
				Prefetch: b.opts.prefetch,
			})
			if err != nil {
				cancel()
				b.wg.Wait()

				return errors.Join(fmt.Errorf("subscribe %s: %w", b.opts.channel, err), b.transport.Close(ctx))
			}

			b.wg.Add(1)

			go func() {
				defer b.wg.Done()
				consume.Run(context.WithoutCancel(runCtx), events, b.opts.prefetch, b.handleEvent)
			}()
		}
	}

	b.cancel = cancel
	b.state.Store(stateRunning)

	b.opts.logger.InfoContext(ctx, "broker emitter started",
		"channel", b.opts.channel, "group", b.opts.group, "consuming", b.opts.handlers != nil)

	return nil
}

// Shutdown stops consuming, waits for running handlers (bounded by ctx) and closes the
// transport.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Swap(stateStopped) != stateRunning {
		return nil
	}

	b.cancel()

	done := make(chan struct{})

	go func() {
		b.wg.Wait()
		close(done)
	}()

	var waitErr error

	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("broker emitter drain: %w", ctx.Err())
	}

	return errors.Join(waitErr, b.transport.Close(ctx))
}

// Emit publishes event for pattern. It returns once the transport accepted the message;
// no correlation or reply metadata is attached.
func (b *Broker) Emit(ctx context.Context, pattern string, event any) (err error) {
	if b.state.Load() != stateRunning {
		return fmt.Errorf("emit %s: %w", pattern, merr.ErrNotRunning)
	}

	if pattern == "" {
		return fmt.Errorf("emit: %w", merr.ErrInvalidPattern)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := telemetry.Start(ctx, telemetry.SpanEmit, trace.SpanKindProducer, pattern, b.transport.Name())
	defer func() { telemetry.FinishErr(span, err) }()

	env, err := cmed.NewEnvelope(pattern, event)
	if err != nil {
		return fmt.Errorf("emit %s: %w", pattern, errors.Join(merr.ErrSerializationFailed, err))
	}

	body, err := cmed.EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("emit %s: %w", pattern, errors.Join(merr.ErrSerializationFailed, err))
	}

	headers := make(map[string]string)
	b.opts.propagator.Inject(ctx, headers)

	if err := b.transport.Publish(ctx, b.opts.channel, cmed.Message{Body: body, Headers: headers}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		return fmt.Errorf("emit %s: %w", pattern, errors.Join(merr.ErrPublishFailed, err))
	}

	return nil
}

// handleEvent runs every handler for the event concurrently and acknowledges the
// delivery once all of them returned.
func (b *Broker) handleEvent(ctx context.Context, d cmed.Delivery) {
	ctx = b.opts.propagator.Extract(ctx, d.Headers)

	defer func() {
		if err := d.Ack(ctx); err != nil {
			b.opts.logger.WarnContext(ctx, "ack event", "err", err)
		}
	}()

	env, err := cmed.DecodeEnvelope(d.Body)
	if err != nil {
		b.opts.logger.WarnContext(ctx, "dropping malformed event", "err", err)
		return
	}

	handlers := b.opts.handlers.SignalHandlers(env.Pattern)
	if len(handlers) == 0 {
		b.opts.logger.DebugContext(ctx, "no signal handlers bound", "pattern", env.Pattern)
		return
	}

	var wg sync.WaitGroup

	for _, h := range handlers {
		wg.Go(func() {
			hctx, span := telemetry.Start(ctx, telemetry.SpanSignal, trace.SpanKindConsumer, env.Pattern, b.transport.Name())

			event, err := h.DecodeEvent(env.Payload)
			if err != nil {
				b.opts.logger.ErrorContext(hctx, "decode event", "pattern", env.Pattern,
					"request_type", env.RequestType, "err", err)
				telemetry.FinishErr(span, err)

				return
			}

			telemetry.FinishErr(span, dispatch(hctx, h, event, b.opts.logger))
		})
	}

	wg.Wait()
}
