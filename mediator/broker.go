package mediator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
	"github.com/next-trace/scg-mediator/internal/consume"
	"github.com/next-trace/scg-mediator/internal/jsoncodec"
	"github.com/next-trace/scg-mediator/internal/telemetry"
)

// Broker sends requests over a transport and correlates replies arriving on its
// exclusive reply channel. With WithServices it also serves requests for its registry,
// competing with every other instance consuming the same request channel.
//
// Broker is concurrency-safe and contains no global state.
type Broker struct {
	transport    cmed.Transport
	opts         options
	replyChannel string
	pending      *pendingCalls

	mu      sync.Mutex
	state   atomic.Int32
	stopped chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ cmed.Mediator = (*Broker)(nil)

// NewBroker constructs a broker mediator over transport. Nothing is connected until Init.
func NewBroker(transport cmed.Transport, opts ...Option) *Broker {
	o := newOptions(opts)
	o.logger = o.logger.With("transport", transport.Name())

	reply := o.replyChannel
	if reply == "" {
		reply = o.requestChannel + ".reply." + ulid.Make().String()
	}

	return &Broker{
		transport:    transport,
		opts:         o,
		replyChannel: reply,
		pending:      &pendingCalls{gauge: o.metrics.pendingGauge(transport.Name())},
		stopped:      make(chan struct{}),
	}
}

// ReplyChannel returns the exclusive channel this instance receives replies on.
func (b *Broker) ReplyChannel() string { return b.replyChannel }

// PendingCalls reports how many requests are awaiting a reply.
func (b *Broker) PendingCalls() int { return b.pending.len() }

// Init connects the transport, subscribes the reply channel and, when services are
// configured, starts the request consumers. Connection errors are returned unchanged
// and never retried.
func (b *Broker) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state.Load() {
	case stateRunning:
		return nil
	case stateStopped:
		return fmt.Errorf("broker mediator init: %w", merr.ErrNotRunning)
	}

	if err := b.transport.Connect(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if err := b.subscribe(runCtx); err != nil {
		cancel()
		b.wg.Wait()

		return errors.Join(err, b.transport.Close(ctx))
	}

	b.cancel = cancel
	b.state.Store(stateRunning)

	b.opts.logger.InfoContext(ctx, "broker mediator started",
		"request_channel", b.opts.requestChannel,
		"reply_channel", b.replyChannel,
		"serving", b.opts.services != nil,
	)

	return nil
}

func (b *Broker) subscribe(ctx context.Context) error {
	replies, err := b.transport.Subscribe(ctx, b.replyChannel, cmed.SubscribeOptions{
		Exclusive: true,
		Prefetch:  b.opts.prefetch,
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.replyChannel, err)
	}

	b.spawn(ctx, replies, b.handleReply)

	if b.opts.services == nil {
		return nil
	}

	for range b.opts.consumers {
		requests, err := b.transport.Subscribe(ctx, b.opts.requestChannel, cmed.SubscribeOptions{
			Group:    b.opts.requestChannel,
			Prefetch: b.opts.prefetch,
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", b.opts.requestChannel, err)
		}

		b.spawn(ctx, requests, b.handleRequest)
	}

	return nil
}

// spawn consumes deliveries until the subscription ends. Handlers run detached from
// ctx so in-flight work survives Shutdown canceling the subscription.
func (b *Broker) spawn(ctx context.Context, deliveries <-chan cmed.Delivery, h consume.Handler) {
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()
		consume.Run(context.WithoutCancel(ctx), deliveries, b.opts.prefetch, h)
	}()
}

// Shutdown stops consuming, waits for in-flight handlers (bounded by ctx), fails every
// pending call with Unavailable and closes the transport.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Swap(stateStopped) != stateRunning {
		return nil
	}

	close(b.stopped)
	b.cancel()

	waitErr := b.wait(ctx)

	if n := b.pending.failAll(merr.Unavailable); n > 0 {
		b.opts.logger.InfoContext(ctx, "failed pending calls on shutdown", "count", n)
	}

	return errors.Join(waitErr, b.transport.Close(ctx))
}

func (b *Broker) wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("broker mediator drain: %w", ctx.Err())
	}
}

// Send publishes message for pattern and waits for the correlated reply.
func (b *Broker) Send(ctx context.Context, pattern string, message any) cmed.Response[any] {
	start := time.Now()
	name := b.transport.Name()

	ctx, span := telemetry.Start(ctx, telemetry.SpanSend, trace.SpanKindProducer, pattern, name)
	resp := b.send(ctx, pattern, message)
	telemetry.Finish(span, resp.Error)

	b.opts.metrics.observe(name, pattern, resp.Error, time.Since(start))

	return resp
}

func (b *Broker) send(ctx context.Context, pattern string, message any) cmed.Response[any] {
	if b.state.Load() != stateRunning {
		return cmed.Failure[any](merr.Unavailable)
	}

	if pattern == "" {
		return cmed.Failure[any](merr.InvalidPattern)
	}

	if err := ctx.Err(); err != nil {
		return cmed.Failure[any](codeFor(err))
	}

	if message == nil && b.rejectsNull(pattern) {
		return cmed.Failure[any](merr.NullRequest)
	}

	env, err := cmed.NewEnvelope(pattern, message)
	if err != nil {
		b.opts.logger.ErrorContext(ctx, "serialize request", "pattern", pattern, "err", err)
		return cmed.Failure[any](merr.SerializationError)
	}

	body, err := cmed.EncodeEnvelope(env)
	if err != nil {
		b.opts.logger.ErrorContext(ctx, "serialize request", "pattern", pattern, "err", err)
		return cmed.Failure[any](merr.SerializationError)
	}

	id := uuid.NewString()
	headers := make(map[string]string)
	b.opts.propagator.Inject(ctx, headers)

	ch := b.pending.add(id)

	msg := cmed.Message{Body: body, CorrelationID: id, ReplyTo: b.replyChannel, Headers: headers}
	if err := b.transport.Publish(ctx, b.opts.requestChannel, msg); err != nil {
		b.pending.remove(id)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return cmed.Failure[any](codeFor(ctxErr))
		}

		b.opts.logger.ErrorContext(ctx, "publish request",
			"pattern", pattern, "correlation_id", id, "channel", b.opts.requestChannel, "err", err)

		return cmed.Failure[any](merr.Unknown)
	}

	timer := time.NewTimer(b.opts.responseTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp
	case <-timer.C:
		return b.abandon(id, ch, merr.Timeout)
	case <-ctx.Done():
		return b.abandon(id, ch, codeFor(ctx.Err()))
	case <-b.stopped:
		return b.abandon(id, ch, merr.Unavailable)
	}
}

// rejectsNull reports whether a locally known service refuses null requests. Patterns
// served elsewhere are checked by the receiver.
func (b *Broker) rejectsNull(pattern string) bool {
	if b.opts.services == nil {
		return false
	}

	svc, ok := b.opts.services.Service(pattern)

	return ok && !svc.AllowsNullRequest()
}

// abandon fails the call with code unless a reply won the race for its slot.
func (b *Broker) abandon(id string, ch <-chan cmed.Response[any], code string) cmed.Response[any] {
	if b.pending.remove(id) {
		return cmed.Failure[any](code)
	}

	return <-ch
}

func (b *Broker) handleReply(ctx context.Context, d cmed.Delivery) {
	if !b.pending.resolve(d.CorrelationID, replyResponse(d.Body)) {
		b.opts.metrics.lateReply(b.transport.Name())
		b.opts.logger.DebugContext(ctx, "dropping late or foreign reply", "correlation_id", d.CorrelationID)
	}

	b.ack(ctx, d)
}

func replyResponse(body []byte) cmed.Response[any] {
	if jsoncodec.IsNull(body) {
		return cmed.Failure[any](merr.NullResponse)
	}

	resp, err := cmed.DecodeReply(body)
	if err != nil {
		return cmed.Failure[any](merr.SerializationError)
	}

	return resp
}

func (b *Broker) ack(ctx context.Context, d cmed.Delivery) {
	if err := d.Ack(ctx); err != nil {
		b.opts.logger.WarnContext(ctx, "ack delivery", "correlation_id", d.CorrelationID, "err", err)
	}
}
