package mediator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
	"github.com/next-trace/scg-mediator/internal/jsoncodec"
	"github.com/next-trace/scg-mediator/internal/telemetry"
)

// handleRequest serves one inbound request. The delivery is acknowledged only after
// the reply has been published; a failed publish puts the request back on the queue.
func (b *Broker) handleRequest(ctx context.Context, d cmed.Delivery) {
	ctx = b.opts.propagator.Extract(ctx, d.Headers)

	env, err := cmed.DecodeEnvelope(d.Body)
	if err != nil {
		b.opts.logger.WarnContext(ctx, "dropping malformed request", "correlation_id", d.CorrelationID, "err", err)
		b.ack(ctx, d)

		return
	}

	ctx, span := telemetry.Start(ctx, telemetry.SpanHandle, trace.SpanKindConsumer, env.Pattern, b.transport.Name())
	resp := b.execute(ctx, env)
	telemetry.Finish(span, resp.Error)

	if d.ReplyTo == "" {
		b.opts.logger.DebugContext(ctx, "request without reply channel, result dropped",
			"pattern", env.Pattern, "correlation_id", d.CorrelationID)
		b.ack(ctx, d)

		return
	}

	body, err := cmed.EncodeReply(resp)
	if err != nil {
		b.opts.logger.ErrorContext(ctx, "serialize reply", "pattern", env.Pattern, "err", err)
		body, _ = cmed.EncodeReply(cmed.Failure[any](merr.SerializationError)) //nolint:errcheck // fixed shape
	}

	headers := make(map[string]string)
	b.opts.propagator.Inject(ctx, headers)

	reply := cmed.Message{Body: body, CorrelationID: d.CorrelationID, Headers: headers}
	if err := b.transport.Publish(ctx, d.ReplyTo, reply); err != nil {
		b.opts.logger.ErrorContext(ctx, "publish reply",
			"pattern", env.Pattern, "correlation_id", d.CorrelationID, "channel", d.ReplyTo, "err", err)

		if err := d.Nack(ctx, true); err != nil {
			b.opts.logger.WarnContext(ctx, "nack request", "correlation_id", d.CorrelationID, "err", err)
		}

		return
	}

	b.ack(ctx, d)
}

// execute resolves and runs the service for env. It never panics.
func (b *Broker) execute(ctx context.Context, env cmed.Envelope) (resp cmed.Response[any]) {
	defer func() {
		if r := recover(); r != nil {
			b.opts.logger.ErrorContext(ctx, "request dispatch panicked", "pattern", env.Pattern, "panic", fmt.Sprint(r))
			resp = cmed.Failure[any](merr.Unknown)
		}
	}()

	svc, ok := b.opts.services.Service(env.Pattern)
	if !ok {
		b.opts.logger.DebugContext(ctx, "no service bound", "pattern", env.Pattern)
		return cmed.Failure[any](merr.ServiceNotFound)
	}

	if jsoncodec.IsNull(env.Payload) && !svc.AllowsNullRequest() {
		return cmed.Failure[any](merr.NullRequest)
	}

	req, err := svc.DecodeRequest(env.Payload)
	if err != nil {
		b.opts.logger.DebugContext(ctx, "decode request", "pattern", env.Pattern,
			"request_type", env.RequestType, "expected", svc.RequestType(), "err", err)

		return cmed.Failure[any](merr.InvalidRequestType)
	}

	return svc.Run(ctx, req)
}
