package mediator

import "context"

// Message is the transport-native form of an envelope. CorrelationID and ReplyTo
// travel as message properties, never inside Body.
type Message struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string
	Headers       map[string]string
}

// Delivery is an inbound message together with its acknowledgement handles.
type Delivery struct {
	Message

	ack  func(ctx context.Context) error
	nack func(ctx context.Context, requeue bool) error
}

// NewDelivery binds acknowledgement callbacks to a message. Nil callbacks are no-ops,
// which suits transports without broker-side acknowledgement.
func NewDelivery(
	m Message,
	ack func(ctx context.Context) error,
	nack func(ctx context.Context, requeue bool) error,
) Delivery {
	return Delivery{Message: m, ack: ack, nack: nack}
}

// Ack confirms the message has been handled.
func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}

	return d.ack(ctx)
}

// Nack rejects the message; with requeue the broker redelivers it.
func (d Delivery) Nack(ctx context.Context, requeue bool) error {
	if d.nack == nil {
		return nil
	}

	return d.nack(ctx, requeue)
}

// SubscribeOptions tunes a subscription.
type SubscribeOptions struct {
	// Group names a set of competing consumers; each message reaches one member.
	// Empty means a private subscription.
	Group string
	// Exclusive marks a channel owned by a single instance (reply channels).
	// Transports may create it on subscribe and remove it on close.
	Exclusive bool
	// Prefetch bounds the number of unacknowledged messages held by the consumer.
	Prefetch int
}

// Transport is a broker binding. Implementations must allow concurrent Publish calls.
// Connect failures are returned as-is; transports never retry internally.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Publish(ctx context.Context, channel string, m Message) error
	// Subscribe delivers messages until ctx is canceled or the transport is closed,
	// after which the returned channel is closed.
	Subscribe(ctx context.Context, channel string, opts SubscribeOptions) (<-chan Delivery, error)
	Close(ctx context.Context) error
}
