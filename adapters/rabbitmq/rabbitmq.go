package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
)

// Connection is the part of an AMQP connection used by the transport.
type Connection interface {
	Channel() (Channel, error)
	Close() error
}

// Channel mirrors the *amqp.Channel methods used by the transport.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(
		queue, consumer string,
		autoAck, exclusive, noLocal, noWait bool,
		args amqp.Table,
	) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(
		ctx context.Context,
		exchange, key string,
		mandatory, immediate bool,
		msg amqp.Publishing,
	) error
	Close() error
}

// Transport binds mediators to RabbitMQ. Publishing goes through one channel guarded
// by a mutex; every subscription consumes on its own channel so prefetch applies per
// subscription.
type Transport struct {
	cfg  Config
	dial func(Config) (Connection, error)

	mu   sync.RWMutex
	conn Connection
	pub  Channel

	pubMu  sync.Mutex
	seq    atomic.Uint64
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// Ensure Transport implements the transport contract.
var _ cmed.Transport = (*Transport)(nil)

// New creates a transport that dials cfg.URL on Connect.
func New(cfg Config) *Transport {
	return &Transport{cfg: cfg.withDefaults(), dial: dial, closed: make(chan struct{})}
}

// NewWithConnection creates a transport over an established connection. The exchange
// is declared on Connect.
func NewWithConnection(c Connection, cfg Config) *Transport {
	t := New(cfg)
	t.conn = c

	return t
}

func (t *Transport) Name() string { return "rabbitmq" }

func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pub != nil {
		return nil
	}

	if t.conn == nil {
		if t.cfg.URL == "" {
			return fmt.Errorf("rabbitmq connect: url required: %w", merr.ErrConnectFailed)
		}

		c, err := t.dial(t.cfg)
		if err != nil {
			return fmt.Errorf("rabbitmq connect: %w", errors.Join(merr.ErrConnectFailed, err))
		}

		t.conn = c
	}

	ch, err := t.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", errors.Join(merr.ErrConnectFailed, err))
	}

	if err := ch.ExchangeDeclare(t.cfg.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close() //nolint:errcheck // already failing

		return fmt.Errorf("rabbitmq exchange %s: %w", t.cfg.Exchange, errors.Join(merr.ErrConnectFailed, err))
	}

	t.pub = ch

	return nil
}

func (t *Transport) ready(ctx context.Context, base error, label string) (Connection, Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.pub == nil {
		return nil, nil, fmt.Errorf("rabbitmq %s: %w", label, errors.Join(base, merr.ErrNotConnected))
	}

	return t.conn, t.pub, nil
}

func (t *Transport) Publish(ctx context.Context, channel string, m cmed.Message) error {
	_, pub, err := t.ready(ctx, merr.ErrPublishFailed, "publish")
	if err != nil {
		return err
	}

	t.pubMu.Lock()
	err = pub.PublishWithContext(ctx, t.cfg.Exchange, channel, false, false, toPublishing(m))
	t.pubMu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq publish %s: %w", channel, errors.Join(merr.ErrPublishFailed, err))
	}

	return nil
}

func (t *Transport) Subscribe(
	ctx context.Context,
	channel string,
	opts cmed.SubscribeOptions,
) (<-chan cmed.Delivery, error) {
	conn, _, err := t.ready(ctx, merr.ErrSubscribeFailed, "subscribe")
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, subscribeErr(channel, err)
	}

	tag := "scg-mediator-" + strconv.FormatUint(t.seq.Add(1), 10)

	msgs, err := t.consume(ch, channel, tag, opts)
	if err != nil {
		_ = ch.Close() //nolint:errcheck // already failing

		return nil, subscribeErr(channel, err)
	}

	out := make(chan cmed.Delivery)

	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		defer close(out)
		defer func() {
			_ = ch.Cancel(tag, false) //nolint:errcheck // the channel closes next
			_ = ch.Close()            //nolint:errcheck // unacked messages return to the queue
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.closed:
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}

				select {
				case out <- toDelivery(d):
				case <-ctx.Done():
					_ = d.Nack(false, true) //nolint:errcheck // best-effort requeue

					return
				case <-t.closed:
					_ = d.Nack(false, true) //nolint:errcheck // best-effort requeue

					return
				}
			}
		}
	}()

	return out, nil
}

func (t *Transport) consume(ch Channel, channel, tag string, opts cmed.SubscribeOptions) (<-chan amqp.Delivery, error) {
	if opts.Prefetch > 0 {
		if err := ch.Qos(opts.Prefetch, 0, false); err != nil {
			return nil, err
		}
	}

	name, durable := queueName(channel, opts.Group), true
	if opts.Group == "" || opts.Exclusive {
		durable = false
	}

	q, err := ch.QueueDeclare(name, durable, !durable, opts.Group == "", false, nil)
	if err != nil {
		return nil, err
	}

	if err := ch.QueueBind(q.Name, channel, t.cfg.Exchange, false, nil); err != nil {
		return nil, err
	}

	return ch.Consume(q.Name, tag, false, false, false, false, nil)
}

// Close ends every subscription, then closes the publishing channel and the connection.
func (t *Transport) Close(ctx context.Context) error {
	t.once.Do(func() { close(t.closed) })

	done := make(chan struct{})

	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error

	if t.pub != nil {
		errs = append(errs, t.pub.Close())
		t.pub = nil
	}

	if t.conn != nil {
		errs = append(errs, t.conn.Close())
		t.conn = nil
	}

	return errors.Join(errs...)
}

// queueName returns "" for private subscriptions so the server names the queue.
func queueName(channel, group string) string {
	switch group {
	case "":
		return ""
	case channel:
		return channel
	default:
		return channel + "." + group
	}
}

func subscribeErr(channel string, err error) error {
	return fmt.Errorf("rabbitmq subscribe %s: %w", channel, errors.Join(merr.ErrSubscribeFailed, err))
}

func toPublishing(m cmed.Message) amqp.Publishing {
	var h amqp.Table
	if len(m.Headers) > 0 {
		h = amqp.Table{}
		for k, v := range m.Headers {
			h[k] = v
		}
	}

	return amqp.Publishing{
		Headers:       h,
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: m.CorrelationID,
		ReplyTo:       m.ReplyTo,
		Timestamp:     time.Now(),
		Body:          m.Body,
	}
}

func toDelivery(d amqp.Delivery) cmed.Delivery {
	m := cmed.Message{Body: d.Body, CorrelationID: d.CorrelationId, ReplyTo: d.ReplyTo}

	if len(d.Headers) > 0 {
		m.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			if s, ok := v.(string); ok {
				m.Headers[k] = s
				continue
			}

			m.Headers[k] = fmt.Sprint(v)
		}
	}

	return cmed.NewDelivery(m,
		func(context.Context) error { return d.Ack(false) },
		func(_ context.Context, requeue bool) error { return d.Nack(false, requeue) },
	)
}
