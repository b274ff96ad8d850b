package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
)

// HeaderCorrelationID carries the correlation id; the reply subject travels in Msg.Reply.
const HeaderCorrelationID = "Correlation-Id"

// Client is the part of a NATS connection used by the transport. Users can wrap their
// own connection to satisfy it.
type Client interface {
	// Publish sends m and returns once the server has accepted it.
	Publish(m *nats.Msg) error
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (Subscription, error)
	Close() error
}

// Subscription is an active NATS subscription.
type Subscription interface {
	Unsubscribe() error
}

// Transport binds mediators to NATS subjects. Groups map to queue groups; core NATS
// has no broker-side acknowledgement, so Ack is a no-op and a requeueing Nack
// republishes the message to its subject. Delivery is therefore at most once: a
// request in flight when the consumer dies is lost.
type Transport struct {
	cfg  Config
	dial func(Config) (Client, error)

	mu     sync.RWMutex
	client Client
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// Ensure Transport implements the transport contract.
var _ cmed.Transport = (*Transport)(nil)

// New creates a transport that dials cfg.URL on Connect.
func New(cfg Config) *Transport {
	return &Transport{cfg: cfg, dial: dial, closed: make(chan struct{})}
}

// NewWithClient creates a transport over an established client.
func NewWithClient(c Client) *Transport {
	t := New(Config{})
	t.client = c

	return t
}

func (t *Transport) Name() string { return "nats" }

func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return nil
	}

	if t.cfg.URL == "" {
		return fmt.Errorf("nats connect: url required: %w", merr.ErrConnectFailed)
	}

	c, err := t.dial(t.cfg)
	if err != nil {
		return fmt.Errorf("nats connect: %w", errors.Join(merr.ErrConnectFailed, err))
	}

	t.client = c

	return nil
}

func (t *Transport) ready(ctx context.Context, base error, label string) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.client == nil {
		return nil, fmt.Errorf("nats %s: %w", label, errors.Join(base, merr.ErrNotConnected))
	}

	return t.client, nil
}

func (t *Transport) Publish(ctx context.Context, channel string, m cmed.Message) error {
	c, err := t.ready(ctx, merr.ErrPublishFailed, "publish")
	if err != nil {
		return err
	}

	if err := c.Publish(toMsg(channel, m)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats publish %s: %w", channel, errors.Join(merr.ErrPublishFailed, err))
	}

	return nil
}

func (t *Transport) Subscribe(
	ctx context.Context,
	channel string,
	opts cmed.SubscribeOptions,
) (<-chan cmed.Delivery, error) {
	c, err := t.ready(ctx, merr.ErrSubscribeFailed, "subscribe")
	if err != nil {
		return nil, err
	}

	out := make(chan cmed.Delivery)
	stop := make(chan struct{})

	var (
		mu   sync.RWMutex
		done bool
	)

	sub, err := c.QueueSubscribe(channel, opts.Group, func(msg *nats.Msg) {
		mu.RLock()
		defer mu.RUnlock()

		if done {
			return
		}

		select {
		case out <- t.delivery(c, msg):
		case <-stop:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, errors.Join(merr.ErrSubscribeFailed, err))
	}

	t.wg.Add(1)

	go func() {
		defer t.wg.Done()

		select {
		case <-ctx.Done():
		case <-t.closed:
		}

		_ = sub.Unsubscribe() //nolint:errcheck // best-effort; the connection may already be gone

		close(stop)
		mu.Lock()
		done = true
		close(out)
		mu.Unlock()
	}()

	return out, nil
}

func (t *Transport) delivery(c Client, msg *nats.Msg) cmed.Delivery {
	return cmed.NewDelivery(fromMsg(msg), nil, func(_ context.Context, requeue bool) error {
		if !requeue {
			return nil
		}

		return c.Publish(&nats.Msg{Subject: msg.Subject, Reply: msg.Reply, Header: msg.Header, Data: msg.Data})
	})
}

// Close ends every subscription and closes the connection.
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

	if t.client == nil {
		return nil
	}

	err := t.client.Close()
	t.client = nil

	return err
}

func toMsg(subject string, m cmed.Message) *nats.Msg {
	h := nats.Header{}
	for k, v := range m.Headers {
		h.Set(k, v)
	}

	if m.CorrelationID != "" {
		h.Set(HeaderCorrelationID, m.CorrelationID)
	}

	return &nats.Msg{Subject: subject, Reply: m.ReplyTo, Header: h, Data: m.Body}
}

func fromMsg(msg *nats.Msg) cmed.Message {
	m := cmed.Message{Body: msg.Data, ReplyTo: msg.Reply}

	if len(msg.Header) == 0 {
		return m
	}

	m.Headers = make(map[string]string, len(msg.Header))

	for k := range msg.Header {
		if k == HeaderCorrelationID {
			m.CorrelationID = msg.Header.Get(k)
			continue
		}

		m.Headers[k] = msg.Header.Get(k)
	}

	return m
}
