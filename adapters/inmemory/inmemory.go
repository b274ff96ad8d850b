package inmemory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
)

const queueDepth = 1024

// Broker is a thread-safe in-process message broker. Every channel fans out to its
// groups; within a group each message reaches a single member. Group queues outlive
// their members like durable broker queues, private queues vanish with their subscriber.
// Messages published to a channel without any queue are dropped.
type Broker struct {
	mu       sync.Mutex
	channels map[string]map[string]*queue
	seq      int
}

type queue struct {
	ch      chan cmed.Message
	members int
	private bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{channels: make(map[string]map[string]*queue)}
}

func (b *Broker) publish(ctx context.Context, channel string, m cmed.Message) error {
	b.mu.Lock()
	targets := make([]*queue, 0, len(b.channels[channel]))
	for _, q := range b.channels[channel] {
		targets = append(targets, q)
	}
	b.mu.Unlock()

	for _, q := range targets {
		select {
		case q.ch <- clone(m):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (b *Broker) join(channel, group string) (*queue, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	private := group == ""
	if private {
		b.seq++
		group = "private." + strconv.Itoa(b.seq)
	}

	groups, ok := b.channels[channel]
	if !ok {
		groups = make(map[string]*queue)
		b.channels[channel] = groups
	}

	q, ok := groups[group]
	if !ok {
		q = &queue{ch: make(chan cmed.Message, queueDepth), private: private}
		groups[group] = q
	}

	q.members++

	return q, group
}

func (b *Broker) leave(channel, group string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.channels[channel][group]
	if !ok {
		return
	}

	q.members--
	if q.members == 0 && q.private {
		delete(b.channels[channel], group)
	}
}

// Depth reports the number of queued messages for a channel group. Useful in tests.
func (b *Broker) Depth(channel, group string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.channels[channel][group]
	if !ok {
		return 0
	}

	return len(q.ch)
}

// Transport binds a mediator or emitter to a Broker. Several transports may share a
// broker to model independent processes.
type Transport struct {
	broker *Broker

	mu        sync.Mutex
	connected bool
	closed    chan struct{}
	wg        sync.WaitGroup
}

// Ensure Transport implements the transport contract.
var _ cmed.Transport = (*Transport)(nil)

// New creates a transport attached to b.
func New(b *Broker) *Transport {
	return &Transport{broker: b, closed: make(chan struct{})}
}

func (t *Transport) Name() string { return "inmemory" }

func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if t.broker == nil {
		return fmt.Errorf("inmemory connect: %w", merr.ErrConnectFailed)
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	return nil
}

func (t *Transport) ready(label string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return fmt.Errorf("inmemory %s: %w", label, merr.ErrNotConnected)
	}

	return nil
}

func (t *Transport) Publish(ctx context.Context, channel string, m cmed.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := t.ready("publish"); err != nil {
		return err
	}

	if channel == "" {
		return fmt.Errorf("inmemory publish: empty channel: %w", merr.ErrPublishFailed)
	}

	return t.broker.publish(ctx, channel, m)
}

func (t *Transport) Subscribe(
	ctx context.Context,
	channel string,
	opts cmed.SubscribeOptions,
) (<-chan cmed.Delivery, error) {
	if err := t.ready("subscribe"); err != nil {
		return nil, err
	}

	if channel == "" {
		return nil, fmt.Errorf("inmemory subscribe: empty channel: %w", merr.ErrSubscribeFailed)
	}

	q, group := t.broker.join(channel, opts.Group)
	out := make(chan cmed.Delivery)

	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		defer close(out)
		defer t.broker.leave(channel, group)

		t.pump(ctx, q, out)
	}()

	return out, nil
}

func (t *Transport) pump(ctx context.Context, q *queue, out chan<- cmed.Delivery) {
	for {
		var m cmed.Message

		select {
		case m = <-q.ch:
		case <-ctx.Done():
			return
		case <-t.closed:
			return
		}

		d := cmed.NewDelivery(m, nil, func(ctx context.Context, requeue bool) error {
			if !requeue {
				return nil
			}

			select {
			case q.ch <- m:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})

		select {
		case out <- d:
		case <-ctx.Done():
			q.ch <- m
			return
		case <-t.closed:
			q.ch <- m
			return
		}
	}
}

// Close stops every subscription of this transport and waits for them to finish.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	t.connected = false
	t.mu.Unlock()

	done := make(chan struct{})

	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clone(m cmed.Message) cmed.Message {
	out := m
	out.Body = append([]byte(nil), m.Body...)

	if m.Headers != nil {
		out.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			out.Headers[k] = v
		}
	}

	return out
}
