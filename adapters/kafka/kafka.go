package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/twmb/franz-go/pkg/kgo"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
)

// Record headers carrying message properties.
const (
	HeaderCorrelationID = "correlation-id"
	HeaderReplyTo       = "reply-to"
)

// Producer writes records. Users can adapt any Kafka client to this.
type Producer interface {
	// ProduceSync returns once the record is acknowledged.
	ProduceSync(ctx context.Context, rec *kgo.Record) error
	Close()
}

// Consumer reads records for one consumer group.
type Consumer interface {
	// Poll blocks until records are available. It fails once ctx is done or the
	// consumer is closed.
	Poll(ctx context.Context, max int) ([]*kgo.Record, error)
	// Commit marks the records as consumed for the group.
	Commit(ctx context.Context, recs ...*kgo.Record) error
	Close()
}

// ConsumerFactory creates a consumer of topic in group.
type ConsumerFactory func(topic, group string) (Consumer, error)

// Transport binds mediators to Kafka topics. Groups are consumer groups; private
// subscriptions get a unique group so they see every record. Kafka cannot requeue a
// single record, so a requeueing Nack produces it again.
//
// Deliveries of one subscription may be acknowledged in any order. The group offset of
// a partition only advances past records that are all settled, so a crash redelivers
// every record whose handler had not finished.
type Transport struct {
	cfg         Config
	newProducer func(Config) (Producer, error)
	newConsumer func(Config) ConsumerFactory

	mu       sync.RWMutex
	producer Producer
	consumer ConsumerFactory

	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// Ensure Transport implements the transport contract.
var _ cmed.Transport = (*Transport)(nil)

// New creates a transport that connects to cfg.Brokers on Connect.
func New(cfg Config) *Transport {
	return &Transport{cfg: cfg, newProducer: newProducer, newConsumer: consumerFactory, closed: make(chan struct{})}
}

// NewWithClients creates a transport over an established producer and consumer factory.
func NewWithClients(p Producer, c ConsumerFactory) *Transport {
	t := New(Config{})
	t.producer = p
	t.consumer = c

	return t
}

func (t *Transport) Name() string { return "kafka" }

func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.producer != nil {
		return nil
	}

	if len(t.cfg.Brokers) == 0 {
		return fmt.Errorf("kafka connect: brokers required: %w", merr.ErrConnectFailed)
	}

	p, err := t.newProducer(t.cfg)
	if err != nil {
		return fmt.Errorf("kafka connect: %w", errors.Join(merr.ErrConnectFailed, err))
	}

	t.producer = p
	t.consumer = t.newConsumer(t.cfg)

	return nil
}

func (t *Transport) ready(ctx context.Context, base error, label string) (Producer, ConsumerFactory, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.producer == nil {
		return nil, nil, fmt.Errorf("kafka %s: %w", label, errors.Join(base, merr.ErrNotConnected))
	}

	return t.producer, t.consumer, nil
}

func (t *Transport) Publish(ctx context.Context, channel string, m cmed.Message) error {
	p, _, err := t.ready(ctx, merr.ErrPublishFailed, "publish")
	if err != nil {
		return err
	}

	if err := p.ProduceSync(ctx, toRecord(channel, m)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("kafka publish %s: %w", channel, errors.Join(merr.ErrPublishFailed, err))
	}

	return nil
}

func (t *Transport) Subscribe(
	ctx context.Context,
	channel string,
	opts cmed.SubscribeOptions,
) (<-chan cmed.Delivery, error) {
	p, factory, err := t.ready(ctx, merr.ErrSubscribeFailed, "subscribe")
	if err != nil {
		return nil, err
	}

	group := opts.Group
	if group == "" {
		group = channel + "." + ulid.Make().String()
	}

	c, err := factory(channel, group)
	if err != nil {
		return nil, fmt.Errorf("kafka subscribe %s: %w", channel, errors.Join(merr.ErrSubscribeFailed, err))
	}

	pollCtx, cancel := context.WithCancel(ctx)
	out := make(chan cmed.Delivery)
	offs := newOffsets(c)

	t.wg.Add(2)

	go func() {
		defer t.wg.Done()

		select {
		case <-t.closed:
			cancel()
		case <-pollCtx.Done():
		}
	}()

	go func() {
		defer t.wg.Done()
		defer close(out)
		defer c.Close()
		defer cancel()

		for {
			recs, err := c.Poll(pollCtx, opts.Prefetch)
			if err != nil {
				return
			}

			for _, r := range recs {
				select {
				case out <- delivery(p, offs, offs.track(r)):
				case <-pollCtx.Done():
					// uncommitted records are redelivered to the group
					return
				}
			}
		}
	}()

	return out, nil
}

func delivery(p Producer, offs *offsets, pr *pending) cmed.Delivery {
	r := pr.rec

	return cmed.NewDelivery(fromRecord(r),
		func(ctx context.Context) error { return offs.settle(ctx, pr) },
		func(ctx context.Context, requeue bool) error {
			if requeue {
				again := &kgo.Record{Topic: r.Topic, Key: r.Key, Value: r.Value, Headers: r.Headers}
				if err := p.ProduceSync(ctx, again); err != nil {
					return err
				}
			}

			return offs.settle(ctx, pr)
		},
	)
}

type partition struct {
	topic string
	id    int32
}

type pending struct {
	rec     *kgo.Record
	settled bool
}

// offsets tracks the delivered records of one consumer per partition, in offset order.
type offsets struct {
	c Consumer

	mu       sync.Mutex
	inflight map[partition][]*pending
}

func newOffsets(c Consumer) *offsets {
	return &offsets{c: c, inflight: make(map[partition][]*pending)}
}

// track registers r before it is handed out. Records of a partition arrive in offset
// order.
func (o *offsets) track(r *kgo.Record) *pending {
	o.mu.Lock()
	defer o.mu.Unlock()

	pr := &pending{rec: r}
	key := partition{r.Topic, r.Partition}
	o.inflight[key] = append(o.inflight[key], pr)

	return pr
}

// settle marks pr as done and commits the longest settled prefix of its partition.
// Commits are serialized so the group offset never moves backwards.
func (o *offsets) settle(ctx context.Context, pr *pending) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if pr.settled {
		return nil
	}

	pr.settled = true

	key := partition{pr.rec.Topic, pr.rec.Partition}
	queue := o.inflight[key]

	n := 0
	for n < len(queue) && queue[n].settled {
		n++
	}

	if n == 0 {
		return nil
	}

	last := queue[n-1].rec

	if n == len(queue) {
		delete(o.inflight, key)
	} else {
		o.inflight[key] = queue[n:]
	}

	return o.c.Commit(ctx, last)
}

// Close ends every subscription and closes the producer.
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

	if t.producer != nil {
		t.producer.Close()
		t.producer = nil
		t.consumer = nil
	}

	return nil
}

func toRecord(topic string, m cmed.Message) *kgo.Record {
	rec := &kgo.Record{Topic: topic, Value: m.Body}

	rec.Headers = make([]kgo.RecordHeader, 0, len(m.Headers)+2)
	for k, v := range m.Headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	if m.CorrelationID != "" {
		rec.Key = []byte(m.CorrelationID)
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: HeaderCorrelationID, Value: []byte(m.CorrelationID)})
	}

	if m.ReplyTo != "" {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: HeaderReplyTo, Value: []byte(m.ReplyTo)})
	}

	return rec
}

func fromRecord(r *kgo.Record) cmed.Message {
	m := cmed.Message{Body: r.Value}

	for _, h := range r.Headers {
		switch h.Key {
		case HeaderCorrelationID:
			m.CorrelationID = string(h.Value)
		case HeaderReplyTo:
			m.ReplyTo = string(h.Value)
		default:
			if m.Headers == nil {
				m.Headers = make(map[string]string, len(r.Headers))
			}

			m.Headers[h.Key] = string(h.Value)
		}
	}

	return m
}
