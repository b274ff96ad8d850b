package sqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/oklog/ulid/v2"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
)

// Message attributes carrying message properties.
const (
	AttrCorrelationID = "CorrelationId"
	AttrReplyTo       = "ReplyTo"

	groupSeparator = "--"
	maxBatch       = 10
)

// Client mirrors the *sqs.Client methods used by the transport.
type Client interface {
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ListQueues(ctx context.Context, in *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error)
	CreateQueue(ctx context.Context, in *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	DeleteQueue(ctx context.Context, in *sqs.DeleteQueueInput, optFns ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(
		ctx context.Context,
		in *sqs.ReceiveMessageInput,
		optFns ...func(*sqs.Options),
	) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(
		ctx context.Context,
		in *sqs.ChangeMessageVisibilityInput,
		optFns ...func(*sqs.Options),
	) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Transport binds mediators to SQS queues.
type Transport struct {
	cfg  Config
	dial func(context.Context, Config) (Client, error)

	mu     sync.RWMutex
	client Client

	// channel -> resolved queue urls; empty results are not cached
	targets sync.Map

	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

type targetSet struct {
	urls    []string
	expires time.Time
}

// Ensure Transport implements the transport contract.
var _ cmed.Transport = (*Transport)(nil)

// New creates a transport that builds an SQS client from cfg on Connect.
func New(cfg Config) *Transport {
	return &Transport{cfg: cfg.withDefaults(), dial: dial, closed: make(chan struct{})}
}

// NewWithClient creates a transport over an existing client.
func NewWithClient(c Client, cfg Config) *Transport {
	t := New(cfg)
	t.client = c

	return t
}

func (t *Transport) Name() string { return "sqs" }

func (t *Transport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return nil
	}

	c, err := t.dial(ctx, t.cfg)
	if err != nil {
		return fmt.Errorf("sqs connect: %w", errors.Join(merr.ErrConnectFailed, err))
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
		return nil, fmt.Errorf("sqs %s: %w", label, errors.Join(base, merr.ErrNotConnected))
	}

	return t.client, nil
}

// Publish sends m to every queue of channel. Without queues the message is dropped.
func (t *Transport) Publish(ctx context.Context, channel string, m cmed.Message) error {
	c, err := t.ready(ctx, merr.ErrPublishFailed, "publish")
	if err != nil {
		return err
	}

	urls, err := t.resolve(ctx, c, channel)
	if err != nil {
		return publishErr(channel, err)
	}

	attrs := toAttributes(m)

	for _, url := range urls {
		_, err := c.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:          aws.String(url),
			MessageBody:       aws.String(string(m.Body)),
			MessageAttributes: attrs,
		})
		if err != nil {
			var missing *types.QueueDoesNotExist
			if errors.As(err, &missing) {
				t.targets.Delete(channel)
				continue
			}

			return publishErr(channel, err)
		}
	}

	return nil
}

func publishErr(channel string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("sqs publish %s: %w", channel, errors.Join(merr.ErrPublishFailed, err))
}

func (t *Transport) resolve(ctx context.Context, c Client, channel string) ([]string, error) {
	if v, ok := t.targets.Load(channel); ok {
		if ts := v.(targetSet); time.Now().Before(ts.expires) {
			return ts.urls, nil
		}
	}

	var urls []string

	base := QueueName(channel, "")

	out, err := c.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(base)})
	switch {
	case err == nil:
		urls = append(urls, aws.ToString(out.QueueUrl))
	case isMissing(err):
	default:
		return nil, err
	}

	in := &sqs.ListQueuesInput{QueueNamePrefix: aws.String(base + groupSeparator)}

	for {
		page, err := c.ListQueues(ctx, in)
		if err != nil {
			return nil, err
		}

		urls = append(urls, page.QueueUrls...)

		if aws.ToString(page.NextToken) == "" {
			break
		}

		in.NextToken = page.NextToken
	}

	if len(urls) > 0 {
		t.targets.Store(channel, targetSet{urls: urls, expires: time.Now().Add(t.cfg.DiscoveryTTL)})
	}

	return urls, nil
}

func isMissing(err error) bool {
	var missing *types.QueueDoesNotExist

	return errors.As(err, &missing)
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

	group := opts.Group
	temporary := opts.Exclusive || group == ""

	if group == "" && !opts.Exclusive {
		group = strings.ToLower(ulid.Make().String())
	}

	out, err := c.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(QueueName(channel, group)),
		Attributes: map[string]string{
			string(types.QueueAttributeNameVisibilityTimeout): seconds(t.cfg.VisibilityTimeout),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs subscribe %s: %w", channel, errors.Join(merr.ErrSubscribeFailed, err))
	}

	url := aws.ToString(out.QueueUrl)
	t.targets.Delete(channel)

	pollCtx, cancel := context.WithCancel(ctx)
	deliveries := make(chan cmed.Delivery)

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
		defer close(deliveries)
		defer cancel()

		if temporary {
			defer func() {
				_, _ = c.DeleteQueue(context.WithoutCancel(ctx), &sqs.DeleteQueueInput{QueueUrl: aws.String(url)}) //nolint:errcheck // best-effort cleanup
			}()
		}

		t.poll(pollCtx, c, url, opts.Prefetch, deliveries)
	}()

	return deliveries, nil
}

func (t *Transport) poll(ctx context.Context, c Client, url string, prefetch int, out chan<- cmed.Delivery) {
	batch := int32(min(max(prefetch, 1), maxBatch))

	for {
		res, err := c.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(url),
			MaxNumberOfMessages:   batch,
			WaitTimeSeconds:       int32(t.cfg.WaitTime / time.Second),
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			// receive errors are transient for long polling; pause before the next poll
			select {
			case <-time.After(t.cfg.WaitTime / 4):
				continue
			case <-ctx.Done():
				return
			}
		}

		for i, msg := range res.Messages {
			select {
			case out <- t.delivery(c, url, msg):
			case <-ctx.Done():
				for _, rest := range res.Messages[i:] {
					_ = t.release(context.WithoutCancel(ctx), c, url, rest) //nolint:errcheck // visibility timeout covers failures
				}

				return
			}
		}
	}
}

func (t *Transport) delivery(c Client, url string, msg types.Message) cmed.Delivery {
	ack := func(ctx context.Context) error {
		_, err := c.DeleteMessage(ctx, &sqs.DeleteMessageInput{QueueUrl: aws.String(url), ReceiptHandle: msg.ReceiptHandle})
		return err
	}

	return cmed.NewDelivery(fromMessage(msg), ack, func(ctx context.Context, requeue bool) error {
		if !requeue {
			return ack(ctx)
		}

		return t.release(ctx, c, url, msg)
	})
}

// release makes msg visible again right away.
func (t *Transport) release(ctx context.Context, c Client, url string, msg types.Message) error {
	_, err := c.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     msg.ReceiptHandle,
		VisibilityTimeout: 0,
	})

	return err
}

// Close ends every subscription and removes temporary queues.
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

	t.client = nil

	return nil
}

// QueueName maps a channel and group to an SQS queue name. Characters SQS rejects
// become underscores. The default group shares the channel's own name.
func QueueName(channel, group string) string {
	name := sanitize(channel)
	if group == "" || group == channel {
		return name
	}

	return name + groupSeparator + sanitize(group)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func seconds(d time.Duration) string {
	return strconv.Itoa(int(d / time.Second))
}

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

func toAttributes(m cmed.Message) map[string]types.MessageAttributeValue {
	attrs := make(map[string]types.MessageAttributeValue, len(m.Headers)+2)
	for k, v := range m.Headers {
		attrs[k] = stringAttr(v)
	}

	if m.CorrelationID != "" {
		attrs[AttrCorrelationID] = stringAttr(m.CorrelationID)
	}

	if m.ReplyTo != "" {
		attrs[AttrReplyTo] = stringAttr(m.ReplyTo)
	}

	return attrs
}

func fromMessage(msg types.Message) cmed.Message {
	m := cmed.Message{Body: []byte(aws.ToString(msg.Body))}

	for k, v := range msg.MessageAttributes {
		switch k {
		case AttrCorrelationID:
			m.CorrelationID = aws.ToString(v.StringValue)
		case AttrReplyTo:
			m.ReplyTo = aws.ToString(v.StringValue)
		default:
			if m.Headers == nil {
				m.Headers = make(map[string]string, len(msg.MessageAttributes))
			}

			m.Headers[k] = aws.ToString(v.StringValue)
		}
	}

	return m
}
