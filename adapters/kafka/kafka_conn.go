package kafka

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Concrete franz-go based producer and consumers.

type Config struct {
	Brokers  []string
	ClientID string
	TLS      *tls.Config
	// Acks is "all" (default), "leader" or "none". Anything but "all" disables
	// idempotent writes.
	Acks string
	// Compression is one of gzip, snappy, lz4 or zstd; empty disables it.
	Compression string
}

func (c Config) baseOptions() ([]kgo.Opt, error) {
	opts := []kgo.Opt{kgo.SeedBrokers(c.Brokers...), kgo.AllowAutoTopicCreation()}

	if c.ClientID != "" {
		opts = append(opts, kgo.ClientID(c.ClientID))
	}

	if c.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(c.TLS))
	}

	switch c.Acks {
	case "", "all":
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	case "leader":
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	case "none":
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	default:
		return nil, fmt.Errorf("kafka: unknown acks %q", c.Acks)
	}

	codec, err := compression(c.Compression)
	if err != nil {
		return nil, err
	}

	if codec != nil {
		opts = append(opts, kgo.ProducerBatchCompression(*codec))
	}

	return opts, nil
}

func compression(name string) (*kgo.CompressionCodec, error) {
	var c kgo.CompressionCodec

	switch name {
	case "":
		return nil, nil
	case "gzip":
		c = kgo.GzipCompression()
	case "snappy":
		c = kgo.SnappyCompression()
	case "lz4":
		c = kgo.Lz4Compression()
	case "zstd":
		c = kgo.ZstdCompression()
	default:
		return nil, fmt.Errorf("kafka: unknown compression %q", name)
	}

	return &c, nil
}

type kgoProducer struct{ cl *kgo.Client }

func (p kgoProducer) ProduceSync(ctx context.Context, rec *kgo.Record) error {
	return p.cl.ProduceSync(ctx, rec).FirstErr()
}

func (p kgoProducer) Close() { p.cl.Close() }

func newProducer(cfg Config) (Producer, error) {
	opts, err := cfg.baseOptions()
	if err != nil {
		return nil, err
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	return kgoProducer{cl: cl}, nil
}

type kgoConsumer struct{ cl *kgo.Client }

func (c kgoConsumer) Poll(ctx context.Context, max int) ([]*kgo.Record, error) {
	fs := c.cl.PollRecords(ctx, max)
	if fs.IsClientClosed() {
		return nil, kgo.ErrClientClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// partition errors are retried by the client; keep what was fetched
	return fs.Records(), nil
}

func (c kgoConsumer) Commit(ctx context.Context, recs ...*kgo.Record) error {
	return c.cl.CommitRecords(ctx, recs...)
}

func (c kgoConsumer) Close() { c.cl.Close() }

func consumerFactory(cfg Config) ConsumerFactory {
	return func(topic, group string) (Consumer, error) {
		opts, err := cfg.baseOptions()
		if err != nil {
			return nil, err
		}

		opts = append(opts,
			kgo.ConsumerGroup(group),
			kgo.ConsumeTopics(topic),
			kgo.DisableAutoCommit(),
		)

		cl, err := kgo.NewClient(opts...)
		if err != nil {
			return nil, err
		}

		return kgoConsumer{cl: cl}, nil
	}
}
