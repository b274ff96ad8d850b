package nats

import (
	"time"

	"github.com/nats-io/nats.go"
)

// Concrete NATS connection-backed Client.

type Config struct {
	URL  string
	Name string

	// Token or User/Password enable authentication.
	Token    string
	User     string
	Password string

	ConnTimeout   time.Duration
	ReconnectWait time.Duration
	// MaxReconnects bounds reconnection of an established connection; -1 means unlimited.
	// The initial connection is never retried.
	MaxReconnects int
}

type natsClient struct{ nc *nats.Conn }

func (c natsClient) Publish(m *nats.Msg) error {
	if err := c.nc.PublishMsg(m); err != nil {
		return err
	}

	return c.nc.Flush()
}

func (c natsClient) QueueSubscribe(subject, queue string, cb nats.MsgHandler) (Subscription, error) {
	sub, err := c.nc.QueueSubscribe(subject, queue, cb)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (c natsClient) Close() error {
	if !c.nc.IsClosed() {
		_ = c.nc.Flush() //nolint:errcheck // best-effort flush before close
		c.nc.Close()
	}

	return nil
}

func buildOptions(cfg Config) []nats.Option {
	opts := []nats.Option{}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	return opts
}

func dial(cfg Config) (Client, error) {
	nc, err := nats.Connect(cfg.URL, buildOptions(cfg)...)
	if err != nil {
		return nil, err
	}

	return natsClient{nc: nc}, nil
}
