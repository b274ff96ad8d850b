package rabbitmq

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Concrete AMQP connection-backed dialer.

const (
	// DefaultExchange is the topic exchange channels are routed through.
	DefaultExchange = "scg.mediator"

	exchangeKind = "topic"
)

type Config struct {
	URL         string
	ConnTimeout time.Duration
	Exchange    string
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}

	return c
}

type amqpConnection struct{ conn *amqp.Connection }

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}

	return ch, nil
}

func (c amqpConnection) Close() error {
	if c.conn.IsClosed() {
		return nil
	}

	return c.conn.Close()
}

// dial opens a single connection. A broken connection is not re-established; callers
// restart the mediator.
func dial(cfg Config) (Connection, error) {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-mediator"},
		Dial:       amqp.DefaultDial(cfg.ConnTimeout),
	})
	if err != nil {
		return nil, err
	}

	return amqpConnection{conn: conn}, nil
}
