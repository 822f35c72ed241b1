package rabbitmq

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/BearBump/LiveTrack/internal/broker/messages"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "order.events"

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Client owns one connection and channel to RabbitMQ. Events go to a
// fanout exchange; every instance reads them through its own exclusive
// queue.
type Client struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	pub      publisher
}

func Dial(url, exchange string) (*Client, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}
	return &Client{conn: conn, ch: ch, exchange: exchange, pub: ch}, nil
}

func newClientWithPublisher(pub publisher, exchange string) *Client {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Client{exchange: exchange, pub: pub}
}

func (c *Client) PublishOrderEvent(ctx context.Context, ev messages.OrderEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal order event")
	}
	if err := c.pub.PublishWithContext(ctx, c.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   ev.ID,
		Timestamp:   ev.At,
		Body:        b,
	}); err != nil {
		return errors.Wrap(err, "rabbitmq publish")
	}
	return nil
}

// Consume binds a server-named exclusive queue to the exchange and feeds
// every message to handler until ctx is done or the channel closes.
func (c *Client) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	q, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return errors.Wrap(err, "declare queue")
	}
	if err := c.ch.QueueBind(q.Name, "", c.exchange, false, nil); err != nil {
		return errors.Wrap(err, "bind queue")
	}
	deliveries, err := c.ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "consume")
	}
	return consume(ctx, deliveries, handler)
}

func consume(ctx context.Context, deliveries <-chan amqp.Delivery, handler func(key, value []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			// auto-ack: a failed event is dropped, there is no replay anyway
			if err := handler([]byte(d.MessageId), d.Body); err != nil {
				slog.Warn("rabbitmq: handler failed", "message_id", d.MessageId, "err", err)
			}
		}
	}
}

func (c *Client) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}
