package kafka

import (
	"context"
	"encoding/json"

	"github.com/BearBump/LiveTrack/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "order.events"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	w     messageWriter
	topic string
}

func NewProducer(brokers []string, topic string) *Producer {
	return newProducerWithWriter(&kafka.Writer{
		Addr: kafka.TCP(brokers...),
		// one order always lands on one partition, which keeps its events in order
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}, topic)
}

func newProducerWithWriter(w messageWriter, topic string) *Producer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Producer{w: w, topic: topic}
}

func (p *Producer) PublishOrderEvent(ctx context.Context, ev messages.OrderEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal order event")
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(ev.OrderID),
		Value: b,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

func (p *Producer) Close() error {
	return p.w.Close()
}
