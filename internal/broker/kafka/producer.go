// Package kafka delivers order events to Kafka.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/xenking/order-service/internal/domain/event"
)

var _ event.Broker = (*Producer)(nil)

// Producer writes event messages. Messages are partitioned by key, so all
// events of one order land on the same partition in send order.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Producer for the given brokers. The topic is taken
// from each message.
func NewProducer(brokers ...string) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

// Send writes msg synchronously.
func (p *Producer) Send(ctx context.Context, msg event.Message) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: msg.Topic,
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("writing to %s: %w", msg.Topic, err)
	}
	return nil
}

// Close flushes pending writes and closes the connections.
func (p *Producer) Close() error {
	return p.writer.Close()
}
