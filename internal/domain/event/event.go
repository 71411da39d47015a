// Package event publishes order events to a message broker.
package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// ErrPublish is returned when an event could not be handed to the broker.
var ErrPublish = errors.New("publish event")

// Type discriminates the events emitted for an order.
type Type string

const (
	TypeOrderCreate         Type = "ORDER_CREATE"
	TypePaymentStatusUpdate Type = "PAYMENT_STATUS_UPDATE"
)

// Message is an encoded event addressed to a topic.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
	Type  Type
}

// Broker sends messages. Messages with the same key must be delivered in
// order.
type Broker interface {
	Send(ctx context.Context, msg Message) error
}

// Publisher wraps payloads in an envelope and sends them to a single topic.
type Publisher struct {
	broker Broker
	topic  string
}

// NewPublisher creates a Publisher for topic.
func NewPublisher(broker Broker, topic string) *Publisher {
	return &Publisher{broker: broker, topic: topic}
}

// Publish sends {"event_type": typ, "data": data} keyed by key.
func (p *Publisher) Publish(ctx context.Context, typ Type, key string, data any) error {
	payload, err := Encode(typ, data)
	if err != nil {
		return err
	}
	msg := Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: payload,
		Type:  typ,
	}
	if err := p.broker.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: send %s for %s: %w", ErrPublish, typ, key, err)
	}
	return nil
}

// Encode builds the event envelope.
func Encode(typ Type, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s payload", typ)
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("event_type", func(e *jx.Encoder) {
			e.Str(string(typ))
		})
		e.Field("data", func(e *jx.Encoder) {
			e.Raw(raw)
		})
	})
	return e.Bytes(), nil
}
