package messaging

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Headers added to dead-lettered messages.
const (
	HeaderDeadLetterReason   = "x-polako-dead-letter-reason"
	HeaderDeadLetterError    = "x-polako-dead-letter-error"
	HeaderOriginalRoutingKey = "x-polako-original-routing-key"
	HeaderOriginalExchange   = "x-polako-original-exchange"
	HeaderDeadLetteredAt     = "x-polako-dead-lettered-at"
)

// DeadLetterSink receives deliveries the router discards.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, d amqp.Delivery, cause error) error
}

// DeadLetterPublisher republishes discarded deliveries unchanged to a
// dead-letter routing key, recording why they were dropped in the headers.
type DeadLetterPublisher struct {
	broker     BrokerPublisher
	routingKey string
}

// NewDeadLetterPublisher creates a sink that publishes through broker with
// routingKey.
func NewDeadLetterPublisher(broker BrokerPublisher, routingKey string) *DeadLetterPublisher {
	return &DeadLetterPublisher{
		broker:     broker,
		routingKey: routingKey,
	}
}

// DeadLetter implements DeadLetterSink
func (p *DeadLetterPublisher) DeadLetter(ctx context.Context, d amqp.Delivery, cause error) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[HeaderDeadLetterReason] = outcomeOf(cause)
	headers[HeaderDeadLetterError] = cause.Error()
	headers[HeaderOriginalRoutingKey] = d.RoutingKey
	headers[HeaderOriginalExchange] = d.Exchange
	headers[HeaderDeadLetteredAt] = time.Now().UTC().Format(time.RFC3339Nano)

	msg := amqp.Publishing{
		Headers:       headers,
		ContentType:   d.ContentType,
		MessageId:     d.MessageId,
		CorrelationId: d.CorrelationId,
		Type:          d.Type,
		AppId:         d.AppId,
		Timestamp:     d.Timestamp,
		Body:          d.Body,
	}

	if err := p.broker.Publish(ctx, p.routingKey, msg); err != nil {
		return fmt.Errorf("dead-letter to %s: %w", p.routingKey, err)
	}
	return nil
}
