package rabbitmq

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const contentTypeJSON = "application/json"

// Publish sends msg to the configured exchange with routingKey, connecting
// first if needed. Messages are always persistent and default to a JSON
// content type. Publish returns once the broker has the frame; it does not
// wait for publisher confirms or consumer acknowledgement.
func (c *Connection) Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	c.mu.Lock()
	if err := c.connectLocked(ctx); err != nil {
		c.mu.Unlock()
		return err
	}
	ch := c.ch
	exchange := c.cfg.Exchange
	c.mu.Unlock()

	msg.DeliveryMode = amqp.Persistent
	if msg.ContentType == "" {
		msg.ContentType = contentTypeJSON
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	err := ch.PublishWithContext(ctx, exchange, routingKey,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		if errors.Is(err, amqp.ErrClosed) {
			c.markClosed(ch, err)
		}
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	c.logger.Debug("published message",
		"exchange", exchange,
		"routingKey", routingKey,
		"messageId", msg.MessageId,
		"size", len(msg.Body),
	)

	return nil
}
