package polako

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Polako-Finance/polako-common/rabbitmq"
)

// fakeBroker is an in-memory stand-in for a RabbitMQ vhost with one topic
// exchange. Messages published with a routing key bound to a queue are
// delivered to the consumer of that queue, if any.
type fakeBroker struct {
	mu        sync.Mutex
	dials     int
	queues    map[string]amqp.Table
	bindings  map[string][]string // queue -> binding keys
	published []published
	consumers map[string]chan amqp.Delivery
	acks      int
	nextTag   uint64
}

type published struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		queues:    make(map[string]amqp.Table),
		bindings:  make(map[string][]string),
		consumers: make(map[string]chan amqp.Delivery),
	}
}

func (b *fakeBroker) Dial(string, amqp.Config) (rabbitmq.AMQPConnection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	return &fakeConnection{broker: b}, nil
}

func (b *fakeBroker) messages() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

func (b *fakeBroker) ackCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acks
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBroker) hasQueue(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

func (b *fakeBroker) Ack(uint64, bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acks++
	return nil
}

func (b *fakeBroker) Nack(uint64, bool, bool) error { return nil }

func (b *fakeBroker) Reject(uint64, bool) error { return nil }

type fakeConnection struct {
	broker *fakeBroker
}

func (c *fakeConnection) Channel() (rabbitmq.AMQPChannel, error) {
	return &fakeChannel{broker: c.broker}, nil
}

func (c *fakeConnection) Close() error { return nil }

type fakeChannel struct {
	broker *fakeBroker
}

func (c *fakeChannel) Qos(int, int, bool) error { return nil }

func (c *fakeChannel) ExchangeDeclare(string, string, bool, bool, bool, bool, amqp.Table) error {
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, _ string, _ bool, _ amqp.Table) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.bindings[name] = append(c.broker.bindings[name], key)
	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = append(b.published, published{exchange: exchange, routingKey: key, msg: msg})

	for queue, keys := range b.bindings {
		deliveries, consuming := b.consumers[queue]
		if !consuming {
			continue
		}
		for _, pattern := range keys {
			if !rabbitmq.TopicMatches(pattern, key) {
				continue
			}
			b.nextTag++
			deliveries <- amqp.Delivery{
				Acknowledger:  b,
				DeliveryTag:   b.nextTag,
				Exchange:      exchange,
				RoutingKey:    key,
				Headers:       msg.Headers,
				ContentType:   msg.ContentType,
				MessageId:     msg.MessageId,
				CorrelationId: msg.CorrelationId,
				Type:          msg.Type,
				AppId:         msg.AppId,
				Timestamp:     msg.Timestamp,
				Body:          msg.Body,
			}
			break
		}
	}
	return nil
}

func (c *fakeChannel) Consume(queue, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	deliveries := make(chan amqp.Delivery, 64)
	c.broker.consumers[queue] = deliveries
	return deliveries, nil
}

func (c *fakeChannel) Cancel(string, bool) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	for queue := range c.broker.consumers {
		delete(c.broker.consumers, queue)
	}
	return nil
}

func (c *fakeChannel) Close() error { return nil }
