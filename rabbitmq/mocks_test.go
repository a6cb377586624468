package rabbitmq

import (
	"context"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/mock"
)

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return m.Called(prefetchCount, prefetchSize, global).Error(0)
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable, autoDelete, internal, noWait, args).Error(0)
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	a := m.Called(name, durable, autoDelete, exclusive, noWait, args)
	return amqp.Queue{Name: name}, a.Error(0)
}

func (m *mockChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return m.Called(name, key, exchange, noWait, args).Error(0)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *mockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	a := m.Called(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
	deliveries, _ := a.Get(0).(chan amqp.Delivery)
	return deliveries, a.Error(1)
}

func (m *mockChannel) Cancel(consumer string, noWait bool) error {
	return m.Called(consumer, noWait).Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

type mockConnection struct {
	mock.Mock
}

func (m *mockConnection) Channel() (AMQPChannel, error) {
	a := m.Called()
	ch, _ := a.Get(0).(AMQPChannel)
	return ch, a.Error(1)
}

func (m *mockConnection) Close() error {
	return m.Called().Error(0)
}

// countingDialer hands out conn and counts how often it was asked to.
type countingDialer struct {
	conn  AMQPConnection
	err   error
	calls atomic.Int32
	url   atomic.Value
}

func (d *countingDialer) Dial(url string, _ amqp.Config) (AMQPConnection, error) {
	d.calls.Add(1)
	d.url.Store(url)
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func quorumArgs() amqp.Table {
	return amqp.Table{queueTypeArg: "quorum"}
}

// expectTopology registers the calls a successful Connect makes for cfg.
func expectTopology(ch *mockChannel, cfg Config) {
	cfg = cfg.withDefaults()
	ch.On("Qos", cfg.Prefetch, 0, false).Return(nil)
	ch.On("ExchangeDeclare", cfg.Exchange, "topic", true, false, false, false, amqp.Table(nil)).Return(nil)
	if cfg.Queue != "" {
		ch.On("QueueDeclare", cfg.Queue, true, false, false, false, quorumArgs()).Return(nil)
	}
	if cfg.RoutingKey != "" {
		ch.On("QueueBind", cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, amqp.Table(nil)).Return(nil)
	}
}

type fixture struct {
	conn   *Connection
	amqp   *mockConnection
	ch     *mockChannel
	dialer *countingDialer
}

func newFixture(cfg Config, opts ...ConnectionOption) *fixture {
	ch := &mockChannel{}
	amqpConn := &mockConnection{}
	amqpConn.On("Channel").Return(ch, nil)
	dialer := &countingDialer{conn: amqpConn}

	opts = append([]ConnectionOption{WithDialer(dialer)}, opts...)
	return &fixture{
		conn:   NewConnection(cfg, opts...),
		amqp:   amqpConn,
		ch:     ch,
		dialer: dialer,
	}
}

func consumerConfig() Config {
	return Config{
		Exchange:   "events",
		Queue:      "billing",
		RoutingKey: "billing.*",
	}
}
