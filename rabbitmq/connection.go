package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// State is the lifecycle position of a Connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateConsuming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateConsuming:
		return "consuming"
	default:
		return "unknown"
	}
}

// AMQPChannel is the subset of *amqp.Channel used by Connection.
type AMQPChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// AMQPConnection is the subset of *amqp.Connection used by Connection.
type AMQPConnection interface {
	Channel() (AMQPChannel, error)
	Close() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(url string, config amqp.Config) (AMQPConnection, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(url string, config amqp.Config) (AMQPConnection, error)

func (f DialerFunc) Dial(url string, config amqp.Config) (AMQPConnection, error) {
	return f(url, config)
}

// DialAMQP dials a real broker with amqp.DialConfig.
var DialAMQP Dialer = DialerFunc(func(url string, config amqp.Config) (AMQPConnection, error) {
	conn, err := amqp.DialConfig(url, config)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
})

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (AMQPChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Connection owns one broker connection, one channel and the topology
// declared on it. There is no background reconnect: after a failure the
// state returns to Disconnected and the next Connect, Publish or
// StartConsuming dials again.
type Connection struct {
	cfg      Config
	topology Topology
	dialer   Dialer
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	conn     AMQPConnection
	ch       AMQPChannel
	consumer *consumerLoop
	// set while Disconnect drains handlers; blocks redials from them
	closing bool
}

// ConnectionOption configures a Connection
type ConnectionOption func(*Connection)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer replaces the transport used to reach the broker.
func WithDialer(dialer Dialer) ConnectionOption {
	return func(c *Connection) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// WithTopology overrides the topology derived from Config.
func WithTopology(topology Topology) ConnectionOption {
	return func(c *Connection) {
		c.topology = topology
	}
}

// NewConnection creates a disconnected client for cfg. Nothing is dialed
// until Connect or the first Publish or StartConsuming.
func NewConnection(cfg Config, options ...ConnectionOption) *Connection {
	cfg = cfg.withDefaults()

	c := &Connection{
		cfg:      cfg,
		topology: TopologyFor(cfg),
		dialer:   DialAMQP,
		logger:   slog.Default(),
		state:    StateDisconnected,
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Config returns the effective configuration, defaults applied.
func (c *Connection) Config() Config {
	return c.cfg
}

// State reports the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the broker, opens a channel, applies the prefetch limit and
// declares the topology. Connecting an already connected client is a no-op.
// On failure everything opened so far is closed and the state stays
// Disconnected.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Connection) connectLocked(ctx context.Context) error {
	if c.state == StateConnected || c.state == StateConsuming {
		return nil
	}
	if c.closing {
		return ErrClosing
	}

	url := c.cfg.URL()
	sanitized := SanitizeURL(url)

	c.state = StateConnecting
	conn, err := c.dial(ctx, url)
	if err != nil {
		c.state = StateDisconnected
		c.logger.Error("failed to connect to RabbitMQ", "url", sanitized, "error", err)
		return &ConnectionError{
			Op:        "connect",
			URL:       sanitized,
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	ch, err := c.setupChannel(conn)
	if err != nil {
		_ = conn.Close()
		c.state = StateDisconnected
		c.logger.Error("failed to prepare channel", "url", sanitized, "error", err)
		return err
	}

	c.conn = conn
	c.ch = ch
	c.state = StateConnected

	c.logger.Info("connected to RabbitMQ",
		"url", sanitized,
		"exchange", c.cfg.Exchange,
		"queue", c.cfg.Queue,
		"prefetch", c.cfg.Prefetch,
	)

	return nil
}

func (c *Connection) dial(ctx context.Context, url string) (AMQPConnection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	amqpCfg := amqp.Config{
		Heartbeat:  c.cfg.Heartbeat,
		Locale:     "en_US",
		Dial:       amqp.DefaultDial(c.cfg.DialTimeout),
		Properties: amqp.Table{},
	}
	if c.cfg.ConnectionName != "" {
		amqpCfg.Properties["connection_name"] = c.cfg.ConnectionName
	}

	type result struct {
		conn AMQPConnection
		err  error
	}
	results := make(chan result, 1)

	go func() {
		conn, err := c.dialer.Dial(url, amqpCfg)
		results <- result{conn: conn, err: err}
	}()

	select {
	case r := <-results:
		return r.conn, r.err

	case <-dialCtx.Done():
		// Close a connection that arrives after we gave up on it.
		go func() {
			if r := <-results; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrConnectionTimeout
		}
		return nil, dialCtx.Err()
	}
}

func (c *Connection) setupChannel(conn AMQPConnection) (AMQPChannel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{Op: "open", Err: err, Timestamp: time.Now()}
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, &ChannelError{Op: "qos", Err: err, Timestamp: time.Now()}
	}

	if err := c.topology.Declare(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return ch, nil
}

// Disconnect stops consumption and closes the channel and connection. No
// new deliveries are dispatched once it starts; handlers already running are
// allowed to finish until ctx is done. Disconnecting a disconnected client is
// a no-op.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn == nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		return nil
	}

	conn, ch, consumer := c.conn, c.ch, c.consumer
	c.conn, c.ch, c.consumer = nil, nil, nil
	c.state = StateDisconnected
	c.closing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.closing = false
		c.mu.Unlock()
	}()

	var errs []error

	if consumer != nil {
		if err := consumer.stop(ctx, ch); err != nil {
			errs = append(errs, err)
		}
	}

	if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, &ChannelError{Op: "close", Err: err, Timestamp: time.Now()})
	}
	if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, &ConnectionError{
			Op:        "close",
			URL:       SanitizeURL(c.cfg.URL()),
			Err:       err,
			Timestamp: time.Now(),
		})
	}

	c.logger.Info("disconnected from RabbitMQ", "url", SanitizeURL(c.cfg.URL()))

	return errors.Join(errs...)
}

// markClosed drops ch and its connection if they are still current. It is
// called when the broker side goes away underneath us.
func (c *Connection) markClosed(ch AMQPChannel, cause error) {
	c.mu.Lock()
	if c.ch != ch {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn, c.ch, c.consumer = nil, nil, nil
	c.state = StateDisconnected
	c.mu.Unlock()

	_ = ch.Close()
	_ = conn.Close()

	c.logger.Warn("RabbitMQ connection lost", "error", cause)
}
