package rabbitmq

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// DeliveryFunc receives every delivery from the configured queue. It owns
// acknowledgement of the delivery.
type DeliveryFunc func(ctx context.Context, delivery amqp.Delivery)

// consumerLoop tracks one active Consume call.
type consumerLoop struct {
	tag      string
	stopping chan struct{}
	done     chan struct{}
}

// StartConsuming begins delivering messages from the configured queue to fn.
// Deliveries are dispatched in broker order and handled concurrently, at most
// Prefetch at a time. Handler contexts keep the values of ctx but are not
// cancelled with it. Clients without a queue get ErrNoQueueDeclared without
// touching the network.
func (c *Connection) StartConsuming(ctx context.Context, fn DeliveryFunc) error {
	if c.cfg.Queue == "" {
		return ErrNoQueueDeclared
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateConsuming {
		return ErrAlreadyConsuming
	}

	if err := c.connectLocked(ctx); err != nil {
		return err
	}

	tag := c.consumerTag()
	deliveries, err := c.ch.Consume(
		c.cfg.Queue,
		tag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return &ConsumerError{
			Queue:       c.cfg.Queue,
			ConsumerTag: tag,
			Op:          "consume",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	loop := &consumerLoop{
		tag:      tag,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.consumer = loop
	c.state = StateConsuming

	go c.dispatch(context.WithoutCancel(ctx), c.ch, loop, deliveries, fn)

	c.logger.Info("started consuming",
		"queue", c.cfg.Queue,
		"consumerTag", tag,
		"prefetchCount", c.cfg.Prefetch,
	)

	return nil
}

func (c *Connection) consumerTag() string {
	prefix := c.cfg.ConnectionName
	if prefix == "" {
		prefix = "polako"
	}
	return prefix + "-" + uuid.NewString()
}

func (c *Connection) dispatch(ctx context.Context, ch AMQPChannel, loop *consumerLoop, deliveries <-chan amqp.Delivery, fn DeliveryFunc) {
	var g errgroup.Group
	slots := make(chan struct{}, c.cfg.Prefetch)

	defer close(loop.done)
	defer g.Wait()

	for {
		select {
		case <-loop.stopping:
			return

		case delivery, ok := <-deliveries:
			if !ok {
				select {
				case <-loop.stopping:
				default:
					c.markClosed(ch, errors.New("delivery channel closed"))
				}
				return
			}

			// Deliveries left unacknowledged here are redelivered by the
			// broker once the channel closes.
			select {
			case slots <- struct{}{}:
			case <-loop.stopping:
				return
			}
			select {
			case <-loop.stopping:
				return
			default:
			}

			g.Go(func() error {
				defer func() { <-slots }()
				fn(ctx, delivery)
				return nil
			})
		}
	}
}

// stop cancels the consumer and waits for dispatched handlers until ctx is
// done.
func (l *consumerLoop) stop(ctx context.Context, ch AMQPChannel) error {
	close(l.stopping)

	var cancelErr error
	if err := ch.Cancel(l.tag, false); err != nil && !errors.Is(err, amqp.ErrClosed) {
		cancelErr = &ConsumerError{
			ConsumerTag: l.tag,
			Op:          "cancel",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	select {
	case <-l.done:
		return cancelErr
	case <-ctx.Done():
		return errors.Join(cancelErr, ctx.Err())
	}
}
