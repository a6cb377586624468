package rabbitmq

import (
	"errors"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const queueTypeArg = "x-queue-type"

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// Topology represents the complete messaging topology owned by a client
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// TopologyFor derives the topology a client declares on connect: one durable
// topic exchange, the configured queue if any, and its binding if a routing
// key is configured.
func TopologyFor(cfg Config) Topology {
	cfg = cfg.withDefaults()

	t := Topology{
		Exchanges: []ExchangeDeclaration{{
			Name:    cfg.Exchange,
			Type:    amqp.ExchangeTopic,
			Durable: true,
		}},
	}

	if cfg.Queue == "" {
		return t
	}

	t.Queues = append(t.Queues, durableQueue(cfg.Queue, cfg.QueueType))
	if cfg.RoutingKey != "" {
		t.Bindings = append(t.Bindings, Binding{
			Queue:      cfg.Queue,
			Exchange:   cfg.Exchange,
			RoutingKey: cfg.RoutingKey,
		})
	}

	if dlq := cfg.DeadLetterQueue(); dlq != "" {
		t.Queues = append(t.Queues, durableQueue(dlq, cfg.QueueType))
		t.Bindings = append(t.Bindings, Binding{
			Queue:      dlq,
			Exchange:   cfg.Exchange,
			RoutingKey: cfg.DeadLetterRoutingKey,
		})
	}

	return t
}

// TopicMatches reports whether a topic exchange binding with pattern routes
// messages published with key. "*" matches one word, "#" zero or more.
func TopicMatches(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && key[0] == pattern[0] && matchWords(pattern[1:], key[1:])
	}
}

func durableQueue(name, queueType string) QueueDeclaration {
	q := QueueDeclaration{Name: name, Durable: true}
	if queueType != "" && queueType != "classic" {
		q.Arguments = amqp.Table{queueTypeArg: queueType}
	}
	return q
}

// Declare declares exchanges, then queues, then bindings on ch. Declarations
// are idempotent on the broker; a conflicting redeclaration is reported as
// ErrTopologyConflict.
func (t Topology) Declare(ch AMQPChannel) error {
	for _, exchange := range t.Exchanges {
		err := ch.ExchangeDeclare(
			exchange.Name,
			exchange.Type,
			exchange.Durable,
			exchange.AutoDelete,
			false, // internal
			false, // no-wait
			exchange.Arguments,
		)
		if err != nil {
			return topologyError("exchange", exchange.Name, "declare", err)
		}
	}

	for _, queue := range t.Queues {
		_, err := ch.QueueDeclare(
			queue.Name,
			queue.Durable,
			queue.AutoDelete,
			queue.Exclusive,
			false, // no-wait
			queue.Arguments,
		)
		if err != nil {
			return topologyError("queue", queue.Name, "declare", err)
		}
	}

	for _, binding := range t.Bindings {
		err := ch.QueueBind(
			binding.Queue,
			binding.RoutingKey,
			binding.Exchange,
			false, // no-wait
			binding.Arguments,
		)
		if err != nil {
			return topologyError("binding", binding.Queue+"->"+binding.Exchange, "bind", err)
		}
	}

	return nil
}

func topologyError(component, name, op string, err error) *TopologyError {
	var amqpErr *amqp.Error
	conflict := errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed

	return &TopologyError{
		Component: component,
		Name:      name,
		Op:        op,
		Conflict:  conflict,
		Err:       err,
		Timestamp: time.Now(),
	}
}
