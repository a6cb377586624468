package messaging

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Polako-Finance/polako-common/contracts"
	"github.com/Polako-Finance/polako-common/schema"
)

// ContractValidator checks outbound payloads and builds their envelopes.
// *schema.ContractValidator implements it.
type ContractValidator interface {
	Validate(domain, messageType string, payload any) error
	CreateEnvelope(messageType string, data any, options ...schema.EnvelopeOption) (*contracts.Envelope, error)
}

// EnvelopeValidator checks the shape of an inbound envelope.
// *schema.ContractValidator implements it.
type EnvelopeValidator interface {
	ValidateEnvelope(messageType string, envelope any) error
}

// BrokerPublisher puts a message on the wire. *rabbitmq.Connection
// implements it.
type BrokerPublisher interface {
	Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error
}
