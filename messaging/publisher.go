package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Polako-Finance/polako-common/schema"
)

// Publisher validates payloads, wraps them in envelopes and publishes them.
type Publisher struct {
	validator ContractValidator
	broker    BrokerPublisher
	logger    *slog.Logger
	metrics   *Metrics
	tracing   tracing
	sender    string
}

// PublisherOption configures the Publisher
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPublisherMetrics records publish outcomes
func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithPublisherTracerProvider starts a producer span per publish and
// propagates its context in the message headers.
func WithPublisherTracerProvider(tp trace.TracerProvider) PublisherOption {
	return func(p *Publisher) {
		p.tracing = newTracing(tp)
	}
}

// WithDefaultSender sets metadata.sender for envelopes whose caller does not
// supply one.
func WithDefaultSender(sender string) PublisherOption {
	return func(p *Publisher) {
		p.sender = sender
	}
}

// NewPublisher creates a publisher
func NewPublisher(validator ContractValidator, broker BrokerPublisher, options ...PublisherOption) *Publisher {
	p := &Publisher{
		validator: validator,
		broker:    broker,
		logger:    slog.Default(),
		tracing:   newTracing(nil),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish validates data against the (domain, messageType) contract, builds
// an envelope around it and publishes the envelope with routingKey. A
// validation failure is returned before anything is sent.
func (p *Publisher) Publish(ctx context.Context, routingKey string, data any, messageType, domain string, options ...schema.EnvelopeOption) (err error) {
	ctx, span := p.tracing.tracer.Start(ctx, "publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(messageAttributes(messageType, "", routingKey)...),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "publish failed")
		}
		span.End()
	}()

	if err := p.validator.Validate(domain, messageType, data); err != nil {
		p.metrics.observePublish(messageType, outcomeInvalid)
		return err
	}

	if p.sender != "" {
		options = append([]schema.EnvelopeOption{schema.WithSender(p.sender)}, options...)
	}

	envelope, err := p.validator.CreateEnvelope(messageType, data, options...)
	if err != nil {
		p.metrics.observePublish(messageType, outcomeInvalid)
		return err
	}

	body, err := envelope.Marshal()
	if err != nil {
		p.metrics.observePublish(messageType, outcomeFailed)
		return fmt.Errorf("marshal envelope: %w", err)
	}

	meta := envelope.Metadata
	headers := amqp.Table{}
	p.tracing.propagator.Inject(ctx, headerCarrier(headers))

	msg := amqp.Publishing{
		Headers:       headers,
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     meta.MessageID,
		CorrelationId: meta.CorrelationID,
		Type:          meta.MessageType,
		AppId:         meta.Sender,
		Body:          body,
	}
	if ts, err := time.Parse(time.RFC3339Nano, meta.Timestamp); err == nil {
		msg.Timestamp = ts
	}

	if err := p.broker.Publish(ctx, routingKey, msg); err != nil {
		p.metrics.observePublish(messageType, outcomeFailed)
		p.logger.ErrorContext(ctx, "failed to publish message",
			"messageId", meta.MessageID,
			"messageType", messageType,
			"routingKey", routingKey,
			"error", err,
		)
		return err
	}

	p.metrics.observePublish(messageType, outcomePublished)
	p.logger.InfoContext(ctx, "published message",
		"messageId", meta.MessageID,
		"messageType", messageType,
		"domain", domain,
		"routingKey", routingKey,
		"correlationId", meta.CorrelationID,
	)

	return nil
}
