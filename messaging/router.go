package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Polako-Finance/polako-common/contracts"
	"github.com/Polako-Finance/polako-common/internal/logging"
)

// Router maps message types to handlers and runs the inbound pipeline for
// each delivery.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	sealed   bool

	logger     *slog.Logger
	validator  EnvelopeValidator
	deadLetter DeadLetterSink
	metrics    *Metrics
	tracing    tracing

	interceptors []Interceptor
}

// RouterOption configures the Router
type RouterOption func(*Router)

// WithRouterLogger sets the logger
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithInboundValidation checks every envelope against the envelope schema
// before dispatch. Envelopes that fail are treated as malformed.
func WithInboundValidation(v EnvelopeValidator) RouterOption {
	return func(r *Router) {
		r.validator = v
	}
}

// WithDeadLetter hands every discarded delivery to sink before it is
// acknowledged.
func WithDeadLetter(sink DeadLetterSink) RouterOption {
	return func(r *Router) {
		r.deadLetter = sink
	}
}

// WithRouterMetrics records delivery outcomes
func WithRouterMetrics(m *Metrics) RouterOption {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithRouterTracerProvider starts a consumer span per delivery, continuing
// the trace carried in the message headers.
func WithRouterTracerProvider(tp trace.TracerProvider) RouterOption {
	return func(r *Router) {
		r.tracing = newTracing(tp)
	}
}

// WithInterceptors wraps every handler in interceptors, first to last.
// Interceptor failures count as handler failures.
func WithInterceptors(interceptors ...Interceptor) RouterOption {
	return func(r *Router) {
		r.interceptors = append(r.interceptors, interceptors...)
	}
}

// NewRouter creates an empty router
func NewRouter(options ...RouterOption) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
		tracing:  newTracing(nil),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// RegisterHandler routes messageType to handler, replacing any handler
// registered before. Registration fails once the router is sealed.
func (r *Router) RegisterHandler(messageType string, handler Handler) error {
	if messageType == "" {
		return ErrEmptyMessageType
	}
	if handler == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRouterSealed
	}

	if _, exists := r.handlers[messageType]; exists {
		r.logger.Warn("replacing message handler", "messageType", messageType)
	}
	r.handlers[messageType] = handler

	r.logger.Info("registered message handler", "messageType", messageType)
	return nil
}

// Seal freezes the registry. It is called before consumption starts.
func (r *Router) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// MessageTypes returns the routed message types
func (r *Router) MessageTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

func (r *Router) handler(messageType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[messageType]
	return h, ok
}

// HandleDelivery decodes d, dispatches its data to the registered handler
// and acknowledges d exactly once, whatever the outcome. Nothing is
// requeued. The returned error describes why a delivery was discarded; it
// has already been logged and the delivery already acknowledged.
func (r *Router) HandleDelivery(ctx context.Context, d amqp.Delivery) error {
	start := time.Now()

	if d.Headers != nil {
		ctx = r.tracing.propagator.Extract(ctx, headerCarrier(d.Headers))
	}
	ctx, span := r.tracing.tracer.Start(ctx, "consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(messageAttributes(d.Type, d.MessageId, d.RoutingKey)...),
	)
	defer span.End()

	env, err := decode(d)
	if env != nil {
		ctx = logging.WithCorrelationID(ctx, env.CorrelationID)
	}

	messageType, err := r.route(ctx, d, env, err)
	outcome := outcomeOf(err)

	label := messageType
	if label == "" {
		label = "unknown"
	}
	r.metrics.observeDelivery(label, outcome, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		r.logFailure(ctx, d, messageType, outcome, err)

		if r.deadLetter != nil && deadLettered(d) {
			r.logger.WarnContext(ctx, "dropping message that was already dead-lettered",
				"messageId", d.MessageId,
				"messageType", messageType,
				"routingKey", d.RoutingKey,
			)
		} else if r.deadLetter != nil {
			if dlErr := r.deadLetter.DeadLetter(ctx, d, err); dlErr != nil {
				r.logger.ErrorContext(ctx, "failed to dead-letter message",
					"messageId", d.MessageId,
					"messageType", messageType,
					"error", dlErr,
				)
			} else {
				r.metrics.observeDeadLetter(label, outcome)
			}
		}
	} else {
		r.logger.DebugContext(ctx, "processed message",
			"messageId", d.MessageId,
			"messageType", messageType,
			"duration", time.Since(start),
		)
	}

	if ackErr := d.Ack(false); ackErr != nil {
		r.logger.ErrorContext(ctx, "failed to ack message",
			"messageId", d.MessageId,
			"messageType", messageType,
			"error", ackErr,
		)
	}

	return err
}

// deadLettered reports whether d is itself a dead letter. Those are never
// dead-lettered again, so a binding that also matches the dead-letter key
// cannot loop.
func deadLettered(d amqp.Delivery) bool {
	_, ok := d.Headers[HeaderDeadLetterReason]
	return ok
}

// decode parses the body of d. A nil envelope means the body is not a JSON
// object; a non-nil envelope may still come with a structural error.
func decode(d amqp.Delivery) (*contracts.InboundEnvelope, error) {
	if !utf8.Valid(d.Body) || !json.Valid(d.Body) {
		return nil, &DeliveryError{MessageID: d.MessageId, Kind: ErrDecodeFailure}
	}

	env, err := contracts.DecodeEnvelope(d.Body)
	if env == nil {
		return nil, &DeliveryError{MessageID: d.MessageId, Kind: ErrMalformedEnvelope, Err: err}
	}
	return env, err
}

// route runs the rest of the pipeline on a decoded delivery and reports the
// message type it got as far as.
func (r *Router) route(ctx context.Context, d amqp.Delivery, env *contracts.InboundEnvelope, err error) (string, error) {
	if env == nil {
		return "", err
	}

	messageID := env.MessageID
	if messageID == "" {
		messageID = d.MessageId
	}
	if err != nil && !errors.Is(err, contracts.ErrMissingData) {
		return env.MessageType, &DeliveryError{MessageID: messageID, Kind: ErrMalformedEnvelope, Err: err}
	}

	handler, ok := r.handler(env.MessageType)
	if !ok {
		return env.MessageType, &DeliveryError{MessageID: messageID, MessageType: env.MessageType, Kind: ErrUnroutable}
	}

	if err != nil {
		return env.MessageType, &DeliveryError{MessageID: messageID, MessageType: env.MessageType, Kind: ErrMalformedEnvelope, Err: err}
	}

	if r.validator != nil {
		doc, err := env.Document()
		if err == nil {
			err = r.validator.ValidateEnvelope(env.MessageType, doc)
		}
		if err != nil {
			return env.MessageType, &DeliveryError{MessageID: messageID, MessageType: env.MessageType, Kind: ErrMalformedEnvelope, Err: err}
		}
	}

	if len(r.interceptors) > 0 {
		handler = chain(r.interceptors, Message{
			ID:            messageID,
			Type:          env.MessageType,
			CorrelationID: env.CorrelationID,
			RoutingKey:    d.RoutingKey,
		}, handler)
	}

	if err := invoke(ctx, handler, env.Data); err != nil {
		return env.MessageType, &DeliveryError{MessageID: messageID, MessageType: env.MessageType, Kind: ErrHandlerFailed, Err: err}
	}

	return env.MessageType, nil
}

func (r *Router) logFailure(ctx context.Context, d amqp.Delivery, messageType, outcome string, err error) {
	attrs := []any{
		"messageId", d.MessageId,
		"messageType", messageType,
		"routingKey", d.RoutingKey,
		"outcome", outcome,
		"error", err,
	}

	if outcome == outcomeUnroutable {
		r.logger.WarnContext(ctx, "no handler for message type, discarding", attrs...)
		return
	}
	r.logger.ErrorContext(ctx, "discarding message", attrs...)
}

func outcomeOf(err error) string {
	if err == nil {
		return outcomeProcessed
	}

	var de *DeliveryError
	if !errors.As(err, &de) {
		return outcomeMalformed
	}

	switch de.Kind {
	case ErrDecodeFailure:
		return outcomeDecodeFailure
	case ErrUnroutable:
		return outcomeUnroutable
	case ErrHandlerFailed:
		return outcomeHandlerFailed
	default:
		return outcomeMalformed
	}
}
