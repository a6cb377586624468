package messaging

import (
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/Polako-Finance/polako-common/messaging"

type tracing struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func newTracing(tp trace.TracerProvider) tracing {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return tracing{
		tracer:     tp.Tracer(instrumentationName),
		propagator: propagation.TraceContext{},
	}
}

// headerCarrier exposes AMQP headers to OpenTelemetry propagators.
type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	v, ok := c[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func messageAttributes(messageType, messageID, routingKey string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.message.type", messageType),
	}
	if messageID != "" {
		attrs = append(attrs, attribute.String("messaging.message.id", messageID))
	}
	if routingKey != "" {
		attrs = append(attrs, attribute.String("messaging.rabbitmq.destination.routing_key", routingKey))
	}
	return attrs
}
