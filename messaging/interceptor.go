package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Message describes the delivery an interceptor runs for.
type Message struct {
	ID            string
	Type          string
	CorrelationID string
	RoutingKey    string
	Data          json.RawMessage
}

// Interceptor wraps handler invocation. It calls next to continue the chain,
// possibly with a different context or data.
type Interceptor interface {
	Intercept(ctx context.Context, msg Message, next Handler) error
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, msg Message, next Handler) error
}

func NewInterceptorFunc(name string, fn func(ctx context.Context, msg Message, next Handler) error) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, msg Message, next Handler) error {
	return i.fn(ctx, msg, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// chain wraps h so that interceptors run first to last around it.
func chain(interceptors []Interceptor, msg Message, h Handler) Handler {
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor, next := interceptors[i], h
		h = func(ctx context.Context, data json.RawMessage) error {
			m := msg
			m.Data = data
			return interceptor.Intercept(ctx, m, next)
		}
	}
	return h
}

// LoggingInterceptor logs handler start and completion at debug level.
type LoggingInterceptor struct {
	logger *slog.Logger
}

func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, msg Message, next Handler) error {
	start := time.Now()

	i.logger.DebugContext(ctx, "handling message",
		"messageId", msg.ID,
		"messageType", msg.Type,
	)

	err := next(ctx, msg.Data)

	i.logger.DebugContext(ctx, "handler returned",
		"messageId", msg.ID,
		"messageType", msg.Type,
		"duration", time.Since(start),
		"error", err,
	)
	return err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// TimeoutInterceptor gives each handler a deadline. Handlers must watch ctx;
// the interceptor does not abandon a handler that ignores it.
type TimeoutInterceptor struct {
	timeout time.Duration
}

func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor
func (i *TimeoutInterceptor) Intercept(ctx context.Context, msg Message, next Handler) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	return next(ctx, msg.Data)
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}

// PayloadValidator checks data against a domain contract.
// *schema.ContractValidator implements it.
type PayloadValidator interface {
	Validate(domain, messageType string, payload any) error
}

// ContractInterceptor validates inbound data against the domain contract of
// its message type and fails the handler when it does not conform.
type ContractInterceptor struct {
	validator PayloadValidator
	domain    string
}

func NewContractInterceptor(validator PayloadValidator, domain string) *ContractInterceptor {
	return &ContractInterceptor{validator: validator, domain: domain}
}

// Intercept implements Interceptor
func (i *ContractInterceptor) Intercept(ctx context.Context, msg Message, next Handler) error {
	if err := i.validator.Validate(i.domain, msg.Type, msg.Data); err != nil {
		return fmt.Errorf("inbound %s payload: %w", msg.Type, err)
	}
	return next(ctx, msg.Data)
}

// Name implements Interceptor
func (i *ContractInterceptor) Name() string {
	return "ContractInterceptor"
}
