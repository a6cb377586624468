// Copyright 2024 Polako Finance
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package polako

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Polako-Finance/polako-common/config"
	"github.com/Polako-Finance/polako-common/messaging"
	"github.com/Polako-Finance/polako-common/rabbitmq"
	"github.com/Polako-Finance/polako-common/schema"
)

// Client provides the main entry point for polako services. It owns one
// broker connection, the handler registry and the contract validator.
type Client struct {
	validator *schema.ContractValidator
	conn      *rabbitmq.Connection
	router    *messaging.Router
	publisher *messaging.Publisher
	logger    *slog.Logger
}

// clientConfig holds client configuration
type clientConfig struct {
	logger          *slog.Logger
	tracerProvider  trace.TracerProvider
	registerer      prometheus.Registerer
	fs              afero.Fs
	dialer          rabbitmq.Dialer
	deadLetterKey   string
	validateInbound bool
	interceptors    []messaging.Interceptor
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithTracerProvider sets the tracer provider for publish and consume spans
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(cfg *clientConfig) {
		if tp != nil {
			cfg.tracerProvider = tp
		}
	}
}

// WithMetrics registers the messaging collectors on reg
func WithMetrics(reg prometheus.Registerer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.registerer = reg
	}
}

// WithFs sets the filesystem the contracts directory is read from
func WithFs(fs afero.Fs) ClientOption {
	return func(cfg *clientConfig) {
		if fs != nil {
			cfg.fs = fs
		}
	}
}

// WithDialer replaces the AMQP dialer
func WithDialer(dialer rabbitmq.Dialer) ClientOption {
	return func(cfg *clientConfig) {
		if dialer != nil {
			cfg.dialer = dialer
		}
	}
}

// WithDeadLetterRoutingKey republishes discarded deliveries with key. It
// overrides RABBITMQ_DEAD_LETTER_ROUTING_KEY.
func WithDeadLetterRoutingKey(key string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.deadLetterKey = key
	}
}

// WithInboundValidation checks inbound envelopes against the envelope schema
func WithInboundValidation(enabled bool) ClientOption {
	return func(cfg *clientConfig) {
		cfg.validateInbound = enabled
	}
}

// WithInterceptors wraps every registered handler in interceptors
func WithInterceptors(interceptors ...messaging.Interceptor) ClientOption {
	return func(cfg *clientConfig) {
		cfg.interceptors = append(cfg.interceptors, interceptors...)
	}
}

// NewClient wires a client from cfg. No connection is opened until Connect,
// Publish or StartConsuming is called.
func NewClient(cfg config.Config, options ...ClientOption) (*Client, error) {
	cc := &clientConfig{
		logger:          slog.Default(),
		tracerProvider:  noop.NewTracerProvider(),
		fs:              afero.NewOsFs(),
		dialer:          rabbitmq.DialAMQP,
		validateInbound: cfg.ValidateInbound,
	}

	for _, opt := range options {
		opt(cc)
	}

	brokerCfg := cfg.Broker()
	if cc.deadLetterKey != "" {
		brokerCfg.DeadLetterRoutingKey = cc.deadLetterKey
	}
	if err := brokerCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid broker configuration: %w", err)
	}

	var metrics *messaging.Metrics
	if cc.registerer != nil {
		metrics = messaging.NewMetrics(cc.registerer)
	}

	store := schema.NewStore(cc.fs, cfg.ContractsDir, schema.WithStoreLogger(cc.logger))
	validator := schema.NewContractValidator(store, schema.WithValidatorLogger(cc.logger))

	conn := rabbitmq.NewConnection(brokerCfg,
		rabbitmq.WithLogger(cc.logger),
		rabbitmq.WithDialer(cc.dialer),
	)

	routerOpts := []messaging.RouterOption{
		messaging.WithRouterLogger(cc.logger),
		messaging.WithRouterMetrics(metrics),
		messaging.WithRouterTracerProvider(cc.tracerProvider),
		messaging.WithInterceptors(cc.interceptors...),
	}
	if cc.validateInbound {
		routerOpts = append(routerOpts, messaging.WithInboundValidation(validator))
	}
	if brokerCfg.DeadLetterRoutingKey != "" {
		routerOpts = append(routerOpts, messaging.WithDeadLetter(
			messaging.NewDeadLetterPublisher(conn, brokerCfg.DeadLetterRoutingKey),
		))
	}

	publisher := messaging.NewPublisher(validator, conn,
		messaging.WithPublisherLogger(cc.logger),
		messaging.WithPublisherMetrics(metrics),
		messaging.WithPublisherTracerProvider(cc.tracerProvider),
		messaging.WithDefaultSender(cfg.ServiceName),
	)

	return &Client{
		validator: validator,
		conn:      conn,
		router:    messaging.NewRouter(routerOpts...),
		publisher: publisher,
		logger:    cc.logger,
	}, nil
}

// Connect opens the connection and declares the topology. It is a no-op
// when already connected.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Disconnect stops consuming, waits for in-flight handlers bounded by ctx
// and closes the connection.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.conn.Disconnect(ctx)
}

// RegisterHandler registers handler for messageType. Registration is closed
// once StartConsuming has been called.
func (c *Client) RegisterHandler(messageType string, handler messaging.Handler) error {
	return c.router.RegisterHandler(messageType, handler)
}

// Publish validates data against the domain contract, wraps it in an
// envelope and publishes it with routingKey.
func (c *Client) Publish(ctx context.Context, routingKey string, data any, messageType, domain string, options ...schema.EnvelopeOption) error {
	return c.publisher.Publish(ctx, routingKey, data, messageType, domain, options...)
}

// StartConsuming seals the handler registry and starts dispatching
// deliveries from the configured queue. It returns once the consumer is
// registered; handlers run until Disconnect.
func (c *Client) StartConsuming(ctx context.Context) error {
	c.router.Seal()

	if err := c.conn.StartConsuming(ctx, c.dispatch); err != nil {
		return err
	}

	c.logger.Info("consuming",
		"queue", c.conn.Config().Queue,
		"message_types", c.router.MessageTypes())

	return nil
}

// Outcomes are logged and counted by the router; every delivery is already
// acknowledged when HandleDelivery returns.
func (c *Client) dispatch(ctx context.Context, d amqp.Delivery) {
	_ = c.router.HandleDelivery(ctx, d)
}

// Validator returns the contract validator
func (c *Client) Validator() *schema.ContractValidator {
	return c.validator
}

// State returns the broker connection state
func (c *Client) State() rabbitmq.State {
	return c.conn.State()
}
