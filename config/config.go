// Package config loads client settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Polako-Finance/polako-common/rabbitmq"
)

type Config struct {
	ServiceName  string `env:"SERVICE_NAME" envDefault:"polako-service"`
	Environment  string `env:"ENVIRONMENT" envDefault:"development"`
	ContractsDir string `env:"CONTRACTS_DIR" envDefault:"contracts"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Tracing is exported only when an endpoint is configured.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	MetricsAddr  string `env:"METRICS_ADDR"`

	// Inbound envelopes are checked against envelope.json before dispatch.
	ValidateInbound bool `env:"VALIDATE_INBOUND" envDefault:"false"`

	RabbitMQ RabbitMQ `envPrefix:"RABBITMQ_"`
}

type RabbitMQ struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5672"`
	User     string `env:"USER" envDefault:"guest"`
	Password string `env:"PASSWORD" envDefault:"guest"`
	VHost    string `env:"VHOST" envDefault:"/"`

	Exchange   string `env:"EXCHANGE" envDefault:"polako"`
	Queue      string `env:"QUEUE"`
	RoutingKey string `env:"ROUTING_KEY"`
	QueueType  string `env:"QUEUE_TYPE" envDefault:"quorum"`
	Prefetch   int    `env:"PREFETCH" envDefault:"10"`

	DeadLetterRoutingKey string `env:"DEAD_LETTER_ROUTING_KEY"`

	DialTimeout time.Duration `env:"DIAL_TIMEOUT" envDefault:"30s"`
	Heartbeat   time.Duration `env:"HEARTBEAT" envDefault:"10s"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(nil)
}

// LoadFrom reads the configuration from environ, or from the process
// environment when environ is nil.
func LoadFrom(environ map[string]string) (Config, error) {
	c, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		return Config{}, err
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.RabbitMQ.Prefetch < 1 {
		return fmt.Errorf("config: RABBITMQ_PREFETCH must be positive, got %d", c.RabbitMQ.Prefetch)
	}
	return c.Broker().Validate()
}

// Broker converts the RabbitMQ block into a connection config. The service
// name doubles as the AMQP connection name.
func (c Config) Broker() rabbitmq.Config {
	r := c.RabbitMQ
	return rabbitmq.Config{
		Host:                 r.Host,
		Port:                 r.Port,
		User:                 r.User,
		Password:             r.Password,
		VHost:                r.VHost,
		Exchange:             r.Exchange,
		Queue:                r.Queue,
		RoutingKey:           r.RoutingKey,
		QueueType:            r.QueueType,
		DeadLetterRoutingKey: r.DeadLetterRoutingKey,
		Prefetch:             r.Prefetch,
		ConnectionName:       c.ServiceName,
		DialTimeout:          r.DialTimeout,
		Heartbeat:            r.Heartbeat,
	}
}
