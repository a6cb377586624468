package rabbitmq

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPrefetch    = 10
	DefaultQueueType   = "quorum"
	DefaultDialTimeout = 30 * time.Second
	DefaultHeartbeat   = 10 * time.Second
)

// Config describes where the broker lives and which topology the client owns.
// Queue and RoutingKey are optional; a publish-only client leaves both empty.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string

	Exchange   string
	Queue      string
	RoutingKey string
	QueueType  string

	// DeadLetterRoutingKey, when set together with Queue, declares a
	// "<Queue>.dead-letter" queue bound to Exchange with this key.
	DeadLetterRoutingKey string

	Prefetch       int
	ConnectionName string
	DialTimeout    time.Duration
	Heartbeat      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5672
	}
	if c.User == "" {
		c.User = "guest"
	}
	if c.Password == "" {
		c.Password = "guest"
	}
	if c.VHost == "" {
		c.VHost = "/"
	}
	if c.Prefetch <= 0 {
		c.Prefetch = DefaultPrefetch
	}
	if c.QueueType == "" {
		c.QueueType = DefaultQueueType
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = DefaultHeartbeat
	}
	return c
}

// Validate checks that the configuration can describe a topology.
func (c Config) Validate() error {
	if c.Exchange == "" {
		return fmt.Errorf("%w: exchange name is required", ErrInvalidConfiguration)
	}
	if c.RoutingKey != "" && c.Queue == "" {
		return fmt.Errorf("%w: routing key %q configured without a queue", ErrInvalidConfiguration, c.RoutingKey)
	}
	if c.RoutingKey != "" && c.DeadLetterRoutingKey != "" && TopicMatches(c.RoutingKey, c.DeadLetterRoutingKey) {
		return fmt.Errorf("%w: dead-letter routing key %q is matched by queue binding %q",
			ErrInvalidConfiguration, c.DeadLetterRoutingKey, c.RoutingKey)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfiguration, c.Port)
	}
	return nil
}

// URL renders the AMQP URI for the configured endpoint.
func (c Config) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/",
	}
	if c.VHost != "" && c.VHost != "/" {
		u.Path = "/" + c.VHost
		u.RawPath = "/" + url.PathEscape(c.VHost)
	}
	return u.String()
}

// DeadLetterQueue returns the name of the queue that retains dead-lettered
// deliveries, or "" when no dead-letter route is configured.
func (c Config) DeadLetterQueue() string {
	if c.Queue == "" || c.DeadLetterRoutingKey == "" {
		return ""
	}
	return c.Queue + ".dead-letter"
}

// SanitizeURL removes the password from an AMQP URL so it can be logged.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		// Fall back to cutting everything between scheme and host.
		if i := strings.Index(raw, "@"); i >= 0 {
			if j := strings.Index(raw, "://"); j >= 0 && j < i {
				return raw[:j+3] + "***" + raw[i:]
			}
		}
		return raw
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}
