//go:build integration
// +build integration

package testinfra

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const rabbitImage = "rabbitmq:3.13-management-alpine"

// RabbitMQ is a broker reachable from tests.
type RabbitMQ struct {
	Container testcontainers.Container
	Host      string
	Port      int
}

// NewRabbitMQ starts a throwaway broker. When RABBITMQ_HOST is set the
// broker at RABBITMQ_HOST:RABBITMQ_PORT is used instead.
func NewRabbitMQ(ctx context.Context) (*RabbitMQ, error) {
	if host := os.Getenv("RABBITMQ_HOST"); host != "" {
		port := 5672
		if p := os.Getenv("RABBITMQ_PORT"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("invalid RABBITMQ_PORT %q: %w", p, err)
			}
			port = n
		}
		return &RabbitMQ{Host: host, Port: port}, nil
	}

	req := testcontainers.ContainerRequest{
		Image:        rabbitImage,
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete"),
	}

	container, err := testcontainers.GenericContainer(ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start rabbitmq container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get rabbitmq host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5672/tcp")
	if err != nil {
		return nil, fmt.Errorf("failed to get rabbitmq port: %w", err)
	}

	return &RabbitMQ{
		Container: container,
		Host:      host,
		Port:      port.Int(),
	}, nil
}

func (r *RabbitMQ) Cleanup(ctx context.Context) {
	if r.Container != nil {
		r.Container.Terminate(ctx)
	}
}
