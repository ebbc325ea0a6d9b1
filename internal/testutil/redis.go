package testutil

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartRedis launches a throwaway redis:7-alpine container and returns a
// connected client plus a cleanup function. An error means Docker is not
// available and integration tests should be skipped.
func StartRedis(ctx context.Context) (client *redis.Client, cleanup func(), err error) {
	var container testcontainers.Container

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if err != nil {
		return nil, func() {}, err
	}

	terminate := func() { _ = container.Terminate(ctx) }

	host, err := container.Host(ctx)
	if err != nil {
		terminate()
		return nil, func() {}, fmt.Errorf("container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		terminate()
		return nil, func() {}, fmt.Errorf("container port: %w", err)
	}

	client = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		terminate()
		return nil, func() {}, fmt.Errorf("ping redis: %w", err)
	}

	return client, func() {
		_ = client.Close()
		terminate()
	}, nil
}
