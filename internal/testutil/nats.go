package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewNATSContainer starts a NATS server container and returns its client URL.
//
// Precondition: Docker must be available.
// Postcondition: Returns a nats:// URL of a running server, or fails the test.
func NewNATSContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	req := testcontainers.ContainerRequest{
		Image:        "nats:2.10-alpine",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor: wait.ForLog("Server is ready").
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("starting nats container: %v [%s]", err, time.Since(start))
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, "4222")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	t.Logf("nats container started [%s]", time.Since(start))
	return fmt.Sprintf("nats://%s:%d", host, mappedPort.Int())
}
