//go:build integration

package threat

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	redisTestImage = "redis:7-alpine"
	redisTestPort  = "6379/tcp"
)

// testRedisAddr prefers MTD_TEST_REDIS_ADDR and otherwise starts a Redis
// container that lives for the duration of the test.
func testRedisAddr(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv("MTD_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	if !dockerAvailable() {
		t.Skip("Skipping test: Docker not available")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        redisTestImage,
			ExposedPorts: []string{redisTestPort},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(redisTestPort),
				wait.ForLog("Ready to accept connections"),
			).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, redisTestPort)
	if err != nil {
		t.Fatalf("get mapped port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func dockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "info").Run() == nil
}
