package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisURL returns a redis:// URL for integration tests: REDIS_URL when set,
// otherwise a throwaway redis container when PGTEST_CONTAINER=1. The test is
// skipped when neither is available. The returned cleanup must be deferred.
func RedisURL(t *testing.T) (string, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("short mode, skipping integration test")
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		return url, func() {}
	}
	if os.Getenv("PGTEST_CONTAINER") != "1" {
		t.Skip("REDIS_URL not set, skipping redis integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redistest: redis container unavailable: %v", err)
	}
	terminate := func() { _ = rc.Terminate(context.Background()) }

	host, err := rc.Host(ctx)
	if err != nil {
		terminate()
		t.Fatalf("redistest: container host: %v", err)
	}
	port, err := rc.MappedPort(ctx, "6379/tcp")
	if err != nil {
		terminate()
		t.Fatalf("redistest: mapped port: %v", err)
	}
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port()), terminate
}
