//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a Redis container and returns a client.
func setupRedisContainer(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		container.Terminate(ctx)
	})

	return client
}

func TestManager_Integration_SharedAcrossManagers(t *testing.T) {
	client := setupRedisContainer(t)
	ctx := context.Background()
	key := CacheKey{Endpoint: "/basemaps/v1/mosaics/m1/quads"}

	first := NewManager(client, time.Minute)
	if err := first.Set(ctx, key, testEntry(time.Now().Add(time.Minute))); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	second := NewManager(client, time.Minute)
	if _, err := second.Get(ctx, key); err != nil {
		t.Fatalf("Get from second manager failed: %v", err)
	}

	ttl, err := client.TTL(ctx, key.String()).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("Redis TTL = %v, want (0, 1m]", ttl)
	}

	if err := second.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	first.Flush()
	if _, err := first.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("Get after Delete = %v, want ErrCacheMiss", err)
	}
}
