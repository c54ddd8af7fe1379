package lease

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// redisClient connects to TEST_REDIS_ADDR or skips.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("skipping redis test: TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNop(t *testing.T) {
	ok, err := Nop{}.Acquire(context.Background())
	if !ok || err != nil {
		t.Fatalf("Nop.Acquire = %v, %v", ok, err)
	}
}

func TestRedis_SingleHolder(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	key := "chatdigest:test:" + t.Name()
	client.Del(ctx, key)

	a := NewRedisFromClient(client, key, time.Minute)
	b := NewRedisFromClient(client, key, time.Minute)

	if ok, err := a.Acquire(ctx); !ok || err != nil {
		t.Fatalf("a.Acquire = %v, %v", ok, err)
	}
	if ok, err := a.Acquire(ctx); !ok || err != nil {
		t.Fatalf("re-acquire by holder = %v, %v", ok, err)
	}
	if ok, _ := b.Acquire(ctx); ok {
		t.Fatal("b acquired a held lease")
	}

	// Releasing someone else's lease is a no-op.
	if err := b.Release(ctx); err != nil {
		t.Fatalf("b.Release failed: %v", err)
	}
	if ok, _ := b.Acquire(ctx); ok {
		t.Fatal("b acquired after its own no-op release")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("a.Release failed: %v", err)
	}
	if ok, err := b.Acquire(ctx); !ok || err != nil {
		t.Fatalf("b.Acquire after release = %v, %v", ok, err)
	}
}

func TestConfig_Enabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Error("empty config should be disabled")
	}
	if !(Config{Addr: "localhost:6379"}).Enabled() {
		t.Error("config with addr should be enabled")
	}
}
