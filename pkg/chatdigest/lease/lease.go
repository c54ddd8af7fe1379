// Package lease provides the optional cross-instance guard for the
// document analysis pipeline.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Lease is a single-holder, expiring lock.
type Lease interface {
	// Acquire returns true when this holder now owns the lease.
	Acquire(ctx context.Context) (bool, error)

	// Release gives the lease up if this holder still owns it.
	Release(ctx context.Context) error
}

// Config configures the redis lease. An empty Addr disables it.
type Config struct {
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Key      string        `yaml:"key"`
	TTL      time.Duration `yaml:"ttl"`
}

// Enabled reports whether a redis address is configured.
func (c Config) Enabled() bool { return c.Addr != "" }

// Nop always grants the lease. Used when no redis is configured.
type Nop struct{}

func (Nop) Acquire(context.Context) (bool, error) { return true, nil }
func (Nop) Release(context.Context) error         { return nil }

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease stored as a single key with SET NX PX.
type Redis struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("lease: redis addr required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("lease: redis ping: %w", err)
	}
	return NewRedisFromClient(client, cfg.Key, cfg.TTL), nil
}

// NewRedisFromClient builds a lease over an existing client.
func NewRedisFromClient(client *redis.Client, key string, ttl time.Duration) *Redis {
	if key == "" {
		key = "chatdigest:analysis:lease"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{client: client, key: key, token: uuid.NewString(), ttl: ttl}
}

// Acquire implements Lease. Re-acquiring a lease we already hold extends it.
func (r *Redis) Acquire(ctx context.Context) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key, r.token, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease: acquire: %w", err)
	}
	if ok {
		return true, nil
	}

	holder, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lease: read holder: %w", err)
	}
	if holder != r.token {
		return false, nil
	}
	if err := r.client.PExpire(ctx, r.key, r.ttl).Err(); err != nil {
		return false, fmt.Errorf("lease: extend: %w", err)
	}
	return true, nil
}

// Release implements Lease.
func (r *Redis) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lease: release: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Compile-time interface verification.
var (
	_ Lease = Nop{}
	_ Lease = (*Redis)(nil)
)
