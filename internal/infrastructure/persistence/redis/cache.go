// Package redis holds the optional Redis side of the points engine: the
// versioned leaderboard cache and the pub/sub notification transport. The
// engine runs without it; Redis only ever holds derived data.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Namespace prefixes every key and channel. Default "campushub".
	Namespace string

	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns local-development settings.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Namespace:    "campushub",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// DefaultLeaderboardTTL bounds how long an unused top-N page lives.
const DefaultLeaderboardTTL = 5 * time.Minute

var (
	ErrCacheMiss       = errors.New("cache: key not found")
	ErrCacheConnection = errors.New("cache: connection failed")
	ErrEmptyUserID     = errors.New("cache: empty user ID")
)

// Cache is the shared Redis connection. The leaderboard cache and the
// notification transport are built on top of it.
type Cache struct {
	client redis.UniversalClient
	keys   keyspace
}

// NewCache connects and pings within DialTimeout.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheConnection, cfg.Addr, err)
	}

	return &Cache{client: client, keys: keyspace(cfg.Namespace)}, nil
}

// NewCacheFromClient wraps an existing client under namespace.
func NewCacheFromClient(client redis.UniversalClient, namespace string) *Cache {
	return &Cache{client: client, keys: keyspace(namespace)}
}

func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// ══════════════════════════════════════════════════════════════════════════════
// KEYS
// ══════════════════════════════════════════════════════════════════════════════

// keyspace builds every key the engine writes.
//
//	{ns}:leaderboard:version         counter, bumped after each append
//	{ns}:leaderboard:top:{v}:{limit} JSON page, expires on TTL
//	{ns}:notify:{user}               pub/sub channel
type keyspace string

func (k keyspace) ns() string {
	if k == "" {
		return "campushub"
	}
	return string(k)
}

func (k keyspace) leaderboardVersion() string {
	return k.ns() + ":leaderboard:version"
}

func (k keyspace) leaderboardTop(version int64, limit int) string {
	return fmt.Sprintf("%s:leaderboard:top:%d:%d", k.ns(), version, limit)
}

func (k keyspace) notifications(userID string) string {
	return k.ns() + ":notify:" + userID
}

// ══════════════════════════════════════════════════════════════════════════════
// PRIMITIVES
// ══════════════════════════════════════════════════════════════════════════════

func (c *Cache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) getJSON(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// counter reads an integer key; a missing key reads as 0.
func (c *Cache) counter(ctx context.Context, key string) (int64, error) {
	v, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *Cache) publishJSON(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.client.Publish(ctx, channel, data).Err()
}
