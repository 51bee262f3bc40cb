package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/agent-datastore/internal/config"
	registrycache "github.com/chirino/agent-datastore/internal/registry/cache"
	"github.com/chirino/agent-datastore/internal/registry/docdb"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.DocumentCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: AGENT_DATASTORE_REDIS_URL is required")
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, cfg.CacheTTL)
}

// LoadFromURLWithTTL creates a cache from a Redis URL with an explicit default TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (*DocumentCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	return LoadFromOptionsWithTTL(ctx, opts, ttl)
}

// LoadFromOptionsWithTTL creates a cache from go-redis Options.
func LoadFromOptionsWithTTL(ctx context.Context, opts *goredis.Options, ttl time.Duration) (*DocumentCache, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &DocumentCache{client: client, ttl: ttl}, nil
}

// DocumentCache stores JSON-encoded documents in Redis.
type DocumentCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func (c *DocumentCache) Available() bool {
	return true
}

func (c *DocumentCache) Get(ctx context.Context, collection, id string) (docdb.Document, error) {
	data, err := c.client.Get(ctx, registrycache.Key(collection, id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return registrycache.Decode(data)
}

func (c *DocumentCache) Set(ctx context.Context, collection, id string, doc docdb.Document, ttl time.Duration) error {
	data, err := registrycache.Encode(doc)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, registrycache.Key(collection, id), data, ttl).Err()
}

func (c *DocumentCache) Remove(ctx context.Context, collection, id string) error {
	return c.client.Del(ctx, registrycache.Key(collection, id)).Err()
}

// Close releases the Redis client.
func (c *DocumentCache) Close() error {
	return c.client.Close()
}

var _ registrycache.DocumentCache = (*DocumentCache)(nil)
