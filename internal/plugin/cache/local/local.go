// Package local provides an in-process document cache backed by ristretto.
// It suits single-replica deployments; replicas do not see each other's invalidations.
package local

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/agent-datastore/internal/config"
	registrycache "github.com/chirino/agent-datastore/internal/registry/cache"
	"github.com/chirino/agent-datastore/internal/registry/docdb"
	"github.com/dgraph-io/ristretto/v2"
)

const (
	defaultTTL          = 10 * time.Minute
	defaultMaxDocuments = 100_000
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "local",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.DocumentCache, error) {
	maxDocs := int64(defaultMaxDocuments)
	ttl := defaultTTL
	if cfg := config.FromContext(ctx); cfg != nil {
		if cfg.LocalCacheMaxDocuments > 0 {
			maxDocs = cfg.LocalCacheMaxDocuments
		}
		if cfg.CacheTTL > 0 {
			ttl = cfg.CacheTTL
		}
	}
	return New(maxDocs, ttl)
}

// DocumentCache holds encoded documents; each entry costs 1.
type DocumentCache struct {
	cache *ristretto.Cache[string, []byte]
	ttl   time.Duration
}

// New returns a cache holding at most maxDocuments entries.
func New(maxDocuments int64, ttl time.Duration) (*DocumentCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxDocuments * 10,
		MaxCost:     maxDocuments,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("local cache: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &DocumentCache{cache: c, ttl: ttl}, nil
}

func (c *DocumentCache) Available() bool { return true }

func (c *DocumentCache) Get(_ context.Context, collection, id string) (docdb.Document, error) {
	data, ok := c.cache.Get(registrycache.Key(collection, id))
	if !ok {
		return nil, nil
	}
	return registrycache.Decode(data)
}

// Set stores doc. Writes are buffered by ristretto and may be dropped under
// contention, which only costs a later miss.
func (c *DocumentCache) Set(_ context.Context, collection, id string, doc docdb.Document, ttl time.Duration) error {
	data, err := registrycache.Encode(doc)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	c.cache.SetWithTTL(registrycache.Key(collection, id), data, 1, ttl)
	return nil
}

func (c *DocumentCache) Remove(_ context.Context, collection, id string) error {
	c.cache.Del(registrycache.Key(collection, id))
	return nil
}

// Wait blocks until buffered writes are applied.
func (c *DocumentCache) Wait() {
	c.cache.Wait()
}

// Close stops the cache's background goroutines.
func (c *DocumentCache) Close() {
	c.cache.Close()
}

var _ registrycache.DocumentCache = (*DocumentCache)(nil)
