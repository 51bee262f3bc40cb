// Package cached decorates a DocumentDB with a read-through DocumentCache.
// Writes and deletes invalidate the cached entry after the database call, so a
// reader never sees a cached document older than the last completed write from
// this process. ListAll always goes to the database.
//
// A fill that races with a write is undone: every write bumps a generation
// counter for its id before invalidating, and a reader that observes a bump
// between its database read and its cache fill removes what it just cached.
package cached

import (
	"context"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	registrycache "github.com/chirino/agent-datastore/internal/registry/cache"
	"github.com/chirino/agent-datastore/internal/registry/docdb"
	"github.com/chirino/agent-datastore/internal/security"
)

// Wrap returns inner unchanged when c is nil or unavailable.
func Wrap(inner docdb.DocumentDB, c registrycache.DocumentCache, ttl time.Duration) docdb.DocumentDB {
	if c == nil || !c.Available() {
		return inner
	}
	return &cachedDB{inner: inner, cache: c, ttl: ttl}
}

// generationStripes bounds the counter table; ids sharing a stripe only cause
// extra removals.
const generationStripes = 256

type cachedDB struct {
	inner       docdb.DocumentDB
	cache       registrycache.DocumentCache
	ttl         time.Duration
	generations [generationStripes]atomic.Uint64
}

func (c *cachedDB) generation(collection, id string) *atomic.Uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(registrycache.Key(collection, id)))
	return &c.generations[h.Sum32()%generationStripes]
}

func (c *cachedDB) Get(ctx context.Context, collection, id string) (docdb.Document, error) {
	doc, err := c.cache.Get(ctx, collection, id)
	if err != nil {
		log.Warn("Document cache read failed", "collection", collection, "id", id, "err", err)
	} else if doc != nil {
		security.CacheHit()
		return doc, nil
	}
	security.CacheMiss()

	gen := c.generation(collection, id)
	before := gen.Load()
	doc, err = c.inner.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, collection, id, doc, c.ttl); err != nil {
		log.Warn("Document cache write failed", "collection", collection, "id", id, "err", err)
	}
	if gen.Load() != before {
		c.invalidate(ctx, collection, id)
	}
	return doc, nil
}

func (c *cachedDB) Save(ctx context.Context, collection, id string, doc docdb.Document) (*docdb.SaveResult, error) {
	res, err := c.inner.Save(ctx, collection, id, doc)
	c.written(ctx, collection, id)
	return res, err
}

func (c *cachedDB) Delete(ctx context.Context, collection, id string) error {
	err := c.inner.Delete(ctx, collection, id)
	c.written(ctx, collection, id)
	return err
}

func (c *cachedDB) ListAll(ctx context.Context, collection string) ([]docdb.Document, error) {
	return c.inner.ListAll(ctx, collection)
}

func (c *cachedDB) Close(ctx context.Context) error {
	return c.inner.Close(ctx)
}

func (c *cachedDB) written(ctx context.Context, collection, id string) {
	c.generation(collection, id).Add(1)
	c.invalidate(ctx, collection, id)
}

func (c *cachedDB) invalidate(ctx context.Context, collection, id string) {
	if err := c.cache.Remove(ctx, collection, id); err != nil {
		log.Warn("Document cache invalidation failed", "collection", collection, "id", id, "err", err)
	}
}

var _ docdb.DocumentDB = (*cachedDB)(nil)
