package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/agent-datastore/internal/registry/docdb"
)

type documentCacheKey struct{}

// WithDocumentCacheContext returns a new context carrying the given DocumentCache.
func WithDocumentCacheContext(ctx context.Context, c DocumentCache) context.Context {
	return context.WithValue(ctx, documentCacheKey{}, c)
}

// DocumentCacheFromContext retrieves the DocumentCache from the context.
// Returns nil if none was set.
func DocumentCacheFromContext(ctx context.Context) DocumentCache {
	c, _ := ctx.Value(documentCacheKey{}).(DocumentCache)
	return c
}

// DocumentCache caches documents by collection and id.
// Get returns nil, nil on a miss.
type DocumentCache interface {
	Available() bool
	Get(ctx context.Context, collection, id string) (docdb.Document, error)
	Set(ctx context.Context, collection, id string, doc docdb.Document, ttl time.Duration) error
	Remove(ctx context.Context, collection, id string) error
}

// Key returns the cache key of a document.
func Key(collection, id string) string {
	return "docdb:" + collection + ":" + id
}

// Encode serializes a document for storage in a byte-oriented cache.
func Encode(doc docdb.Document) ([]byte, error) {
	return json.Marshal(doc)
}

// Decode reverses Encode.
func Decode(data []byte) (docdb.Document, error) {
	var doc docdb.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (DocumentCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
