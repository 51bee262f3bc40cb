package noop

import (
	"context"
	"time"

	"github.com/chirino/agent-datastore/internal/registry/cache"
	"github.com/chirino/agent-datastore/internal/registry/docdb"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.DocumentCache, error) {
			return &noopDocumentCache{}, nil
		},
	})
}

type noopDocumentCache struct{}

func (n *noopDocumentCache) Available() bool { return false }
func (n *noopDocumentCache) Get(_ context.Context, _, _ string) (docdb.Document, error) {
	return nil, nil
}
func (n *noopDocumentCache) Set(_ context.Context, _, _ string, _ docdb.Document, _ time.Duration) error {
	return nil
}
func (n *noopDocumentCache) Remove(_ context.Context, _, _ string) error { return nil }

var _ cache.DocumentCache = (*noopDocumentCache)(nil)
