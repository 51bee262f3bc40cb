package datastore

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/agent-datastore/internal/config"
	"github.com/chirino/agent-datastore/internal/plugin/docdb/cached"
	"github.com/chirino/agent-datastore/internal/plugin/docdb/metrics"
	registrycache "github.com/chirino/agent-datastore/internal/registry/cache"
	"github.com/chirino/agent-datastore/internal/registry/docdb"
)

// Load builds a record store from the Config carried by ctx: it opens the
// configured document database, then layers the document cache carried by ctx
// (if any) and latency metrics on top.
//
// Backend and cache plugins must already be registered by the caller's imports.
func Load(ctx context.Context) (*Service, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("datastore: no config in context")
	}
	loader, err := docdb.Select(cfg.DocDBType)
	if err != nil {
		return nil, err
	}
	db, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("datastore: open %s: %w", cfg.DocDBType, err)
	}
	db = cached.Wrap(db, registrycache.DocumentCacheFromContext(ctx), cfg.CacheTTL)
	db = metrics.Wrap(db)
	log.Info("Agent data store ready", "backend", cfg.DocDBType, "cache", cfg.CacheType, "collection", Collection)
	return NewService(db), nil
}
