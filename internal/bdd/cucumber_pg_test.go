package bdd

import (
	"testing"

	"github.com/chirino/agent-datastore/internal/config"
	"github.com/chirino/agent-datastore/internal/testutil/testpg"
)

func TestFeaturesPostgres(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DocDBType = "postgres"
	cfg.DBURL = testpg.StartPostgres(t)
	cfg.CacheType = "local"
	runFeatures(t, &cfg, nil, "features")
}
