package bdd

import (
	"testing"

	"github.com/chirino/agent-datastore/internal/config"
	"github.com/chirino/agent-datastore/internal/testutil/testmongo"
	"github.com/chirino/agent-datastore/internal/testutil/testredis"
)

func TestFeaturesMongo(t *testing.T) {
	mongoURL := testmongo.StartMongo(t, "agent_datastore_bdd")
	redisURL := testredis.StartRedis(t)

	cfg := config.DefaultConfig()
	cfg.DocDBType = "mongo"
	cfg.DBURL = mongoURL
	cfg.CacheType = "redis"
	cfg.RedisURL = redisURL
	runFeatures(t, &cfg, nil, "features")
}
