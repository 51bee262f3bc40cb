package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromContext_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	require.Same(t, &cfg, FromContext(ctx))
	require.Nil(t, FromContext(context.Background()))
}

func TestAuthRequired(t *testing.T) {
	var nilCfg *Config
	require.False(t, nilCfg.AuthRequired())

	cfg := DefaultConfig()
	require.False(t, cfg.AuthRequired())

	cfg.APIKeys = map[string]string{"secret": "planner"}
	require.True(t, cfg.AuthRequired())

	cfg = DefaultConfig()
	cfg.OIDCIssuer = "https://issuer.example"
	require.True(t, cfg.AuthRequired())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("AGENT_DATASTORE_CACHE_TTL", "PT2H")
	t.Setenv("AGENT_DATASTORE_LOCAL_CACHE_MAX_DOCUMENTS", "500")
	t.Setenv("AGENT_DATASTORE_CORS_ENABLED", "true")
	t.Setenv("AGENT_DATASTORE_MAX_BODY_SIZE", "12M")
	t.Setenv("AGENT_DATASTORE_API_KEYS_PLANNER", "k1, k2")
	t.Setenv("AGENT_DATASTORE_API_KEYS_Researcher", "k3")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	require.Equal(t, 2*time.Hour, cfg.CacheTTL)
	require.Equal(t, int64(500), cfg.LocalCacheMaxDocuments)
	require.True(t, cfg.CORSEnabled)
	require.Equal(t, int64(12*1024*1024), cfg.MaxBodySize)
	require.Equal(t, map[string]string{"k1": "planner", "k2": "planner", "k3": "researcher"}, cfg.APIKeys)
}

func TestApplyEnv_InvalidDuration(t *testing.T) {
	t.Setenv("AGENT_DATASTORE_CACHE_TTL", "forever")
	cfg := DefaultConfig()
	require.Error(t, cfg.ApplyEnv())
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("90s")
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, d)

	d, err = parseDuration("PT1H30M")
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, d)

	_, err = parseDuration("PT")
	require.Error(t, err)
}
