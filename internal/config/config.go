package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the agent data store.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode unknown API keys are accepted.
	Mode string

	// Document database backend: "memdb", "mongo", "postgres" or "sqlite".
	DocDBType string
	DBURL     string

	// Name of the Mongo database; when empty it is taken from the URL path.
	MongoDatabase string

	// Run document database migrations on startup.
	MigrateAtStart bool

	// DB pool (SQL backends)
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Document cache backend: "none", "local" or "redis".
	CacheType string
	RedisURL  string
	CacheTTL  time.Duration

	// Maximum number of documents held by the local cache.
	LocalCacheMaxDocuments int64

	// OIDC
	OIDCIssuer       string
	OIDCDiscoveryURL string

	// APIKeys maps API key values to agent client names
	// (AGENT_DATASTORE_API_KEYS_<CLIENT>=<key>[,<key>...]).
	// When non-empty every data request must carry a known key.
	APIKeys map[string]string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly provided.
	// When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	ManagementAccessLog       bool
	CORSEnabled               bool
	CORSOrigins               string

	// MCPEnabled mounts the MCP tool endpoint at /mcp.
	MCPEnabled bool

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                   ModeProd,
		DocDBType:              "memdb",
		MigrateAtStart:         true,
		DBMaxOpenConns:         25,
		DBMaxIdleConns:         5,
		CacheType:              "none",
		CacheTTL:               10 * time.Minute,
		LocalCacheMaxDocuments: 100_000,
		MetricsLabels:          "service=agent-datastore",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
			EnableTLS:       true,
		},
		MCPEnabled:   true,
		MaxBodySize:  16 * 1024 * 1024,
		DrainTimeout: 30,
	}
}

// AuthRequired reports whether data requests must present credentials.
func (c *Config) AuthRequired() bool {
	if c == nil {
		return false
	}
	return len(c.APIKeys) > 0 || c.OIDCIssuer != ""
}
