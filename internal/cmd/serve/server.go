package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/agent-datastore/internal/config"
	"github.com/chirino/agent-datastore/internal/datastore"
	grpcserver "github.com/chirino/agent-datastore/internal/grpc"
	routedatastore "github.com/chirino/agent-datastore/internal/plugin/route/datastore"
	routemcp "github.com/chirino/agent-datastore/internal/plugin/route/mcp"
	routesystem "github.com/chirino/agent-datastore/internal/plugin/route/system"
	registrycache "github.com/chirino/agent-datastore/internal/registry/cache"
	registrymigrate "github.com/chirino/agent-datastore/internal/registry/migrate"
	registryroute "github.com/chirino/agent-datastore/internal/registry/route"
	"github.com/chirino/agent-datastore/internal/security"
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Service         *datastore.Service
	Router          *gin.Engine
	GRPCServer      *grpc.Server
	Health          *health.Server
	Running         *RunningServers
	closeManagement func(context.Context) error
}

// Shutdown marks the server unready, drains listeners and closes the
// document database.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkNotReady()
	s.Health.Shutdown()
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	err := s.Running.Close(ctx)
	if closeErr := s.Service.DB().Close(ctx); closeErr != nil {
		log.Warn("Failed to close document database", "err", closeErr)
	}
	return err
}

// StartServer initializes all subsystems and starts HTTP+gRPC on a single port.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting agent data store",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DocDBType,
		"cache", cfg.CacheType,
		"mcp", cfg.MCPEnabled,
		"auth", cfg.AuthRequired(),
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Initialize cache and inject into context so the store loader can read it.
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if documentCache, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		ctx = registrycache.WithDocumentCacheContext(ctx, documentCache)
	}

	svc, err := datastore.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize data store: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	// Match on the escaped path so namespaces may carry %2F.
	router.UseRawPath = true
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	if err := registryroute.Mount(router, registryroute.RouteTypeMain); err != nil {
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}

	resolver := security.NewTokenResolver(cfg)
	auth := security.AuthMiddleware(resolver)

	routedatastore.MountRoutes(router, svc, auth)
	if cfg.MCPEnabled {
		routemcp.MountRoutes(router, svc, auth)
	}

	grpcServer, healthServer := grpcserver.NewServer()

	// Management routes go on a bare engine when a dedicated port is configured,
	// otherwise on the main router.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		if err := registryroute.Mount(mgmtRouter, registryroute.RouteTypeManagement); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		_, closeManagement, err = startManagementServer(mgmtCfg, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else if err := registryroute.Mount(router, registryroute.RouteTypeManagement); err != nil {
		return nil, fmt.Errorf("failed to load management routes: %w", err)
	}

	running, err := StartSinglePortHTTPAndGRPC(ctx, cfg.Listener, router, grpcServer)
	if err != nil {
		if closeManagement != nil {
			_ = closeManagement(context.Background())
		}
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	grpcserver.MarkServing(healthServer)
	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Service:         svc,
		Router:          router,
		GRPCServer:      grpcServer,
		Health:          healthServer,
		Running:         running,
		closeManagement: closeManagement,
	}, nil
}
