package serve

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/agent-datastore/internal/config"
)

// startManagementServer serves health, readiness and metrics on a dedicated
// HTTP-only port. Plaintext is forced on when both transports are disabled.
func startManagementServer(cfg config.ListenerConfig, handler http.Handler) (net.Addr, func(context.Context) error, error) {
	if !cfg.EnablePlainText && !cfg.EnableTLS {
		cfg.EnablePlainText = true
	}
	l, err := startListeners("management", cfg, handler)
	if err != nil {
		return nil, nil, err
	}

	var closeOnce sync.Once
	closeFn := func(ctx context.Context) error {
		var shutdownErr error
		closeOnce.Do(func() {
			shutdownErr = l.shutdown(ctx)
			_ = l.base.Close()
		})
		return shutdownErr
	}

	log.Info("Management server listening", "addr", l.base.Addr())
	return l.base.Addr(), closeFn, nil
}
