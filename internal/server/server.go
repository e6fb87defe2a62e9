// Package server holds the process plumbing shared by the scamguard binaries:
// configuration bootstrap, the logger, the common HTTP routes and middleware,
// and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/scamguard/internal/auth"
	"github.com/MrWong99/scamguard/internal/config"
	"github.com/MrWong99/scamguard/internal/health"
	"github.com/MrWong99/scamguard/internal/observe"
	"github.com/MrWong99/scamguard/internal/resilience"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 15 * time.Second

// LoadConfig loads the configuration file at path. A missing file is not an
// error: the defaults and environment overrides are used instead and fromFile
// is false.
func LoadConfig(path string) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	cfg, err = config.LoadFromReader(strings.NewReader(""))
	return cfg, false, err
}

// NewLogger returns a text logger on stderr whose level can be changed
// through the returned LevelVar.
func NewLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(level.Level())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}

// NewMux returns a mux serving the probes of h and, when metrics is non-nil,
// the Prometheus scrape endpoint.
func NewMux(h *health.Handler, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	h.Register(mux)
	return mux
}

// Wrap applies the middleware every binary uses: CORS outermost so that
// preflights are answered without a span, then tracing and request metrics.
func Wrap(h http.Handler, m *observe.Metrics, origins []string) http.Handler {
	return auth.CORS(origins)(observe.Middleware(m)(h))
}

// BreakerObserver returns a circuit breaker state hook that logs and counts
// transitions.
func BreakerObserver(m *observe.Metrics) func(name string, from, to resilience.State) {
	return func(name string, from, to resilience.State) {
		slog.Info("circuit breaker changed state", "breaker", name, "from", from, "to", to)
		if m != nil {
			m.RecordBreakerTransition(context.Background(), name, to.String())
		}
	}
}

// Run serves srv until ctx is done or the listener fails. On shutdown it
// marks h as draining, runs onShutdown (which may be nil) and then shuts the
// HTTP server down, all within [ShutdownTimeout].
func Run(ctx context.Context, srv *http.Server, tls *config.TLSConfig, h *health.Handler, onShutdown func(context.Context) error) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("server ready", "addr", srv.Addr, "tls", tls != nil)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: listen on %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, stopping")
	h.Drain()
	sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var errs []error
	if onShutdown != nil {
		if err := onShutdown(sctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := srv.Shutdown(sctx); err != nil {
		errs = append(errs, fmt.Errorf("server: shutdown: %w", err))
	}
	return errors.Join(errs...)
}
