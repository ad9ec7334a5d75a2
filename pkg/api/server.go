package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainforge/evmindex/internal/handlerctx"
	"github.com/chainforge/evmindex/internal/indexcache"
	"github.com/chainforge/evmindex/internal/logger"
	"github.com/chainforge/evmindex/internal/status"
	"github.com/chainforge/evmindex/pkg/config"
)

const (
	shutdownCtxTimeout = 10 * time.Second
	defaultIdleTimeout = 60 * time.Second
)

// Mount is implemented by a caller that wants to register custom routes on
// the same mux and http.Server this package manages, so user endpoints get
// the same middleware chain and request context as the core routes.
type Mount func(mux *http.ServeMux)

// Server is the HTTP control and query surface: liveness, readiness,
// status, metrics, an optional SQL proxy, and whatever custom routes the
// caller mounts.
type Server struct {
	config  *config.APIConfig
	handler *Handler
	server  *http.Server
	log     *logger.Logger
}

// NewServer builds the API server. db and statusStore are placed into every
// request's context so custom routes and generated handlers can reach them
// via the handlerctx package. mount, if non-nil, registers additional
// routes on the same mux before the middleware chain is applied.
func NewServer(cfg *config.APIConfig, db *sql.DB, statusStore *status.Store, cache *indexcache.Cache, log *logger.Logger, mount Mount) *Server {
	handler := NewHandler(statusStore, cache, cfg.EnableSQLProxy, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("GET /ready", handler.Ready)
	mux.HandleFunc("GET /status", handler.Status)
	mux.HandleFunc("POST /sql", handler.SQLQuery)
	mux.Handle("GET /metrics", promhttp.Handler())

	if mount != nil {
		mount(mux)
	}

	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := handlerctx.WithDB(r.Context(), db)
		ctx = handlerctx.WithStatus(ctx, statusStore)
		mux.ServeHTTP(w, r.WithContext(ctx))
	})
	h = RecoveryMiddleware(log)(h)
	h = LoggingMiddleware(log)(h)
	if cfg.CORS {
		h = CORSMiddleware([]string{"*"})(h)
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
		IdleTimeout:  defaultIdleTimeout,
	}

	return &Server{config: cfg, handler: handler, server: httpServer, log: log}
}

// Start runs the server until ctx is cancelled, then shuts it down
// gracefully within shutdownCtxTimeout.
func (s *Server) Start(ctx context.Context) error {
	s.log.Infof("starting API server on %s", s.config.ListenAddress)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("API server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownCtxTimeout)
	defer cancel()

	s.log.Info("shutting down API server")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown: %w", err)
	}
	return nil
}
