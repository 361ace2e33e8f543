// File: internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/config"
	"github.com/xkilldash9x/synapse-cli/internal/service"
)

// shutdownTimeout bounds how long in-flight requests get once the server stops.
const shutdownTimeout = 30 * time.Second

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// Decider is the slice of the service the decide endpoint needs.
type Decider interface {
	Decide(ctx schemas.DisruptionContext) (schemas.Decision, error)
}

// Option customizes a Server.
type Option func(*Server)

// WithDecider replaces the decision path, mainly for tests.
func WithDecider(d Decider) Option {
	return func(s *Server) { s.decider = d }
}

// Server is the HTTP surface the orchestration layer calls into.
type Server struct {
	cfg        config.ServerConfig
	components *service.Components
	decider    Decider
	logger     *zap.Logger
	handlers   *Handlers
	httpServer *http.Server
}

// New builds a server over an initialized set of components.
func New(cfg config.ServerConfig, components *service.Components, logger *zap.Logger, opts ...Option) (*Server, error) {
	if components == nil {
		return nil, errors.New("components cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	s := &Server{
		cfg:        cfg,
		components: components,
		decider:    components,
		logger:     logger.Named("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = NewHandlers(s.logger, components, s.decider, cfg.DecideTimeout)
	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Scrapes are frequent and not worth a log line each.
	if s.components.Metrics != nil {
		r.Handle("/metrics", s.components.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(requestLogger(s.logger))
		s.handlers.RegisterRoutes(r)
	})
	return r
}

// Start serves on the configured address until ctx is cancelled, then shuts
// down gracefully. It does not tear down the components.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("HTTP server starting", zap.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server Serve error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}
	<-errCh
	s.logger.Info("HTTP server stopped.")
	return nil
}

// -- Middleware --

// requestID honours an incoming X-Request-ID or mints a UUID, and stores it
// where middleware.GetReqID finds it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("Request served",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
