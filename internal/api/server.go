// Package api exposes token resolution over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"evm-token-lab/internal/domain"
	"evm-token-lab/internal/tokens"
)

// MaxAddressesPerRequest caps the address list of one request.
const MaxAddressesPerRequest = 500

// StatusClientClosedRequest is recorded when the client disconnects mid-request.
const StatusClientClosedRequest = 499

// Resolver is the part of tokens.Resolver the API needs.
type Resolver interface {
	Resolve(ctx context.Context, chain domain.ChainID, requested []domain.TokenAddress) (tokens.Result, error)
	ResolvePartial(ctx context.Context, chain domain.ChainID, requested []domain.TokenAddress) (*tokens.Outcome, error)
}

// Server serves the token API.
type Server struct {
	resolver Resolver
	metrics  http.Handler
	logger   *zap.Logger
}

// NewServer creates a Server. metrics may be nil to skip /metrics.
func NewServer(resolver Resolver, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{resolver: resolver, metrics: metrics, logger: logger}
}

// NewRouter returns the router with all routes registered.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	r.HandleFunc("/chains/{chain}/tokens", s.HandleTokens).Methods(http.MethodGet)
	r.HandleFunc("/chains/{chain}/tokens/{address}", s.HandleToken).Methods(http.MethodGet)

	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
