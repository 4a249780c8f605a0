// README: API gateway; wires middleware and delegates to module services.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dispatchd/internal/http/handlers"
	"dispatchd/internal/infra"
	"dispatchd/internal/logger"
	"dispatchd/internal/metrics"
)

type ServerDeps struct {
	Reservations handlers.ReservationService
	Assigner     handlers.Assigner
	Recoverer    handlers.CreditRecoverer
	Sweeper      handlers.Sweeper
	Reconciler   handlers.Reconciler
	Verifier     infra.TokenVerifier
	AdminToken   string
	Metrics      *metrics.Metrics
	// Gatherer backs /metrics; the default gatherer when nil.
	Gatherer prometheus.Gatherer
	Log      logger.Logger
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	if deps.Log == nil {
		deps.Log = logger.NopLogger{}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{deps: deps}
}

// ListenAndServe serves addr until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.deps.Log.Infof("http listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.deps.Log.Infof("http shutting down")
	return srv.Shutdown(shutdownCtx)
}
