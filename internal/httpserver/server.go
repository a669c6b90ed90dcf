package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fdg312/siwa-relay/internal/auth"
	"github.com/fdg312/siwa-relay/internal/config"
	"github.com/fdg312/siwa-relay/internal/logging"
	"github.com/fdg312/siwa-relay/internal/metrics"
	"github.com/fdg312/siwa-relay/internal/tracing"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second

	healthStatus = "Apple Sign In Server is running"
)

// Server wires the relay routes onto a chi router.
type Server struct {
	config  *config.Config
	router  *chi.Mux
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New builds the server. m may be nil when metrics are disabled.
func New(cfg *config.Config, logger *zap.SugaredLogger, m *metrics.Metrics) *Server {
	s := &Server{
		config:  cfg,
		router:  chi.NewRouter(),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(tracing.Middleware(otel.Tracer("github.com/fdg312/siwa-relay/internal/httpserver")))
	r.Use(logging.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware(s.config))

	r.Get("/", s.handleHealthz)
	r.Get("/healthz", s.handleHealthz)

	service := auth.NewService(s.config, nil)
	auth.NewHandlers(service, s.logger, s.metrics).Register(r)

	if s.config.MetricsEnabled && s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

type healthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Environment string `json:"environment"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:      healthStatus,
		Timestamp:   s.now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Environment: s.config.Env,
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Infow("server listening", "addr", srv.Addr, "env", s.config.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Infow("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
