package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server is the Gateway's ops-only HTTP surface: health, readiness, and
// Prometheus metrics. It carries no device- or cloud-facing traffic.
type Server struct {
	Router *chi.Mux
	Logger *slog.Logger
	DB     *pgxpool.Pool
	Redis  *redis.Client

	// CloudConnected reports whether the cloud control channel stream is
	// currently up. Used by the readiness check.
	CloudConnected func() bool

	startedAt time.Time
}

// NewServer builds the ops HTTP surface. cloudConnected may be nil, in which
// case readiness does not gate on the cloud stream.
func NewServer(logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, cloudConnected func() bool) *Server {
	s := &Server{
		Router:         chi.NewRouter(),
		Logger:         logger,
		DB:             db,
		Redis:          rdb,
		CloudConnected: cloudConnected,
		startedAt:      time.Now(),
	}

	obs := &Observability{Logger: logger}
	s.Router.Use(obs.Middleware)
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(ctx, w, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}

	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("readiness check: redis ping failed", "error", err)
		RespondError(ctx, w, http.StatusServiceUnavailable, "unavailable", "redis not ready")
		return
	}

	if s.CloudConnected != nil && !s.CloudConnected() {
		RespondError(ctx, w, http.StatusServiceUnavailable, "unavailable", "cloud control channel not connected")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
