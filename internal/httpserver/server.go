package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/linkbroker/linkbroker/internal/accessgate"
	"github.com/linkbroker/linkbroker/internal/config"
	"github.com/linkbroker/linkbroker/internal/version"
)

// Server holds the HTTP server dependencies.
type Server struct {
	Router    *chi.Mux
	APIRouter chi.Router // authenticated /api/v1 sub-router
	Logger    *slog.Logger
	Metrics   *prometheus.Registry
	startedAt time.Time

	readyCheck func() error
}

// NewServer creates an HTTP server with middleware and health/metrics
// endpoints. Domain handlers are mounted on APIRouter after calling
// NewServer. readyCheck backs /readyz (typically a storage ping).
func NewServer(cfg *config.Config, logger *slog.Logger, metricsReg *prometheus.Registry, introspector accessgate.Introspector, readyCheck func() error) *Server {
	s := &Server{
		Router:     chi.NewRouter(),
		Logger:     logger,
		Metrics:    metricsReg,
		startedAt:  time.Now(),
		readyCheck: readyCheck,
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	// OAuth2 Authority's own routes are mounted directly on Router by the
	// caller (pre-authentication, since they issue the tokens Access Gate
	// validates).

	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(accessgate.Middleware(introspector, logger))
		s.APIRouter = r
	})

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
	if s.readyCheck != nil {
		if err := s.readyCheck(); err != nil {
			s.Logger.Error("readiness check failed", "error", err)
			RespondError(w, http.StatusServiceUnavailable, "unavailable", "backend not ready")
			return
		}
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	CommitSHA     string `json:"commit_sha"`
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// HandleStatus returns basic system status: version, uptime, and backend
// readiness.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startedAt)
	resp := statusResponse{
		Version:       version.Version,
		CommitSHA:     version.Commit,
		Uptime:        uptime.Truncate(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
	}
	resp.Status = "ok"
	if s.readyCheck != nil {
		if err := s.readyCheck(); err != nil {
			resp.Status = "degraded"
		}
	}
	Respond(w, http.StatusOK, resp)
}
