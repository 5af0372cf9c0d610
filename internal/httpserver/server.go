// Package httpserver exposes the chat front-end's inbound API operations
// over HTTP: user-authenticate, create-test-key, create-paid-payment,
// cancel-payment, list-user-keys, and prolong-key. Menu rendering and
// dialog state belong to the chat
// front end and are out of scope here.
package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/corsarvpn/keyserver/internal/clock"
	"github.com/corsarvpn/keyserver/internal/config"
	"github.com/corsarvpn/keyserver/internal/store"
	"github.com/corsarvpn/keyserver/pkg/keyservice"
	"github.com/corsarvpn/keyserver/pkg/notify"
	"github.com/corsarvpn/keyserver/pkg/payment"
)

// Server holds the HTTP server dependencies.
type Server struct {
	Router *chi.Mux
	log    *slog.Logger

	db    *pgxpool.Pool
	redis *redis.Client

	store    *store.Store
	clock    *clock.Clock
	keys     *keyservice.Service
	payments *payment.Pipeline
	notify   *notify.Engine

	startedAt time.Time
}

// Deps bundles the domain collaborators NewServer mounts routes against.
type Deps struct {
	Store    *store.Store
	Clock    *clock.Clock
	Keys     *keyservice.Service
	Payments *payment.Pipeline
	Notify   *notify.Engine
}

// NewServer creates an HTTP server with middleware, health/metrics
// endpoints, and the front-end operations mounted under /api/v1.
func NewServer(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, deps Deps) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		log:       logger,
		db:        db,
		redis:     rdb,
		store:     deps.Store,
		clock:     deps.Clock,
		keys:      deps.Keys,
		payments:  deps.Payments,
		notify:    deps.Notify,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle(cfg.MetricsPath, promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireAPIKey(cfg.FrontendAPIKey))

		r.Post("/users/authenticate", s.handleAuthenticate)
		r.Post("/keys/test", s.handleCreateTestKey)
		r.Get("/users/{userID}/keys", s.handleListUserKeys)
		r.Post("/keys/{keyID}/prolong", s.handleProlongKey)
		r.Post("/payments", s.handleCreatePayment)
		r.Post("/payments/{paymentID}/cancel", s.handleCancelPayment)
	})

	return s
}

func (s *Server) clockNow() time.Time {
	return s.clock.NowCivil()
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

	if err := s.db.Ping(ctx); err != nil {
		s.log.Error("readiness check: database ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}

	if err := s.redis.Ping(ctx).Err(); err != nil {
		s.log.Error("readiness check: redis ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "redis not ready")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
