// Package httpapi implements spec §6's inbound control API:
// POST /jobs/initial, POST /jobs/priority, GET /health, GET /metrics,
// GET /status.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/aaron-0406/lolo-cej-scraping/internal/clock"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/browserpool"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/domain"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/jobstore"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/metrics"
)

// Config tunes the control API's listen address and auth secret.
type Config struct {
	Port          string
	ServiceSecret string
}

// Enqueuer is the JobStore surface the control API needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, lane domain.JobKind, payload json.RawMessage, priority int, dedupKey string) (string, error)
	Stats(ctx context.Context) (map[domain.JobKind]jobstore.LaneStats, error)
}

// PoolStats is the BrowserPool surface GET /status and /health need.
type PoolStats interface {
	Stats() browserpool.Stats
}

// Server wraps an http.Server bound to the control API router.
type Server struct {
	http *http.Server
}

// NewServer builds the control API. db and redisClient back GET
// /health's reachability checks only; every mutating route goes
// through queue. m is shared with the dispatch side (pkg/worker,
// pkg/captcha) so every collector lands on one registry.
func NewServer(cfg Config, queue Enqueuer, pool PoolStats, db *sqlx.DB, redisClient *redis.Client, c clock.Clock, m *metrics.Metrics, logger *logrus.Logger) *Server {
	h := &handler{queue: queue, pool: pool, db: db, redisClient: redisClient, clock: c, metrics: m, logger: logger, startedAt: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(requestLogger(logger))
	r.Use(httpMetrics(m))
	r.Use(cors.Handler(cors.Options{AllowedMethods: []string{"GET", "POST"}}))

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.ServiceSecret))
		r.Post("/jobs/initial", h.enqueue(domain.JobKindInitial, jobstore.PriorityCritical))
		r.Post("/jobs/priority", h.enqueue(domain.JobKindPriority, jobstore.PriorityCritical))
		r.Get("/status", h.status)
	})

	return &Server{http: &http.Server{Addr: ":" + cfg.Port, Handler: r}}
}

func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
