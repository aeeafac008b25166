package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/aaron-0406/lolo-cej-scraping/internal/clock"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/domain"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/jobstore"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/metrics"
)

// requestValidator is a package-level *validator.Validate: the
// library's own docs call this out as safe for concurrent use and
// expensive to build per-request (it caches struct tag reflection).
var requestValidator = validator.New()

type handler struct {
	queue       Enqueuer
	pool        PoolStats
	db          *sqlx.DB
	redisClient *redis.Client
	clock       clock.Clock
	metrics     *metrics.Metrics
	logger      *logrus.Logger
	startedAt   time.Time
}

// enqueueRequest is the body POST /jobs/initial and POST /jobs/priority
// share (spec §6).
type enqueueRequest struct {
	CaseFileID int64  `json:"caseFileId" validate:"required,gt=0"`
	CaseNumber string `json:"caseNumber" validate:"required"`
	TenantID   int64  `json:"tenantId" validate:"required,gt=0"`
}

// validate returns the first failing field's user-facing message, or
// "" when req passes every tag above.
func (req enqueueRequest) validate() string {
	err := requestValidator.Struct(req)
	if err == nil {
		return ""
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return "invalid request body"
	}
	switch fieldErrs[0].Field() {
	case "CaseFileID":
		return "caseFileId is required"
	case "CaseNumber":
		return "caseNumber is required"
	case "TenantID":
		return "tenantId is required"
	}
	return "invalid request body"
}

// jobPayload mirrors orchestration's own decode shape — kept in sync
// manually since the two packages must never import each other
// (control API in, dispatch loop out, spec §5's no-cyclic-ownership).
type jobPayload struct {
	CaseFileID int64  `json:"caseFileId"`
	TenantID   int64  `json:"tenantId"`
	CaseNumber string `json:"caseNumber"`
}

func (h *handler) enqueue(lane domain.JobKind, priority int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if msg := req.validate(); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		payload, err := json.Marshal(jobPayload{CaseFileID: req.CaseFileID, TenantID: req.TenantID, CaseNumber: req.CaseNumber})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to encode job payload")
			return
		}

		dedupKey := jobstore.DedupKey(h.clock, string(lane), req.CaseFileID)
		id, err := h.queue.Enqueue(r.Context(), lane, payload, priority, dedupKey)
		if err != nil {
			h.logger.WithError(err).WithField("caseFileId", req.CaseFileID).Error("enqueue failed")
			writeError(w, http.StatusInternalServerError, "failed to enqueue job")
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
	}
}

type healthChecks struct {
	Database   bool `json:"database"`
	QueueStore bool `json:"queueStore"`
	BrowserPool bool `json:"browserPool"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := healthChecks{
		Database:    h.db.PingContext(ctx) == nil,
		QueueStore:  h.redisClient.Ping(ctx).Err() == nil,
		BrowserPool: true, // the pool has no external dependency to ping; its own Stats call never fails
	}

	status := http.StatusOK
	statusText := "ok"
	if !checks.Database || !checks.QueueStore || !checks.BrowserPool {
		status = http.StatusServiceUnavailable
		statusText = "degraded"
	}

	writeJSON(w, status, map[string]interface{}{
		"status": statusText,
		"uptime": time.Since(h.startedAt).String(),
		"checks": checks,
	})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}
	poolStats := h.pool.Stats()
	if h.metrics != nil {
		h.metrics.BrowserPoolInUse.Set(float64(poolStats.InUse))
		h.metrics.BrowserPoolSize.Set(float64(poolStats.Size))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lanes":       stats,
		"browserPool": poolStats,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
