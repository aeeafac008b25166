package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/aaron-0406/lolo-cej-scraping/internal/clock"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/browserpool"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/domain"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/jobstore"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/metrics"
)

type fakeEnqueuer struct {
	enqueued   []domain.JobKind
	priorities []int
	stats      map[domain.JobKind]jobstore.LaneStats
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, lane domain.JobKind, payload json.RawMessage, priority int, dedupKey string) (string, error) {
	f.enqueued = append(f.enqueued, lane)
	f.priorities = append(f.priorities, priority)
	return "job-1", nil
}

func (f *fakeEnqueuer) Stats(ctx context.Context) (map[domain.JobKind]jobstore.LaneStats, error) {
	return f.stats, nil
}

type fakePoolStats struct{}

func (fakePoolStats) Stats() browserpool.Stats {
	return browserpool.Stats{Size: 3, Idle: 2, InUse: 1}
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func newTestServer(t *testing.T, q *fakeEnqueuer) (*Server, *miniredis.Miniredis) {
	t.Helper()
	server, mr, _ := newTestServerWithRegistry(t, q)
	return server, mr
}

func newTestServerWithRegistry(t *testing.T, q *fakeEnqueuer) (*Server, *miniredis.Miniredis, *prometheus.Registry) {
	t.Helper()
	sqlDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	db := sqlx.NewDb(sqlDB, "pgx")

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	c := clock.Fixed{At: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	server := NewServer(Config{Port: "0", ServiceSecret: "s3cr3t"}, q, fakePoolStats{}, db, redisClient, c, m, testLogger())
	return server, mr, reg
}

func TestHealth_UnauthenticatedAndHealthyByDefault(t *testing.T) {
	server, _ := newTestServer(t, &fakeEnqueuer{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestJobsInitial_RejectsMissingBearerToken(t *testing.T) {
	server, _ := newTestServer(t, &fakeEnqueuer{})

	body, _ := json.Marshal(map[string]interface{}{"caseFileId": 1, "caseNumber": "001-2020", "tenantId": 1})
	req := httptest.NewRequest(http.MethodPost, "/jobs/initial", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestJobsInitial_EnqueuesWithValidToken(t *testing.T) {
	q := &fakeEnqueuer{}
	server, _ := newTestServer(t, q)

	body, _ := json.Marshal(map[string]interface{}{"caseFileId": 1, "caseNumber": "001-2020", "tenantId": 1})
	req := httptest.NewRequest(http.MethodPost, "/jobs/initial", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer s3cr3t")
	rec := httptest.NewRecorder()
	server.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != domain.JobKindInitial {
		t.Errorf("expected one INITIAL enqueue, got %+v", q.enqueued)
	}
	if len(q.priorities) != 1 || q.priorities[0] != jobstore.PriorityCritical {
		t.Errorf("expected INITIAL to enqueue at PriorityCritical, got %+v", q.priorities)
	}
}

func TestJobsInitial_RejectsMissingCaseNumber(t *testing.T) {
	server, _ := newTestServer(t, &fakeEnqueuer{})

	body, _ := json.Marshal(map[string]interface{}{"caseFileId": 1, "tenantId": 1})
	req := httptest.NewRequest(http.MethodPost, "/jobs/initial", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer s3cr3t")
	rec := httptest.NewRecorder()
	server.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStatus_ReturnsLaneCountsAndPoolStats(t *testing.T) {
	q := &fakeEnqueuer{stats: map[domain.JobKind]jobstore.LaneStats{
		domain.JobKindMonitor: {Pending: 4, Active: 1},
	}}
	server, _ := newTestServer(t, q)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer s3cr3t")
	rec := httptest.NewRecorder()
	server.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if _, ok := body["lanes"]; !ok {
		t.Error("expected a lanes field in the response")
	}
	if _, ok := body["browserPool"]; !ok {
		t.Error("expected a browserPool field in the response")
	}
}

func TestStatus_UpdatesBrowserPoolGauges(t *testing.T) {
	server, _, reg := newTestServerWithRegistry(t, &fakeEnqueuer{stats: map[domain.JobKind]jobstore.LaneStats{}})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer s3cr3t")
	rec := httptest.NewRecorder()
	server.http.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawSize, sawInUse bool
	for _, f := range families {
		switch f.GetName() {
		case "scrapecoord_browser_pool_size":
			sawSize = f.GetMetric()[0].GetGauge().GetValue() == 3
		case "scrapecoord_browser_pool_sessions_in_use":
			sawInUse = f.GetMetric()[0].GetGauge().GetValue() == 1
		}
	}
	if !sawSize || !sawInUse {
		t.Errorf("expected browser pool gauges to reflect fakePoolStats (size=3, inUse=1), sawSize=%v sawInUse=%v", sawSize, sawInUse)
	}
}
