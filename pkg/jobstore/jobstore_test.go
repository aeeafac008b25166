package jobstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/aaron-0406/lolo-cej-scraping/pkg/domain"
)

func newTestStore(t *testing.T, rateLimitMax int, rateLimitWindow time.Duration) (*JobStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	return New(client, rateLimitMax, rateLimitWindow, logger), mr
}

func TestEnqueue_DedupWithinPendingState(t *testing.T) {
	store, _ := newTestStore(t, 100, time.Minute)
	ctx := context.Background()

	id1, err := store.Enqueue(ctx, domain.JobKindMonitor, json.RawMessage(`{}`), PriorityLow, "monitor:1:20260730")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	id2, err := store.Enqueue(ctx, domain.JobKindMonitor, json.RawMessage(`{}`), PriorityLow, "monitor:1:20260730")
	if err != nil {
		t.Fatalf("Enqueue (dup): %v", err)
	}

	if id1 != id2 {
		t.Errorf("expected dedup to return the same id, got %s and %s", id1, id2)
	}
}

func TestEnqueue_ConcurrentSameDedupKeyProducesOneJob(t *testing.T) {
	store, _ := newTestStore(t, 100, time.Minute)
	ctx := context.Background()

	const n = 10
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			id, err := store.Enqueue(ctx, domain.JobKindMonitor, json.RawMessage(`{}`), PriorityLow, "monitor:2:20260730")
			if err != nil {
				results <- ""
				return
			}
			results <- id
		}()
	}

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		id := <-results
		if id != "" {
			seen[id] = true
		}
	}

	if len(seen) != 1 {
		t.Errorf("expected exactly one distinct job id from %d concurrent enqueues, got %d", n, len(seen))
	}
}

func TestNextReady_PriorityPreemption(t *testing.T) {
	store, _ := newTestStore(t, 100, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		dedup := DedupKey(fixedClock(), "MONITOR", int64(100+i))
		if _, err := store.Enqueue(ctx, domain.JobKindMonitor, json.RawMessage(`{}`), PriorityMedium, dedup); err != nil {
			t.Fatalf("Enqueue monitor: %v", err)
		}
	}

	if _, err := store.Enqueue(ctx, domain.JobKindPriority, json.RawMessage(`{}`), PriorityCritical, "priority:999:1"); err != nil {
		t.Fatalf("Enqueue priority: %v", err)
	}

	job, err := store.NextReady(ctx, "worker-1")
	if err != nil {
		t.Fatalf("NextReady: %v", err)
	}

	if job.Lane != domain.JobKindPriority {
		t.Errorf("expected PRIORITY lane job first, got %s", job.Lane)
	}
}

func TestNextReady_RespectsTokenBucket(t *testing.T) {
	store, _ := newTestStore(t, 1, time.Hour)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, domain.JobKindMonitor, json.RawMessage(`{}`), PriorityLow, "monitor:1:20260730"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Enqueue(ctx, domain.JobKindMonitor, json.RawMessage(`{}`), PriorityLow, "monitor:2:20260730"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ctxA, cancelA := context.WithTimeout(ctx, time.Second)
	defer cancelA()
	if _, err := store.NextReady(ctxA, "worker-1"); err != nil {
		t.Fatalf("first NextReady: %v", err)
	}

	ctxB, cancelB := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancelB()
	_, err := store.NextReady(ctxB, "worker-1")
	if err == nil {
		t.Error("expected second NextReady to block on an empty token bucket, but it returned")
	}
}

func TestNextReady_IdlePollingDoesNotDrainTokenBucket(t *testing.T) {
	store, _ := newTestStore(t, 1, time.Hour)
	ctx := context.Background()

	// With nothing ready, NextReady must idle-poll without spending the
	// bucket's one token: if it leaked, the token would take an hour
	// to refill and the job enqueued below would starve.
	idleCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	if _, err := store.NextReady(idleCtx, "worker-1"); err == nil {
		t.Fatal("expected NextReady to time out with nothing ready")
	}

	if _, err := store.Enqueue(ctx, domain.JobKindMonitor, json.RawMessage(`{}`), PriorityLow, "monitor:10:20260730"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	readyCtx, cancel2 := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel2()
	if _, err := store.NextReady(readyCtx, "worker-1"); err != nil {
		t.Fatalf("expected the bucket's token to still be available after idle polling, got: %v", err)
	}
}

func TestCompleteClearsDedupKey(t *testing.T) {
	store, _ := newTestStore(t, 100, time.Minute)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, domain.JobKindInitial, json.RawMessage(`{}`), PriorityCritical, "initial:1:20260730")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := store.NextReady(ctx, "worker-1")
	if err != nil {
		t.Fatalf("NextReady: %v", err)
	}
	if job.ID != id {
		t.Fatalf("NextReady returned %s, want %s", job.ID, id)
	}

	if err := store.Complete(ctx, id); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	id2, err := store.Enqueue(ctx, domain.JobKindInitial, json.RawMessage(`{}`), PriorityCritical, "initial:1:20260730")
	if err != nil {
		t.Fatalf("re-enqueue after completion: %v", err)
	}
	if id2 == id {
		t.Error("expected a completed job's dedup key to be cleared, allowing a fresh enqueue")
	}
}

func TestRequeue_ReturnsActiveJobToPending(t *testing.T) {
	store, _ := newTestStore(t, 100, time.Minute)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, domain.JobKindMonitor, json.RawMessage(`{}`), PriorityMedium, "monitor:9:20260730")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := store.NextReady(ctx, "worker-1")
	if err != nil {
		t.Fatalf("NextReady: %v", err)
	}
	if job.State != StateActive {
		t.Fatalf("expected the popped job to be active, got %s", job.State)
	}

	if err := store.Requeue(ctx, id); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	job2, err := store.NextReady(ctx, "worker-2")
	if err != nil {
		t.Fatalf("NextReady after requeue: %v", err)
	}
	if job2.ID != id {
		t.Fatalf("expected the requeued job to be ready again, got %s", job2.ID)
	}
}

func TestFail_RetryableReschedulesDelayed(t *testing.T) {
	store, _ := newTestStore(t, 100, time.Minute)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, domain.JobKindMonitor, json.RawMessage(`{}`), PriorityLow, "monitor:5:20260730")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := store.NextReady(ctx, "worker-1")
	if err != nil {
		t.Fatalf("NextReady: %v", err)
	}

	if err := store.Fail(ctx, job.ID, "captcha_failed", "no solver available", true); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	reloaded, err := store.loadJob(ctx, id)
	if err != nil {
		t.Fatalf("loadJob: %v", err)
	}
	if reloaded.State != StateDelayed {
		t.Errorf("State = %v, want %v", reloaded.State, StateDelayed)
	}
}

func TestFail_NonRetryableTerminates(t *testing.T) {
	store, _ := newTestStore(t, 100, time.Minute)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, domain.JobKindMonitor, json.RawMessage(`{}`), PriorityLow, "monitor:6:20260730"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := store.NextReady(ctx, "worker-1")
	if err != nil {
		t.Fatalf("NextReady: %v", err)
	}

	if err := store.Fail(ctx, job.ID, "invalid_case_number", "no results", false); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	reloaded, err := store.loadJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("loadJob: %v", err)
	}
	if reloaded.State != StateFailed {
		t.Errorf("State = %v, want %v", reloaded.State, StateFailed)
	}
}

func TestStats_TracksCountsAcrossStateTransitions(t *testing.T) {
	store, _ := newTestStore(t, 100, time.Minute)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, domain.JobKindMonitor, json.RawMessage(`{}`), PriorityLow, "monitor:7:20260730"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Enqueue(ctx, domain.JobKindMonitor, json.RawMessage(`{}`), PriorityLow, "monitor:8:20260730"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[domain.JobKindMonitor].Pending != 2 {
		t.Errorf("Pending = %d, want 2", stats[domain.JobKindMonitor].Pending)
	}

	job, err := store.NextReady(ctx, "worker-1")
	if err != nil {
		t.Fatalf("NextReady: %v", err)
	}
	if err := store.Complete(ctx, job.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	stats, err = store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	monitor := stats[domain.JobKindMonitor]
	if monitor.Pending != 1 || monitor.Active != 0 || monitor.Completed != 1 {
		t.Errorf("unexpected monitor stats after completion: %+v", monitor)
	}
}

func TestBackoffDelay_WithinJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 3; attempt++ {
		delay := backoffDelay(30*time.Second, attempt)
		nominal := 30 * time.Second * time.Duration(1<<(attempt-1))
		min := time.Duration(float64(nominal) * 0.8)
		max := time.Duration(float64(nominal) * 1.2)
		if delay < min || delay > max {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, delay, min, max)
		}
	}
}

type fakeClock struct{}

func (fakeClock) Now() time.Time          { return time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC) }
func (fakeClock) Location() *time.Location { return time.UTC }

func fixedClock() fakeClock { return fakeClock{} }
