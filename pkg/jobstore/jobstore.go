// Package jobstore implements the three-lane prioritized durable
// queue of spec §4.2: INITIAL/MONITOR/PRIORITY lanes sharing one
// global rate-limit token bucket, backed by Redis for durability
// across process restarts.
package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	apperrors "github.com/aaron-0406/lolo-cej-scraping/internal/errors"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/domain"
)

// State is a Job's lifecycle position.
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Priority values recognized by spec §4.3: 1=CRITICAL ... 5=LOW.
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityMedium   = 3
	PriorityLow      = 5
)

const defaultMaxAttempts = 3
const defaultBackoffBase = 30 * time.Second

// Job is one unit of scrape work (spec §4.2).
type Job struct {
	ID          string          `json:"id"`
	Lane        domain.JobKind  `json:"lane"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	DedupKey    string          `json:"dedupKey"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	BackoffBase time.Duration   `json:"backoffBase"`
	Deadline    *time.Time      `json:"deadline,omitempty"`
	State       State           `json:"state"`
	LastError   string          `json:"lastError,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	Seq         int64           `json:"seq"`
}

// laneOrder is the strict cross-lane poll order of spec §4.2: PRIORITY
// > INITIAL > MONITOR when all three have ready work.
var laneOrder = []domain.JobKind{domain.JobKindPriority, domain.JobKindInitial, domain.JobKindMonitor}

// JobStore is the Redis-backed three-lane queue.
type JobStore struct {
	redis   *redis.Client
	bucket  *TokenBucket
	logger  *logrus.Logger
	notify  chan struct{}
	nowFunc func() time.Time
}

// New builds a JobStore against an already-connected Redis client.
// rateLimitMax/rateLimitWindow size the shared token bucket (spec
// §4.2 default: 10 tokens per 60s).
func New(client *redis.Client, rateLimitMax int, rateLimitWindow time.Duration, logger *logrus.Logger) *JobStore {
	return &JobStore{
		redis:   client,
		bucket:  NewTokenBucket(rateLimitMax, rateLimitWindow),
		logger:  logger,
		notify:  make(chan struct{}, 1),
		nowFunc: time.Now,
	}
}

func (s *JobStore) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// allStates lists every State Stats reports a per-lane count for
// (spec §6's GET /status).
var allStates = []State{StatePending, StateActive, StateDelayed, StateCompleted, StateFailed}

func (s *JobStore) countKey(lane domain.JobKind, state State) string {
	return fmt.Sprintf("jobstore:count:%s:%s", lane, state)
}

// adjustCount moves one job's count from one state to another for
// lane, leaving the counters an accurate per-lane-per-state census
// without scanning every job (spec §6's GET /status).
func (s *JobStore) adjustCount(ctx context.Context, lane domain.JobKind, from, to State) {
	if from != "" {
		if err := s.redis.Decr(ctx, s.countKey(lane, from)).Err(); err != nil {
			s.logger.WithError(err).Warn("decrement job count failed")
		}
	}
	if err := s.redis.Incr(ctx, s.countKey(lane, to)).Err(); err != nil {
		s.logger.WithError(err).Warn("increment job count failed")
	}
}

// LaneStats is one lane's per-state job count.
type LaneStats struct {
	Pending   int64
	Active    int64
	Delayed   int64
	Completed int64
	Failed    int64
}

// Stats returns every lane's per-state job counts (spec §6's GET
// /status).
func (s *JobStore) Stats(ctx context.Context) (map[domain.JobKind]LaneStats, error) {
	out := make(map[domain.JobKind]LaneStats, len(laneOrder))
	for _, lane := range laneOrder {
		keys := make([]string, len(allStates))
		for i, state := range allStates {
			keys[i] = s.countKey(lane, state)
		}
		values, err := s.redis.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "read lane stats").WithDetails(string(lane))
		}
		out[lane] = LaneStats{
			Pending:   toInt64(values[0]),
			Active:    toInt64(values[1]),
			Delayed:   toInt64(values[2]),
			Completed: toInt64(values[3]),
			Failed:    toInt64(values[4]),
		}
	}
	return out, nil
}

func toInt64(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (s *JobStore) jobKey(id string) string    { return "jobstore:job:" + id }
func (s *JobStore) laneKey(lane domain.JobKind) string { return "jobstore:lane:" + string(lane) }
func (s *JobStore) dedupKey(dedupKey string) string    { return "jobstore:dedup:" + dedupKey }

const delayedKey = "jobstore:delayed"
const seqKey = "jobstore:seq"

// Enqueue adds payload to lane at priority, deduplicated by dedupKey.
// If a job with the same dedupKey is pending, active, or delayed, its
// existing id is returned and no new job is created (spec §4.2).
func (s *JobStore) Enqueue(ctx context.Context, lane domain.JobKind, payload json.RawMessage, priority int, dedupKey string) (string, error) {
	id := uuid.NewString()

	// SETNX is the atomic dedup guard: whichever concurrent caller
	// wins the key owns creating the job; every other caller reads
	// back the winner's id.
	won, err := s.redis.SetNX(ctx, s.dedupKey(dedupKey), id, 0).Result()
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "set dedup key").WithDetails(dedupKey)
	}
	if !won {
		existing, err := s.redis.Get(ctx, s.dedupKey(dedupKey)).Result()
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "read dedup key").WithDetails(dedupKey)
		}
		return existing, nil
	}

	seq, err := s.redis.Incr(ctx, seqKey).Result()
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "allocate job sequence")
	}

	job := Job{
		ID:          id,
		Lane:        lane,
		Payload:     payload,
		Priority:    priority,
		DedupKey:    dedupKey,
		Attempt:     0,
		MaxAttempts: defaultMaxAttempts,
		BackoffBase: defaultBackoffBase,
		State:       StatePending,
		EnqueuedAt:  s.nowFunc(),
		Seq:         seq,
	}

	if err := s.saveJob(ctx, job); err != nil {
		return "", err
	}

	score := laneScore(priority, seq)
	if err := s.redis.ZAdd(ctx, s.laneKey(lane), redis.Z{Score: score, Member: id}).Err(); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "add job to lane")
	}
	s.adjustCount(ctx, lane, "", StatePending)

	s.wake()
	return id, nil
}

// laneScore orders a lane's sorted set by priority number ascending
// (1=CRITICAL first), ties broken by enqueue sequence (FIFO).
func laneScore(priority int, seq int64) float64 {
	return float64(priority)*1e15 + float64(seq)
}

func (s *JobStore) saveJob(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal job")
	}
	if err := s.redis.Set(ctx, s.jobKey(job.ID), data, 0).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "persist job")
	}
	return nil
}

func (s *JobStore) loadJob(ctx context.Context, id string) (*Job, error) {
	data, err := s.redis.Get(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNotFound, "load job").WithDetails(id)
	}
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal job")
	}
	return &job, nil
}

// promoteDue moves delayed jobs whose ready time has passed back into
// their lane's pending sorted set.
func (s *JobStore) promoteDue(ctx context.Context) error {
	now := float64(s.nowFunc().UnixMilli())
	ids, err := s.redis.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "scan delayed jobs")
	}

	for _, id := range ids {
		job, err := s.loadJob(ctx, id)
		if err != nil {
			continue
		}
		job.State = StatePending
		if err := s.saveJob(ctx, *job); err != nil {
			continue
		}
		if err := s.redis.ZRem(ctx, delayedKey, id).Err(); err != nil {
			continue
		}
		score := laneScore(job.Priority, job.Seq)
		_ = s.redis.ZAdd(ctx, s.laneKey(job.Lane), redis.Z{Score: score, Member: id}).Err()
		s.adjustCount(ctx, job.Lane, StateDelayed, StatePending)
	}
	return nil
}

// popReady pops the highest-priority ready job across lanes
// (PRIORITY > INITIAL > MONITOR, lowest priority number first, FIFO
// ties), or returns a nil job if no lane has one ready right now.
func (s *JobStore) popReady(ctx context.Context) (*Job, error) {
	for _, lane := range laneOrder {
		ids, err := s.redis.ZRange(ctx, s.laneKey(lane), 0, 0).Result()
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "peek lane")
		}
		if len(ids) == 0 {
			continue
		}
		id := ids[0]
		removed, err := s.redis.ZRem(ctx, s.laneKey(lane), id).Result()
		if err != nil || removed == 0 {
			continue // lost the race to another worker, try next lane
		}
		job, err := s.loadJob(ctx, id)
		if err != nil {
			return nil, err
		}
		job.State = StateActive
		job.Attempt++
		if err := s.saveJob(ctx, *job); err != nil {
			return nil, err
		}
		s.adjustCount(ctx, lane, StatePending, StateActive)
		return job, nil
	}
	return nil, nil
}

// NextReady atomically pops the highest-priority ready job across
// lanes respecting the token bucket (spec §4.2): PRIORITY > INITIAL >
// MONITOR, lowest priority number first within a lane, FIFO ties. It
// blocks until a token and a job are both available or ctx is done.
func (s *JobStore) NextReady(ctx context.Context, workerID string) (*Job, error) {
	for {
		if err := s.promoteDue(ctx); err != nil {
			s.logger.WithError(err).Warn("promote delayed jobs failed")
		}

		if s.bucket.Allow() {
			job, err := s.popReady(ctx)
			if err != nil {
				return nil, err
			}
			if job != nil {
				return job, nil
			}
			// Nothing was ready to dequeue: the token was spent purely
			// on polling, not a Portal request, so give it back.
			s.bucket.Refund()
		}

		wait := s.bucket.WaitDuration()
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Complete marks id completed and clears its dedup key so a future
// calendar-day enqueue is not blocked.
func (s *JobStore) Complete(ctx context.Context, id string) error {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return err
	}
	job.State = StateCompleted
	job.LastError = ""
	if err := s.saveJob(ctx, *job); err != nil {
		return err
	}
	s.adjustCount(ctx, job.Lane, StateActive, StateCompleted)
	return s.redis.Del(ctx, s.dedupKey(job.DedupKey)).Err()
}

// Fail records a job attempt failure. If retryable and attempts
// remain, the job is reinserted delayed with exponential backoff plus
// jitter (spec §7); otherwise it is marked terminally failed and its
// dedup key cleared.
func (s *JobStore) Fail(ctx context.Context, id string, errorKind string, errorMessage string, retryable bool) error {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return err
	}
	job.LastError = fmt.Sprintf("%s: %s", errorKind, errorMessage)

	if retryable && job.Attempt < job.MaxAttempts {
		job.State = StateDelayed
		if err := s.saveJob(ctx, *job); err != nil {
			return err
		}
		delay := backoffDelay(job.BackoffBase, job.Attempt)
		readyAt := float64(s.nowFunc().Add(delay).UnixMilli())
		if err := s.redis.ZAdd(ctx, delayedKey, redis.Z{Score: readyAt, Member: id}).Err(); err != nil {
			return err
		}
		s.adjustCount(ctx, job.Lane, StateActive, StateDelayed)
		return nil
	}

	job.State = StateFailed
	if err := s.saveJob(ctx, *job); err != nil {
		return err
	}
	s.adjustCount(ctx, job.Lane, StateActive, StateFailed)
	return s.redis.Del(ctx, s.dedupKey(job.DedupKey)).Err()
}

// Requeue returns an active job to pending without counting it as a
// failed attempt, for the forced-shutdown-timeout path of spec §5: a
// worker killed mid-job by a shutdown deadline leaves its job
// recoverable by another process rather than stuck active forever.
func (s *JobStore) Requeue(ctx context.Context, id string) error {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return err
	}
	job.State = StatePending
	// popReady counted the interrupted run; give that attempt back.
	if job.Attempt > 0 {
		job.Attempt--
	}
	if err := s.saveJob(ctx, *job); err != nil {
		return err
	}
	score := laneScore(job.Priority, job.Seq)
	if err := s.redis.ZAdd(ctx, s.laneKey(job.Lane), redis.Z{Score: score, Member: id}).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "requeue job").WithDetails(id)
	}
	s.adjustCount(ctx, job.Lane, StateActive, StatePending)
	s.wake()
	return nil
}

// backoffDelay computes base * 2^(attempt-1) * (1 ± 20% jitter), per
// spec §7.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	exp := 1 << (attempt - 1)
	nominal := base * time.Duration(exp)
	jitter := 1 + (rand.Float64()*0.4 - 0.2) // in [0.8, 1.2]
	return time.Duration(float64(nominal) * jitter)
}
