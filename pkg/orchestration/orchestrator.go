// Package orchestration wires the Scheduler, JobStore, BrowserPool,
// and worker dispatch loop into one process lifecycle (spec §4, §5):
// start, run workers pulling from the JobStore until shutdown, then
// tear down in reverse dependency order.
package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/aaron-0406/lolo-cej-scraping/internal/errors"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/domain"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/jobstore"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/orchestration/opsalert"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/scheduler"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/worker"
)

// Dispatcher is the JobStore surface the dispatch loop needs, narrowed
// to a seam so tests substitute a fake instead of a Redis-backed
// queue.
type Dispatcher interface {
	NextReady(ctx context.Context, workerID string) (*jobstore.Job, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, errorKind string, errorMessage string, retryable bool) error
	Requeue(ctx context.Context, id string) error
}

// Drainer is the BrowserPool surface Stop needs.
type Drainer interface {
	Drain(ctx context.Context) error
}

// Processor is the Worker surface the dispatch loop needs.
type Processor interface {
	Process(ctx context.Context, job worker.Job) error
}

// Config tunes the dispatch loop and shutdown behavior (spec §5).
type Config struct {
	// WorkerConcurrency is how many dispatch goroutines pull from
	// Dispatcher concurrently. This bounds total in-flight jobs; it
	// does not by itself stop one lane from occupying every goroutine.
	// laneCapacities (built from this value in New) enforces spec §5's
	// per-lane PRIORITY/INITIAL/MONITOR shares on top of it.
	WorkerConcurrency int
	// ShutdownDeadline bounds how long Stop waits for in-flight jobs
	// to finish before forcing a browser kill and requeueing them.
	ShutdownDeadline time.Duration
}

func DefaultConfig() Config {
	return Config{WorkerConcurrency: 5, ShutdownDeadline: 30 * time.Second}
}

// laneCapacities computes spec §5's per-lane concurrency shares:
// PRIORITY = floor(W/3), MONITOR = W, INITIAL = floor(W/2), each
// floored at 1 so a small WorkerConcurrency never starves a lane
// entirely. MONITOR gets the full worker count since it is the lane
// no cap is meant to shrink (spec §5).
func laneCapacities(workerConcurrency int) map[domain.JobKind]int64 {
	floor1 := func(n int) int64 {
		if n < 1 {
			return 1
		}
		return int64(n)
	}
	return map[domain.JobKind]int64{
		domain.JobKindPriority: floor1(workerConcurrency / 3),
		domain.JobKindMonitor:  floor1(workerConcurrency),
		domain.JobKindInitial:  floor1(workerConcurrency / 2),
	}
}

// jobPayload is what the Scheduler and the inbound control API both
// enqueue; the dispatch loop decodes it back into a worker.Job.
type jobPayload struct {
	CaseFileID int64  `json:"caseFileId"`
	TenantID   int64  `json:"tenantId"`
	CaseNumber string `json:"caseNumber"`
}

// Orchestrator owns process-lifetime start/stop. It holds no
// ownership over Repository, ObjectStore, or the CaptchaChain — those
// are the Worker's collaborators, constructed upstream and handed in
// through Processor.
type Orchestrator struct {
	cfg       Config
	scheduler *scheduler.Scheduler
	jobs      Dispatcher
	pool      Drainer
	proc      Processor
	alerts    *opsalert.Sink
	logger    *logrus.Logger

	laneSem map[domain.JobKind]*semaphore.Weighted

	cancel context.CancelFunc
	group  *errgroup.Group

	mu       sync.Mutex
	inFlight map[int]string
}

// New builds an Orchestrator. alerts may be nil to disable ops
// alerting entirely.
func New(cfg Config, sched *scheduler.Scheduler, jobs Dispatcher, pool Drainer, proc Processor, alerts *opsalert.Sink, logger *logrus.Logger) *Orchestrator {
	laneSem := make(map[domain.JobKind]*semaphore.Weighted, 3)
	for lane, capacity := range laneCapacities(cfg.WorkerConcurrency) {
		laneSem[lane] = semaphore.NewWeighted(capacity)
	}
	return &Orchestrator{
		cfg:       cfg,
		scheduler: sched,
		jobs:      jobs,
		pool:      pool,
		proc:      proc,
		alerts:    alerts,
		logger:    logger,
		laneSem:   laneSem,
		inFlight:  make(map[int]string),
	}
}

// Start launches the Scheduler and WorkerConcurrency dispatch
// goroutines. It returns immediately; call Stop to tear down.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.scheduler.Start(ctx)

	group, gctx := errgroup.WithContext(ctx)
	o.group = group
	for i := 0; i < o.cfg.WorkerConcurrency; i++ {
		slot := i
		group.Go(func() error {
			o.dispatchLoop(gctx, slot)
			return nil
		})
	}
}

// Stop implements spec §5's reverse-dependency-order shutdown: the
// Scheduler stops accepting new ticks first (it finishes any tick
// already in flight on its own), then dispatch loops stop accepting
// new jobs and finish their current one, then the BrowserPool drains.
// If ShutdownDeadline elapses before workers finish, their in-flight
// jobs are requeued and the pool is drained anyway (the teacher's
// browser sessions may still be killed mid-navigation in that case).
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.scheduler.Stop()

	if o.cancel != nil {
		o.cancel()
	}

	deadline := o.cfg.ShutdownDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}

	done := make(chan struct{})
	go func() {
		if o.group != nil {
			_ = o.group.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		o.logger.Warn("shutdown deadline exceeded; requeueing in-flight jobs and forcing browser kill")
		requeued := o.requeueInFlight(context.Background())
		o.alerts.ForcedShutdown(context.Background(), requeued)
	}

	drainCtx, drainCancel := context.WithTimeout(ctx, deadline)
	defer drainCancel()
	return o.pool.Drain(drainCtx)
}

// requeueInFlight returns the ids it successfully requeued.
func (o *Orchestrator) requeueInFlight(ctx context.Context) []string {
	o.mu.Lock()
	ids := make([]string, 0, len(o.inFlight))
	for _, id := range o.inFlight {
		if id != "" {
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()

	requeued := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := o.jobs.Requeue(ctx, id); err != nil {
			o.logger.WithError(err).WithField("jobId", id).Error("requeue on shutdown timeout failed")
			continue
		}
		requeued = append(requeued, id)
	}
	return requeued
}

func (o *Orchestrator) setInFlight(slot int, jobID string) {
	o.mu.Lock()
	o.inFlight[slot] = jobID
	o.mu.Unlock()
}

func (o *Orchestrator) dispatchLoop(ctx context.Context, slot int) {
	workerID := fmt.Sprintf("worker-%d", slot)
	for {
		job, err := o.jobs.NextReady(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.logger.WithError(err).Error("jobstore.NextReady failed")
			continue
		}

		sem := o.laneSem[job.Lane]
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				// Shutdown arrived while this goroutine waited for a free
				// lane slot: the job was already dequeued, so it must go
				// back onto the JobStore rather than vanish.
				if reqErr := o.jobs.Requeue(context.Background(), job.ID); reqErr != nil {
					o.logger.WithError(reqErr).WithField("jobId", job.ID).Error("requeue after lane-semaphore shutdown failed")
				}
				return
			}
		}

		o.setInFlight(slot, job.ID)
		o.runJob(ctx, job)
		o.setInFlight(slot, "")

		if sem != nil {
			sem.Release(1)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func (o *Orchestrator) runJob(ctx context.Context, job *jobstore.Job) {
	var payload jobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		_ = o.jobs.Fail(ctx, job.ID, string(apperrors.ErrorTypeValidationFailed), err.Error(), false)
		return
	}

	wjob := worker.Job{
		CaseFileID: payload.CaseFileID,
		TenantID:   payload.TenantID,
		CaseNumber: payload.CaseNumber,
		Kind:       job.Lane,
		Attempt:    job.Attempt,
	}

	if err := o.proc.Process(ctx, wjob); err != nil {
		retryable := true
		if appErr, ok := err.(*apperrors.AppError); ok {
			retryable = appErr.Retryable()
		}
		if failErr := o.jobs.Fail(ctx, job.ID, string(apperrors.GetType(err)), err.Error(), retryable); failErr != nil {
			o.logger.WithError(failErr).WithField("jobId", job.ID).Error("jobstore.Fail failed")
		}
		return
	}

	if err := o.jobs.Complete(ctx, job.ID); err != nil {
		o.logger.WithError(err).WithField("jobId", job.ID).Error("jobstore.Complete failed")
	}
}
