// Package scheduler runs the periodic tick of spec §4.1: load active
// monitoring schedules, apply the adaptive frequency rule to decide
// which CaseFiles are due, compute priority, and enqueue each due
// CaseFile to the MONITOR lane.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aaron-0406/lolo-cej-scraping/internal/clock"
	apperrors "github.com/aaron-0406/lolo-cej-scraping/internal/errors"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/domain"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/jobstore"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/repository"
)

// Thresholds holds the adaptive frequency rule's configurable day
// counts (spec §4.1).
type Thresholds struct {
	YoungDays          int // always due while daysSince(createdAt) is below this
	RecentlyActiveDays int // always due while daysSince(lastChangedAt) is below this
	VeryStaleDays      int // daysSince(lastChangedAt) above this is "very stale"
	VeryStaleEvery     int // very-stale CaseFiles are due every N days
	HighStaleDays      int // daysSince(lastChangedAt) above this is "high stale"
	HighStaleEvery     int // high-stale CaseFiles are due every N days
	ModerateEvery      int // everything else is due every N days
}

// DefaultThresholds matches the values spec §4.1 names.
func DefaultThresholds() Thresholds {
	return Thresholds{
		YoungDays:          7,
		RecentlyActiveDays: 7,
		VeryStaleDays:      90,
		VeryStaleEvery:     7,
		HighStaleDays:      30,
		HighStaleEvery:     3,
		ModerateEvery:      1,
	}
}

// Config is the Scheduler's tunable behavior (spec §4.1).
type Config struct {
	TickInterval time.Duration
	Thresholds   Thresholds
}

// DefaultConfig is the 10-minute tick spec §4.1 names.
func DefaultConfig() Config {
	return Config{TickInterval: 10 * time.Minute, Thresholds: DefaultThresholds()}
}

// Enqueuer is the one JobStore method the Scheduler needs, narrowed
// to a seam so tests substitute a fake instead of a Redis-backed
// queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, lane domain.JobKind, payload json.RawMessage, priority int, dedupKey string) (string, error)
}

// monitorPayload is what the Scheduler enqueues for a due CaseFile;
// the Worker's dispatcher unmarshals it back into a Job.
type monitorPayload struct {
	CaseFileID int64  `json:"caseFileId"`
	TenantID   int64  `json:"tenantId"`
	CaseNumber string `json:"caseNumber"`
}

// Scheduler runs the periodic tick. A tick already in flight causes
// the next tick to be skipped outright (spec §4.1's reentrancy guard
// is "skip, don't queue").
type Scheduler struct {
	cfg    Config
	repo   repository.Repository
	queue  Enqueuer
	clock  clock.Clock
	logger *logrus.Logger

	tickingMu sync.Mutex
	ticking   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler. c supplies both "now" and the configured
// timezone the adaptive frequency rule and dedup keys are computed
// in (spec §2, §4.1).
func New(cfg Config, repo repository.Repository, queue Enqueuer, c clock.Clock, logger *logrus.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, repo: repo, queue: queue, clock: c, logger: logger}
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
// It fires an initial tick immediately, then every TickInterval.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop ends the tick loop and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// runTick applies the reentrancy guard, then runs one tick on its own
// goroutine so a slow tick never delays the next ticker fire's guard
// check.
func (s *Scheduler) runTick(ctx context.Context) {
	s.tickingMu.Lock()
	if s.ticking {
		s.tickingMu.Unlock()
		s.logger.Warn("scheduler tick skipped: previous tick still running")
		return
	}
	s.ticking = true
	s.tickingMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.tickingMu.Lock()
			s.ticking = false
			s.tickingMu.Unlock()
		}()
		if err := s.tick(ctx); err != nil {
			s.logger.WithError(err).Error("scheduler tick failed")
		}
	}()
}

// tick is one pass of spec §4.1's six steps.
func (s *Scheduler) tick(ctx context.Context) error {
	schedules, err := s.repo.ListActiveMonitoringSchedules(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "list active monitoring schedules")
	}

	enqueued := 0
	for _, schedule := range schedules {
		caseFiles, err := s.repo.ListEligibleCaseFilesForTenant(ctx, schedule.TenantID)
		if err != nil {
			s.logger.WithError(err).WithField("tenantId", schedule.TenantID).Error("list eligible case files failed")
			continue
		}
		if len(caseFiles) == 0 {
			continue
		}

		ids := make([]int64, len(caseFiles))
		for i, cf := range caseFiles {
			ids[i] = cf.ID
		}
		snapshots, err := s.repo.BatchGetSnapshots(ctx, ids)
		if err != nil {
			s.logger.WithError(err).WithField("tenantId", schedule.TenantID).Error("batch get snapshots failed")
			continue
		}

		now := s.clock.Now()
		priority := Priority(now, schedule.Times)

		for _, cf := range caseFiles {
			snap, hasSnap := snapshots[cf.ID]
			var snapPtr *domain.Snapshot
			if hasSnap {
				snapPtr = &snap
			}
			if !IsDue(s.cfg.Thresholds, now, cf.CreatedAt, snapPtr) {
				continue
			}

			if err := s.enqueueDue(ctx, cf, priority); err != nil {
				s.logger.WithError(err).WithField("caseFileId", cf.ID).Error("enqueue monitor job failed")
				continue
			}
			enqueued++
		}
	}

	s.logger.WithField("enqueued", enqueued).Info("scheduler tick complete")
	return nil
}

func (s *Scheduler) enqueueDue(ctx context.Context, cf domain.CaseFile, priority int) error {
	payload, err := json.Marshal(monitorPayload{CaseFileID: cf.ID, TenantID: cf.TenantID, CaseNumber: cf.ExternalCaseNumber})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal monitor payload")
	}

	dedupKey := jobstore.DedupKey(s.clock, string(domain.JobKindMonitor), cf.ID)
	if _, err := s.queue.Enqueue(ctx, domain.JobKindMonitor, payload, priority, dedupKey); err != nil {
		return fmt.Errorf("enqueue case file %d: %w", cf.ID, err)
	}
	return nil
}

// IsDue applies spec §4.1's adaptive frequency rule. snapshot is nil
// when the CaseFile has never been scraped, which is itself always
// due.
func IsDue(th Thresholds, now, createdAt time.Time, snapshot *domain.Snapshot) bool {
	if daysSince(now, createdAt) < th.YoungDays {
		return true
	}
	if snapshot == nil {
		return true
	}
	if snapshot.LastChangedAt != nil && daysSince(now, *snapshot.LastChangedAt) < th.RecentlyActiveDays {
		return true
	}

	var changedDays int
	if snapshot.LastChangedAt != nil {
		changedDays = daysSince(now, *snapshot.LastChangedAt)
	} else {
		changedDays = daysSince(now, snapshot.LastScrapedAt)
	}
	scrapedDays := daysSince(now, snapshot.LastScrapedAt)

	switch {
	case changedDays > th.VeryStaleDays:
		return scrapedDays >= th.VeryStaleEvery
	case changedDays > th.HighStaleDays:
		return scrapedDays >= th.HighStaleEvery
	default:
		return scrapedDays >= th.ModerateEvery
	}
}

func daysSince(now, t time.Time) int {
	return int(now.Sub(t).Hours() / 24)
}

// Priority implements spec §4.3 for MONITOR jobs: find the nearest
// upcoming "HH:MM" in times relative to now (wrapping to tomorrow if
// every time today has passed, or defaulting to 23:59 if times is
// empty), then map hours-until to a priority number.
func Priority(now time.Time, times []string) int {
	hoursUntil := hoursUntilNearest(now, times)
	switch {
	case hoursUntil < 1:
		return jobstore.PriorityCritical
	case hoursUntil < 3:
		return jobstore.PriorityHigh
	case hoursUntil < 6:
		return jobstore.PriorityMedium
	default:
		return jobstore.PriorityLow
	}
}

func hoursUntilNearest(now time.Time, times []string) float64 {
	candidates := times
	if len(candidates) == 0 {
		candidates = []string{"23:59"}
	}

	best := -1.0
	for _, hhmm := range candidates {
		t, err := parseClockTime(now, hhmm)
		if err != nil {
			continue
		}
		if t.Before(now) {
			t = t.Add(24 * time.Hour)
		}
		hours := t.Sub(now).Hours()
		if best < 0 || hours < best {
			best = hours
		}
	}
	if best < 0 {
		return 24
	}
	return best
}

func parseClockTime(now time.Time, hhmm string) (time.Time, error) {
	parsed, err := time.ParseInLocation("15:04", hhmm, now.Location())
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, now.Location()), nil
}
