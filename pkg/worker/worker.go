// Package worker implements spec §4.6: processing exactly one job to
// completion (success or terminal failure) per dispatch.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/aaron-0406/lolo-cej-scraping/internal/errors"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/browserpool"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/changedetect"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/domain"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/extract"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/metrics"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/normalize"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/objectstore"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/repository"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/shared/logging"
)

const maxAntibotRetries = 2

// Job is the payload a Worker dispatches (mirrors jobstore.Job's
// unmarshalled Payload field for scrape work).
type Job struct {
	CaseFileID int64
	TenantID   int64
	CaseNumber string
	Kind       domain.JobKind
	Attempt    int
}

// AcquiredPage is what the Worker needs back from a page acquisition:
// the extract.Page contract plus the release/recycle controls
// *browserpool.Page exposes. Narrowing behind this interface, rather
// than depending on *browserpool.BrowserPool directly, lets the
// pipeline run against a fake page source in tests.
type AcquiredPage interface {
	extract.Page
	Close()
	MarkForRecycle()
}

// PagePool is the page-acquisition boundary the Worker depends on.
type PagePool interface {
	Acquire(ctx context.Context) (AcquiredPage, error)
}

// poolAdapter satisfies PagePool over a real *browserpool.BrowserPool.
type poolAdapter struct{ pool *browserpool.BrowserPool }

// NewPagePool wraps pool as a PagePool.
func NewPagePool(pool *browserpool.BrowserPool) PagePool {
	return poolAdapter{pool: pool}
}

func (a poolAdapter) Acquire(ctx context.Context) (AcquiredPage, error) {
	return a.pool.Acquire(ctx)
}

// Worker processes exactly one job end-to-end (spec §4.6). It holds
// references, never ownership, to its collaborators (spec §5): the
// Orchestrator owns their lifecycles.
type Worker struct {
	id       string
	pool     PagePool
	form     extract.FormSubmitter
	chain    extract.CaptchaChain
	repo     repository.Repository
	objects  objectstore.Store
	norm     *normalize.Normalizer
	detector *changedetect.ChangeDetector
	logger   *logrus.Logger
	now      func() time.Time
	metrics  *metrics.Metrics

	tenantPrefix string
}

// SetMetrics attaches the Prometheus collectors spec §6's /metrics
// route serves. Optional: a Worker built without it simply skips
// recording, so tests never need a registry just to run a pipeline.
func (w *Worker) SetMetrics(m *metrics.Metrics) {
	w.metrics = m
}

type Config struct {
	WorkerID     string
	TenantPrefix string
}

func New(
	cfg Config,
	pool PagePool,
	form extract.FormSubmitter,
	chain extract.CaptchaChain,
	repo repository.Repository,
	objects objectstore.Store,
	norm *normalize.Normalizer,
	detector *changedetect.ChangeDetector,
	logger *logrus.Logger,
) *Worker {
	return &Worker{
		id:           cfg.WorkerID,
		pool:         pool,
		form:         form,
		chain:        chain,
		repo:         repo,
		objects:      objects,
		norm:         norm,
		detector:     detector,
		logger:       logger,
		now:          time.Now,
		tenantPrefix: cfg.TenantPrefix,
	}
}

// Process runs job's full pipeline (spec §4.6 steps 1-12). It never
// panics out to the caller: a recovered panic is classified
// ErrorTypeInternal (retryable, like any kind outside the scrape
// table) and returned as an error like any other failure, so the JobStore's
// retry policy applies uniformly (spec §7).
func (w *Worker) Process(ctx context.Context, job Job) (err error) {
	startedAt := w.now()
	logFields := logging.ScrapeFields(string(job.Kind), job.CaseFileID, job.TenantID)

	defer func() {
		if r := recover(); r != nil {
			err = apperrors.New(apperrors.ErrorTypeInternal, fmt.Sprintf("panic in worker: %v", r))
			w.logger.WithFields(logFields.ToLogrus()).WithField("panic", r).Error("worker recovered from panic")
		}
	}()

	startEntry := domain.JobLogEntry{
		CaseFileID: job.CaseFileID,
		TenantID:   job.TenantID,
		JobKind:    job.Kind,
		Status:     domain.JobStatusStarted,
		Attempt:    job.Attempt,
		WorkerID:   &w.id,
		StartedAt:  startedAt,
	}
	if logErr := w.repo.AppendJobLogEntry(ctx, startEntry); logErr != nil {
		w.logger.WithFields(logFields.ToLogrus()).WithError(logErr).Warn("failed to record job start")
	}

	result, procErr := w.runPipeline(ctx, job)
	completedAt := w.now()
	durationMs := completedAt.Sub(startedAt).Milliseconds()

	if w.metrics != nil {
		w.metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(completedAt.Sub(startedAt).Seconds())
	}

	if procErr != nil {
		w.recordFailure(ctx, job, procErr, startedAt, completedAt, durationMs)
		if w.metrics != nil {
			w.metrics.JobsTotal.WithLabelValues(string(job.Kind), string(domain.JobStatusFailed)).Inc()
		}
		return procErr
	}

	w.appendCompletedLog(ctx, job, result, startedAt, completedAt, durationMs)
	if w.metrics != nil {
		w.metrics.JobsTotal.WithLabelValues(string(job.Kind), string(domain.JobStatusCompleted)).Inc()
	}
	return nil
}

type pipelineResult struct {
	binnaclesFound  int
	changesDetected int
}

func (w *Worker) appendCompletedLog(ctx context.Context, job Job, result pipelineResult, startedAt, completedAt time.Time, durationMs int64) {
	entry := domain.JobLogEntry{
		CaseFileID:      job.CaseFileID,
		TenantID:        job.TenantID,
		JobKind:         job.Kind,
		Status:          domain.JobStatusCompleted,
		Attempt:         job.Attempt,
		DurationMs:      &durationMs,
		BinnaclesFound:  &result.binnaclesFound,
		ChangesDetected: &result.changesDetected,
		WorkerID:        &w.id,
		StartedAt:       startedAt,
		CompletedAt:     &completedAt,
	}
	if err := w.repo.AppendJobLogEntry(ctx, entry); err != nil {
		w.logger.WithError(err).Warn("failed to record job completion")
	}
}

// recordFailure classifies err (spec §7), writes the JobLogEntry with
// RETRYING or FAILED, and bumps the CaseFile's Snapshot error streak.
func (w *Worker) recordFailure(ctx context.Context, job Job, err error, startedAt, completedAt time.Time, durationMs int64) {
	kind := string(apperrors.GetType(err))
	message := err.Error()
	retryable := true
	if appErr, ok := err.(*apperrors.AppError); ok {
		retryable = appErr.Retryable()
	}

	status := domain.JobStatusFailed
	if retryable && job.Attempt < 3 {
		status = domain.JobStatusRetrying
	}

	entry := domain.JobLogEntry{
		CaseFileID:   job.CaseFileID,
		TenantID:     job.TenantID,
		JobKind:      job.Kind,
		Status:       status,
		Attempt:      job.Attempt,
		DurationMs:   &durationMs,
		ErrorKind:    &kind,
		ErrorMessage: &message,
		WorkerID:     &w.id,
		StartedAt:    startedAt,
		CompletedAt:  &completedAt,
	}
	if logErr := w.repo.AppendJobLogEntry(ctx, entry); logErr != nil {
		w.logger.WithError(logErr).Warn("failed to record job failure")
	}
	if snapErr := w.repo.RecordSnapshotError(ctx, job.CaseFileID, message); snapErr != nil {
		w.logger.WithError(snapErr).Warn("failed to record snapshot error")
	}
}

// runPipeline implements spec §4.6 steps 2-10.
func (w *Worker) runPipeline(ctx context.Context, job Job) (pipelineResult, error) {
	page, err := w.pool.Acquire(ctx)
	if err != nil {
		return pipelineResult{}, apperrors.Wrap(err, apperrors.ErrorTypeBrowserCrash, "acquire browser page")
	}
	defer page.Close() // guaranteed release on every exit path, including panics via Process's recover.

	caseFile, err := w.repo.GetCaseFile(ctx, job.CaseFileID)
	if err != nil {
		return pipelineResult{}, err
	}

	state, err := w.submitWithAntibotRetry(ctx, page, job.CaseNumber, caseFile.PartyName)
	if err != nil {
		return pipelineResult{}, err
	}

	switch state {
	case extract.PageStateCaptchaError:
		return pipelineResult{}, apperrors.New(apperrors.ErrorTypeCaptchaFailed, "captcha error page after submission")
	case extract.PageStateNoResults:
		if setErr := w.repo.SetCaseFileScanInvalid(ctx, job.CaseFileID); setErr != nil {
			w.logger.WithError(setErr).Warn("failed to mark case file scan invalid")
		}
		return pipelineResult{}, apperrors.New(apperrors.ErrorTypeInvalidCaseNumber, "no results for case number")
	case extract.PageStateAntibot:
		return pipelineResult{}, apperrors.New(apperrors.ErrorTypeBotDetected, "antibot interposition persisted")
	}

	rawBinnacles, err := w.form.ExtractBinnacles(ctx, page)
	if err != nil {
		return pipelineResult{}, apperrors.Wrap(err, apperrors.ErrorTypeValidationFailed, "extract binnacles")
	}
	rawBinnacles = validateRawBinnacles(rawBinnacles)
	if len(rawBinnacles) == 0 {
		return pipelineResult{}, apperrors.New(apperrors.ErrorTypeValidationFailed, "no valid binnacles extracted")
	}

	binnacles := make([]domain.Binnacle, 0, len(rawBinnacles))
	canonical := make([]domain.CanonicalBinnacle, 0, len(rawBinnacles))
	notificationsByIndex := make(map[int][]extract.RawNotification, len(rawBinnacles))

	for _, raw := range rawBinnacles {
		rawNotifications, err := w.form.ExtractNotifications(ctx, page, raw.Index)
		if err != nil {
			w.logger.WithError(err).WithField("binnacle_index", raw.Index).Warn("failed to extract notifications")
		}
		notificationsByIndex[raw.Index] = rawNotifications

		binnacles = append(binnacles, w.norm.NormalizeBinnacle(raw))
		canonical = append(canonical, w.norm.Canonical(raw, len(rawNotifications)))
	}

	snapshot, err := w.repo.GetSnapshot(ctx, job.CaseFileID)
	if err != nil {
		return pipelineResult{}, err
	}
	prevPayload, prevHash := []domain.CanonicalBinnacle{}, ""
	if snapshot != nil {
		prevPayload, prevHash = snapshot.CanonicalPayload, snapshot.ContentHash
	}

	changeResult, err := w.detector.Detect(canonical, prevPayload, prevHash, w.now())
	if err != nil {
		return pipelineResult{}, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "detect changes")
	}

	if err := w.persist(ctx, job, caseFile, page, binnacles, notificationsByIndex, rawBinnacles, canonical, changeResult, snapshot); err != nil {
		return pipelineResult{}, err
	}

	return pipelineResult{binnaclesFound: len(binnacles), changesDetected: len(changeResult.Changes)}, nil
}

// submitWithAntibotRetry implements the interposed-antibot retry loop
// of spec §4.6 step 4/5: up to maxAntibotRetries re-navigations, each
// running the CaptchaChain on the interposed page.
func (w *Worker) submitWithAntibotRetry(ctx context.Context, page AcquiredPage, caseNumber, partyName string) (extract.PageState, error) {
	if err := w.form.Navigate(ctx, page, w.chain); err != nil {
		return "", w.classifyPortalError(page, err, "navigate to portal")
	}

	var state extract.PageState
	var err error
	for attempt := 0; attempt <= maxAntibotRetries; attempt++ {
		state, err = w.form.Submit(ctx, page, caseNumber, partyName, w.chain)
		if err != nil {
			return "", w.classifyPortalError(page, err, "submit case search form")
		}
		if state != extract.PageStateAntibot {
			return state, nil
		}
		if attempt == maxAntibotRetries {
			break
		}
		if err := w.form.Navigate(ctx, page, w.chain); err != nil {
			return "", w.classifyPortalError(page, err, "re-navigate after antibot")
		}
	}
	return extract.PageStateAntibot, nil
}

// classifyPortalError distinguishes a crashed browser tab from an
// ordinary Portal reachability failure (spec §7): if the page's own
// context has already ended independently of the caller's ctx, the
// tab is gone, so the session is marked for recycling rather than
// returned to the pool's idle set.
func (w *Worker) classifyPortalError(page AcquiredPage, err error, op string) error {
	if page.Context().Err() != nil {
		page.MarkForRecycle()
		return apperrors.Wrap(err, apperrors.ErrorTypeBrowserCrash, op)
	}
	return apperrors.Wrap(err, apperrors.ErrorTypePortalUnreachable, op)
}

// validateRawBinnacles drops entries failing the minimal schema
// (spec §4.6 step 7): every binnacle needs a non-empty Acto.
func validateRawBinnacles(raw []normalize.RawBinnacle) []normalize.RawBinnacle {
	out := make([]normalize.RawBinnacle, 0, len(raw))
	for _, b := range raw {
		if b.Acto == "" {
			continue
		}
		out = append(out, b)
	}
	return out
}

// persist implements spec §4.6 step 10 as one Repository transaction.
func (w *Worker) persist(
	ctx context.Context,
	job Job,
	caseFile domain.CaseFile,
	page extract.Page,
	binnacles []domain.Binnacle,
	notificationsByIndex map[int][]extract.RawNotification,
	rawBinnacles []normalize.RawBinnacle,
	canonical []domain.CanonicalBinnacle,
	changeResult changedetect.Result,
	prevSnapshot *domain.Snapshot,
) error {
	now := w.now()

	return w.repo.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		idsByIndex, err := tx.UpsertBinnacles(ctx, job.CaseFileID, binnacles)
		if err != nil {
			return err
		}

		for _, raw := range rawBinnacles {
			binnacleID, ok := idsByIndex[raw.Index]
			if !ok {
				continue
			}
			notifications := w.toDomainNotifications(notificationsByIndex[raw.Index])
			if err := tx.BulkInsertNotifications(ctx, binnacleID, notifications); err != nil {
				return err
			}
			w.persistAttachment(ctx, tx, page, job.TenantID, raw.Index, binnacleID)
		}

		// A successful completion clears the error streak unconditionally
		// (spec §7, §4.6 step 12): LastError is left unset (nil) below.
		snapshot := domain.Snapshot{
			CaseFileID:          job.CaseFileID,
			ContentHash:         changeResult.NewHash,
			BinnacleCount:       len(binnacles),
			CanonicalPayload:    canonical,
			LastScrapedAt:       now,
			ScrapeCount:         scrapeCountAfter(prevSnapshot),
			ConsecutiveNoChange: consecutiveNoChangeAfter(prevSnapshot, changeResult.HasChanges),
			ErrorCount:          0,
		}
		if changeResult.HasChanges {
			snapshot.LastChangedAt = &now
		} else if prevSnapshot != nil {
			snapshot.LastChangedAt = prevSnapshot.LastChangedAt
		}
		if err := tx.UpsertSnapshot(ctx, snapshot); err != nil {
			return err
		}

		if changeResult.HasChanges && !changeResult.IsFirstScrape {
			if err := tx.BulkInsertChangeLogEntries(ctx, stampTenant(changeResult.Changes, job.TenantID, job.CaseFileID)); err != nil {
				return err
			}
		}

		return tx.UpdateCaseFileAfterScrape(ctx, job.CaseFileID, changeResult.HasChanges)
	})
}

// persistAttachment downloads and stores a binnacle's file, if any.
// Per spec §4.6 step 10c, a single attachment failure is a warning,
// never fatal to the job.
func (w *Worker) persistAttachment(ctx context.Context, tx repository.Tx, page extract.Page, tenantID int64, binnacleIndex int, binnacleID int64) {
	url, err := w.form.ExtractFileLink(ctx, page, binnacleIndex)
	if err != nil || url == "" {
		return
	}

	localPath, err := w.form.DownloadFile(ctx, page, url)
	if err != nil || localPath == "" {
		w.logger.WithField("binnacle_id", binnacleID).WithError(err).Warn("attachment download failed, continuing")
		return
	}

	originalName := fileNameOf(localPath)
	exists, err := tx.FileAttachmentExists(ctx, binnacleID, originalName)
	if err != nil {
		w.logger.WithError(err).Warn("failed to check attachment existence")
		return
	}
	if exists {
		return
	}

	size, err := fileSize(localPath)
	if err != nil {
		w.logger.WithError(err).Warn("failed to stat downloaded attachment")
		return
	}

	key := objectstore.Key(w.tenantPrefix, tenantID, uuid.NewString(), extOf(originalName))
	if err := w.uploadAndCleanup(ctx, localPath, key, size); err != nil {
		w.logger.WithError(err).Warn("failed to upload attachment to object store")
		return
	}

	attachment := domain.FileAttachment{
		BinnacleID:     binnacleID,
		OriginalName:   originalName,
		Size:           size,
		ObjectStoreKey: key,
	}
	if err := tx.InsertFileAttachment(ctx, attachment); err != nil {
		w.logger.WithError(err).Warn("failed to record file attachment")
	}
}

func (w *Worker) toDomainNotifications(raw []extract.RawNotification) []domain.Notification {
	out := make([]domain.Notification, 0, len(raw))
	for _, r := range raw {
		out = append(out, domain.Notification{
			Code:           r.Code,
			Addressee:      normalize.TrimOrNull(r.Addressee),
			DeliveryMethod: normalize.TrimOrNull(r.DeliveryMethod),
			ShipDate:       w.norm.ParseDate(r.ShipDate),
			NotifiedAt:     w.norm.ParseDate(r.NotifiedAt),
			ReceivedAt:     w.norm.ParseDate(r.ReceivedAt),
			RespondedAt:    w.norm.ParseDate(r.RespondedAt),
			ExpiredAt:      w.norm.ParseDate(r.ExpiredAt),
			CancelledAt:    w.norm.ParseDate(r.CancelledAt),
			ReturnedAt:     w.norm.ParseDate(r.ReturnedAt),
		})
	}
	return out
}

func stampTenant(entries []domain.ChangeLogEntry, tenantID, caseFileID int64) []domain.ChangeLogEntry {
	out := make([]domain.ChangeLogEntry, len(entries))
	for i, e := range entries {
		e.TenantID = tenantID
		e.CaseFileID = caseFileID
		out[i] = e
	}
	return out
}

func scrapeCountAfter(prev *domain.Snapshot) int {
	if prev == nil {
		return 1
	}
	return prev.ScrapeCount + 1
}

func consecutiveNoChangeAfter(prev *domain.Snapshot, hasChanges bool) int {
	if hasChanges {
		return 0
	}
	if prev == nil {
		return 1
	}
	return prev.ConsecutiveNoChange + 1
}
