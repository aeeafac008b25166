// Package repository mediates all persistent writes and reads against
// the shared relational store (spec §3/§4.6 step 10). Repository owns
// no collaborator references — Worker holds a Repository reference,
// never the other way (spec §5's "no cyclic ownership").
package repository

import (
	"context"

	"github.com/aaron-0406/lolo-cej-scraping/pkg/domain"
)

// Repository is the transactional access boundary the Worker persists
// through. WithTx brackets the single logical unit of work spec §4.6
// step 10 requires: every write inside fn commits together or not at
// all.
type Repository interface {
	GetTenant(ctx context.Context, tenantID int64) (domain.Tenant, error)
	GetCaseFile(ctx context.Context, caseFileID int64) (domain.CaseFile, error)
	ListEligibleCaseFiles(ctx context.Context) ([]domain.CaseFile, error)
	SetCaseFileScanInvalid(ctx context.Context, caseFileID int64) error

	// ListActiveMonitoringSchedules returns every NotificationSchedule
	// with LogicKey == PortalMonitoringLogicKey, Enabled, and belonging
	// to a Tenant with ScrapeEnabled (spec §4.1 step 1).
	ListActiveMonitoringSchedules(ctx context.Context) ([]domain.NotificationSchedule, error)

	// ListEligibleCaseFilesForTenant narrows ListEligibleCaseFiles to
	// one Tenant (spec §4.1 step 2).
	ListEligibleCaseFilesForTenant(ctx context.Context, tenantID int64) ([]domain.CaseFile, error)

	GetSnapshot(ctx context.Context, caseFileID int64) (*domain.Snapshot, error)

	// RecordSnapshotError increments the Snapshot's ErrorCount and sets
	// LastError on a failed job attempt (spec §7, §4.6 step 12). A
	// no-op when no Snapshot exists yet: ErrorCount/LastError belong to
	// the per-CaseFile error streak once scraping has a baseline to
	// report against, not to a CaseFile that has never completed a
	// first scrape.
	RecordSnapshotError(ctx context.Context, caseFileID int64, message string) error

	// BatchGetSnapshots loads every Snapshot for caseFileIDs in one
	// query, keyed by CaseFileID (spec §4.1 step 3). A CaseFile absent
	// from the result has no Snapshot yet.
	BatchGetSnapshots(ctx context.Context, caseFileIDs []int64) (map[int64]domain.Snapshot, error)

	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	AppendJobLogEntry(ctx context.Context, entry domain.JobLogEntry) error
}

// Tx is the set of writes the Worker's persist step performs inside
// one transaction (spec §4.6 step 10a-f). Implementations bind it to
// the *sqlx.Tx opened by WithTx.
type Tx interface {
	// UpsertBinnacles upserts by (caseFile, index): bulk-create for new
	// indices, in-place update for existing ones. It returns each
	// persisted binnacle's database id keyed by its Index, so the
	// caller can attach Notifications and FileAttachments afterward.
	UpsertBinnacles(ctx context.Context, caseFileID int64, binnacles []domain.Binnacle) (map[int]int64, error)

	// BulkInsertNotifications inserts notifications with no dedup
	// (Portal is the source of truth; duplicates are acceptable and
	// rare, per spec §4.6 step 10b).
	BulkInsertNotifications(ctx context.Context, binnacleID int64, notifications []domain.Notification) error

	// FileAttachmentExists reports whether (binnacleID, originalName)
	// has already been recorded, so the Worker skips a redundant
	// download (spec §4.6 step 10c).
	FileAttachmentExists(ctx context.Context, binnacleID int64, originalName string) (bool, error)

	InsertFileAttachment(ctx context.Context, attachment domain.FileAttachment) error

	UpsertSnapshot(ctx context.Context, snapshot domain.Snapshot) error

	BulkInsertChangeLogEntries(ctx context.Context, entries []domain.ChangeLogEntry) error

	UpdateCaseFileAfterScrape(ctx context.Context, caseFileID int64, hasChanges bool) error
}
