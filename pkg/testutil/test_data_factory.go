package testutil

import (
	"time"

	"github.com/aaron-0406/lolo-cej-scraping/pkg/domain"
)

// Default test values, following the one-factory-per-entity-kind shape
// used across this repo's own _test.go files.
const (
	DefaultTenantID   int64 = 1
	DefaultCaseFileID int64 = 100
	DefaultCaseNumber       = "00123-2023-0-1801-JR-CI-05"
	DefaultPartyName        = "Acme Corp v. Estado"
)

// TestDataFactory centralizes construction of the domain entities this
// engine reads and writes, so package tests don't each hand-roll a
// slightly different CaseFile/Binnacle/Notification shape.
type TestDataFactory struct {
	now time.Time
}

// NewTestDataFactory builds a factory anchored to a fixed instant, so
// repeated calls in the same test produce comparable timestamps.
func NewTestDataFactory() *TestDataFactory {
	return &TestDataFactory{now: time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)}
}

// CreateTenant returns a scrape-enabled tenant.
func (f *TestDataFactory) CreateTenant() domain.Tenant {
	return domain.Tenant{ID: DefaultTenantID, ScrapeEnabled: true}
}

// CreateEligibleCaseFile returns a CaseFile that passes domain.CaseFile.Eligible.
func (f *TestDataFactory) CreateEligibleCaseFile() domain.CaseFile {
	return domain.CaseFile{
		ID:                 DefaultCaseFileID,
		TenantID:           DefaultTenantID,
		ExternalCaseNumber: DefaultCaseNumber,
		PartyName:          DefaultPartyName,
		ScrapeEnabled:      true,
		ScanValid:          true,
		Archived:           false,
		CreatedAt:          f.now.Add(-30 * 24 * time.Hour),
	}
}

// CreateArchivedCaseFile returns a CaseFile excluded from scraping by
// the Archived flag alone, all other fields otherwise eligible.
func (f *TestDataFactory) CreateArchivedCaseFile() domain.CaseFile {
	c := f.CreateEligibleCaseFile()
	c.Archived = true
	return c
}

// CreateResolutionBinnacle returns a Binnacle whose ResolutionDate is
// set, so domain.Binnacle.TypeTag reports TypeTagResolution.
func (f *TestDataFactory) CreateResolutionBinnacle(index int) domain.Binnacle {
	date := f.now.Add(-time.Duration(index) * 24 * time.Hour)
	sumilla := "Se declara fundada la demanda"
	return domain.Binnacle{
		CaseFileID:     DefaultCaseFileID,
		Index:          index,
		ResolutionDate: &date,
		EntryDate:      &date,
		Sumilla:        &sumilla,
	}
}

// CreateWritBinnacle returns a Binnacle with no ResolutionDate, so
// domain.Binnacle.TypeTag reports TypeTagWrit.
func (f *TestDataFactory) CreateWritBinnacle(index int) domain.Binnacle {
	date := f.now.Add(-time.Duration(index) * 24 * time.Hour)
	return domain.Binnacle{
		CaseFileID: DefaultCaseFileID,
		Index:      index,
		EntryDate:  &date,
	}
}

// CreateNotification returns a Notification shipped but not yet
// received, addressed to a fixed test recipient.
func (f *TestDataFactory) CreateNotification(binnacleID int64, code string) domain.Notification {
	addressee := "Estudio Jurídico Demo"
	shipDate := f.now.Add(-2 * 24 * time.Hour)
	return domain.Notification{
		BinnacleID: binnacleID,
		Code:       code,
		Addressee:  &addressee,
		ShipDate:   &shipDate,
	}
}

// CreateSnapshot returns a Snapshot consistent with binnacles: its
// BinnacleCount and CanonicalPayload length always agree.
func (f *TestDataFactory) CreateSnapshot(binnacles []domain.CanonicalBinnacle, hash string) domain.Snapshot {
	return domain.Snapshot{
		CaseFileID:       DefaultCaseFileID,
		ContentHash:      hash,
		BinnacleCount:    len(binnacles),
		CanonicalPayload: binnacles,
		LastScrapedAt:    f.now,
		ScrapeCount:      1,
	}
}

// CreateJobLogEntry returns a completed MONITOR-lane job log entry.
func (f *TestDataFactory) CreateJobLogEntry() domain.JobLogEntry {
	started := f.now.Add(-5 * time.Second)
	completed := f.now
	durationMs := completed.Sub(started).Milliseconds()
	binnaclesFound := 3
	changesDetected := 1
	return domain.JobLogEntry{
		CaseFileID:      DefaultCaseFileID,
		TenantID:        DefaultTenantID,
		JobKind:         domain.JobKindMonitor,
		Status:          domain.JobStatusCompleted,
		Attempt:         1,
		DurationMs:      &durationMs,
		BinnaclesFound:  &binnaclesFound,
		ChangesDetected: &changesDetected,
		StartedAt:       started,
		CompletedAt:     &completed,
	}
}

// CreateChangeLogEntry returns an unnotified NEW_BINNACLE entry.
func (f *TestDataFactory) CreateChangeLogEntry() domain.ChangeLogEntry {
	return domain.ChangeLogEntry{
		CaseFileID: DefaultCaseFileID,
		TenantID:   DefaultTenantID,
		ChangeType: domain.ChangeTypeNewBinnacle,
		DetectedAt: f.now,
		Notified:   false,
	}
}
