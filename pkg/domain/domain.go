// Package domain holds the plain value types shared across the
// scrape coordination engine: the entities this service reads and
// writes in the relational store it shares with the notification
// consumer, plus the canonical forms it hashes and diffs in-process.
package domain

import "time"

// Tenant scopes subscriptions, schedules, and notifications. Its
// CaseFiles are only ever selected for scraping while ScrapeEnabled.
type Tenant struct {
	ID            int64
	ScrapeEnabled bool
}

// NotificationSchedule drives scraping only when LogicKey is
// "portal-monitoring"; the wall-clock Times are used by Priority to
// find the nearest upcoming notification hour.
type NotificationSchedule struct {
	TenantID int64
	LogicKey string
	Times    []string // "HH:MM", in the configured timezone
	Enabled  bool
}

// PortalMonitoringLogicKey is the only NotificationSchedule.LogicKey
// that drives scraping (spec §3).
const PortalMonitoringLogicKey = "portal-monitoring"

// CaseFile is the judicial case monitored on the Portal. Only
// CaseFiles with ScrapeEnabled && ScanValid && !Archived, belonging to
// a Tenant with ScrapeEnabled, are ever selected by the Scheduler. A
// CaseFile with ScanValid=false is permanently skipped until an
// external actor flips it back.
type CaseFile struct {
	ID                int64
	TenantID          int64
	ExternalCaseNumber string
	PartyName         string
	ScrapeEnabled     bool
	ScanValid         bool
	Archived          bool
	CreatedAt         time.Time
	LastScrapedAt     *time.Time
	HasPendingChanges bool
}

// Eligible reports whether c should ever be selected for scraping,
// independent of the adaptive frequency rule (spec §3, §4.1).
func (c CaseFile) Eligible(tenantScrapeEnabled bool) bool {
	return tenantScrapeEnabled && c.ScrapeEnabled && c.ScanValid && !c.Archived
}

// TypeTag classifies a Binnacle as a court resolution or a procedural
// writ (spec §3: RESOLUTION iff ResolutionDate is present).
type TypeTag string

const (
	TypeTagResolution TypeTag = "RESOLUTION"
	TypeTagWrit       TypeTag = "WRIT"
)

// Binnacle is one dated entry on a CaseFile's timeline. (CaseFileID,
// Index) is unique; Binnacles are created or mutated only by the
// Worker and are never deleted (soft-delete is externally managed).
type Binnacle struct {
	ID               int64
	CaseFileID       int64
	Index            int // 1-based
	ResolutionDate   *time.Time
	EntryDate        *time.Time
	Acto             *string
	Fojas            *int
	Folios           *int
	ProvedioDate     *time.Time
	Sumilla          *string
	UserDescription  *string
	NotificationType *string
	ProceduralStageRef string
}

// TypeTag derives the RESOLUTION/WRIT tag from ResolutionDate.
func (b Binnacle) TypeTag() TypeTag {
	if b.ResolutionDate != nil {
		return TypeTagResolution
	}
	return TypeTagWrit
}

// Notification is keyed uniquely by (BinnacleID, Code); duplicates
// inserted by a retried Worker job are acceptable (spec §4.6.b).
type Notification struct {
	ID               int64
	BinnacleID       int64
	Code             string
	Addressee        *string
	ShipDate         *time.Time
	Attachments      *string
	DeliveryMethod   *string
	NotifiedAt       *time.Time
	ReceivedAt       *time.Time
	RespondedAt      *time.Time
	ExpiredAt        *time.Time
	CancelledAt      *time.Time
	ReturnedAt       *time.Time
}

// FileAttachment is keyed uniquely by (BinnacleID, OriginalName).
type FileAttachment struct {
	ID            int64
	BinnacleID    int64
	OriginalName  string
	Size          int64
	ObjectStoreKey string
}

// CanonicalBinnacle is the normalized, hash-stable projection of a
// Binnacle plus its notification count (spec §4.8). NotificationCount
// participates in the hash so an added notification changes the hash
// even when every Binnacle field is unchanged.
type CanonicalBinnacle struct {
	Index              int     `json:"index"`
	ResolutionDate     *string `json:"resolutionDate"`
	EntryDate          *string `json:"entryDate"`
	Resolution         *string `json:"resolution"`
	NotificationType   *string `json:"notificationType"`
	Acto               *string `json:"acto"`
	Fojas              *int    `json:"fojas"`
	Folios             *int    `json:"folios"`
	ProvedioDate       *string `json:"provedioDate"`
	Sumilla            *string `json:"sumilla"`
	UserDescription    *string `json:"userDescription"`
	NotificationCount  int     `json:"notificationCount"`
}

// Snapshot is the canonical representation of a CaseFile's Binnacle
// list at its most recent successful scrape. Exactly one Snapshot
// exists per CaseFile once the first scrape completes; it is upserted,
// never appended.
type Snapshot struct {
	CaseFileID          int64
	ContentHash         string // 64-char lowercase hex
	BinnacleCount       int
	CanonicalPayload    []CanonicalBinnacle
	LastScrapedAt       time.Time
	LastChangedAt       *time.Time
	ScrapeCount         int
	ConsecutiveNoChange int
	ErrorCount          int
	LastError           *string
}

// ChangeType enumerates the kinds of ChangeLogEntry this service
// emits (spec §3).
type ChangeType string

const (
	ChangeTypeNewBinnacle      ChangeType = "NEW_BINNACLE"
	ChangeTypeModifiedBinnacle ChangeType = "MODIFIED_BINNACLE"
	ChangeTypeRemovedBinnacle  ChangeType = "REMOVED_BINNACLE"
	ChangeTypeNewNotification  ChangeType = "NEW_NOTIFICATION"
	ChangeTypeNewFile          ChangeType = "NEW_FILE"
)

// ChangeLogEntry is append-only from this service's side; the
// Notified bit is flipped only by the external consumer.
type ChangeLogEntry struct {
	ID         int64
	CaseFileID int64
	TenantID   int64
	ChangeType ChangeType
	FieldName  *string
	OldValue   *string
	NewValue   *string
	DetectedAt time.Time
	Notified   bool
	NotifiedAt *time.Time
}

// JobKind is one of the three JobStore lanes (spec §4.2).
type JobKind string

const (
	JobKindInitial  JobKind = "INITIAL"
	JobKindMonitor  JobKind = "MONITOR"
	JobKindPriority JobKind = "PRIORITY"
)

// JobStatus is the disposition recorded for one job attempt.
type JobStatus string

const (
	JobStatusStarted   JobStatus = "STARTED"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusRetrying  JobStatus = "RETRYING"
)

// JobLogEntry records one attempt at one job (spec §3).
type JobLogEntry struct {
	ID               int64
	CaseFileID       int64
	TenantID         int64
	JobKind          JobKind
	Status           JobStatus
	Attempt          int
	DurationMs       *int64
	BinnaclesFound   *int
	ChangesDetected  *int
	ErrorKind        *string
	ErrorMessage     *string
	WorkerID         *string
	StartedAt        time.Time
	CompletedAt      *time.Time
}
