package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	apperrors "github.com/aaron-0406/lolo-cej-scraping/internal/errors"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/domain"
)

// Postgres is the production Repository, backed by the pgx-driven
// *sqlx.DB internal/database.Connect returns.
type Postgres struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) GetTenant(ctx context.Context, tenantID int64) (domain.Tenant, error) {
	var row struct {
		ID            int64 `db:"id"`
		ScrapeEnabled bool  `db:"scrape_enabled"`
	}
	err := p.db.GetContext(ctx, &row, `SELECT id, scrape_enabled FROM tenants WHERE id = $1`, tenantID)
	if err == sql.ErrNoRows {
		return domain.Tenant{}, apperrors.New(apperrors.ErrorTypeNotFound, "tenant not found").WithDetailsf("tenant %d", tenantID)
	}
	if err != nil {
		return domain.Tenant{}, apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "get tenant")
	}
	return domain.Tenant{ID: row.ID, ScrapeEnabled: row.ScrapeEnabled}, nil
}

type caseFileRow struct {
	ID                 int64      `db:"id"`
	TenantID           int64      `db:"tenant_id"`
	ExternalCaseNumber string     `db:"external_case_number"`
	PartyName          string     `db:"party_name"`
	ScrapeEnabled      bool       `db:"scrape_enabled"`
	ScanValid          bool       `db:"scan_valid"`
	Archived           bool       `db:"archived"`
	CreatedAt          time.Time  `db:"created_at"`
	LastScrapedAt      *time.Time `db:"last_scraped_at"`
	HasPendingChanges  bool       `db:"has_pending_changes"`
}

func (p *Postgres) GetCaseFile(ctx context.Context, caseFileID int64) (domain.CaseFile, error) {
	var row caseFileRow
	err := p.db.GetContext(ctx, &row, `
		SELECT id, tenant_id, external_case_number, party_name, scrape_enabled,
		       scan_valid, archived, created_at, last_scraped_at, has_pending_changes
		FROM case_files WHERE id = $1`, caseFileID)
	if err == sql.ErrNoRows {
		return domain.CaseFile{}, apperrors.New(apperrors.ErrorTypeNotFound, "case file not found").WithDetailsf("case file %d", caseFileID)
	}
	if err != nil {
		return domain.CaseFile{}, apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "get case file")
	}
	return caseFileFromRow(row), nil
}

// ListEligibleCaseFiles returns every CaseFile whose tenant and own
// flags permit scraping (spec §4.1 scheduler tick candidate set).
func (p *Postgres) ListEligibleCaseFiles(ctx context.Context) ([]domain.CaseFile, error) {
	var rows []caseFileRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT cf.id, cf.tenant_id, cf.external_case_number, cf.party_name, cf.scrape_enabled,
		       cf.scan_valid, cf.archived, cf.created_at, cf.last_scraped_at, cf.has_pending_changes
		FROM case_files cf
		JOIN tenants t ON t.id = cf.tenant_id
		WHERE t.scrape_enabled AND cf.scrape_enabled AND cf.scan_valid AND NOT cf.archived`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "list eligible case files")
	}
	out := make([]domain.CaseFile, len(rows))
	for i, row := range rows {
		out[i] = caseFileFromRow(row)
	}
	return out, nil
}

func caseFileFromRow(row caseFileRow) domain.CaseFile {
	return domain.CaseFile{
		ID:                 row.ID,
		TenantID:           row.TenantID,
		ExternalCaseNumber: row.ExternalCaseNumber,
		PartyName:          row.PartyName,
		ScrapeEnabled:      row.ScrapeEnabled,
		ScanValid:          row.ScanValid,
		Archived:           row.Archived,
		CreatedAt:          row.CreatedAt,
		LastScrapedAt:      row.LastScrapedAt,
		HasPendingChanges:  row.HasPendingChanges,
	}
}

// ListEligibleCaseFilesForTenant narrows ListEligibleCaseFiles to one
// Tenant (spec §4.1 step 2).
func (p *Postgres) ListEligibleCaseFilesForTenant(ctx context.Context, tenantID int64) ([]domain.CaseFile, error) {
	var rows []caseFileRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT cf.id, cf.tenant_id, cf.external_case_number, cf.party_name, cf.scrape_enabled,
		       cf.scan_valid, cf.archived, cf.created_at, cf.last_scraped_at, cf.has_pending_changes
		FROM case_files cf
		JOIN tenants t ON t.id = cf.tenant_id
		WHERE t.id = $1 AND t.scrape_enabled AND cf.scrape_enabled AND cf.scan_valid AND NOT cf.archived`,
		tenantID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "list eligible case files for tenant").WithDetailsf("tenant %d", tenantID)
	}
	out := make([]domain.CaseFile, len(rows))
	for i, row := range rows {
		out[i] = caseFileFromRow(row)
	}
	return out, nil
}

// ListActiveMonitoringSchedules returns every enabled portal-monitoring
// schedule belonging to a scrape-enabled Tenant (spec §4.1 step 1).
func (p *Postgres) ListActiveMonitoringSchedules(ctx context.Context) ([]domain.NotificationSchedule, error) {
	var rows []struct {
		TenantID int64          `db:"tenant_id"`
		LogicKey string         `db:"logic_key"`
		Times    pq.StringArray `db:"times"`
		Enabled  bool           `db:"enabled"`
	}
	err := p.db.SelectContext(ctx, &rows, `
		SELECT ns.tenant_id, ns.logic_key, ns.times, ns.enabled
		FROM notification_schedules ns
		JOIN tenants t ON t.id = ns.tenant_id
		WHERE ns.logic_key = $1 AND ns.enabled AND t.scrape_enabled`,
		domain.PortalMonitoringLogicKey)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "list active monitoring schedules")
	}
	out := make([]domain.NotificationSchedule, len(rows))
	for i, row := range rows {
		out[i] = domain.NotificationSchedule{
			TenantID: row.TenantID,
			LogicKey: row.LogicKey,
			Times:    []string(row.Times),
			Enabled:  row.Enabled,
		}
	}
	return out, nil
}

func (p *Postgres) SetCaseFileScanInvalid(ctx context.Context, caseFileID int64) error {
	_, err := p.db.ExecContext(ctx, `UPDATE case_files SET scan_valid = false WHERE id = $1`, caseFileID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "mark case file scan invalid")
	}
	return nil
}

func (p *Postgres) GetSnapshot(ctx context.Context, caseFileID int64) (*domain.Snapshot, error) {
	var row struct {
		CaseFileID          int64           `db:"case_file_id"`
		ContentHash         string          `db:"content_hash"`
		BinnacleCount       int             `db:"binnacle_count"`
		CanonicalPayload    json.RawMessage `db:"canonical_payload"`
		LastScrapedAt       time.Time       `db:"last_scraped_at"`
		LastChangedAt       *time.Time      `db:"last_changed_at"`
		ScrapeCount         int             `db:"scrape_count"`
		ConsecutiveNoChange int             `db:"consecutive_no_change"`
		ErrorCount          int             `db:"error_count"`
		LastError           *string         `db:"last_error"`
	}
	err := p.db.GetContext(ctx, &row, `
		SELECT case_file_id, content_hash, binnacle_count, canonical_payload,
		       last_scraped_at, last_changed_at, scrape_count, consecutive_no_change,
		       error_count, last_error
		FROM snapshots WHERE case_file_id = $1`, caseFileID)
	if err == sql.ErrNoRows {
		return nil, nil // no snapshot yet: first scrape
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "get snapshot")
	}

	var payload []domain.CanonicalBinnacle
	if err := json.Unmarshal(row.CanonicalPayload, &payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal canonical payload")
	}

	return &domain.Snapshot{
		CaseFileID:          row.CaseFileID,
		ContentHash:         row.ContentHash,
		BinnacleCount:       row.BinnacleCount,
		ScrapeCount:         row.ScrapeCount,
		ConsecutiveNoChange: row.ConsecutiveNoChange,
		ErrorCount:          row.ErrorCount,
		CanonicalPayload:    payload,
		LastScrapedAt:       row.LastScrapedAt,
		LastChangedAt:       row.LastChangedAt,
		LastError:           row.LastError,
	}, nil
}

// RecordSnapshotError increments error_count and overwrites last_error
// for caseFileID's Snapshot. It touches no row when none exists yet,
// since a Snapshot's other NOT NULL columns have no value to default
// to before a first successful scrape has populated them.
func (p *Postgres) RecordSnapshotError(ctx context.Context, caseFileID int64, message string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE snapshots SET error_count = error_count + 1, last_error = $2
		WHERE case_file_id = $1`, caseFileID, message)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "record snapshot error")
	}
	return nil
}

// BatchGetSnapshots loads every Snapshot for caseFileIDs in one query
// (spec §4.1 step 3).
func (p *Postgres) BatchGetSnapshots(ctx context.Context, caseFileIDs []int64) (map[int64]domain.Snapshot, error) {
	out := make(map[int64]domain.Snapshot, len(caseFileIDs))
	if len(caseFileIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`
		SELECT case_file_id, content_hash, binnacle_count, canonical_payload,
		       last_scraped_at, last_changed_at, scrape_count, consecutive_no_change,
		       error_count, last_error
		FROM snapshots WHERE case_file_id IN (?)`, caseFileIDs)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "build batch snapshot query")
	}
	query = p.db.Rebind(query)

	var rows []struct {
		CaseFileID          int64           `db:"case_file_id"`
		ContentHash         string          `db:"content_hash"`
		BinnacleCount       int             `db:"binnacle_count"`
		CanonicalPayload    json.RawMessage `db:"canonical_payload"`
		LastScrapedAt       time.Time       `db:"last_scraped_at"`
		LastChangedAt       *time.Time      `db:"last_changed_at"`
		ScrapeCount         int             `db:"scrape_count"`
		ConsecutiveNoChange int             `db:"consecutive_no_change"`
		ErrorCount          int             `db:"error_count"`
		LastError           *string         `db:"last_error"`
	}
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "batch get snapshots")
	}

	for _, row := range rows {
		var payload []domain.CanonicalBinnacle
		if err := json.Unmarshal(row.CanonicalPayload, &payload); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal canonical payload").WithDetailsf("case file %d", row.CaseFileID)
		}
		out[row.CaseFileID] = domain.Snapshot{
			CaseFileID:          row.CaseFileID,
			ContentHash:         row.ContentHash,
			BinnacleCount:       row.BinnacleCount,
			CanonicalPayload:    payload,
			LastScrapedAt:       row.LastScrapedAt,
			LastChangedAt:       row.LastChangedAt,
			ScrapeCount:         row.ScrapeCount,
			ConsecutiveNoChange: row.ConsecutiveNoChange,
			ErrorCount:          row.ErrorCount,
			LastError:           row.LastError,
		}
	}
	return out, nil
}

// WithTx opens one *sqlx.Tx, runs fn against a postgresTx wrapping it,
// and commits iff fn returns nil — the single logical unit of work
// spec §4.6 step 10 requires.
func (p *Postgres) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "begin transaction")
	}

	if err := fn(ctx, &postgresTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "rollback after error").WithDetails(rbErr.Error())
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "commit transaction")
	}
	return nil
}

func (p *Postgres) AppendJobLogEntry(ctx context.Context, entry domain.JobLogEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO job_log_entries
			(case_file_id, tenant_id, job_kind, status, attempt, duration_ms,
			 binnacles_found, changes_detected, error_kind, error_message,
			 worker_id, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		entry.CaseFileID, entry.TenantID, entry.JobKind, entry.Status, entry.Attempt,
		entry.DurationMs, entry.BinnaclesFound, entry.ChangesDetected, entry.ErrorKind,
		entry.ErrorMessage, entry.WorkerID, entry.StartedAt, entry.CompletedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "append job log entry")
	}
	return nil
}

// postgresTx implements Tx against one open transaction.
type postgresTx struct {
	tx *sqlx.Tx
}

func (t *postgresTx) UpsertBinnacles(ctx context.Context, caseFileID int64, binnacles []domain.Binnacle) (map[int]int64, error) {
	ids := make(map[int]int64, len(binnacles))
	for _, b := range binnacles {
		var id int64
		err := t.tx.GetContext(ctx, &id, `
			INSERT INTO binnacles
				(case_file_id, index, resolution_date, entry_date, acto, sumilla,
				 user_description, notification_type, fojas, folios, provedio_date,
				 procedural_stage_ref)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (case_file_id, index) DO UPDATE SET
				resolution_date = EXCLUDED.resolution_date,
				entry_date = EXCLUDED.entry_date,
				acto = EXCLUDED.acto,
				sumilla = EXCLUDED.sumilla,
				user_description = EXCLUDED.user_description,
				notification_type = EXCLUDED.notification_type,
				fojas = EXCLUDED.fojas,
				folios = EXCLUDED.folios,
				provedio_date = EXCLUDED.provedio_date,
				procedural_stage_ref = EXCLUDED.procedural_stage_ref
			RETURNING id`,
			caseFileID, b.Index, b.ResolutionDate, b.EntryDate, b.Acto, b.Sumilla,
			b.UserDescription, b.NotificationType, b.Fojas, b.Folios, b.ProvedioDate,
			b.ProceduralStageRef)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "upsert binnacle").WithDetailsf("index %d", b.Index)
		}
		ids[b.Index] = id
	}
	return ids, nil
}

func (t *postgresTx) BulkInsertNotifications(ctx context.Context, binnacleID int64, notifications []domain.Notification) error {
	for _, n := range notifications {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO notifications
				(binnacle_id, code, addressee, delivery_method, ship_date, notified_at,
				 received_at, responded_at, expired_at, cancelled_at, returned_at, attachments)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			binnacleID, n.Code, n.Addressee, n.DeliveryMethod, n.ShipDate, n.NotifiedAt,
			n.ReceivedAt, n.RespondedAt, n.ExpiredAt, n.CancelledAt, n.ReturnedAt, n.Attachments)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "insert notification").WithDetailsf("binnacle %d", binnacleID)
		}
	}
	return nil
}

func (t *postgresTx) FileAttachmentExists(ctx context.Context, binnacleID int64, originalName string) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM file_attachments WHERE binnacle_id = $1 AND original_name = $2)`,
		binnacleID, originalName)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "check file attachment existence")
	}
	return exists, nil
}

func (t *postgresTx) InsertFileAttachment(ctx context.Context, attachment domain.FileAttachment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO file_attachments (binnacle_id, original_name, size, object_store_key)
		VALUES ($1,$2,$3,$4)`,
		attachment.BinnacleID, attachment.OriginalName, attachment.Size, attachment.ObjectStoreKey)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "insert file attachment")
	}
	return nil
}

func (t *postgresTx) UpsertSnapshot(ctx context.Context, s domain.Snapshot) error {
	payload, err := json.Marshal(s.CanonicalPayload)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal canonical payload")
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO snapshots
			(case_file_id, content_hash, binnacle_count, canonical_payload,
			 last_scraped_at, last_changed_at, scrape_count, consecutive_no_change,
			 error_count, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (case_file_id) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			binnacle_count = EXCLUDED.binnacle_count,
			canonical_payload = EXCLUDED.canonical_payload,
			last_scraped_at = EXCLUDED.last_scraped_at,
			last_changed_at = EXCLUDED.last_changed_at,
			scrape_count = EXCLUDED.scrape_count,
			consecutive_no_change = EXCLUDED.consecutive_no_change,
			error_count = EXCLUDED.error_count,
			last_error = EXCLUDED.last_error`,
		s.CaseFileID, s.ContentHash, s.BinnacleCount, payload, s.LastScrapedAt,
		s.LastChangedAt, s.ScrapeCount, s.ConsecutiveNoChange, s.ErrorCount, s.LastError)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "upsert snapshot")
	}
	return nil
}

func (t *postgresTx) BulkInsertChangeLogEntries(ctx context.Context, entries []domain.ChangeLogEntry) error {
	for _, e := range entries {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO change_log_entries
				(case_file_id, tenant_id, change_type, field_name, old_value, new_value, detected_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			e.CaseFileID, e.TenantID, e.ChangeType, e.FieldName, e.OldValue, e.NewValue, e.DetectedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "insert change log entry")
		}
	}
	return nil
}

func (t *postgresTx) UpdateCaseFileAfterScrape(ctx context.Context, caseFileID int64, hasChanges bool) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE case_files
		SET last_scraped_at = now(), has_pending_changes = $2, was_scanned = true
		WHERE id = $1`, caseFileID, hasChanges)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeRepositoryFailure, "update case file after scrape")
	}
	return nil
}
