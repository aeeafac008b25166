package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/aaron-0406/lolo-cej-scraping/internal/errors"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/domain"
)

func newMockRepo(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(sqlx.NewDb(db, "pgx")), mock
}

func TestGetTenant_Found(t *testing.T) {
	repo, mock := newMockRepo(t)
	rows := sqlmock.NewRows([]string{"id", "scrape_enabled"}).AddRow(int64(7), true)
	mock.ExpectQuery(`SELECT id, scrape_enabled FROM tenants WHERE id = \$1`).
		WithArgs(int64(7)).WillReturnRows(rows)

	tenant, err := repo.GetTenant(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetTenant: %v", err)
	}
	if tenant.ID != 7 || !tenant.ScrapeEnabled {
		t.Errorf("unexpected tenant: %+v", tenant)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetTenant_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT id, scrape_enabled FROM tenants WHERE id = \$1`).
		WithArgs(int64(99)).WillReturnError(sqlmock.ErrCancelled)

	_, err := repo.GetTenant(context.Background(), 99)
	if err == nil {
		t.Fatal("expected an error for a query failure")
	}
}

func TestGetSnapshot_NoneYet(t *testing.T) {
	repo, mock := newMockRepo(t)
	columns := []string{
		"case_file_id", "content_hash", "binnacle_count", "canonical_payload",
		"last_scraped_at", "last_changed_at", "scrape_count", "consecutive_no_change",
		"error_count", "last_error",
	}
	mock.ExpectQuery(`FROM snapshots WHERE case_file_id = \$1`).
		WithArgs(int64(5)).WillReturnRows(sqlmock.NewRows(columns))

	snap, err := repo.GetSnapshot(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap != nil {
		t.Errorf("expected nil snapshot for a first scrape, got %+v", snap)
	}
}

func TestRecordSnapshotError_UpdatesExistingSnapshot(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`UPDATE snapshots SET error_count = error_count \+ 1, last_error = \$2 WHERE case_file_id = \$1`).
		WithArgs(int64(9), "portal unreachable").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RecordSnapshotError(context.Background(), 9, "portal unreachable"); err != nil {
		t.Fatalf("RecordSnapshotError: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestBatchGetSnapshots_KeyedByCaseFileID(t *testing.T) {
	repo, mock := newMockRepo(t)
	columns := []string{
		"case_file_id", "content_hash", "binnacle_count", "canonical_payload",
		"last_scraped_at", "last_changed_at", "scrape_count", "consecutive_no_change",
		"error_count", "last_error",
	}
	rows := sqlmock.NewRows(columns).
		AddRow(int64(1), "hash1", 2, []byte(`[]`), time.Now(), nil, 1, 0, 0, nil).
		AddRow(int64(2), "hash2", 3, []byte(`[]`), time.Now(), nil, 2, 1, 0, nil)
	mock.ExpectQuery(`FROM snapshots WHERE case_file_id IN`).
		WithArgs(int64(1), int64(2)).WillReturnRows(rows)

	result, err := repo.BatchGetSnapshots(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("BatchGetSnapshots: %v", err)
	}
	if len(result) != 2 || result[1].ContentHash != "hash1" || result[2].ContentHash != "hash2" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestBatchGetSnapshots_EmptyInputSkipsQuery(t *testing.T) {
	repo, mock := newMockRepo(t)
	result, err := repo.BatchGetSnapshots(context.Background(), nil)
	if err != nil {
		t.Fatalf("BatchGetSnapshots: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("expected an empty map, got %+v", result)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListActiveMonitoringSchedules(t *testing.T) {
	repo, mock := newMockRepo(t)
	rows := sqlmock.NewRows([]string{"tenant_id", "logic_key", "times", "enabled"}).
		AddRow(int64(7), "portal-monitoring", "{08:00,18:00}", true)
	mock.ExpectQuery(`FROM notification_schedules`).
		WithArgs("portal-monitoring").WillReturnRows(rows)

	schedules, err := repo.ListActiveMonitoringSchedules(context.Background())
	if err != nil {
		t.Fatalf("ListActiveMonitoringSchedules: %v", err)
	}
	if len(schedules) != 1 || schedules[0].TenantID != 7 || len(schedules[0].Times) != 2 {
		t.Errorf("unexpected schedules: %+v", schedules)
	}
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	innerErr := apperrors.New(apperrors.ErrorTypeValidationFailed, "bad payload")
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return innerErr
	})
	if !errors.Is(err, innerErr) {
		t.Errorf("expected the inner error to propagate, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresTx_UpsertBinnacles(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO binnacles`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(101)))
	mock.ExpectCommit()

	var ids map[int]int64
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		var err error
		ids, err = tx.UpsertBinnacles(ctx, 1, []domain.Binnacle{{Index: 1, Acto: strPtr("resuelve")}})
		return err
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if ids[1] != 101 {
		t.Errorf("expected index 1 -> id 101, got %v", ids)
	}
}

func TestPostgresTx_UpsertSnapshot(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO snapshots`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.UpsertSnapshot(ctx, domain.Snapshot{
			CaseFileID:    1,
			ContentHash:   "abc123",
			BinnacleCount: 2,
			LastScrapedAt: time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		})
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}

func strPtr(s string) *string { return &s }
