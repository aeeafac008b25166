package database

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every pending migration under migrations/ to db's
// three service-owned tables (snapshots, change_log_entries,
// job_log_entries). It is the only schema this service ever mutates;
// Tenant/CaseFile/Binnacle/Notification/FileAttachment are owned and
// migrated by the sibling notification-consumer service (spec §6).
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
