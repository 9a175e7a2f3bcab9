package db

import (
	"context"
	"database/sql"
	"fmt"

	"formflow/migrations"

	"github.com/pressly/goose/v3"
)

// Migrate applies the embedded migrations for dialect ("postgres" or "sqlite3")
func Migrate(ctx context.Context, sqlDB *sql.DB, dialect string) error {
	dir := "postgres"
	if dialect == "sqlite3" || dialect == "sqlite" {
		dialect, dir = "sqlite3", "sqlite"
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrationStatus logs the applied state of every migration
func MigrationStatus(ctx context.Context, sqlDB *sql.DB, dialect string) error {
	dir := "postgres"
	if dialect == "sqlite3" || dialect == "sqlite" {
		dialect, dir = "sqlite3", "sqlite"
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return goose.StatusContext(ctx, sqlDB, dir)
}
