package main

import (
	"context"
	"database/sql"
	"fmt"

	"formflow/internal/config"
	"formflow/internal/db"
	"formflow/internal/db/sqlite"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationDB(cmd.Context(), *configPath, func(ctx context.Context, sqlDB *sql.DB, dialect string) error {
				if err := db.Migrate(ctx, sqlDB, dialect); err != nil {
					return err
				}
				fmt.Println("Migrations applied")
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationDB(cmd.Context(), *configPath, db.MigrationStatus)
		},
	})
	return cmd
}

func withMigrationDB(ctx context.Context, configPath string, fn func(context.Context, *sql.DB, string) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var driver, dsn, dialect string
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		driver, dsn, dialect = "pgx", cfg.Store.DatabaseURL, "postgres"
	case config.DriverSQLite:
		driver, dsn, dialect = sqlite.DriverName, sqlite.DSN(cfg.Store.SQLitePath), "sqlite3"
	default:
		return fmt.Errorf("the %s driver has no migrations", cfg.Store.Driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer sqlDB.Close()

	return fn(ctx, sqlDB, dialect)
}
