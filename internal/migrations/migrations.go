package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var MigrationFiles embed.FS

// RunMigrations brings the PostgreSQL event store schema up to date.
// With autoMigrate=false the current version is only reported.
func RunMigrations(db *sql.DB, autoMigrate bool) error {
	sourceDriver, err := iofs.New(MigrationFiles, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	if dirty {
		if err := recoverDirty(m, version); err != nil {
			return err
		}
	}

	if !autoMigrate {
		slog.Info("[Migrations] Auto-migration disabled, skipping",
			"current_version", version,
			"dirty", dirty,
		)
		return nil
	}

	slog.Info("[Migrations] Running database migrations", "current_version", version)

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("[Migrations] Database schema is up to date", "version", version)
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	newVersion, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to get updated migration version: %w", err)
	}

	slog.Info("[Migrations] Database migrations completed",
		"from_version", version,
		"to_version", newVersion,
	)
	return nil
}

// recoverDirty rolls the recorded version back to the one before the
// interrupted migration so Up re-applies it. Every up script is written with
// IF NOT EXISTS, so re-running a partially applied one is safe.
func recoverDirty(m *migrate.Migrate, version uint) error {
	target := int(version) - 1
	if target < 1 {
		target = -1 // no migration applied
	}

	slog.Warn("[Migrations] Database is in dirty state - migration was interrupted",
		"version", version,
		"force_to", target,
	)

	if err := m.Force(target); err != nil {
		return fmt.Errorf("failed to recover dirty migration state at version %d: %w", version, err)
	}
	slog.Info("[Migrations] Recovered dirty migration state", "version", target)
	return nil
}
