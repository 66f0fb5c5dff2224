package store

import (
	"embed"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrationsTable keeps this service's schema history apart from other services sharing the database.
const migrationsTable = "donation_schema_migrations"

// NewMigrator builds a migrate instance over the embedded migrations.
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, MigrationDatabaseURL(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("create migration instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies every pending up migration.
func RunMigrations(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	log.Printf("level=info component=migrate msg=\"database migrations applied\" version=%d dirty=%t", version, dirty)
	return nil
}

// MigrationDatabaseURL rewrites a postgres URL for the pgx/v5 migrate driver and pins
// the service's own migrations table.
func MigrationDatabaseURL(databaseURL string) string {
	url := strings.TrimSpace(databaseURL)
	switch {
	case strings.HasPrefix(url, "postgres://"):
		url = "pgx5://" + strings.TrimPrefix(url, "postgres://")
	case strings.HasPrefix(url, "postgresql://"):
		url = "pgx5://" + strings.TrimPrefix(url, "postgresql://")
	}
	if strings.Contains(url, "x-migrations-table=") {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&x-migrations-table=" + migrationsTable
	}
	return url + "?x-migrations-table=" + migrationsTable
}

func closeMigrator(m *migrate.Migrate) {
	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		log.Printf("level=warn component=migrate msg=\"failed to close migration source\" err=%v", sourceErr)
	}
	if dbErr != nil {
		log.Printf("level=warn component=migrate msg=\"failed to close migration database\" err=%v", dbErr)
	}
}
