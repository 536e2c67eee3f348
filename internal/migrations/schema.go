package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// sqlFS contains the embedded SQL migration files.
//
//go:embed sql/*.sql
var sqlFS embed.FS

// Status describes the schema version recorded in the database.
type Status struct {
	Version uint
	Dirty   bool
	Fresh   bool
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrations: create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(sqlFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrations: init migrate instance: %w", err)
	}
	return m, nil
}

// Up applies all pending database migrations. When the schema is already up
// to date it is a no-op.
func Up(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	current, err := readStatus(m)
	if err != nil {
		log.Printf("migrations: unable to determine current version: %v", err)
	} else if current.Fresh {
		log.Printf("migrations: no existing migration version (fresh database)")
	} else {
		log.Printf("migrations: current database schema version: %d", current.Version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Printf("migrations: database is up to date (version %d)", current.Version)
			return nil
		}
		return fmt.Errorf("migrations: apply: %w", err)
	}

	if v, _, err := m.Version(); err == nil {
		log.Printf("migrations: applied migrations; new schema version: %d", v)
	}
	return nil
}

// GetStatus reports the recorded schema version.
func GetStatus(db *sql.DB) (Status, error) {
	m, err := newMigrate(db)
	if err != nil {
		return Status{}, err
	}
	return readStatus(m)
}

// FixDirtyDatabase clears the dirty flag left by a failed migration by
// forcing the previous clean version. The failed migration is rerun on the
// next Up.
func FixDirtyDatabase(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	status, err := readStatus(m)
	if err != nil {
		return err
	}
	if !status.Dirty {
		log.Printf("migrations: database is clean at version %d; nothing to fix", status.Version)
		return nil
	}

	target := int(status.Version) - 1
	if target < 1 {
		target = -1 // NilVersion
	}
	log.Printf("migrations: database dirty at version %d; forcing version %d", status.Version, target)
	if err := m.Force(target); err != nil {
		return fmt.Errorf("migrations: force %d: %w", target, err)
	}
	return nil
}

// ForceVersion sets the recorded version without running any migration.
func ForceVersion(db *sql.DB, version uint) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Force(int(version)); err != nil {
		return fmt.Errorf("migrations: force %d: %w", version, err)
	}
	return nil
}

func readStatus(m *migrate.Migrate) (Status, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{Fresh: true}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("migrations: read version: %w", err)
	}
	return Status{Version: v, Dirty: dirty}, nil
}
