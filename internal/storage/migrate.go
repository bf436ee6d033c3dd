package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirty is returned when a database was left mid-migration.
var ErrDirty = errors.New("database schema is dirty")

// Migrator binds a golang-migrate instance to a single database file.
// It owns its connection and must not be shared between goroutines.
type Migrator struct {
	path string
	db   *sql.DB
	m    *migrate.Migrate
}

// OpenMigrator opens a private migration connection to dbPath.
func OpenMigrator(dbPath string) (*Migrator, error) {
	// Create a separate connection for migrations to avoid interfering with any other handle
	migrateDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open migration database: %w", err)
	}

	driver, err := sqlite.WithInstance(migrateDB, &sqlite.Config{})
	if err != nil {
		migrateDB.Close()
		return nil, fmt.Errorf("create sqlite driver: %w", err)
	}

	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		migrateDB.Close()
		return nil, fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		migrateDB.Close()
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	return &Migrator{path: dbPath, db: migrateDB, m: m}, nil
}

// Version returns the applied schema version, 0 when no migration ran yet.
func (mg *Migrator) Version() (uint, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return v, fmt.Errorf("%w at version %d: %s", ErrDirty, v, mg.path)
	}
	return v, nil
}

// Up applies every pending migration.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// MigrateTo moves the schema to exactly version.
func (mg *Migrator) MigrateTo(version uint) error {
	if err := mg.m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate to %d: %w", version, err)
	}
	return nil
}

func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	// The sqlite driver closes the handle already; closing twice is harmless.
	mg.db.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

// HeadVersion returns the latest version in the embedded migration chain.
func HeadVersion() (uint, error) {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("create iofs source: %w", err)
	}
	defer d.Close()

	v, err := d.First()
	if err != nil {
		return 0, fmt.Errorf("first migration: %w", err)
	}
	for {
		next, err := d.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("next migration after %d: %w", v, err)
		}
		v = next
	}
}

// MigrateToHead brings dbPath to the head revision. The current version is
// checked first, so a database already at head is left untouched and
// migrated is false.
func MigrateToHead(dbPath string) (migrated bool, err error) {
	head, err := HeadVersion()
	if err != nil {
		return false, err
	}

	mg, err := OpenMigrator(dbPath)
	if err != nil {
		return false, err
	}
	defer func() {
		if cerr := mg.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close migrator: %w", cerr)
		}
	}()

	current, err := mg.Version()
	if err != nil {
		return false, err
	}
	if current == head {
		return false, nil
	}
	if current > head {
		return false, fmt.Errorf("schema version %d of %s is newer than head %d", current, dbPath, head)
	}

	if err := mg.Up(); err != nil {
		return false, err
	}
	return true, nil
}
