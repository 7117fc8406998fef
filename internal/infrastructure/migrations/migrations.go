// Package migrations owns the session history schema and applies it with
// golang-migrate.
//
// golang-migrate's own sqlite3 driver links mattn/go-sqlite3, which registers
// the same "sqlite3" driver name as ncruces/go-sqlite3. The driver in this
// package works on any *sql.DB opened through ncruces instead.
//
//	db, _ := sql.Open("sqlite3", "file:"+path)
//	err := migrations.RunMigrations(db)
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var embeddedMigrationsFS embed.FS

// MigrationsFS returns the embedded migration files.
func MigrationsFS() fs.FS {
	return embeddedMigrationsFS
}

// New builds a migrator over db using the embedded files.
func New(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(embeddedMigrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := WithInstance(db, &Config{})
	if err != nil {
		return nil, fmt.Errorf("creating migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", source, "sqlite3", driver)
}

// RunMigrations applies every pending migration. An up-to-date schema is
// not an error.
func RunMigrations(db *sql.DB) error {
	m, err := New(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// SchemaVersion reports the applied version, or 0 for an empty database.
func SchemaVersion(db *sql.DB) (uint, bool, error) {
	m, err := New(db)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}
