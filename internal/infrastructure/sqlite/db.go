// Package sqlite stores session history in a local SQLite database through
// the CGO-free ncruces driver.
package sqlite

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zjrosen/ralph/internal/infrastructure/migrations"
	"github.com/zjrosen/ralph/internal/log"
	"github.com/zjrosen/ralph/internal/sessions/domain"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// pragmas are applied to every new database handle.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// DB owns the history database connection.
type DB struct {
	conn *sql.DB
	path string
}

// NewDB opens (creating if needed) the database at path and migrates it.
// An existing file is copied to path+".bak" first.
func NewDB(path string) (*DB, error) {
	log.Debug(log.CatDB, "opening database", "path", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	if _, err := os.Stat(path); err == nil {
		backup := path + ".bak"
		if err := copyFile(path, backup); err != nil {
			return nil, fmt.Errorf("backing up database before migration: %w", err)
		}
		log.Debug(log.CatDB, "pre-migration backup written", "backup", backup)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db, err := newDB(conn, path)
	if err != nil {
		_ = conn.Close()
		log.ErrorErr(log.CatDB, "database init failed", err, "path", path)
		return nil, err
	}
	log.Info(log.CatDB, "database ready", "path", path)
	return db, nil
}

// NewMemoryDB opens a private in-memory database, used by tests and by
// `serve` when persistence is disabled.
func NewMemoryDB() (*DB, error) {
	conn, err := sql.Open("sqlite3", "file::memory:")
	if err != nil {
		return nil, fmt.Errorf("opening memory database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	conn.SetMaxOpenConns(1)
	db, err := newDB(conn, ":memory:")
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

func newDB(conn *sql.DB, path string) (*DB, error) {
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}
	if err := migrations.RunMigrations(conn); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &DB{conn: conn, path: path}, nil
}

// Close releases the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	log.Debug(log.CatDB, "closing database", "path", db.path)
	return db.conn.Close()
}

// Path is the database file, or ":memory:".
func (db *DB) Path() string { return db.path }

// SessionRepository returns the session history repository.
func (db *DB) SessionRepository() domain.SessionRepository {
	return newSessionRepository(db.conn)
}

// Connection exposes the handle for tests.
func (db *DB) Connection() *sql.DB {
	return db.conn
}

func copyFile(src, dst string) (retErr error) {
	in, err := os.Open(src) //nolint:gosec // G304: src is the configured database path
	if err != nil {
		return err
	}
	defer func() {
		if err := in.Close(); err != nil && retErr == nil {
			retErr = err
		}
	}()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, info.Mode()) //nolint:gosec // G304: dst derives from the database path
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("closing backup: %w", err)
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
