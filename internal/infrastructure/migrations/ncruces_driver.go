package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/golang-migrate/migrate/v4/database"
)

// DefaultMigrationsTable records the applied schema version.
const DefaultMigrationsTable = "schema_migrations"

// ErrNilConfig is returned by WithInstance without a Config.
var ErrNilConfig = errors.New("no config")

// Config tunes the migration driver.
type Config struct {
	MigrationsTable string
	// NoTxWrap runs each migration outside a transaction.
	NoTxWrap bool
}

// Driver implements database.Driver over an ncruces-backed *sql.DB.
type Driver struct {
	db     *sql.DB
	locked atomic.Bool
	config Config
}

var _ database.Driver = (*Driver)(nil)

// WithInstance wraps an open connection and creates the version table.
func WithInstance(db *sql.DB, config *Config) (database.Driver, error) {
	if config == nil {
		return nil, ErrNilConfig
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	d := &Driver{db: db, config: *config}
	if d.config.MigrationsTable == "" {
		d.config.MigrationsTable = DefaultMigrationsTable
	}

	if err := d.Lock(); err != nil {
		return nil, err
	}
	defer func() { _ = d.Unlock() }()

	table := d.config.MigrationsTable
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (version uint64, dirty bool);
CREATE UNIQUE INDEX IF NOT EXISTS version_unique ON %s (version);`, table, table)
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("creating %s: %w", table, err)
	}
	return d, nil
}

// Open is unsupported; connections come from WithInstance.
func (d *Driver) Open(string) (database.Driver, error) {
	return nil, errors.New("open is not supported, use WithInstance")
}

// Close closes the wrapped connection.
func (d *Driver) Close() error { return d.db.Close() }

// Lock takes the in-process migration lock.
func (d *Driver) Lock() error {
	if !d.locked.CompareAndSwap(false, true) {
		return database.ErrLocked
	}
	return nil
}

// Unlock releases the in-process migration lock.
func (d *Driver) Unlock() error {
	if !d.locked.CompareAndSwap(true, false) {
		return database.ErrNotLocked
	}
	return nil
}

// Run executes one migration file.
func (d *Driver) Run(migration io.Reader) error {
	body, err := io.ReadAll(migration)
	if err != nil {
		return err
	}
	query := string(body)
	if d.config.NoTxWrap {
		if _, err := d.db.Exec(query); err != nil {
			return &database.Error{OrigErr: err, Query: body}
		}
		return nil
	}
	return d.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(query); err != nil {
			return &database.Error{OrigErr: err, Query: body}
		}
		return nil
	})
}

// SetVersion replaces the recorded version.
func (d *Driver) SetVersion(version int, dirty bool) error {
	table := d.config.MigrationsTable
	return d.inTx(func(tx *sql.Tx) error {
		del := "DELETE FROM " + table //nolint:gosec // table name comes from Config
		if _, err := tx.Exec(del); err != nil {
			return &database.Error{OrigErr: err, Query: []byte(del)}
		}
		// A nil version is still written when dirty so a failed first down
		// migration is visible.
		if version < 0 && !(version == database.NilVersion && dirty) {
			return nil
		}
		ins := "INSERT INTO " + table + " (version, dirty) VALUES (?, ?)" //nolint:gosec // table name comes from Config
		if _, err := tx.Exec(ins, version, dirty); err != nil {
			return &database.Error{OrigErr: err, Query: []byte(ins)}
		}
		return nil
	})
}

// Version returns the recorded version, or NilVersion.
func (d *Driver) Version() (int, bool, error) {
	var (
		version int
		dirty   bool
	)
	q := "SELECT version, dirty FROM " + d.config.MigrationsTable + " LIMIT 1" //nolint:gosec // table name comes from Config
	switch err := d.db.QueryRow(q).Scan(&version, &dirty); {
	case errors.Is(err, sql.ErrNoRows):
		return database.NilVersion, false, nil
	case err != nil:
		return 0, false, &database.Error{OrigErr: err, Query: []byte(q)}
	}
	return version, dirty, nil
}

// Drop removes every table.
func (d *Driver) Drop() error {
	names, err := d.tables()
	if err != nil {
		return err
	}
	for _, name := range names {
		stmt := "DROP TABLE " + name
		if err := d.inTx(func(tx *sql.Tx) error {
			_, err := tx.Exec(stmt)
			return err
		}); err != nil {
			return &database.Error{OrigErr: err, Query: []byte(stmt)}
		}
	}
	if len(names) > 0 {
		if _, err := d.db.Exec("VACUUM"); err != nil {
			return &database.Error{OrigErr: err, Query: []byte("VACUUM")}
		}
	}
	return nil
}

func (d *Driver) tables() (names []string, err error) {
	const q = `SELECT name FROM sqlite_master WHERE type = 'table'`
	rows, err := d.db.Query(q)
	if err != nil {
		return nil, &database.Error{OrigErr: err, Query: []byte(q)}
	}
	defer func() { err = errors.Join(err, rows.Close()) }()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}

func (d *Driver) inTx(fn func(*sql.Tx) error) error {
	tx, err := d.db.Begin()
	if err != nil {
		return &database.Error{OrigErr: err, Err: "transaction start failed"}
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return &database.Error{OrigErr: err, Err: "transaction commit failed"}
	}
	return nil
}
