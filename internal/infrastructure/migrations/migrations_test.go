package migrations

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/require"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:")
	require.NoError(t, err)
	// A memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

// === RunMigrations ===

func TestRunMigrations_FreshDB(t *testing.T) {
	db := openMemory(t)

	require.NoError(t, RunMigrations(db))
	require.True(t, tableExists(t, db, "sessions"))

	v, dirty, err := SchemaVersion(db)
	require.NoError(t, err)
	require.Equal(t, uint(1), v)
	require.False(t, dirty)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := openMemory(t)

	require.NoError(t, RunMigrations(db))
	require.NoError(t, RunMigrations(db), "an up-to-date schema is not an error")
	require.True(t, tableExists(t, db, "sessions"))
}

func TestSchemaVersion_EmptyDB(t *testing.T) {
	db := openMemory(t)

	v, dirty, err := SchemaVersion(db)
	require.NoError(t, err)
	require.Zero(t, v)
	require.False(t, dirty)
}

func TestMigrations_Schema(t *testing.T) {
	db := openMemory(t)
	require.NoError(t, RunMigrations(db))

	rows, err := db.Query(`PRAGMA table_info(sessions)`)
	require.NoError(t, err)
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid          int
			name, typ    string
			notnull, pk  int
			defaultValue any
		)
		require.NoError(t, rows.Scan(&cid, &name, &typ, &notnull, &defaultValue, &pk))
		columns[name] = true
	}
	require.NoError(t, rows.Err())

	for _, col := range []string{
		"id", "project", "status", "execution_model", "iteration",
		"lifetime_tokens", "commits", "last_error", "snapshot",
		"created_at", "updated_at", "deleted_at",
	} {
		require.True(t, columns[col], "column %s should exist", col)
	}

	idxRows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='index' AND tbl_name='sessions'`)
	require.NoError(t, err)
	defer idxRows.Close()
	indexes := make(map[string]bool)
	for idxRows.Next() {
		var name string
		require.NoError(t, idxRows.Scan(&name))
		indexes[name] = true
	}
	require.NoError(t, idxRows.Err())
	for _, idx := range []string{"idx_sessions_project", "idx_sessions_deleted_at", "idx_sessions_project_status"} {
		require.True(t, indexes[idx], "index %s should exist", idx)
	}
}

func TestMigrations_StatusCheckConstraint(t *testing.T) {
	db := openMemory(t)
	require.NoError(t, RunMigrations(db))

	insert := `INSERT INTO sessions (id, project, status, execution_model, snapshot, created_at, updated_at)
		VALUES (?, '/p', ?, 'm', '{}', 1, 1)`
	_, err := db.Exec(insert, "s1", "running")
	require.NoError(t, err)

	_, err = db.Exec(insert, "s2", "exploded")
	require.Error(t, err, "CHECK constraint should reject unknown statuses")
}

func TestMigrations_Down(t *testing.T) {
	db := openMemory(t)

	m, err := New(db)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.True(t, tableExists(t, db, "sessions"))

	require.NoError(t, m.Down())
	require.False(t, tableExists(t, db, "sessions"))

	var indexCount int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND tbl_name='sessions'`).Scan(&indexCount)
	require.NoError(t, err)
	require.Zero(t, indexCount)
}

func TestMigrationsFS_Embedded(t *testing.T) {
	entries, err := embeddedMigrationsFS.ReadDir(".")
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name()] = true
	}
	require.True(t, names["000001_create_sessions.up.sql"])
	require.True(t, names["000001_create_sessions.down.sql"])

	up, err := embeddedMigrationsFS.ReadFile("000001_create_sessions.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(up), "CREATE TABLE sessions")
}

// === Driver ===

func TestWithInstance_NilConfig(t *testing.T) {
	_, err := WithInstance(openMemory(t), nil)
	require.ErrorIs(t, err, ErrNilConfig)
}

func TestDriver_LockIsExclusive(t *testing.T) {
	d, err := WithInstance(openMemory(t), &Config{})
	require.NoError(t, err)

	require.NoError(t, d.Lock())
	require.Error(t, d.Lock())
	require.NoError(t, d.Unlock())
	require.Error(t, d.Unlock())
}

func TestDriver_SetVersion(t *testing.T) {
	d, err := WithInstance(openMemory(t), &Config{MigrationsTable: "custom_versions"})
	require.NoError(t, err)

	v, dirty, err := d.Version()
	require.NoError(t, err)
	require.Equal(t, -1, v)
	require.False(t, dirty)

	require.NoError(t, d.SetVersion(3, true))
	v, dirty, err = d.Version()
	require.NoError(t, err)
	require.Equal(t, 3, v)
	require.True(t, dirty)

	require.NoError(t, d.SetVersion(-1, false))
	v, _, err = d.Version()
	require.NoError(t, err)
	require.Equal(t, -1, v)
}

func TestMigrate_SecondRunReportsNoChange(t *testing.T) {
	db := openMemory(t)

	m1, err := New(db)
	require.NoError(t, err)
	require.NoError(t, m1.Up())

	m2, err := New(db)
	require.NoError(t, err)
	err = m2.Up()
	require.True(t, errors.Is(err, migrate.ErrNoChange), "got %v", err)
}
