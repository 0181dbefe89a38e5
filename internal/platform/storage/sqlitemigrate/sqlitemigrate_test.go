package sqlitemigrate

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func count(t *testing.T, db *sql.DB, query string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(query).Scan(&n))
	return n
}

func TestApplyRecordsMigrations(t *testing.T) {
	db := openInMemoryDB(t)
	fsys := fstest.MapFS{
		"002_second.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE second(id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE second;")},
		"001_first.sql":  {Data: []byte("CREATE TABLE first(id TEXT PRIMARY KEY);")},
		"notes.txt":      {Data: []byte("ignored")},
	}
	require.NoError(t, Apply(context.Background(), db, fsys, ""))

	assert.Equal(t, 2, count(t, db, "SELECT COUNT(*) FROM schema_migrations"))
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='first'"))
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='second'"))

	require.NoError(t, Apply(context.Background(), db, fsys, ""), "re-applying is a no-op")
	assert.Equal(t, 2, count(t, db, "SELECT COUNT(*) FROM schema_migrations"))
}

func TestApplyDoesNotRecordFailedMigration(t *testing.T) {
	db := openInMemoryDB(t)
	bad := fstest.MapFS{"001.sql": {Data: []byte("CREAT TABLE broken(id INT);")}}
	require.Error(t, Apply(context.Background(), db, bad, ""))
	assert.Equal(t, 0, count(t, db, "SELECT COUNT(*) FROM schema_migrations"))

	good := fstest.MapFS{"001.sql": {Data: []byte("CREATE TABLE fixed(id INT);")}}
	require.NoError(t, Apply(context.Background(), db, good, ""))
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM schema_migrations"))
}

func TestApplyKeysByRoot(t *testing.T) {
	db := openInMemoryDB(t)
	fsys := fstest.MapFS{"draws/001.sql": {Data: []byte("CREATE TABLE draws(id TEXT);")}}
	require.NoError(t, Apply(context.Background(), db, fsys, "draws"))

	var name string
	require.NoError(t, db.QueryRow("SELECT name FROM schema_migrations").Scan(&name))
	assert.Equal(t, "draws/001.sql", name)
}

func TestApplyCanceled(t *testing.T) {
	db := openInMemoryDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, Apply(ctx, db, fstest.MapFS{"001.sql": {Data: []byte("CREATE TABLE t(id INT);")}}, ""))
}

func TestExtractUp(t *testing.T) {
	assert.Equal(t, "\nA\n", ExtractUp("-- +migrate Up\nA\n-- +migrate Down\nB"))
	assert.Equal(t, "\nA", ExtractUp("-- +migrate Up\nA"))
	assert.Equal(t, "plain", ExtractUp("plain"))
}

func TestApplyRequiresDB(t *testing.T) {
	require.Error(t, Apply(context.Background(), nil, fstest.MapFS{}, ""))
}
