package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, opts ...Option) (*SQLite, string) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "desk.db")
	s, err := OpenSQLite(context.Background(), dsn, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dsn
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestOpenSQLite_RunsMigrations(t *testing.T) {
	s, _ := openTemp(t)

	assert.True(t, tableExists(t, s.db, "metadata"))
	assert.True(t, tableExists(t, s.db, "metadata_changes"))
	assert.True(t, tableExists(t, s.db, "goose_db_version"))
}

func TestRunMigrations_IsIdempotent(t *testing.T) {
	s, _ := openTemp(t)
	require.NoError(t, RunMigrations(context.Background(), s.db))
}

func TestSQLite_SetGetDelete(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "at")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "at", "old"))
	require.NoError(t, s.Set(ctx, "at", "new"))

	v, ok, err := s.Get(ctx, "at")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", v)

	require.NoError(t, s.Delete(ctx, "at"))
	require.NoError(t, s.Delete(ctx, "at"), "delete must be idempotent")

	_, ok, err = s.Get(ctx, "at")
	require.NoError(t, err)
	require.False(t, ok)

	var changes int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM metadata_changes WHERE key = 'at'`).Scan(&changes))
	assert.Equal(t, 3, changes, "two sets and one effective delete")
}

func TestSQLite_WatchSeesOtherHandleOnSameFile(t *testing.T) {
	writer, dsn := openTemp(t, WithOrigin("writer"))
	reader, err := OpenSQLite(context.Background(), dsn, WithOrigin("reader"), WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, writer.Set(ctx, "at", "before-watch"))

	ch, err := reader.Watch(ctx, "at")
	require.NoError(t, err)

	require.NoError(t, reader.Set(ctx, "at", "own-write"))
	require.NoError(t, writer.Set(ctx, "at", "v2"))
	require.NoError(t, writer.Delete(ctx, "at"))

	c := recv(t, ch)
	assert.Equal(t, Change{Key: "at", Value: "v2", Origin: "writer"}, c)
	c = recv(t, ch)
	assert.Equal(t, Change{Key: "at", Deleted: true, Origin: "writer"}, c)
}

func TestSQLite_WatchClosesOnCancel(t *testing.T) {
	s, _ := openTemp(t, WithPollInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := s.Watch(ctx, "at")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel not closed")
	}
}

func TestSQLite_ErrorsAreWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLite(db, WithOrigin("o"))
	ctx := context.Background()

	mock.ExpectQuery(`SELECT value FROM metadata`).WillReturnError(errors.New("io"))
	_, _, err = s.Get(ctx, "k")
	require.ErrorContains(t, err, "failed to get metadata[k]")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO metadata`).WillReturnError(errors.New("io"))
	mock.ExpectRollback()
	err = s.Set(ctx, "k", "v")
	require.ErrorContains(t, err, "failed to set metadata[k]")

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM metadata`).WillReturnError(errors.New("io"))
	mock.ExpectRollback()
	err = s.Delete(ctx, "k")
	require.ErrorContains(t, err, "failed to delete metadata[k]")

	mock.ExpectQuery(`SELECT COALESCE`).WillReturnError(errors.New("io"))
	_, err = s.Watch(ctx, "k")
	require.ErrorContains(t, err, "failed to read change cursor")

	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, s.Close(), "borrowed db is not closed")
}

func TestSQLite_SetRecordsChangeInSameTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLite(db, WithOrigin("o"))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO metadata \(key, value\)`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO metadata_changes`).
		WithArgs("k", []byte("v"), false, "o").
		WillReturnResult(sqlmock.NewResult(1005, 1))
	mock.ExpectExec(`DELETE FROM metadata_changes WHERE id <= \?`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))

	err = s.Set(context.Background(), "k", "v")
	require.ErrorContains(t, err, "failed to set metadata[k]: commit: disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithPragmas(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", withPragmas("a.db"))
	assert.Equal(t, "file:a.db?mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", withPragmas("file:a.db?mode=rwc"))
	assert.Equal(t, "a.db?_pragma=foreign_keys(1)", withPragmas("a.db?_pragma=foreign_keys(1)"))
}
