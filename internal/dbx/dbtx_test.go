package dbx

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestInTx_ReturnsResultAfterCommit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO metadata_changes`).WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectCommit()

	id, err := InTx(context.Background(), db, func(ctx context.Context, tx DBTX) (int64, error) {
		res, err := tx.ExecContext(ctx, `INSERT INTO metadata_changes (key) VALUES (?)`, "at")
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_RollbackOnFnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	id, err := InTx(context.Background(), db, func(ctx context.Context, tx DBTX) (int64, error) {
		return 7, boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_RollbackOnPanic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	require.Panics(t, func() {
		_, _ = InTx(context.Background(), db, func(ctx context.Context, tx DBTX) (int64, error) {
			panic("kaput")
		})
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_BeginError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("locked"))

	_, err = InTx(context.Background(), db, func(ctx context.Context, tx DBTX) (int64, error) {
		t.Fatal("fn must not run")
		return 0, nil
	})
	require.ErrorContains(t, err, "begin: locked")
}

func TestInTx_CommitErrorDiscardsResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))

	id, err := InTx(context.Background(), db, func(ctx context.Context, tx DBTX) (int64, error) { return 9, nil })
	require.EqualError(t, err, "commit: disk full")
	require.Zero(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}
