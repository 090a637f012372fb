package tx

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInTx(t *testing.T) {
	t.Run("commits and exposes the transaction", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO audit_reports").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = NewRunner(db).RunInTx(context.Background(), func(ctx context.Context) error {
			tx, ok := From(ctx)
			require.True(t, ok)
			_, err := tx.ExecContext(ctx, "INSERT INTO audit_reports (id) VALUES ($1)", 1)
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err = NewRunner(db).RunInTx(context.Background(), func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancelled context never begins", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err = NewRunner(db).RunInTx(ctx, func(context.Context) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithTxNil(t *testing.T) {
	ctx := WithTx(context.Background(), nil)
	_, ok := From(ctx)
	assert.False(t, ok)
}
