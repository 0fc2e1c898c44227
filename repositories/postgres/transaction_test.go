package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTransactionManager_InTransaction(t *testing.T) {
	t.Run("commits when fn succeeds", func(t *testing.T) {
		db, mock := newMockDB(t)
		txm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE audits").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := txm.InTransaction(context.Background(), runTxOptions, func(txCtx context.Context) error {
			_, ok := txFromContext(txCtx)
			assert.True(t, ok)
			_, err := GetExecutor(txCtx, db).ExecContext(txCtx, "UPDATE audits SET status = 'failed'")
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and returns the error of fn", func(t *testing.T) {
		db, mock := newMockDB(t)
		txm := NewTransactionManager(db, zap.NewNop())
		boom := errors.New("stamp superseded")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := txm.InTransaction(context.Background(), nil, func(context.Context) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("joins a transaction carried by the context", func(t *testing.T) {
		db, mock := newMockDB(t)
		txm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectCommit()

		err := txm.InTransaction(context.Background(), nil, func(outer context.Context) error {
			outerTx, _ := txFromContext(outer)
			return txm.InTransaction(outer, runTxOptions, func(inner context.Context) error {
				innerTx, ok := txFromContext(inner)
				assert.True(t, ok)
				assert.Same(t, outerTx, innerTx)
				return nil
			})
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure is wrapped", func(t *testing.T) {
		db, mock := newMockDB(t)
		txm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		called := false
		err := txm.InTransaction(context.Background(), nil, func(context.Context) error {
			called = true
			return nil
		})
		assert.ErrorContains(t, err, "failed to begin transaction")
		assert.False(t, called)
	})
}

func TestGetExecutor_UsesPoolOutsideTransactions(t *testing.T) {
	db, _ := newMockDB(t)
	assert.Same(t, db.DB, GetExecutor(context.Background(), db))
}
