package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genstudio-credit-ledger/internal/domain/credit"
)

const transactionColumns = `id, account_id, type, amount, source, balance_after, reference_id, metadata, created_at`

func transactionRows(txs ...*credit.Transaction) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"id", "account_id", "type", "amount", "source", "balance_after", "reference_id", "metadata", "created_at"})
	for _, tx := range txs {
		rows.AddRow(tx.ID, tx.AccountID, string(tx.Type), tx.Amount, tx.Source, tx.BalanceAfter, tx.ReferenceID, tx.Metadata, tx.CreatedAt)
	}
	return rows
}

func TestTransactionRepository_Create(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &TransactionRepository{querier: mock, logger: logger}

	ref := "job-123"
	tx := &credit.Transaction{
		ID:           uuid.New(),
		AccountID:    uuid.New(),
		Type:         credit.TypeFreeze,
		Amount:       30,
		Source:       "generation",
		BalanceAfter: 100,
		ReferenceID:  &ref,
		Metadata:     map[string]string{"kind": "image"},
		CreatedAt:    time.Now(),
	}

	query := `
		INSERT INTO credit_transactions \(id, account_id, type, amount, source, balance_after, reference_id, metadata, created_at\)
		VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9\)
	`

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(tx.ID, tx.AccountID, string(tx.Type), tx.Amount, tx.Source, tx.BalanceAfter, tx.ReferenceID, tx.Metadata, tx.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := repo.Create(ctx, tx)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate reference", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(tx.ID, tx.AccountID, string(tx.Type), tx.Amount, tx.Source, tx.BalanceAfter, tx.ReferenceID, tx.Metadata, tx.CreatedAt).
			WillReturnError(&pgconn.PgError{Code: uniqueViolationCode})

		err := repo.Create(ctx, tx)
		assert.Error(t, err)
		var dupErr credit.ErrDuplicateReference
		assert.ErrorAs(t, err, &dupErr)
		assert.Equal(t, tx.AccountID, dupErr.AccountID)
		assert.Equal(t, ref, dupErr.ReferenceID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		expectedErr := errors.New("db error")
		mock.ExpectExec(query).
			WithArgs(tx.ID, tx.AccountID, string(tx.Type), tx.Amount, tx.Source, tx.BalanceAfter, tx.ReferenceID, tx.Metadata, tx.CreatedAt).
			WillReturnError(expectedErr)

		err := repo.Create(ctx, tx)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create credit transaction")
		assert.ErrorIs(t, err, expectedErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionRepository_GetByReference(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &TransactionRepository{querier: mock, logger: logger}

	accID := uuid.New()
	ref := "topup-42"
	expected := &credit.Transaction{
		ID:           uuid.New(),
		AccountID:    accID,
		Type:         credit.TypeEarn,
		Amount:       50,
		Source:       "purchase",
		BalanceAfter: 150,
		ReferenceID:  &ref,
		CreatedAt:    time.Now(),
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE account_id = \$1 AND type = \$2 AND reference_id = \$3
	`

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(accID, string(credit.TypeEarn), ref).
			WillReturnRows(transactionRows(expected))

		tx, err := repo.GetByReference(ctx, accID, credit.TypeEarn, ref)
		assert.NoError(t, err)
		assert.Equal(t, expected, tx)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("absent returns nil without error", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(accID, string(credit.TypeEarn), ref).
			WillReturnError(pgx.ErrNoRows)

		tx, err := repo.GetByReference(ctx, accID, credit.TypeEarn, ref)
		assert.NoError(t, err)
		assert.Nil(t, tx)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		expectedErr := errors.New("db error")
		mock.ExpectQuery(query).
			WithArgs(accID, string(credit.TypeEarn), ref).
			WillReturnError(expectedErr)

		tx, err := repo.GetByReference(ctx, accID, credit.TypeEarn, ref)
		assert.Error(t, err)
		assert.Nil(t, tx)
		assert.Contains(t, err.Error(), "failed to get transaction by reference")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionRepository_FindByReference(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &TransactionRepository{querier: mock, logger: logger}

	ref := "job-777"
	expected := &credit.Transaction{
		ID:           uuid.New(),
		AccountID:    uuid.New(),
		Type:         credit.TypeFreeze,
		Amount:       30,
		Source:       "generation",
		BalanceAfter: 100,
		ReferenceID:  &ref,
		CreatedAt:    time.Now(),
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE type = \$1 AND reference_id = \$2
	`

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(string(credit.TypeFreeze), ref).
			WillReturnRows(transactionRows(expected))

		tx, err := repo.FindByReference(ctx, credit.TypeFreeze, ref)
		assert.NoError(t, err)
		assert.Equal(t, expected, tx)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("absent returns nil without error", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(string(credit.TypeFreeze), ref).
			WillReturnError(pgx.ErrNoRows)

		tx, err := repo.FindByReference(ctx, credit.TypeFreeze, ref)
		assert.NoError(t, err)
		assert.Nil(t, tx)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionRepository_ListByAccount(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &TransactionRepository{querier: mock, logger: logger}

	accID := uuid.New()
	now := time.Now()
	newer := &credit.Transaction{
		ID:           uuid.New(),
		AccountID:    accID,
		Type:         credit.TypeSpend,
		Amount:       30,
		Source:       "generation",
		BalanceAfter: 70,
		CreatedAt:    now,
	}
	older := &credit.Transaction{
		ID:           uuid.New(),
		AccountID:    accID,
		Type:         credit.TypeEarn,
		Amount:       100,
		Source:       "purchase",
		BalanceAfter: 100,
		CreatedAt:    now.Add(-time.Hour),
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE account_id = \$1
		ORDER BY created_at DESC
		LIMIT \$2
	`

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(accID, 50).
			WillReturnRows(transactionRows(newer, older))

		txs, err := repo.ListByAccount(ctx, accID, 50)
		assert.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, newer, txs[0])
		assert.Equal(t, older, txs[1])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		expectedErr := errors.New("db error")
		mock.ExpectQuery(query).WithArgs(accID, 50).WillReturnError(expectedErr)

		txs, err := repo.ListByAccount(ctx, accID, 50)
		assert.Error(t, err)
		assert.Nil(t, txs)
		assert.Contains(t, err.Error(), "failed to list transactions")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionRepository_ListUnsettledFreezes(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &TransactionRepository{querier: mock, logger: logger}

	cutoff := time.Now().Add(-20 * time.Minute)
	ref := "job-stale"
	stale := &credit.Transaction{
		ID:           uuid.New(),
		AccountID:    uuid.New(),
		Type:         credit.TypeFreeze,
		Amount:       30,
		Source:       "generation",
		BalanceAfter: 100,
		ReferenceID:  &ref,
		CreatedAt:    cutoff.Add(-time.Hour),
	}

	query := `
		SELECT f\.id, f\.account_id, f\.type, f\.amount, f\.source, f\.balance_after, f\.reference_id, f\.metadata, f\.created_at
		FROM credit_transactions f
		WHERE f\.type = 'freeze'
	`

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(cutoff, 100).
			WillReturnRows(transactionRows(stale))

		txs, err := repo.ListUnsettledFreezes(ctx, cutoff, 100)
		assert.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, stale, txs[0])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs(cutoff, 100).
			WillReturnRows(transactionRows())

		txs, err := repo.ListUnsettledFreezes(ctx, cutoff, 100)
		assert.NoError(t, err)
		assert.Empty(t, txs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		expectedErr := errors.New("db error")
		mock.ExpectQuery(query).WithArgs(cutoff, 100).WillReturnError(expectedErr)

		txs, err := repo.ListUnsettledFreezes(ctx, cutoff, 100)
		assert.Error(t, err)
		assert.Nil(t, txs)
		assert.Contains(t, err.Error(), "failed to list unsettled freezes")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionRepository_WithTx(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	repo := &TransactionRepository{querier: mockPool, logger: logger}

	mockPool.ExpectBegin()
	tx, err := mockPool.Begin(ctx)
	require.NoError(t, err)

	txRepo := repo.WithTx(tx)
	require.NotNil(t, txRepo)

	concreteTxRepo, ok := txRepo.(*TransactionRepository)
	require.True(t, ok)
	assert.Equal(t, tx, concreteTxRepo.querier)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
