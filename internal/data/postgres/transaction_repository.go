package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/genstudio-credit-ledger/internal/domain/credit"
	"github.com/genstudio-credit-ledger/internal/platform/persistence"
)

const uniqueViolationCode = "23505"

// TransactionRepository implements the credit.Repository interface for
// PostgreSQL. The table is append-only.
type TransactionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewTransactionRepository creates a new PostgreSQL transaction repository
func NewTransactionRepository(logger *slog.Logger, db *persistence.PostgresDB) credit.Repository {
	return &TransactionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction for atomic operations
func (r *TransactionRepository) WithTx(tx pgx.Tx) credit.Repository {
	return &TransactionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create appends a ledger row. The partial unique index on
// (account_id, type, reference_id) turns a racing duplicate into
// ErrDuplicateReference instead of a second row.
func (r *TransactionRepository) Create(ctx context.Context, tx *credit.Transaction) error {
	query := `
		INSERT INTO credit_transactions (id, account_id, type, amount, source, balance_after, reference_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.querier.Exec(ctx, query,
		tx.ID,
		tx.AccountID,
		string(tx.Type),
		tx.Amount,
		tx.Source,
		tx.BalanceAfter,
		tx.ReferenceID,
		tx.Metadata,
		tx.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			ref := ""
			if tx.ReferenceID != nil {
				ref = *tx.ReferenceID
			}
			return credit.ErrDuplicateReference{AccountID: tx.AccountID, ReferenceID: ref}
		}
		r.logger.Error("Failed to create credit transaction", "transaction_id", tx.ID.String(), "error", err)
		return fmt.Errorf("failed to create credit transaction: %w", err)
	}

	return nil
}

// GetByReference returns the row keyed by (account, type, reference), or nil
// when no such row exists.
func (r *TransactionRepository) GetByReference(ctx context.Context, accountID uuid.UUID, txType credit.TransactionType, referenceID string) (*credit.Transaction, error) {
	query := `
		SELECT id, account_id, type, amount, source, balance_after, reference_id, metadata, created_at
		FROM credit_transactions
		WHERE account_id = $1 AND type = $2 AND reference_id = $3
	`

	tx, err := r.scanOne(r.querier.QueryRow(ctx, query, accountID, string(txType), referenceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get transaction by reference",
			"account_id", accountID.String(),
			"type", string(txType),
			"reference_id", referenceID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get transaction by reference: %w", err)
	}

	return tx, nil
}

// FindByReference returns the row keyed by (type, reference) across all
// accounts, or nil when no such row exists.
func (r *TransactionRepository) FindByReference(ctx context.Context, txType credit.TransactionType, referenceID string) (*credit.Transaction, error) {
	query := `
		SELECT id, account_id, type, amount, source, balance_after, reference_id, metadata, created_at
		FROM credit_transactions
		WHERE type = $1 AND reference_id = $2
	`

	tx, err := r.scanOne(r.querier.QueryRow(ctx, query, string(txType), referenceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to find transaction by reference",
			"type", string(txType),
			"reference_id", referenceID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to find transaction by reference: %w", err)
	}

	return tx, nil
}

// ListByAccount returns the most recent transactions first.
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*credit.Transaction, error) {
	query := `
		SELECT id, account_id, type, amount, source, balance_after, reference_id, metadata, created_at
		FROM credit_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, accountID, limit)
	if err != nil {
		r.logger.Error("Failed to list transactions", "account_id", accountID.String(), "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	return r.collect(rows)
}

// ListUnsettledFreezes returns freeze rows older than cutoff with no
// matching spend or unfreeze row for the same reference.
func (r *TransactionRepository) ListUnsettledFreezes(ctx context.Context, cutoff time.Time, limit int) ([]*credit.Transaction, error) {
	query := `
		SELECT f.id, f.account_id, f.type, f.amount, f.source, f.balance_after, f.reference_id, f.metadata, f.created_at
		FROM credit_transactions f
		WHERE f.type = 'freeze'
		  AND f.reference_id IS NOT NULL
		  AND f.created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM credit_transactions s
			WHERE s.account_id = f.account_id
			  AND s.reference_id = f.reference_id
			  AND s.type IN ('spend', 'unfreeze')
		  )
		ORDER BY f.created_at ASC
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, cutoff, limit)
	if err != nil {
		r.logger.Error("Failed to list unsettled freezes", "error", err)
		return nil, fmt.Errorf("failed to list unsettled freezes: %w", err)
	}
	defer rows.Close()

	return r.collect(rows)
}

func (r *TransactionRepository) scanOne(row pgx.Row) (*credit.Transaction, error) {
	var tx credit.Transaction
	var txType string
	err := row.Scan(
		&tx.ID,
		&tx.AccountID,
		&txType,
		&tx.Amount,
		&tx.Source,
		&tx.BalanceAfter,
		&tx.ReferenceID,
		&tx.Metadata,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Type = credit.TransactionType(txType)
	return &tx, nil
}

func (r *TransactionRepository) collect(rows pgx.Rows) ([]*credit.Transaction, error) {
	var transactions []*credit.Transaction
	for rows.Next() {
		tx, err := r.scanOne(rows)
		if err != nil {
			r.logger.Error("Failed to scan credit transaction", "error", err)
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over credit transactions", "error", err)
		return nil, fmt.Errorf("error iterating over credit transactions: %w", err)
	}

	return transactions, nil
}
