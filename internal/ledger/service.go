// Package ledger implements the credit ledger service: atomic, idempotent
// operations on account balances backed by an append-only transaction log.
// Every operation runs as one database transaction that locks the account
// row, checks the idempotency key, applies the balance delta, appends the
// log row, and queues the credit event — so two concurrent writers to the
// same account are strictly serialized and a retried request never applies
// twice.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/genstudio-credit-ledger/internal/domain/account"
	"github.com/genstudio-credit-ledger/internal/domain/credit"
	"github.com/genstudio-credit-ledger/internal/domain/outbox"
	"github.com/genstudio-credit-ledger/internal/platform/persistence"
)

// ErrNoSuchReservation is returned by Commit when no outstanding freeze
// matches the job ref. It indicates a caller bug, not a user-facing state.
var ErrNoSuchReservation = errors.New("no outstanding reservation for reference")

// Balance is a read-only snapshot of an account's credit position.
type Balance struct {
	AccountID        uuid.UUID `json:"account_id"`
	Balance          int64     `json:"balance"`
	TotalEarned      int64     `json:"total_earned"`
	TotalSpent       int64     `json:"total_spent"`
	FrozenBalance    int64     `json:"frozen_balance"`
	AvailableBalance int64     `json:"available_balance"`
}

// Service executes ledger operations against the Postgres store.
type Service struct {
	db           persistence.Transactor
	accounts     account.Repository
	transactions credit.Repository
	outbox       outbox.Repository
	logger       *slog.Logger
}

// NewService creates a ledger service.
func NewService(
	db persistence.Transactor,
	accounts account.Repository,
	transactions credit.Repository,
	outboxRepo outbox.Repository,
	logger *slog.Logger,
) *Service {
	return &Service{
		db:           db,
		accounts:     accounts,
		transactions: transactions,
		outbox:       outboxRepo,
		logger:       logger,
	}
}

// Earn credits an account. The account row is created on the first earn.
// When referenceID is supplied, a retried call returns the original
// transaction without moving the balance again.
func (s *Service) Earn(ctx context.Context, accountID uuid.UUID, amount int64, source string, referenceID *string, metadata map[string]string) (*credit.Transaction, error) {
	if amount <= 0 {
		return nil, account.ErrInvalidAmount
	}

	var result *credit.Transaction
	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		accounts := s.accounts.WithTx(tx)
		transactions := s.transactions.WithTx(tx)

		acc, err := accounts.LockForUpdate(ctx, accountID)
		if err != nil {
			var notFound account.ErrAccountNotFound
			if !errors.As(err, &notFound) {
				return err
			}
			acc = account.NewAccount(accountID)
			if err := accounts.Create(ctx, acc); err != nil {
				return err
			}
		}

		if referenceID != nil {
			prior, err := transactions.GetByReference(ctx, accountID, credit.TypeEarn, *referenceID)
			if err != nil {
				return err
			}
			if prior != nil {
				result = prior
				return nil
			}
		}

		if err := acc.Credit(amount, true); err != nil {
			return err
		}
		if err := accounts.Update(ctx, acc); err != nil {
			return err
		}

		row := credit.NewTransaction(accountID, credit.TypeEarn, amount, source, acc.Balance, referenceID, metadata)
		if err := transactions.Create(ctx, row); err != nil {
			return err
		}
		if err := s.queueEvent(ctx, tx, row); err != nil {
			return err
		}
		result = row
		return nil
	})
	if err != nil {
		return s.recoverDuplicate(ctx, err, accountID, credit.TypeEarn, referenceID)
	}

	s.logger.Info("Credits earned",
		"account_id", accountID.String(),
		"amount", amount,
		"source", source,
		"balance_after", result.BalanceAfter,
	)
	return result, nil
}

// Refund credits an account outside the reserve/commit/release flow, e.g.
// a manual support refund. TotalEarned is left untouched.
func (s *Service) Refund(ctx context.Context, accountID uuid.UUID, amount int64, source string, referenceID *string, metadata map[string]string) (*credit.Transaction, error) {
	if amount <= 0 {
		return nil, account.ErrInvalidAmount
	}

	var result *credit.Transaction
	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		accounts := s.accounts.WithTx(tx)
		transactions := s.transactions.WithTx(tx)

		acc, err := accounts.LockForUpdate(ctx, accountID)
		if err != nil {
			return err
		}

		if referenceID != nil {
			prior, err := transactions.GetByReference(ctx, accountID, credit.TypeRefund, *referenceID)
			if err != nil {
				return err
			}
			if prior != nil {
				result = prior
				return nil
			}
		}

		if err := acc.Credit(amount, false); err != nil {
			return err
		}
		if err := accounts.Update(ctx, acc); err != nil {
			return err
		}

		row := credit.NewTransaction(accountID, credit.TypeRefund, amount, source, acc.Balance, referenceID, metadata)
		if err := transactions.Create(ctx, row); err != nil {
			return err
		}
		if err := s.queueEvent(ctx, tx, row); err != nil {
			return err
		}
		result = row
		return nil
	})
	if err != nil {
		return s.recoverDuplicate(ctx, err, accountID, credit.TypeRefund, referenceID)
	}

	s.logger.Info("Credits refunded",
		"account_id", accountID.String(),
		"amount", amount,
		"source", source,
	)
	return result, nil
}

// AdminAdjust applies a signed correction to the balance. The balance may
// move in either direction but can neither go negative nor cut into frozen
// funds.
func (s *Service) AdminAdjust(ctx context.Context, accountID uuid.UUID, signedAmount int64, metadata map[string]string) (*credit.Transaction, error) {
	if signedAmount == 0 {
		return nil, account.ErrInvalidAmount
	}

	var result *credit.Transaction
	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		accounts := s.accounts.WithTx(tx)
		transactions := s.transactions.WithTx(tx)

		acc, err := accounts.LockForUpdate(ctx, accountID)
		if err != nil {
			return err
		}

		if err := acc.Adjust(signedAmount); err != nil {
			return err
		}
		if err := accounts.Update(ctx, acc); err != nil {
			return err
		}

		// admin_adjust stores the signed delta directly
		row := credit.NewTransaction(accountID, credit.TypeAdminAdjust, signedAmount, "admin", acc.Balance, nil, metadata)
		if err := transactions.Create(ctx, row); err != nil {
			return err
		}
		if err := s.queueEvent(ctx, tx, row); err != nil {
			return err
		}
		result = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Admin adjustment applied",
		"account_id", accountID.String(),
		"amount", signedAmount,
		"balance_after", result.BalanceAfter,
	)
	return result, nil
}

// Reserve places a hold of amount on the account, keyed by jobRef. A repeat
// call with the same jobRef is a no-op returning the original freeze row.
// Fails with account.ErrInsufficientAvailable when the hold does not fit in
// the available balance.
func (s *Service) Reserve(ctx context.Context, accountID uuid.UUID, amount int64, jobRef string) (*credit.Transaction, error) {
	if amount <= 0 {
		return nil, account.ErrInvalidAmount
	}
	if jobRef == "" {
		return nil, fmt.Errorf("job ref is required")
	}

	var result *credit.Transaction
	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		accounts := s.accounts.WithTx(tx)
		transactions := s.transactions.WithTx(tx)

		acc, err := accounts.LockForUpdate(ctx, accountID)
		if err != nil {
			return err
		}

		prior, err := transactions.GetByReference(ctx, accountID, credit.TypeFreeze, jobRef)
		if err != nil {
			return err
		}
		if prior != nil {
			result = prior
			return nil
		}

		if err := acc.Freeze(amount); err != nil {
			return err
		}
		if err := accounts.Update(ctx, acc); err != nil {
			return err
		}

		ref := jobRef
		row := credit.NewTransaction(accountID, credit.TypeFreeze, amount, "generation", acc.Balance, &ref, nil)
		if err := transactions.Create(ctx, row); err != nil {
			return err
		}
		if err := s.queueEvent(ctx, tx, row); err != nil {
			return err
		}
		result = row
		return nil
	})
	if err != nil {
		return s.recoverDuplicate(ctx, err, accountID, credit.TypeFreeze, &jobRef)
	}

	s.logger.Info("Credits reserved",
		"account_id", accountID.String(),
		"amount", amount,
		"job_ref", jobRef,
	)
	return result, nil
}

// Commit converts the hold keyed by jobRef into a permanent spend. A repeat
// call returns the original spend row. Returns ErrNoSuchReservation when no
// freeze exists for the ref or it was already released.
func (s *Service) Commit(ctx context.Context, jobRef string) (*credit.Transaction, error) {
	var result *credit.Transaction
	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		accounts := s.accounts.WithTx(tx)
		transactions := s.transactions.WithTx(tx)

		// Freeze rows are immutable, so resolving the account before taking
		// the row lock is safe.
		freeze, err := transactions.FindByReference(ctx, credit.TypeFreeze, jobRef)
		if err != nil {
			return err
		}
		if freeze == nil {
			return ErrNoSuchReservation
		}

		acc, err := accounts.LockForUpdate(ctx, freeze.AccountID)
		if err != nil {
			return err
		}

		// Settlement state is only stable under the account lock.
		spend, err := transactions.GetByReference(ctx, freeze.AccountID, credit.TypeSpend, jobRef)
		if err != nil {
			return err
		}
		if spend != nil {
			result = spend
			return nil
		}
		unfreeze, err := transactions.GetByReference(ctx, freeze.AccountID, credit.TypeUnfreeze, jobRef)
		if err != nil {
			return err
		}
		if unfreeze != nil {
			return ErrNoSuchReservation
		}

		if err := acc.CommitFrozen(freeze.Amount); err != nil {
			return err
		}
		if err := accounts.Update(ctx, acc); err != nil {
			return err
		}

		ref := jobRef
		row := credit.NewTransaction(freeze.AccountID, credit.TypeSpend, freeze.Amount, freeze.Source, acc.Balance, &ref, nil)
		if err := transactions.Create(ctx, row); err != nil {
			return err
		}
		if err := s.queueEvent(ctx, tx, row); err != nil {
			return err
		}
		result = row
		return nil
	})
	if err != nil {
		var dup credit.ErrDuplicateReference
		if errors.As(err, &dup) {
			return s.transactions.FindByReference(ctx, credit.TypeSpend, jobRef)
		}
		return nil, err
	}

	s.logger.Info("Reservation committed",
		"account_id", result.AccountID.String(),
		"amount", result.Amount,
		"job_ref", jobRef,
	)
	return result, nil
}

// Release returns the hold keyed by jobRef to the available balance without
// spending it. A no-op when the reservation was already committed, already
// released, or never existed — which makes it safe for both orchestrator
// retries and the reconciliation sweeper.
func (s *Service) Release(ctx context.Context, jobRef string) (*credit.Transaction, error) {
	var result *credit.Transaction
	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		accounts := s.accounts.WithTx(tx)
		transactions := s.transactions.WithTx(tx)

		freeze, err := transactions.FindByReference(ctx, credit.TypeFreeze, jobRef)
		if err != nil {
			return err
		}
		if freeze == nil {
			return nil
		}

		acc, err := accounts.LockForUpdate(ctx, freeze.AccountID)
		if err != nil {
			return err
		}

		spend, err := transactions.GetByReference(ctx, freeze.AccountID, credit.TypeSpend, jobRef)
		if err != nil {
			return err
		}
		if spend != nil {
			return nil
		}
		unfreeze, err := transactions.GetByReference(ctx, freeze.AccountID, credit.TypeUnfreeze, jobRef)
		if err != nil {
			return err
		}
		if unfreeze != nil {
			result = unfreeze
			return nil
		}

		if err := acc.ReleaseFrozen(freeze.Amount); err != nil {
			return err
		}
		if err := accounts.Update(ctx, acc); err != nil {
			return err
		}

		ref := jobRef
		row := credit.NewTransaction(freeze.AccountID, credit.TypeUnfreeze, freeze.Amount, freeze.Source, acc.Balance, &ref, nil)
		if err := transactions.Create(ctx, row); err != nil {
			return err
		}
		if err := s.queueEvent(ctx, tx, row); err != nil {
			return err
		}
		result = row
		return nil
	})
	if err != nil {
		var dup credit.ErrDuplicateReference
		if errors.As(err, &dup) {
			return s.transactions.FindByReference(ctx, credit.TypeUnfreeze, jobRef)
		}
		return nil, err
	}

	if result != nil {
		s.logger.Info("Reservation released",
			"account_id", result.AccountID.String(),
			"amount", result.Amount,
			"job_ref", jobRef,
		)
	}
	return result, nil
}

// GetBalance returns the account's credit position. Accounts that have not
// earned anything yet read as all zeros.
func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		var notFound account.ErrAccountNotFound
		if errors.As(err, &notFound) {
			return &Balance{AccountID: accountID}, nil
		}
		return nil, err
	}

	return &Balance{
		AccountID:        acc.ID,
		Balance:          acc.Balance,
		TotalEarned:      acc.TotalEarned,
		TotalSpent:       acc.TotalSpent,
		FrozenBalance:    acc.FrozenBalance,
		AvailableBalance: acc.Available(),
	}, nil
}

// GetHistory returns the most recent transactions first.
func (s *Service) GetHistory(ctx context.Context, accountID uuid.UUID, limit int) ([]*credit.Transaction, error) {
	return s.transactions.ListByAccount(ctx, accountID, limit)
}

// UnsettledFreezesBefore exposes orphaned reservations to the sweeper.
func (s *Service) UnsettledFreezesBefore(ctx context.Context, cutoff time.Time, limit int) ([]*credit.Transaction, error) {
	return s.transactions.ListUnsettledFreezes(ctx, cutoff, limit)
}

// queueEvent appends the credit event for a ledger row inside the same
// database transaction.
func (s *Service) queueEvent(ctx context.Context, tx pgx.Tx, row *credit.Transaction) error {
	event := &outbox.CreditEvent{
		TransactionID: row.ID,
		AccountID:     row.AccountID,
		Type:          string(row.Type),
		Amount:        row.Amount,
		BalanceAfter:  row.BalanceAfter,
		Source:        row.Source,
		Metadata:      row.Metadata,
		OccurredAt:    row.CreatedAt,
	}
	if row.ReferenceID != nil {
		event.ReferenceID = *row.ReferenceID
	}

	message, err := outbox.NewMessage(event)
	if err != nil {
		return err
	}
	return s.outbox.WithTx(tx).Create(ctx, message)
}

// recoverDuplicate handles the race where two writers pass the idempotency
// read and one loses on the unique index: the loser's transaction rolled
// back, so the winner's row is the operation result.
func (s *Service) recoverDuplicate(ctx context.Context, opErr error, accountID uuid.UUID, txType credit.TransactionType, referenceID *string) (*credit.Transaction, error) {
	var dup credit.ErrDuplicateReference
	if referenceID == nil || !errors.As(opErr, &dup) {
		return nil, opErr
	}

	prior, err := s.transactions.GetByReference(ctx, accountID, txType, *referenceID)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, opErr
	}
	return prior, nil
}
