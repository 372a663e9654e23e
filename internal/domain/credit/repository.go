package credit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines persistence operations for the transaction log.
// Rows are append-only; there is no update or delete.
type Repository interface {
	Create(ctx context.Context, tx *Transaction) error

	// GetByReference returns the transaction with the given type and
	// reference id for an account, or nil when none exists. Used for
	// idempotency checks inside the same database transaction that would
	// append the new row.
	GetByReference(ctx context.Context, accountID uuid.UUID, txType TransactionType, referenceID string) (*Transaction, error)

	// FindByReference looks a row up by type and reference id alone. Job
	// refs are globally unique, which lets commit and release resolve the
	// owning account from nothing but the ref.
	FindByReference(ctx context.Context, txType TransactionType, referenceID string) (*Transaction, error)

	// ListByAccount returns the most recent transactions first.
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*Transaction, error)

	// ListUnsettledFreezes returns freeze rows older than cutoff that have
	// no matching spend or unfreeze row. The reconciliation sweeper uses
	// this to find reservations orphaned by crashes.
	ListUnsettledFreezes(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrDuplicateReference indicates a reference id collision for an account
type ErrDuplicateReference struct {
	AccountID   uuid.UUID
	ReferenceID string
}

func (e ErrDuplicateReference) Error() string {
	return "duplicate reference id " + e.ReferenceID + " for account " + e.AccountID.String()
}
