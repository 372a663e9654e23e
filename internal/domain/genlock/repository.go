package genlock

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines lock store operations. The (account_id, job_kind)
// uniqueness constraint at the storage layer is the correctness backstop
// against concurrent inserts; Insert must surface that violation as
// ErrLockExists.
type Repository interface {
	// Insert atomically creates the lock row. Returns ErrLockExists when a
	// row for (account, kind) is already present, expired or not.
	Insert(ctx context.Context, lock *Lock) error

	// Get returns the lock row for (account, kind) or nil when absent.
	Get(ctx context.Context, accountID uuid.UUID, jobKind string) (*Lock, error)

	// Delete removes the lock when held by requestID. Deleting an absent or
	// superseded lock is a no-op, not an error.
	Delete(ctx context.Context, accountID uuid.UUID, jobKind string, requestID string) error

	// DeleteExpired removes the lock row for (account, kind) only if its
	// expiry has passed, making room for a fresh insert.
	DeleteExpired(ctx context.Context, accountID uuid.UUID, jobKind string, now time.Time) error

	// ListExpired returns locks whose expiry has passed, oldest first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Lock, error)
}

// ErrLockExists indicates the storage uniqueness constraint rejected an insert
type ErrLockExists struct {
	AccountID uuid.UUID
	JobKind   string
}

func (e ErrLockExists) Error() string {
	return "lock already exists for account " + e.AccountID.String() + " kind " + e.JobKind
}
