package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Repository defines outbox persistence operations
type Repository interface {
	// Create stores a new pending event row. Must be called with WithTx so
	// the row commits atomically with the ledger mutation it describes.
	Create(ctx context.Context, message *Message) error

	// GetPending returns a batch of unpublished events in FIFO order.
	GetPending(ctx context.Context, limit int) ([]*Message, error)

	UpdateStatus(ctx context.Context, id int64, status Status) error
	IncrementAttempts(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error

	WithTx(tx pgx.Tx) Repository
}
