package job

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines job record persistence operations
type Repository interface {
	Create(ctx context.Context, j *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)

	// MarkProcessing records the provider task handle and moves the job to
	// processing.
	MarkProcessing(ctx context.Context, id uuid.UUID, providerTaskID string) error

	// Settle moves the job to a terminal status and records how many of the
	// reserved credits were permanently spent. Settling an already-terminal
	// job is a no-op so retries and the sweeper stay idempotent.
	Settle(ctx context.Context, id uuid.UUID, status Status, creditsSettled int64, resultRef string, failureReason string) error
}

// ErrJobNotFound indicates a missing job record
type ErrJobNotFound struct {
	JobID uuid.UUID
}

func (e ErrJobNotFound) Error() string {
	return "job not found: " + e.JobID.String()
}
