// Package genlock models the one-active-generation-per-kind rule. A lock
// row exists per (account, job kind) while a job runs; a lock past its
// expiry is treated as absent even before the sweeper deletes it.
package genlock

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lock is a single generation lock row.
type Lock struct {
	AccountID uuid.UUID         `json:"account_id"`
	JobKind   string            `json:"job_kind"`
	RequestID string            `json:"request_id"`
	ExpiresAt time.Time         `json:"expires_at"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the lock is past its TTL at the given instant.
func (l *Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Remaining returns the time left before expiry, floored at zero.
func (l *Lock) Remaining(now time.Time) time.Duration {
	if l.Expired(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}

// ErrLockHeld is returned when a non-expired lock already exists for the
// (account, job kind) pair. Remaining lets callers tell the user how long
// to wait before retrying.
type ErrLockHeld struct {
	AccountID uuid.UUID
	JobKind   string
	Remaining time.Duration
}

func (e ErrLockHeld) Error() string {
	return fmt.Sprintf("generation lock held for account %s kind %s, retry in %ds",
		e.AccountID.String(), e.JobKind, int(e.Remaining.Seconds()))
}
