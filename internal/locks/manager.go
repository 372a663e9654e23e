// Package locks enforces the one-active-generation-per-kind rule on top of
// the lock store. Expiry is lazy: an expired row is cleared on the next
// acquire attempt rather than by a background thread, and the sweeper cleans
// up whatever nobody ever retried.
package locks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/genstudio-credit-ledger/internal/domain/genlock"
)

// Manager coordinates generation lock acquisition and release.
type Manager struct {
	repo   genlock.Repository
	ttl    time.Duration
	logger *slog.Logger

	// now is replaceable in tests to simulate the passage of time.
	now func() time.Time
}

// NewManager creates a lock manager with the given lock TTL.
func NewManager(repo genlock.Repository, ttl time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Acquire takes the lock for (account, kind) on behalf of requestID. When a
// live lock is already present it returns genlock.ErrLockHeld carrying the
// remaining TTL. An expired lock left behind by a crashed holder is cleared
// and re-acquired in the same call.
func (m *Manager) Acquire(ctx context.Context, accountID uuid.UUID, jobKind string, requestID string, metadata map[string]string) (*genlock.Lock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		now := m.now()
		if err := m.repo.DeleteExpired(ctx, accountID, jobKind, now); err != nil {
			return nil, err
		}

		lock := &genlock.Lock{
			AccountID: accountID,
			JobKind:   jobKind,
			RequestID: requestID,
			ExpiresAt: now.Add(m.ttl),
			CreatedAt: now,
			Metadata:  metadata,
		}
		err := m.repo.Insert(ctx, lock)
		if err == nil {
			m.logger.Info("generation lock acquired",
				"account_id", accountID, "job_kind", jobKind, "request_id", requestID)
			return lock, nil
		}

		var exists genlock.ErrLockExists
		if !errors.As(err, &exists) {
			return nil, err
		}

		holder, getErr := m.repo.Get(ctx, accountID, jobKind)
		if getErr != nil {
			return nil, getErr
		}
		if holder == nil || holder.Expired(m.now()) {
			// The competing row expired (or was released) between our insert
			// and this read; one more round clears it.
			continue
		}
		return nil, genlock.ErrLockHeld{
			AccountID: accountID,
			JobKind:   jobKind,
			Remaining: holder.Remaining(m.now()),
		}
	}
	return nil, genlock.ErrLockHeld{AccountID: accountID, JobKind: jobKind}
}

// Release drops the lock if it is still held by requestID. Releasing a lock
// that was already released, expired, or re-acquired by another request is a
// no-op.
func (m *Manager) Release(ctx context.Context, accountID uuid.UUID, jobKind string, requestID string) error {
	if err := m.repo.Delete(ctx, accountID, jobKind, requestID); err != nil {
		return err
	}
	m.logger.Info("generation lock released",
		"account_id", accountID, "job_kind", jobKind, "request_id", requestID)
	return nil
}

// IsHeld returns the live lock for (account, kind), or nil when no lock is
// held. An expired row reads as not held.
func (m *Manager) IsHeld(ctx context.Context, accountID uuid.UUID, jobKind string) (*genlock.Lock, error) {
	lock, err := m.repo.Get(ctx, accountID, jobKind)
	if err != nil {
		return nil, err
	}
	if lock == nil || lock.Expired(m.now()) {
		return nil, nil
	}
	return lock, nil
}
