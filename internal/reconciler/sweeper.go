// Package reconciler repairs jobs the orchestrator abandoned: a crashed
// process leaves behind an expired lock, an unsettled freeze, or both. Every
// repair action is idempotent, so rerunning a sweep over already-repaired
// state is harmless.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/genstudio-credit-ledger/internal/config"
	"github.com/genstudio-credit-ledger/internal/domain/credit"
	"github.com/genstudio-credit-ledger/internal/domain/genlock"
	"github.com/genstudio-credit-ledger/internal/domain/job"
)

// ReservationReleaser is the slice of the ledger service the sweeper uses.
type ReservationReleaser interface {
	Release(ctx context.Context, jobRef string) (*credit.Transaction, error)
	UnsettledFreezesBefore(ctx context.Context, cutoff time.Time, limit int) ([]*credit.Transaction, error)
}

// Sweeper periodically reclaims expired locks and stale reservations.
type Sweeper struct {
	ledger ReservationReleaser
	locks  genlock.Repository
	jobs   job.Repository
	cfg    config.SweeperConfig
	logger *slog.Logger

	now func() time.Time
}

// NewSweeper creates a reconciliation sweeper.
func NewSweeper(
	ledgerSvc ReservationReleaser,
	locks genlock.Repository,
	jobs job.Repository,
	cfg config.SweeperConfig,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		ledger: ledgerSvc,
		locks:  locks,
		jobs:   jobs,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start runs sweeps at the configured interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Reconciliation sweeper started",
		"interval", s.cfg.Interval, "reservation_grace", s.cfg.ReservationGrace)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reconciliation sweeper stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("Sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one reconciliation pass: expired locks first, then freezes
// older than the reservation grace period.
func (s *Sweeper) Sweep(ctx context.Context) error {
	if err := s.sweepExpiredLocks(ctx); err != nil {
		return err
	}
	return s.sweepStaleFreezes(ctx)
}

// sweepExpiredLocks releases the reservation, expires the job record and
// drops the lock row for every lock past its TTL. The lock's request ID is
// the job's UUID, which is also the reservation reference.
func (s *Sweeper) sweepExpiredLocks(ctx context.Context) error {
	expired, err := s.locks.ListExpired(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, lock := range expired {
		logger := s.logger.With(
			"account_id", lock.AccountID.String(),
			"job_kind", lock.JobKind,
			"request_id", lock.RequestID,
		)

		if _, err := s.ledger.Release(ctx, lock.RequestID); err != nil {
			logger.Error("Failed to release reservation for expired lock", "error", err)
			continue
		}
		s.expireJobRecord(ctx, lock.RequestID, "reclaimed by sweeper: generation lock expired")

		if err := s.locks.Delete(ctx, lock.AccountID, lock.JobKind, lock.RequestID); err != nil {
			logger.Error("Failed to delete expired lock", "error", err)
			continue
		}
		logger.Info("Reclaimed expired generation lock")
	}
	return nil
}

// sweepStaleFreezes releases reservations whose freeze is older than the
// grace period and whose job is not demonstrably still running.
func (s *Sweeper) sweepStaleFreezes(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.ReservationGrace)
	freezes, err := s.ledger.UnsettledFreezesBefore(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, freeze := range freezes {
		if freeze.ReferenceID == nil {
			continue
		}
		jobRef := *freeze.ReferenceID
		logger := s.logger.With("account_id", freeze.AccountID.String(), "job_ref", jobRef)

		if j := s.lookupJob(ctx, jobRef); j != nil {
			if !j.Status.Terminal() && j.UpdatedAt.After(cutoff) {
				// Still making progress; its own poller will settle it.
				continue
			}
			if err := s.locks.Delete(ctx, j.AccountID, j.Kind, jobRef); err != nil {
				logger.Error("Failed to delete lock for stale reservation", "error", err)
			}
		}

		if _, err := s.ledger.Release(ctx, jobRef); err != nil {
			logger.Error("Failed to release stale reservation", "error", err)
			continue
		}
		s.expireJobRecord(ctx, jobRef, "reclaimed by sweeper: reservation exceeded grace period")
		logger.Info("Released stale reservation", "amount", freeze.Amount)
	}
	return nil
}

// expireJobRecord moves the job to expired with no credits spent. Settling
// is a no-op for jobs that already reached a terminal status, and a lock or
// freeze without a job record is fine: the ledger, not the job store, is
// authoritative.
func (s *Sweeper) expireJobRecord(ctx context.Context, jobRef string, reason string) {
	jobID, err := uuid.Parse(jobRef)
	if err != nil {
		return
	}
	if err := s.jobs.Settle(ctx, jobID, job.StatusExpired, 0, "", reason); err != nil {
		var notFound job.ErrJobNotFound
		if !errors.As(err, &notFound) {
			s.logger.Error("Failed to expire job record", "job_id", jobRef, "error", err)
		}
	}
}

func (s *Sweeper) lookupJob(ctx context.Context, jobRef string) *job.Job {
	jobID, err := uuid.Parse(jobRef)
	if err != nil {
		return nil
	}
	j, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil
	}
	return j
}
