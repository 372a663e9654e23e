// Package orchestrator drives generation jobs end to end: reserve credits,
// take the per-kind lock, submit to the provider, poll until the task
// finishes, then settle the ledger to match the outcome. Anything it fails
// to settle is picked up later by the reconciliation sweeper.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/genstudio-credit-ledger/internal/config"
	"github.com/genstudio-credit-ledger/internal/domain/account"
	"github.com/genstudio-credit-ledger/internal/domain/credit"
	"github.com/genstudio-credit-ledger/internal/domain/genlock"
	"github.com/genstudio-credit-ledger/internal/domain/job"
)

// ErrInsufficientCredits is returned when the account cannot cover the job cost.
var ErrInsufficientCredits = errors.New("insufficient credits for job")

// ErrJobAlreadyRunning is returned when another job of the same kind holds
// the account's generation lock.
type ErrJobAlreadyRunning struct {
	JobKind    string
	RetryAfter time.Duration
}

func (e ErrJobAlreadyRunning) Error() string {
	return fmt.Sprintf("a %s job is already running, retry in %ds", e.JobKind, int(e.RetryAfter.Seconds()))
}

// CreditLedger is the slice of the ledger service the orchestrator uses.
type CreditLedger interface {
	Reserve(ctx context.Context, accountID uuid.UUID, amount int64, jobRef string) (*credit.Transaction, error)
	Commit(ctx context.Context, jobRef string) (*credit.Transaction, error)
	Release(ctx context.Context, jobRef string) (*credit.Transaction, error)
}

// LockManager is the slice of the lock manager the orchestrator uses.
type LockManager interface {
	Acquire(ctx context.Context, accountID uuid.UUID, jobKind string, requestID string, metadata map[string]string) (*genlock.Lock, error)
	Release(ctx context.Context, accountID uuid.UUID, jobKind string, requestID string) error
}

// Orchestrator runs the generation job state machine.
type Orchestrator struct {
	ledger   CreditLedger
	locks    LockManager
	jobs     job.Repository
	provider Provider
	pool     *ants.Pool
	cfg      config.JobsConfig
	provCfg  config.ProviderConfig
	logger   *slog.Logger
}

// New creates an orchestrator backed by a worker pool of poolSize pollers.
func New(
	ledgerSvc CreditLedger,
	lockMgr LockManager,
	jobs job.Repository,
	provider Provider,
	poolSize int,
	jobsCfg config.JobsConfig,
	providerCfg config.ProviderConfig,
	logger *slog.Logger,
) (*Orchestrator, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create poller pool: %w", err)
	}
	return &Orchestrator{
		ledger:   ledgerSvc,
		locks:    lockMgr,
		jobs:     jobs,
		provider: provider,
		pool:     pool,
		cfg:      jobsCfg,
		provCfg:  providerCfg,
		logger:   logger,
	}, nil
}

// StartJob reserves cost credits, takes the (account, kind) generation lock,
// submits the work to the provider and returns the pending job record. The
// job's own UUID doubles as the reservation reference and the lock's request
// ID, so the sweeper can tie the three records together later.
//
// Polling continues in the background after StartJob returns.
func (o *Orchestrator) StartJob(ctx context.Context, accountID uuid.UUID, kind string, cost int64, parameters map[string]string) (*job.Job, error) {
	jobID := uuid.New()
	jobRef := jobID.String()
	logger := o.logger.With("job_id", jobRef, "account_id", accountID.String(), "job_kind", kind)

	if _, err := o.ledger.Reserve(ctx, accountID, cost, jobRef); err != nil {
		var notFound account.ErrAccountNotFound
		if errors.Is(err, account.ErrInsufficientAvailable) || errors.As(err, &notFound) {
			return nil, ErrInsufficientCredits
		}
		return nil, fmt.Errorf("failed to reserve credits: %w", err)
	}

	if _, err := o.locks.Acquire(ctx, accountID, kind, jobRef, map[string]string{"job_id": jobRef}); err != nil {
		if relErr := o.releaseReservation(ctx, jobRef); relErr != nil {
			logger.Error("Failed to release reservation after lock refusal", "error", relErr)
		}
		var held genlock.ErrLockHeld
		if errors.As(err, &held) {
			return nil, ErrJobAlreadyRunning{JobKind: kind, RetryAfter: held.Remaining}
		}
		return nil, fmt.Errorf("failed to acquire generation lock: %w", err)
	}

	j := job.NewJob(jobID, accountID, kind, cost, parameters)
	if err := o.jobs.Create(ctx, j); err != nil {
		o.abandon(ctx, j)
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, o.provCfg.SubmitTimeout)
	taskID, err := o.provider.Submit(submitCtx, kind, parameters)
	cancel()
	if err != nil {
		logger.Error("Provider submit failed", "error", err)
		o.failJob(ctx, j, job.StatusFailed, "provider submit failed: "+err.Error())
		return nil, fmt.Errorf("failed to submit job to provider: %w", err)
	}

	if err := o.jobs.MarkProcessing(ctx, jobID, taskID); err != nil {
		logger.Error("Failed to mark job processing", "error", err)
	} else {
		j.Status = job.StatusProcessing
		j.ProviderTaskID = taskID
	}

	logger.Info("Job submitted to provider", "provider_task_id", taskID)

	// Poll with a background context: the HTTP request that started the job
	// finishing must not abort the job.
	snapshot := *j
	if err := o.pool.Submit(func() { o.poll(context.Background(), &snapshot, taskID) }); err != nil {
		logger.Warn("Poller pool saturated, polling on a dedicated goroutine", "error", err)
		go o.poll(context.Background(), &snapshot, taskID)
	}

	return j, nil
}

// GetJob returns the job record.
func (o *Orchestrator) GetJob(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	return o.jobs.GetByID(ctx, id)
}

// Shutdown stops accepting new poll tasks. In-flight pollers are abandoned;
// the sweeper settles whatever they leave behind.
func (o *Orchestrator) Shutdown() {
	o.logger.Info("Shutting down job poller pool", "running_pollers", o.pool.Running())
	o.pool.Release()
}

// poll checks the provider until the task reaches a terminal state, the job
// times out, or the attempt budget runs out.
func (o *Orchestrator) poll(ctx context.Context, j *job.Job, taskID string) {
	logger := o.logger.With("job_id", j.ID.String(), "provider_task_id", taskID)
	deadline := time.Now().Add(o.cfg.Timeout)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= o.cfg.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			logger.Warn("Polling cancelled, leaving job to the sweeper")
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			logger.Warn("Job exceeded its time budget", "timeout", o.cfg.Timeout)
			o.failJob(ctx, j, job.StatusExpired, "job timed out")
			return
		}

		statusCtx, cancel := context.WithTimeout(ctx, o.provCfg.StatusTimeout)
		status, err := o.provider.Status(statusCtx, taskID)
		cancel()
		if err != nil {
			// Transient: the attempt budget, not this error, decides the job's fate.
			logger.Warn("Provider status check failed", "attempt", attempt, "error", err)
			continue
		}

		switch status.State {
		case TaskCompleted:
			o.completeJob(ctx, j, status.ResultRef)
			return
		case TaskFailed:
			reason := status.Reason
			if reason == "" {
				reason = "provider reported failure"
			}
			o.failJob(ctx, j, job.StatusFailed, reason)
			return
		default:
			// Still processing.
		}
	}

	logger.Warn("Job exhausted its poll attempts", "max_attempts", o.cfg.MaxPollAttempts)
	o.failJob(ctx, j, job.StatusExpired, "exhausted poll attempts")
}

// completeJob commits the reservation and marks the job completed. The
// commit is the step that must not be lost; job record and lock cleanup can
// be repaired by the sweeper.
func (o *Orchestrator) completeJob(ctx context.Context, j *job.Job, resultRef string) {
	logger := o.logger.With("job_id", j.ID.String())

	err := o.withRetries(ctx, func() error {
		_, err := o.ledger.Commit(ctx, j.ID.String())
		return err
	})
	if err != nil {
		logger.Error("Failed to commit reservation, leaving job to the sweeper", "error", err)
		return
	}

	if err := o.jobs.Settle(ctx, j.ID, job.StatusCompleted, j.CreditsReserved, resultRef, ""); err != nil {
		logger.Error("Failed to record job completion", "error", err)
	}
	if err := o.locks.Release(ctx, j.AccountID, j.Kind, j.ID.String()); err != nil {
		logger.Error("Failed to release generation lock", "error", err)
	}
	logger.Info("Job completed", "credits_settled", j.CreditsReserved, "result_ref", resultRef)
}

// failJob releases the reservation and marks the job failed or expired.
func (o *Orchestrator) failJob(ctx context.Context, j *job.Job, status job.Status, reason string) {
	logger := o.logger.With("job_id", j.ID.String())

	err := o.withRetries(ctx, func() error {
		return o.releaseReservation(ctx, j.ID.String())
	})
	if err != nil {
		logger.Error("Failed to release reservation, leaving job to the sweeper", "error", err)
		return
	}

	if err := o.jobs.Settle(ctx, j.ID, status, 0, "", reason); err != nil {
		logger.Error("Failed to record job failure", "error", err)
	}
	if err := o.locks.Release(ctx, j.AccountID, j.Kind, j.ID.String()); err != nil {
		logger.Error("Failed to release generation lock", "error", err)
	}
	logger.Info("Job settled without spend", "status", status, "reason", reason)
}

// abandon unwinds a job that never reached the provider.
func (o *Orchestrator) abandon(ctx context.Context, j *job.Job) {
	if err := o.releaseReservation(ctx, j.ID.String()); err != nil {
		o.logger.Error("Failed to release reservation", "job_id", j.ID.String(), "error", err)
	}
	if err := o.locks.Release(ctx, j.AccountID, j.Kind, j.ID.String()); err != nil {
		o.logger.Error("Failed to release generation lock", "job_id", j.ID.String(), "error", err)
	}
}

func (o *Orchestrator) releaseReservation(ctx context.Context, jobRef string) error {
	_, err := o.ledger.Release(ctx, jobRef)
	return err
}

// withRetries runs fn up to SettlementRetries times with linear backoff.
func (o *Orchestrator) withRetries(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= o.cfg.SettlementRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt < o.cfg.SettlementRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * o.cfg.SettlementRetryBackoff):
			}
		}
	}
	return err
}
