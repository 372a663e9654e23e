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

	"github.com/genstudio-credit-ledger/internal/domain/genlock"
	"github.com/genstudio-credit-ledger/internal/platform/persistence"
)

// LockRepository implements the genlock.Repository interface for PostgreSQL.
// The primary key on (account_id, job_kind) makes Insert the linearization
// point for concurrent acquire attempts.
type LockRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewLockRepository creates a new PostgreSQL lock repository
func NewLockRepository(logger *slog.Logger, db *persistence.PostgresDB) genlock.Repository {
	return &LockRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// Insert atomically creates the lock row. A primary key violation means a
// concurrent acquire won the race; that is surfaced as ErrLockExists so the
// manager can report the remaining hold time.
func (r *LockRepository) Insert(ctx context.Context, lock *genlock.Lock) error {
	query := `
		INSERT INTO generation_locks (account_id, job_kind, request_id, expires_at, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.querier.Exec(ctx, query,
		lock.AccountID,
		lock.JobKind,
		lock.RequestID,
		lock.ExpiresAt,
		lock.CreatedAt,
		lock.Metadata,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return genlock.ErrLockExists{AccountID: lock.AccountID, JobKind: lock.JobKind}
		}
		r.logger.Error("Failed to insert generation lock",
			"account_id", lock.AccountID.String(),
			"job_kind", lock.JobKind,
			"error", err,
		)
		return fmt.Errorf("failed to insert generation lock: %w", err)
	}

	return nil
}

// Get returns the lock row for (account, kind), or nil when absent.
func (r *LockRepository) Get(ctx context.Context, accountID uuid.UUID, jobKind string) (*genlock.Lock, error) {
	query := `
		SELECT account_id, job_kind, request_id, expires_at, created_at, metadata
		FROM generation_locks
		WHERE account_id = $1 AND job_kind = $2
	`

	var lock genlock.Lock
	err := r.querier.QueryRow(ctx, query, accountID, jobKind).Scan(
		&lock.AccountID,
		&lock.JobKind,
		&lock.RequestID,
		&lock.ExpiresAt,
		&lock.CreatedAt,
		&lock.Metadata,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get generation lock",
			"account_id", accountID.String(),
			"job_kind", jobKind,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get generation lock: %w", err)
	}

	return &lock, nil
}

// Delete removes the lock only when held by requestID. A zero row count is
// fine: the lock was already gone or superseded by a newer holder.
func (r *LockRepository) Delete(ctx context.Context, accountID uuid.UUID, jobKind string, requestID string) error {
	query := `
		DELETE FROM generation_locks
		WHERE account_id = $1 AND job_kind = $2 AND request_id = $3
	`

	_, err := r.querier.Exec(ctx, query, accountID, jobKind, requestID)
	if err != nil {
		r.logger.Error("Failed to delete generation lock",
			"account_id", accountID.String(),
			"job_kind", jobKind,
			"error", err,
		)
		return fmt.Errorf("failed to delete generation lock: %w", err)
	}

	return nil
}

// DeleteExpired removes the row for (account, kind) only if it is past its
// expiry, clearing the way for a fresh insert.
func (r *LockRepository) DeleteExpired(ctx context.Context, accountID uuid.UUID, jobKind string, now time.Time) error {
	query := `
		DELETE FROM generation_locks
		WHERE account_id = $1 AND job_kind = $2 AND expires_at <= $3
	`

	_, err := r.querier.Exec(ctx, query, accountID, jobKind, now)
	if err != nil {
		r.logger.Error("Failed to delete expired generation lock",
			"account_id", accountID.String(),
			"job_kind", jobKind,
			"error", err,
		)
		return fmt.Errorf("failed to delete expired generation lock: %w", err)
	}

	return nil
}

// ListExpired returns locks past their expiry, oldest first.
func (r *LockRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*genlock.Lock, error) {
	query := `
		SELECT account_id, job_kind, request_id, expires_at, created_at, metadata
		FROM generation_locks
		WHERE expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, now, limit)
	if err != nil {
		r.logger.Error("Failed to list expired generation locks", "error", err)
		return nil, fmt.Errorf("failed to list expired generation locks: %w", err)
	}
	defer rows.Close()

	var locks []*genlock.Lock
	for rows.Next() {
		var lock genlock.Lock
		err := rows.Scan(
			&lock.AccountID,
			&lock.JobKind,
			&lock.RequestID,
			&lock.ExpiresAt,
			&lock.CreatedAt,
			&lock.Metadata,
		)
		if err != nil {
			r.logger.Error("Failed to scan generation lock", "error", err)
			return nil, fmt.Errorf("failed to scan generation lock: %w", err)
		}
		locks = append(locks, &lock)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over generation locks", "error", err)
		return nil, fmt.Errorf("error iterating over generation locks: %w", err)
	}

	return locks, nil
}
