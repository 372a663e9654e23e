package locks

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genstudio-credit-ledger/internal/domain/genlock"
)

type lockKey struct {
	accountID uuid.UUID
	jobKind   string
}

// fakeLockRepo mimics the primary-key uniqueness of the Postgres table.
type fakeLockRepo struct {
	mu    sync.Mutex
	locks map[lockKey]*genlock.Lock
}

func newFakeLockRepo() *fakeLockRepo {
	return &fakeLockRepo{locks: make(map[lockKey]*genlock.Lock)}
}

func (r *fakeLockRepo) Insert(ctx context.Context, lock *genlock.Lock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := lockKey{lock.AccountID, lock.JobKind}
	if _, ok := r.locks[key]; ok {
		return genlock.ErrLockExists{AccountID: lock.AccountID, JobKind: lock.JobKind}
	}
	copied := *lock
	r.locks[key] = &copied
	return nil
}

func (r *fakeLockRepo) Get(ctx context.Context, accountID uuid.UUID, jobKind string) (*genlock.Lock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[lockKey{accountID, jobKind}]
	if !ok {
		return nil, nil
	}
	copied := *lock
	return &copied, nil
}

func (r *fakeLockRepo) Delete(ctx context.Context, accountID uuid.UUID, jobKind string, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := lockKey{accountID, jobKind}
	if lock, ok := r.locks[key]; ok && lock.RequestID == requestID {
		delete(r.locks, key)
	}
	return nil
}

func (r *fakeLockRepo) DeleteExpired(ctx context.Context, accountID uuid.UUID, jobKind string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := lockKey{accountID, jobKind}
	if lock, ok := r.locks[key]; ok && lock.Expired(now) {
		delete(r.locks, key)
	}
	return nil
}

func (r *fakeLockRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*genlock.Lock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*genlock.Lock
	for _, lock := range r.locks {
		if lock.Expired(now) && len(out) < limit {
			copied := *lock
			out = append(out, &copied)
		}
	}
	return out, nil
}

type lockFixture struct {
	manager *Manager
	repo    *fakeLockRepo
	clock   time.Time
}

func newLockFixture(t *testing.T, ttl time.Duration) *lockFixture {
	t.Helper()
	f := &lockFixture{
		repo:  newFakeLockRepo(),
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	f.manager = NewManager(f.repo, ttl, logger)
	f.manager.now = func() time.Time { return f.clock }
	return f
}

func (f *lockFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func TestManager_AcquireMutualExclusion(t *testing.T) {
	f := newLockFixture(t, 10*time.Minute)
	ctx := context.Background()
	accountID := uuid.New()

	_, err := f.manager.Acquire(ctx, accountID, "video", "req-1", nil)
	require.NoError(t, err)

	_, err = f.manager.Acquire(ctx, accountID, "video", "req-2", nil)
	var held genlock.ErrLockHeld
	require.ErrorAs(t, err, &held)
	assert.Equal(t, accountID, held.AccountID)
	assert.Equal(t, "video", held.JobKind)
	assert.Equal(t, 10*time.Minute, held.Remaining)
}

func TestManager_DifferentKindsIndependent(t *testing.T) {
	f := newLockFixture(t, 10*time.Minute)
	ctx := context.Background()
	accountID := uuid.New()

	_, err := f.manager.Acquire(ctx, accountID, "video", "req-1", nil)
	require.NoError(t, err)

	_, err = f.manager.Acquire(ctx, accountID, "image", "req-2", nil)
	require.NoError(t, err, "a lock on one kind must not block another kind")

	_, err = f.manager.Acquire(ctx, uuid.New(), "video", "req-3", nil)
	require.NoError(t, err, "a lock must not block other accounts")
}

func TestManager_ExpiredLockIsReacquirable(t *testing.T) {
	// Acquire with a 600s TTL, fail right away, succeed after 601s.
	f := newLockFixture(t, 600*time.Second)
	ctx := context.Background()
	accountID := uuid.New()

	_, err := f.manager.Acquire(ctx, accountID, "video", "req-1", nil)
	require.NoError(t, err)

	_, err = f.manager.Acquire(ctx, accountID, "video", "req-2", nil)
	var held genlock.ErrLockHeld
	require.ErrorAs(t, err, &held)
	assert.InDelta(t, 600, held.Remaining.Seconds(), 1)

	f.advance(601 * time.Second)

	lock, err := f.manager.Acquire(ctx, accountID, "video", "req-3", nil)
	require.NoError(t, err)
	assert.Equal(t, "req-3", lock.RequestID)
}

func TestManager_ReleaseThenReacquire(t *testing.T) {
	f := newLockFixture(t, 10*time.Minute)
	ctx := context.Background()
	accountID := uuid.New()

	_, err := f.manager.Acquire(ctx, accountID, "video", "req-1", nil)
	require.NoError(t, err)
	require.NoError(t, f.manager.Release(ctx, accountID, "video", "req-1"))

	_, err = f.manager.Acquire(ctx, accountID, "video", "req-2", nil)
	require.NoError(t, err)
}

func TestManager_ReleaseWrongRequestIDIsNoop(t *testing.T) {
	f := newLockFixture(t, 10*time.Minute)
	ctx := context.Background()
	accountID := uuid.New()

	_, err := f.manager.Acquire(ctx, accountID, "video", "req-1", nil)
	require.NoError(t, err)

	// A stale holder releasing after its lock was superseded must not drop
	// the current holder's lock.
	require.NoError(t, f.manager.Release(ctx, accountID, "video", "req-0"))

	lock, err := f.manager.IsHeld(ctx, accountID, "video")
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "req-1", lock.RequestID)
}

func TestManager_ReleaseAbsentLockIsNoop(t *testing.T) {
	f := newLockFixture(t, 10*time.Minute)
	assert.NoError(t, f.manager.Release(context.Background(), uuid.New(), "video", "req-1"))
}

func TestManager_IsHeld(t *testing.T) {
	f := newLockFixture(t, 5*time.Minute)
	ctx := context.Background()
	accountID := uuid.New()

	lock, err := f.manager.IsHeld(ctx, accountID, "video")
	require.NoError(t, err)
	assert.Nil(t, lock)

	_, err = f.manager.Acquire(ctx, accountID, "video", "req-1", nil)
	require.NoError(t, err)

	lock, err = f.manager.IsHeld(ctx, accountID, "video")
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "req-1", lock.RequestID)

	f.advance(6 * time.Minute)

	lock, err = f.manager.IsHeld(ctx, accountID, "video")
	require.NoError(t, err)
	assert.Nil(t, lock, "an expired lock reads as not held")
}
