package account

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientFrozen    = errors.New("frozen balance smaller than requested amount")
	ErrInsufficientAvailable = errors.New("insufficient available balance")
)

// Account tracks a user's virtual-currency balance. AvailableBalance is
// always Balance - FrozenBalance; both Balance and FrozenBalance stay >= 0.
type Account struct {
	ID            uuid.UUID `json:"id"`
	Balance       int64     `json:"balance"`
	TotalEarned   int64     `json:"total_earned"`
	TotalSpent    int64     `json:"total_spent"`
	FrozenBalance int64     `json:"frozen_balance"`
	Version       int       `json:"version"` // For optimistic locking
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewAccount creates an empty account for the given owner id. Accounts come
// into existence on the first credit-earning event.
func NewAccount(id uuid.UUID) *Account {
	now := time.Now()
	return &Account{
		ID:        id,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Available returns the spendable portion of the balance.
func (a *Account) Available() int64 {
	return a.Balance - a.FrozenBalance
}

// Credit adds earned or refunded credits. earned controls whether TotalEarned
// moves; refunds leave it untouched.
func (a *Account) Credit(amount int64, earned bool) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	a.Balance += amount
	if earned {
		a.TotalEarned += amount
	}
	a.touch()
	return nil
}

// Adjust applies a signed admin adjustment. The balance may move in either
// direction but must not go negative, nor below the frozen portion.
func (a *Account) Adjust(signedAmount int64) error {
	if a.Balance+signedAmount < 0 {
		return ErrInsufficientBalance
	}
	if a.Balance+signedAmount < a.FrozenBalance {
		return ErrInsufficientAvailable
	}
	a.Balance += signedAmount
	a.touch()
	return nil
}

// Freeze moves amount from the available balance into the frozen portion.
func (a *Account) Freeze(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if a.Available() < amount {
		return ErrInsufficientAvailable
	}
	a.FrozenBalance += amount
	a.touch()
	return nil
}

// CommitFrozen converts a frozen amount into a permanent spend.
func (a *Account) CommitFrozen(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if a.FrozenBalance < amount {
		return ErrInsufficientFrozen
	}
	a.FrozenBalance -= amount
	a.Balance -= amount
	a.TotalSpent += amount
	a.touch()
	return nil
}

// ReleaseFrozen returns a frozen amount to the available balance.
func (a *Account) ReleaseFrozen(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if a.FrozenBalance < amount {
		return ErrInsufficientFrozen
	}
	a.FrozenBalance -= amount
	a.touch()
	return nil
}

func (a *Account) touch() {
	a.UpdatedAt = time.Now()
	a.Version++
}
