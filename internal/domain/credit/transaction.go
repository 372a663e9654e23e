// Package credit defines the append-only credit transaction log. The
// account balance is a projection of this log: every mutation appends a row
// in the same database transaction that moves the balance, and the signed
// deltas of all rows for an account always sum to its balance.
package credit

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType defines the kinds of ledger entries
type TransactionType string

const (
	TypeEarn        TransactionType = "earn"
	TypeSpend       TransactionType = "spend"
	TypeRefund      TransactionType = "refund"
	TypeAdminAdjust TransactionType = "admin_adjust"
	TypeFreeze      TransactionType = "freeze"
	TypeUnfreeze    TransactionType = "unfreeze"
)

// Transaction is a single immutable ledger row. Amount is a magnitude; the
// balance-affecting sign is implied by Type (see SignedAmount). ReferenceID
// is the caller-supplied idempotency key, unique per account and type when
// present.
type Transaction struct {
	ID           uuid.UUID         `json:"id"`
	AccountID    uuid.UUID         `json:"account_id"`
	Type         TransactionType   `json:"type"`
	Amount       int64             `json:"amount"`
	Source       string            `json:"source"`
	BalanceAfter int64             `json:"balance_after"`
	ReferenceID  *string           `json:"reference_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// SignedAmount returns the transaction's contribution to the account
// balance. Freeze and unfreeze move funds between the available and frozen
// portions without changing the balance itself, so they contribute zero.
func (t *Transaction) SignedAmount() int64 {
	switch t.Type {
	case TypeEarn, TypeRefund:
		return t.Amount
	case TypeSpend:
		return -t.Amount
	case TypeAdminAdjust:
		// admin_adjust stores the signed delta directly
		return t.Amount
	case TypeFreeze, TypeUnfreeze:
		return 0
	}
	return 0
}

// NewTransaction builds a ledger row for the given account mutation.
func NewTransaction(accountID uuid.UUID, txType TransactionType, amount int64, source string, balanceAfter int64, referenceID *string, metadata map[string]string) *Transaction {
	return &Transaction{
		ID:           uuid.New(),
		AccountID:    accountID,
		Type:         txType,
		Amount:       amount,
		Source:       source,
		BalanceAfter: balanceAfter,
		ReferenceID:  referenceID,
		Metadata:     metadata,
		CreatedAt:    time.Now(),
	}
}
