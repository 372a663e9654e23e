// Package outbox implements the transactional outbox for the credit event
// stream. Every ledger mutation appends an event row in the same database
// transaction, and a poller publishes the rows to Kafka afterwards, so
// downstream layers observe exactly the mutations that committed.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status defines event publishing states
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusProcessed       Status = "PROCESSED"
	StatusFailedToPublish Status = "FAILED_TO_PUBLISH"
)

// Message is one pending credit event. Payload holds the serialized event;
// TransactionID points at the ledger row it describes.
type Message struct {
	ID            int64      `json:"id"`
	TransactionID uuid.UUID  `json:"transaction_id"`
	AccountID     uuid.UUID  `json:"account_id"`
	Payload       []byte     `json:"payload"`
	Status        Status     `json:"status"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

// CreditEvent is the published payload for a ledger mutation.
type CreditEvent struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	AccountID     uuid.UUID         `json:"account_id"`
	Type          string            `json:"type"`
	Amount        int64             `json:"amount"`
	BalanceAfter  int64             `json:"balance_after"`
	Source        string            `json:"source"`
	ReferenceID   string            `json:"reference_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// NewMessage wraps a credit event into a pending outbox row.
func NewMessage(event *CreditEvent) (*Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credit event: %w", err)
	}

	return &Message{
		TransactionID: event.TransactionID,
		AccountID:     event.AccountID,
		Payload:       payload,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}, nil
}

// ErrMessageNotFound indicates a missing outbox row
type ErrMessageNotFound struct {
	ID int64
}

func (e ErrMessageNotFound) Error() string {
	return fmt.Sprintf("outbox message not found: %d", e.ID)
}
