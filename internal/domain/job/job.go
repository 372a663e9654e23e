// Package job models generation job records. Jobs are owned by the calling
// layer; the orchestrator and sweeper drive their status transitions, and
// ledger settlement follows the terminal status.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Status defines job processing states
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Terminal reports whether a job in this status will never transition again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// Job is a single generation job record. CreditsReserved is fixed at
// reservation time; CreditsSettled is what was permanently spent — the
// difference was returned to the account.
type Job struct {
	ID              uuid.UUID         `json:"id" bson:"_id"`
	AccountID       uuid.UUID         `json:"account_id" bson:"account_id"`
	Kind            string            `json:"kind" bson:"kind"`
	Status          Status            `json:"status" bson:"status"`
	CreditsReserved int64             `json:"credits_reserved" bson:"credits_reserved"`
	CreditsSettled  int64             `json:"credits_settled" bson:"credits_settled"`
	ProviderTaskID  string            `json:"provider_task_id,omitempty" bson:"provider_task_id,omitempty"`
	Parameters      map[string]string `json:"parameters,omitempty" bson:"parameters,omitempty"`
	ResultRef       string            `json:"result_ref,omitempty" bson:"result_ref,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty" bson:"failure_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" bson:"updated_at"`
}

// NewJob creates a pending job record for a successful reservation.
func NewJob(id uuid.UUID, accountID uuid.UUID, kind string, creditsReserved int64, parameters map[string]string) *Job {
	now := time.Now()
	return &Job{
		ID:              id,
		AccountID:       accountID,
		Kind:            kind,
		Status:          StatusPending,
		CreditsReserved: creditsReserved,
		Parameters:      parameters,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
