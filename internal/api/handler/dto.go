package handler

// StartJobRequest represents a request to start a generation job
type StartJobRequest struct {
	AccountID  string            `json:"account_id" binding:"required,uuid"`
	Kind       string            `json:"kind" binding:"required"`
	Cost       int64             `json:"cost" binding:"required,gt=0"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// JobResponse represents a generation job in API responses
type JobResponse struct {
	ID              string            `json:"id"`
	AccountID       string            `json:"account_id"`
	Kind            string            `json:"kind"`
	Status          string            `json:"status"`
	CreditsReserved int64             `json:"credits_reserved"`
	CreditsSettled  int64             `json:"credits_settled"`
	Parameters      map[string]string `json:"parameters,omitempty"`
	ResultRef       string            `json:"result_ref,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
}

// EarnRequest represents a request to credit an account
type EarnRequest struct {
	Amount      int64             `json:"amount" binding:"required,gt=0"`
	Source      string            `json:"source" binding:"required"`
	ReferenceID string            `json:"reference_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AdjustRequest represents an administrative balance correction
type AdjustRequest struct {
	Amount   int64             `json:"amount" binding:"required"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// BalanceResponse represents an account's credit position in API responses
type BalanceResponse struct {
	AccountID        string `json:"account_id"`
	Balance          int64  `json:"balance"`
	TotalEarned      int64  `json:"total_earned"`
	TotalSpent       int64  `json:"total_spent"`
	FrozenBalance    int64  `json:"frozen_balance"`
	AvailableBalance int64  `json:"available_balance"`
}

// TransactionResponse represents a ledger transaction in API responses
type TransactionResponse struct {
	ID           string            `json:"id"`
	AccountID    string            `json:"account_id"`
	Type         string            `json:"type"`
	Amount       int64             `json:"amount"`
	Source       string            `json:"source,omitempty"`
	BalanceAfter int64             `json:"balance_after"`
	ReferenceID  string            `json:"reference_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    string            `json:"created_at"`
}

// TransactionListResponse represents a list of transactions in API responses
type TransactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
}

// LockResponse represents a held generation lock in API responses
type LockResponse struct {
	AccountID        string `json:"account_id"`
	JobKind          string `json:"job_kind"`
	RequestID        string `json:"request_id"`
	ExpiresAt        string `json:"expires_at"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// HistoryParams represents query parameters for the transaction history endpoint
type HistoryParams struct {
	Limit int `form:"limit,default=50" binding:"min=1,max=500"`
}
