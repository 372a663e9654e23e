package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/genstudio-credit-ledger/internal/domain/account"
	"github.com/genstudio-credit-ledger/internal/domain/credit"
	"github.com/genstudio-credit-ledger/internal/domain/genlock"
	"github.com/genstudio-credit-ledger/internal/ledger"
)

// CreditService is the slice of the ledger service the HTTP layer uses
type CreditService interface {
	Earn(ctx context.Context, accountID uuid.UUID, amount int64, source string, referenceID *string, metadata map[string]string) (*credit.Transaction, error)
	Refund(ctx context.Context, accountID uuid.UUID, amount int64, source string, referenceID *string, metadata map[string]string) (*credit.Transaction, error)
	AdminAdjust(ctx context.Context, accountID uuid.UUID, signedAmount int64, metadata map[string]string) (*credit.Transaction, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (*ledger.Balance, error)
	GetHistory(ctx context.Context, accountID uuid.UUID, limit int) ([]*credit.Transaction, error)
}

// LockReader reports held generation locks
type LockReader interface {
	IsHeld(ctx context.Context, accountID uuid.UUID, jobKind string) (*genlock.Lock, error)
}

// CreditHandler handles HTTP requests for account credit operations
type CreditHandler struct {
	creditService CreditService
	lockReader    LockReader
	logger        *slog.Logger
}

// NewCreditHandler creates a new credit handler
func NewCreditHandler(logger *slog.Logger, creditService CreditService, lockReader LockReader) *CreditHandler {
	return &CreditHandler{
		creditService: creditService,
		lockReader:    lockReader,
		logger:        logger,
	}
}

// GetBalance returns the account's credit position. Unknown accounts read as
// zero balances rather than 404: an account exists once someone asks about it.
func (h *CreditHandler) GetBalance(c *gin.Context) {
	accountID, ok := h.parseAccountID(c)
	if !ok {
		return
	}

	balance, err := h.creditService.GetBalance(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("Failed to get balance", "account_id", accountID.String(), "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, mapBalanceToResponse(accountID, balance))
}

// GetTransactions returns the account's ledger history, newest first
func (h *CreditHandler) GetTransactions(c *gin.Context) {
	accountID, ok := h.parseAccountID(c)
	if !ok {
		return
	}

	var params HistoryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		RespondBadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}

	transactions, err := h.creditService.GetHistory(c.Request.Context(), accountID, params.Limit)
	if err != nil {
		h.logger.Error("Failed to get transaction history", "account_id", accountID.String(), "error", err)
		RespondInternalError(c)
		return
	}

	response := TransactionListResponse{Transactions: make([]TransactionResponse, 0, len(transactions))}
	for _, tx := range transactions {
		response.Transactions = append(response.Transactions, mapTransactionToResponse(tx))
	}
	RespondOK(c, response)
}

// Earn credits an account from a purchase, promotion or similar source
func (h *CreditHandler) Earn(c *gin.Context) {
	accountID, ok := h.parseAccountID(c)
	if !ok {
		return
	}

	var req EarnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	tx, err := h.creditService.Earn(c.Request.Context(), accountID, req.Amount, req.Source, optionalString(req.ReferenceID), req.Metadata)
	if err != nil {
		h.respondLedgerError(c, accountID, err)
		return
	}
	RespondCreated(c, mapTransactionToResponse(tx))
}

// Refund credits an account back for a failed or disputed charge
func (h *CreditHandler) Refund(c *gin.Context) {
	accountID, ok := h.parseAccountID(c)
	if !ok {
		return
	}

	var req EarnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	tx, err := h.creditService.Refund(c.Request.Context(), accountID, req.Amount, req.Source, optionalString(req.ReferenceID), req.Metadata)
	if err != nil {
		h.respondLedgerError(c, accountID, err)
		return
	}
	RespondCreated(c, mapTransactionToResponse(tx))
}

// Adjust applies a signed administrative correction to the balance
func (h *CreditHandler) Adjust(c *gin.Context) {
	accountID, ok := h.parseAccountID(c)
	if !ok {
		return
	}

	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	tx, err := h.creditService.AdminAdjust(c.Request.Context(), accountID, req.Amount, req.Metadata)
	if err != nil {
		h.respondLedgerError(c, accountID, err)
		return
	}
	RespondCreated(c, mapTransactionToResponse(tx))
}

// GetLock reports whether a generation lock is held for (account, kind).
// Returns 404 when no live lock exists.
func (h *CreditHandler) GetLock(c *gin.Context) {
	accountID, ok := h.parseAccountID(c)
	if !ok {
		return
	}
	jobKind := c.Param("kind")

	lock, err := h.lockReader.IsHeld(c.Request.Context(), accountID, jobKind)
	if err != nil {
		h.logger.Error("Failed to read generation lock", "account_id", accountID.String(), "job_kind", jobKind, "error", err)
		RespondInternalError(c)
		return
	}
	if lock == nil {
		RespondNotFound(c, "No lock held")
		return
	}

	RespondOK(c, LockResponse{
		AccountID:        lock.AccountID.String(),
		JobKind:          lock.JobKind,
		RequestID:        lock.RequestID,
		ExpiresAt:        lock.ExpiresAt.Format(time.RFC3339),
		RemainingSeconds: int(lock.Remaining(time.Now()).Seconds()),
	})
}

func (h *CreditHandler) parseAccountID(c *gin.Context) (uuid.UUID, bool) {
	idParam := c.Param("id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		RespondBadRequest(c, "Invalid account ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *CreditHandler) respondLedgerError(c *gin.Context, accountID uuid.UUID, err error) {
	switch {
	case errors.Is(err, account.ErrInvalidAmount):
		RespondBadRequest(c, "Amount must be positive and non-zero")
	case errors.Is(err, account.ErrInsufficientBalance):
		RespondBadRequest(c, "Adjustment would make the balance negative")
	default:
		var notFound account.ErrAccountNotFound
		if errors.As(err, &notFound) {
			RespondNotFound(c, "Account not found")
			return
		}
		h.logger.Error("Ledger operation failed", "account_id", accountID.String(), "error", err)
		RespondInternalError(c)
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// mapBalanceToResponse maps a balance snapshot to its response DTO
func mapBalanceToResponse(accountID uuid.UUID, b *ledger.Balance) BalanceResponse {
	return BalanceResponse{
		AccountID:        accountID.String(),
		Balance:          b.Balance,
		TotalEarned:      b.TotalEarned,
		TotalSpent:       b.TotalSpent,
		FrozenBalance:    b.FrozenBalance,
		AvailableBalance: b.AvailableBalance,
	}
}

// mapTransactionToResponse maps a ledger transaction to its response DTO
func mapTransactionToResponse(tx *credit.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:           tx.ID.String(),
		AccountID:    tx.AccountID.String(),
		Type:         string(tx.Type),
		Amount:       tx.Amount,
		Source:       tx.Source,
		BalanceAfter: tx.BalanceAfter,
		Metadata:     tx.Metadata,
		CreatedAt:    tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.ReferenceID != nil {
		resp.ReferenceID = *tx.ReferenceID
	}
	return resp
}
