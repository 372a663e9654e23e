package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/genstudio-credit-ledger/internal/domain/account"
	"github.com/genstudio-credit-ledger/internal/domain/credit"
	"github.com/genstudio-credit-ledger/internal/domain/genlock"
	"github.com/genstudio-credit-ledger/internal/ledger"
)

type MockCreditService struct {
	mock.Mock
}

func (m *MockCreditService) Earn(ctx context.Context, accountID uuid.UUID, amount int64, source string, referenceID *string, metadata map[string]string) (*credit.Transaction, error) {
	args := m.Called(ctx, accountID, amount, source, referenceID, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credit.Transaction), args.Error(1)
}

func (m *MockCreditService) Refund(ctx context.Context, accountID uuid.UUID, amount int64, source string, referenceID *string, metadata map[string]string) (*credit.Transaction, error) {
	args := m.Called(ctx, accountID, amount, source, referenceID, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credit.Transaction), args.Error(1)
}

func (m *MockCreditService) AdminAdjust(ctx context.Context, accountID uuid.UUID, signedAmount int64, metadata map[string]string) (*credit.Transaction, error) {
	args := m.Called(ctx, accountID, signedAmount, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credit.Transaction), args.Error(1)
}

func (m *MockCreditService) GetBalance(ctx context.Context, accountID uuid.UUID) (*ledger.Balance, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Balance), args.Error(1)
}

func (m *MockCreditService) GetHistory(ctx context.Context, accountID uuid.UUID, limit int) ([]*credit.Transaction, error) {
	args := m.Called(ctx, accountID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*credit.Transaction), args.Error(1)
}

type MockLockReader struct {
	mock.Mock
}

func (m *MockLockReader) IsHeld(ctx context.Context, accountID uuid.UUID, jobKind string) (*genlock.Lock, error) {
	args := m.Called(ctx, accountID, jobKind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*genlock.Lock), args.Error(1)
}

func newTransaction(accountID uuid.UUID, txType credit.TransactionType, amount int64, balanceAfter int64) *credit.Transaction {
	return &credit.Transaction{
		ID:           uuid.New(),
		AccountID:    accountID,
		Type:         txType,
		Amount:       amount,
		Source:       "purchase",
		BalanceAfter: balanceAfter,
		CreatedAt:    time.Now(),
	}
}

func TestCreditHandler_GetBalance(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	accountID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockCreditService)
		handler := NewCreditHandler(logger, mockService, new(MockLockReader))

		mockService.On("GetBalance", mock.Anything, accountID).Return(&ledger.Balance{
			AccountID:        accountID,
			Balance:          100,
			TotalEarned:      130,
			TotalSpent:       30,
			FrozenBalance:    20,
			AvailableBalance: 80,
		}, nil)

		router := setupTestRouter()
		router.GET("/accounts/:id/balance", handler.GetBalance)

		req, _ := http.NewRequest(http.MethodGet, "/accounts/"+accountID.String()+"/balance", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decodeData[BalanceResponse](t, rr.Body.Bytes())
		assert.Equal(t, int64(100), resp.Balance)
		assert.Equal(t, int64(20), resp.FrozenBalance)
		assert.Equal(t, int64(80), resp.AvailableBalance)
	})

	t.Run("InvalidAccountID", func(t *testing.T) {
		handler := NewCreditHandler(logger, new(MockCreditService), new(MockLockReader))

		router := setupTestRouter()
		router.GET("/accounts/:id/balance", handler.GetBalance)

		req, _ := http.NewRequest(http.MethodGet, "/accounts/not-a-uuid/balance", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestCreditHandler_Earn(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	accountID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		mockService := new(MockCreditService)
		handler := NewCreditHandler(logger, mockService, new(MockLockReader))

		ref := "payment-intent-42"
		tx := newTransaction(accountID, credit.TypeEarn, 100, 100)
		tx.ReferenceID = &ref
		mockService.On("Earn", mock.Anything, accountID, int64(100), "purchase", &ref, mock.Anything).Return(tx, nil)

		router := setupTestRouter()
		router.POST("/accounts/:id/earn", handler.Earn)

		jsonBody, _ := json.Marshal(EarnRequest{Amount: 100, Source: "purchase", ReferenceID: ref})
		req, _ := http.NewRequest(http.MethodPost, "/accounts/"+accountID.String()+"/earn", bytes.NewBuffer(jsonBody))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
		resp := decodeData[TransactionResponse](t, rr.Body.Bytes())
		assert.Equal(t, "earn", resp.Type)
		assert.Equal(t, ref, resp.ReferenceID)
		mockService.AssertExpectations(t)
	})

	t.Run("RejectsNonPositiveAmount", func(t *testing.T) {
		mockService := new(MockCreditService)
		handler := NewCreditHandler(logger, mockService, new(MockLockReader))

		router := setupTestRouter()
		router.POST("/accounts/:id/earn", handler.Earn)

		jsonBody := []byte(`{"amount": -5, "source": "purchase"}`)
		req, _ := http.NewRequest(http.MethodPost, "/accounts/"+accountID.String()+"/earn", bytes.NewBuffer(jsonBody))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "Earn")
	})
}

func TestCreditHandler_Adjust(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	accountID := uuid.New()

	t.Run("NegativeAdjustment", func(t *testing.T) {
		mockService := new(MockCreditService)
		handler := NewCreditHandler(logger, mockService, new(MockLockReader))

		tx := newTransaction(accountID, credit.TypeAdminAdjust, -40, 60)
		mockService.On("AdminAdjust", mock.Anything, accountID, int64(-40), mock.Anything).Return(tx, nil)

		router := setupTestRouter()
		router.POST("/accounts/:id/adjust", handler.Adjust)

		jsonBody, _ := json.Marshal(AdjustRequest{Amount: -40, Metadata: map[string]string{"reason": "support"}})
		req, _ := http.NewRequest(http.MethodPost, "/accounts/"+accountID.String()+"/adjust", bytes.NewBuffer(jsonBody))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
	})

	t.Run("WouldGoNegative", func(t *testing.T) {
		mockService := new(MockCreditService)
		handler := NewCreditHandler(logger, mockService, new(MockLockReader))

		mockService.On("AdminAdjust", mock.Anything, accountID, int64(-500), mock.Anything).
			Return(nil, account.ErrInsufficientBalance)

		router := setupTestRouter()
		router.POST("/accounts/:id/adjust", handler.Adjust)

		jsonBody, _ := json.Marshal(AdjustRequest{Amount: -500})
		req, _ := http.NewRequest(http.MethodPost, "/accounts/"+accountID.String()+"/adjust", bytes.NewBuffer(jsonBody))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestCreditHandler_GetTransactions(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	accountID := uuid.New()

	mockService := new(MockCreditService)
	handler := NewCreditHandler(logger, mockService, new(MockLockReader))

	history := []*credit.Transaction{
		newTransaction(accountID, credit.TypeSpend, 30, 70),
		newTransaction(accountID, credit.TypeEarn, 100, 100),
	}
	mockService.On("GetHistory", mock.Anything, accountID, 50).Return(history, nil)

	router := setupTestRouter()
	router.GET("/accounts/:id/transactions", handler.GetTransactions)

	req, _ := http.NewRequest(http.MethodGet, "/accounts/"+accountID.String()+"/transactions", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	resp := decodeData[TransactionListResponse](t, rr.Body.Bytes())
	require.Len(t, resp.Transactions, 2)
	assert.Equal(t, "spend", resp.Transactions[0].Type)
	assert.Equal(t, "earn", resp.Transactions[1].Type)
}

func TestCreditHandler_GetLock(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	accountID := uuid.New()

	t.Run("Held", func(t *testing.T) {
		mockLocks := new(MockLockReader)
		handler := NewCreditHandler(logger, new(MockCreditService), mockLocks)

		mockLocks.On("IsHeld", mock.Anything, accountID, "video").Return(&genlock.Lock{
			AccountID: accountID,
			JobKind:   "video",
			RequestID: "req-1",
			ExpiresAt: time.Now().Add(5 * time.Minute),
		}, nil)

		router := setupTestRouter()
		router.GET("/accounts/:id/locks/:kind", handler.GetLock)

		req, _ := http.NewRequest(http.MethodGet, "/accounts/"+accountID.String()+"/locks/video", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decodeData[LockResponse](t, rr.Body.Bytes())
		assert.Equal(t, "video", resp.JobKind)
		assert.Equal(t, "req-1", resp.RequestID)
		assert.Greater(t, resp.RemainingSeconds, 0)
	})

	t.Run("NotHeld", func(t *testing.T) {
		mockLocks := new(MockLockReader)
		handler := NewCreditHandler(logger, new(MockCreditService), mockLocks)

		mockLocks.On("IsHeld", mock.Anything, accountID, "video").Return(nil, nil)

		router := setupTestRouter()
		router.GET("/accounts/:id/locks/:kind", handler.GetLock)

		req, _ := http.NewRequest(http.MethodGet, "/accounts/"+accountID.String()+"/locks/video", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
