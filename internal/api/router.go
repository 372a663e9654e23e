package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/genstudio-credit-ledger/internal/api/handler"
	"github.com/genstudio-credit-ledger/internal/api/middleware"
)

// setupRouter configures API routes and middleware for the application
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	creditHandler *handler.CreditHandler,
	jobHandler *handler.JobHandler,
) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CorrelationID())

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		// Generation job operations
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.Start)
			jobs.GET("/:id", jobHandler.GetByID)
		}

		// Account credit operations
		accounts := v1.Group("/accounts")
		{
			accounts.GET("/:id/balance", creditHandler.GetBalance)
			accounts.GET("/:id/transactions", creditHandler.GetTransactions)
			accounts.POST("/:id/earn", creditHandler.Earn)
			accounts.POST("/:id/refund", creditHandler.Refund)
			accounts.POST("/:id/adjust", creditHandler.Adjust)
			accounts.GET("/:id/locks/:kind", creditHandler.GetLock)
		}
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
