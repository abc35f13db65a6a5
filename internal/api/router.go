package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cardbridge-reconciler/internal/api/handler"
	"github.com/cardbridge-reconciler/internal/api/middleware"
)

// setupRouter configures API routes and middleware for the application
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	transactionHandler *handler.TransactionHandler,
	reconciliationHandler *handler.ReconciliationHandler,
	providerHealth handler.ProviderHealth,
) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CorrelationID())

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		// Reconciled transaction queries
		transactions := v1.Group("/transactions")
		{
			transactions.GET("", transactionHandler.List)
			transactions.GET("/:txnId", transactionHandler.GetByTxnID)
			transactions.GET("/:txnId/audit", transactionHandler.GetAuditTrail)

			// Operator-invoked corrective operations
			transactions.POST("/:txnId/compensate", reconciliationHandler.Compensate)
			transactions.POST("/:txnId/retry-withdrawal", reconciliationHandler.RetryWithdrawal)
			transactions.POST("/:txnId/free-pass", reconciliationHandler.FreePass)
		}

		// Reconciliation cycles and anomaly review
		reconciliation := v1.Group("/reconciliation")
		{
			reconciliation.POST("/sync/authorizations", reconciliationHandler.SyncAuthorizations)
			reconciliation.POST("/sync/settlements", reconciliationHandler.SyncSettlements)
			reconciliation.GET("/anomalies", reconciliationHandler.ListAnomalies)
		}
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	// Provider connectivity probe; does not gate process liveness
	r.GET("/health/provider", func(c *gin.Context) {
		if providerHealth.TestConnection(c.Request.Context()) {
			c.JSON(http.StatusOK, gin.H{"provider": "ok", "timestamp": time.Now().UTC()})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"provider": "unreachable", "timestamp": time.Now().UTC()})
	})
}
