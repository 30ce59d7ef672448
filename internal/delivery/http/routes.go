package http

import (
	"github.com/gin-gonic/gin"

	"github.com/beloyal-club/BudAlert-sub003/config"
	"github.com/beloyal-club/BudAlert-sub003/internal/infrastructure/metrics"
)

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	// Health and metrics endpoints
	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(RateLimitMiddleware(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	{
		// Ingestion endpoint for the scraper adapter, plus the operator
		// recovery path for batches whose materialization failed mid-way
		v1.POST("/ingest", handler.Ingest)
		v1.POST("/ingest/:batchId/rematerialize", handler.RematerializeBatch)

		// Brand endpoints
		brands := v1.Group("/brands")
		{
			brands.GET("/trending", handler.TrendingBrands)
			brands.GET("/compare", handler.CompareBrands)
			brands.GET("/merge/suggestions", handler.MergeSuggestions)
			brands.POST("/merge", handler.MergeBrands)
			brands.GET("/:id", handler.GetBrand)
		}

		// Inventory feeds
		inventory := v1.Group("/inventory")
		{
			inventory.GET("/price-changes", handler.PriceChanges)
			inventory.GET("/out-of-stock", handler.OutOfStock)
		}

		// Product history
		v1.GET("/products/:id/history", handler.ProductHistory)

		// Dead letter triage
		deadLetters := v1.Group("/dead-letters")
		{
			deadLetters.GET("", handler.ListDeadLetters)
			deadLetters.GET("/stats", handler.DeadLetterStats)
			deadLetters.POST("/resolve", handler.BulkResolveDeadLetters)
			deadLetters.POST("/:id/resolve", handler.ResolveDeadLetter)
			deadLetters.POST("/:id/notes", handler.AddDeadLetterNote)
		}

		// Analytics rollup trigger
		v1.POST("/analytics/rollup", handler.RunRollup)

		// Retailer registry
		retailers := v1.Group("/retailers")
		{
			retailers.POST("", handler.CreateRetailer)
			retailers.GET("", handler.ListRetailers)
			retailers.GET("/:id/dead-letters", handler.RetailerDeadLetters)
		}
	}

	return router
}
