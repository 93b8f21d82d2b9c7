package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/patternos/patternos-backend/internal/handlers"
)

type RouterConfig struct {
	EventHandler       *handlers.EventHandler
	AttributionHandler *handlers.AttributionHandler
	CustomerHandler    *handlers.CustomerHandler
	CampaignHandler    *handlers.CampaignHandler
	ReportHandler      *handlers.ReportHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware("patternos-backend"))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Write path
		api.POST("/events", cfg.EventHandler.Submit)
		api.POST("/touchpoints", cfg.AttributionHandler.RecordTouchpoint)
		api.POST("/conversions", cfg.AttributionHandler.RecordConversion)

		// Customers
		api.GET("/customers/:id", cfg.CustomerHandler.Get)
		api.GET("/customers/:id/score", cfg.CustomerHandler.GetScore)
		api.GET("/customers/:id/windows", cfg.CustomerHandler.GetWindows)
		api.GET("/customers/:id/journey", cfg.CustomerHandler.GetJourney)
		api.POST("/customers/merge", cfg.CustomerHandler.Merge)

		// Campaigns
		api.POST("/campaigns", cfg.CampaignHandler.Register)
		api.GET("/campaigns", cfg.CampaignHandler.List)
		api.GET("/campaigns/:id", cfg.CampaignHandler.Get)
		api.POST("/campaigns/:id/spend", cfg.CampaignHandler.Spend)
		api.GET("/campaigns/:id/roas", cfg.AttributionHandler.CampaignROAS)

		// Attribution
		api.GET("/attribution/:order_id", cfg.AttributionHandler.GetAttribution)

		// Reports
		api.GET("/reports/brands", cfg.ReportHandler.BrandPerformance)
		api.GET("/reports/intent", cfg.ReportHandler.IntentStats)
		api.GET("/reports/platform-revenue", cfg.ReportHandler.PlatformRevenue)
		api.GET("/reports/opportunities", cfg.ReportHandler.RevenueOpportunities)
	}

	return router
}
