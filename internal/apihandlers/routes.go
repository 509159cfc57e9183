package apihandlers

import (
	"harvest/internal/app"
	"harvest/internal/observability"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine. /health and /metrics are public; every
// /api/v1 route requires the API key.
func NewRouter(a *app.App) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	h := NewAPIHandler(a)

	router.GET("/health", h.HealthHandler)
	if a.Config == nil || a.Config.Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(observability.Handler()))
	}

	apiKey := ""
	if a.Config != nil {
		apiKey = a.Config.Server.APIKey
	}
	v1 := router.Group("/api/v1", RequireAPIKey(apiKey))
	{
		v1.POST("/scrape", h.CreateJobHandler)

		jobs := v1.Group("/jobs")
		{
			jobs.GET("", h.ListJobsHandler)
			jobs.GET("/stats", h.StatsHandler)
			jobs.GET("/:id", h.GetJobHandler)
			jobs.DELETE("/:id", h.DeleteJobHandler)
		}
	}
	return router
}
