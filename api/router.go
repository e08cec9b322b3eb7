package api

import (
	"vidsplit/config"
	"vidsplit/task"

	"github.com/gin-gonic/gin"
)

func SetupRouter(tm *task.Manager, cfg *config.Config) *gin.Engine {
	r := gin.Default()
	h := NewHandler(tm, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.GET("/videos", h.handleListVideos)
		v1.POST("/videos", h.handleAddVideos)
		v1.DELETE("/videos", h.handleClearVideos)
		v1.DELETE("/videos/:videoId", h.handleRemoveVideo)
		v1.POST("/videos/move", h.handleMoveVideos)

		v1.GET("/output", h.handleGetOutput)
		v1.PUT("/output", h.handleSetOutput)

		v1.POST("/jobs", h.handleStartJob)
		v1.GET("/jobs/current", h.handleGetState)
		v1.GET("/jobs/current/detail", h.handleGetJob)
		v1.GET("/jobs/current/events", h.handleStateEvents)
		v1.PATCH("/jobs/current/cancel", h.handleCancelJob)

		v1.GET("/alert", h.handleTakeAlert)
	}
	return r
}
