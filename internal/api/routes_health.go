package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/sftpgate/internal/app"
	"github.com/charlesng35/sftpgate/internal/handlers"
	"github.com/charlesng35/sftpgate/internal/monitoring"
)

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, health *monitoring.Checker) {
	if !cfg.Monitoring.Health.Enabled {
		r.GET("/health", disabledHealthHandler)
		r.GET("/health/ready", disabledHealthHandler)
		return
	}

	r.GET("/health", handlers.Health())
	r.GET("/health/ready", handlers.Ready(health))
}

func disabledHealthHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"status":  "disabled",
	})
}
