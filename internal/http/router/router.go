package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/pandora/core/config"
	"basegraph.app/pandora/internal/http/handler"
	"basegraph.app/pandora/internal/http/middleware"
)

type RouterConfig struct {
	IsProduction bool
	AdminAPIKey  string             // gates /api/permissions/*
	WorkOS       config.WorkOSConfig // gates the turn contract; no-op if APIKey is unset
}

// SetupRoutes wires the turn-processing contract (§6) and the approval
// admin surface behind it.
func SetupRoutes(router *gin.Engine, turns *handler.TurnHandler, permissions *handler.PermissionHandler, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/", middleware.RequireWorkOSUser(cfg.WorkOS), turns.Process)

	admin := router.Group("/api/permissions")
	admin.Use(adminAuth(cfg.AdminAPIKey))
	{
		admin.POST("/:id/resolve", permissions.Resolve)
		admin.GET("/pending", permissions.Pending)
	}
}

func adminAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-Admin-Api-Key") != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
