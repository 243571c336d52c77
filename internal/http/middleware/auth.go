package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/workos/workos-go/v6/pkg/usermanagement"

	"basegraph.app/pandora/core/config"
)

const bearerPrefix = "Bearer "

// RequireWorkOSUser verifies that the bearer token on an inbound turn request
// names a real, active WorkOS user before the request reaches the
// orchestrator. The session/identity system itself stays external (spec.md
// §1 Non-goals) — the gateway only confirms the caller is who the request
// body claims, via one WorkOS lookup. A zero-value APIKey disables the gate
// entirely, the same convention adminAuth uses for AdminAPIKey.
func RequireWorkOSUser(cfg config.WorkOSConfig) gin.HandlerFunc {
	if cfg.APIKey != "" {
		usermanagement.SetAPIKey(cfg.APIKey)
	}
	return func(c *gin.Context) {
		if cfg.APIKey == "" {
			c.Next()
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), bearerPrefix)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		user, err := usermanagement.GetUser(c.Request.Context(), usermanagement.GetUserOpts{User: token})
		if err != nil {
			slog.WarnContext(c.Request.Context(), "workos user verification failed", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set(workosUserContextKey, user.ID)
		c.Next()
	}
}

const workosUserContextKey = "workos_user_id"

// WorkOSUserID returns the WorkOS user id RequireWorkOSUser verified for this
// request, or "" if the gate is disabled or wasn't installed on the route.
func WorkOSUserID(c *gin.Context) string {
	id, _ := c.Get(workosUserContextKey)
	s, _ := id.(string)
	return s
}
