package middleware

import (
	"togglr/internal/repository"

	"github.com/gin-gonic/gin"
)

// SDKAuthMiddleware guards the read surface (evaluate + stream) with issued
// API keys. bypass skips the lookup entirely for load-test environments.
func SDKAuthMiddleware(repo repository.SDKRepository, bypass bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if bypass {
			c.Next()
			return
		}

		apiKey := c.GetHeader("X-Togglr-Key")
		if apiKey == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "missing API key"})
			return
		}

		ok, err := repo.ValidateAPIKey(c.Request.Context(), apiKey)
		if err != nil || !ok {
			c.AbortWithStatusJSON(403, gin.H{"error": "forbidden"})
			return
		}

		c.Next()
	}
}
