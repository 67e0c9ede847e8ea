package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func Cors() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Togglr-Key", "X-Identity-Token", "X-Trace-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "X-Trace-ID", "Content-Length"},
		AllowCredentials: false, // must remain false with AllowAllOrigins
		MaxAge:           12 * time.Hour,
	})
}
