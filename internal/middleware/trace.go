package middleware

import (
	"togglr/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TraceMiddleware propagates the caller's trace id, minting one when absent.
// The id rides the request context so mutations can stamp it onto their
// outbox rows.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}
		c.Set("TraceID", traceID)
		c.Writer.Header().Set("X-Trace-ID", traceID)

		ctx := service.WithTraceID(c.Request.Context(), traceID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
