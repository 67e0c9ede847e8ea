package api

import (
	"togglr/internal/metrics"
	"togglr/internal/middleware"
	"togglr/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func RegisterRoutes(featureHandler *FeatureHandler, overrideHandler *OverrideHandler, evaluateHandler *EvaluateHandler, streamHandler *StreamHandler, sdkRepo repository.SDKRepository, rdb *redis.Client, identityKey []byte, requestsPerSecond int, env string) *gin.Engine {
	r := gin.New()

	// Determine if we should bypass auth (e.g. for load testing)
	bypassAuth := env == "loadtest"

	// Global Middleware
	r.Use(
		middleware.Cors(),
		middleware.RequestID(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(),
		middleware.TraceMiddleware(),
	)
	r.SetTrustedProxies(nil)

	// Public Routes
	r.GET("/health", featureHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Read Surface (Protected by SDK Key)
	stream := r.Group("/v1/stream")
	stream.Use(middleware.SDKAuthMiddleware(sdkRepo, bypassAuth))
	{
		stream.GET("/watch", streamHandler.WatchFlags)
		stream.GET("/snapshot", streamHandler.Snapshot)
	}

	evaluate := r.Group("/v1")
	evaluate.Use(
		middleware.SDKAuthMiddleware(sdkRepo, bypassAuth),
		middleware.IdentityMiddleware(identityKey),
	)
	{
		evaluate.POST("/evaluate", evaluateHandler.Evaluate)
	}

	// Control Plane. Deliberately unauthenticated; deploy it behind
	// something that is.
	admin := r.Group("/v1")

	// Rate Limiter for Write Operations
	writeLimiter := middleware.RateLimitMiddleware(rdb, requestsPerSecond)

	{
		admin.POST("/feature", writeLimiter, featureHandler.CreateFeature)
		admin.GET("/features", featureHandler.ListFeatures)
		admin.GET("/feature/:key", featureHandler.GetFeature)
		admin.PUT("/feature/:key", writeLimiter, featureHandler.UpdateFeature)
		admin.DELETE("/feature/:key", writeLimiter, featureHandler.DeleteFeature)

		admin.POST("/feature/:key/override", writeLimiter, overrideHandler.CreateOverride)
		admin.GET("/feature/:key/overrides", overrideHandler.ListOverrides)
		admin.PUT("/feature/:key/override/:id", writeLimiter, overrideHandler.UpdateOverride)
		admin.DELETE("/feature/:key/override/:id", writeLimiter, overrideHandler.DeleteOverride)
	}

	return r
}
