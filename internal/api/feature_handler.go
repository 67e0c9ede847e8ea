package api

import (
	"context"
	"errors"
	"net/http"

	"togglr/internal/dto/req"
	"togglr/internal/dto/resp"
	"togglr/internal/repository"
	"togglr/internal/service"

	"github.com/gin-gonic/gin"
)

type FlagProvider interface {
	CreateFeature(ctx context.Context, key string, defaultEnabled bool, description string) (*resp.FeatureItem, error)
	GetFeature(ctx context.Context, key string) (*resp.FeatureItem, error)
	ListFeatures(ctx context.Context, search string) ([]resp.FeatureItem, error)
	UpdateFeature(ctx context.Context, key string, defaultEnabled bool, description string) (*resp.FeatureItem, error)
	DeleteFeature(ctx context.Context, key string) error
	Health(ctx context.Context) error
}

type FeatureHandler struct {
	service FlagProvider
}

func NewFeatureHandler(service FlagProvider) *FeatureHandler {
	return &FeatureHandler{service: service}
}

// writeError maps service failures onto HTTP statuses. Validation is the
// caller's fault, conflicts and missing records get their own codes, and
// everything else is a plain 500.
func writeError(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, service.ErrFeatureNotFound), errors.Is(err, service.ErrOverrideNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *FeatureHandler) CreateFeature(c *gin.Context) {
	var r req.CreateFeatureRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(400, gin.H{"error": "JSON format error"})
		return
	}

	item, err := h.service.CreateFeature(c.Request.Context(), r.Key, *r.DefaultEnabled, r.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, item)
}

func (h *FeatureHandler) GetFeature(c *gin.Context) {
	key := c.Param("key")

	item, err := h.service.GetFeature(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, item)
}

func (h *FeatureHandler) ListFeatures(c *gin.Context) {
	search := c.Query("search")

	features, err := h.service.ListFeatures(c.Request.Context(), search)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, features)
}

func (h *FeatureHandler) UpdateFeature(c *gin.Context) {
	key := c.Param("key")
	var r req.UpdateFeatureRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(400, gin.H{"error": "JSON format error"})
		return
	}

	item, err := h.service.UpdateFeature(c.Request.Context(), key, *r.DefaultEnabled, r.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, item)
}

func (h *FeatureHandler) DeleteFeature(c *gin.Context) {
	key := c.Param("key")

	if err := h.service.DeleteFeature(c.Request.Context(), key); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"deleted": key})
}

func (h *FeatureHandler) HealthCheck(c *gin.Context) {
	if err := h.service.Health(c.Request.Context()); err != nil {
		c.JSON(503, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"status": "ok"})
}
