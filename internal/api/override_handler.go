package api

import (
	"context"
	"strconv"

	"togglr/internal/dto/req"
	"togglr/internal/dto/resp"

	"github.com/gin-gonic/gin"
)

type OverrideProvider interface {
	CreateOverride(ctx context.Context, featureKey, targetType, targetIdentifier string, enabled bool) (*resp.OverrideItem, error)
	ListOverrides(ctx context.Context, featureKey string) ([]resp.OverrideItem, error)
	UpdateOverride(ctx context.Context, featureKey string, id uint64, enabled bool) (*resp.OverrideItem, error)
	DeleteOverride(ctx context.Context, featureKey string, id uint64) error
}

type OverrideHandler struct {
	service OverrideProvider
}

func NewOverrideHandler(service OverrideProvider) *OverrideHandler {
	return &OverrideHandler{service: service}
}

func (h *OverrideHandler) CreateOverride(c *gin.Context) {
	key := c.Param("key")
	var r req.CreateOverrideRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(400, gin.H{"error": "JSON format error"})
		return
	}

	item, err := h.service.CreateOverride(c.Request.Context(), key, r.TargetType, r.TargetIdentifier, *r.Enabled)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, item)
}

func (h *OverrideHandler) ListOverrides(c *gin.Context) {
	key := c.Param("key")

	overrides, err := h.service.ListOverrides(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, overrides)
}

func (h *OverrideHandler) UpdateOverride(c *gin.Context) {
	key := c.Param("key")
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid override id"})
		return
	}

	var r req.UpdateOverrideRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(400, gin.H{"error": "JSON format error"})
		return
	}

	item, err := h.service.UpdateOverride(c.Request.Context(), key, id, *r.Enabled)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, item)
}

func (h *OverrideHandler) DeleteOverride(c *gin.Context) {
	key := c.Param("key")
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid override id"})
		return
	}

	if err := h.service.DeleteOverride(c.Request.Context(), key, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(200, gin.H{"deleted": id})
}
