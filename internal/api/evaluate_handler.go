package api

import (
	"context"
	"net/http"

	"togglr/internal/evaluator"
	"togglr/internal/service"
	v1 "togglr/pkg/api/v1"

	"github.com/gin-gonic/gin"
)

type EvaluateProvider interface {
	Evaluate(ctx context.Context, req evaluator.Request) (bool, error)
}

type EvaluateHandler struct {
	service EvaluateProvider
}

func NewEvaluateHandler(service EvaluateProvider) *EvaluateHandler {
	return &EvaluateHandler{service: service}
}

// Evaluate answers the flag question for one caller. Explicit request
// fields win; a verified identity token fills in whatever the body left
// empty. A store failure is a 500, never a silent false.
func (h *EvaluateHandler) Evaluate(c *gin.Context) {
	var r v1.EvaluateRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(400, gin.H{"error": "JSON format error"})
		return
	}
	if r.FeatureKey == "" {
		c.JSON(400, gin.H{"error": "feature_key is required"})
		return
	}

	if id := service.IdentityFrom(c.Request.Context()); id != nil {
		if r.UserID == "" {
			r.UserID = id.UserID
		}
		if len(r.Groups) == 0 {
			r.Groups = id.Groups
		}
	}

	enabled, err := h.service.Evaluate(c.Request.Context(), evaluator.Request{
		FeatureKey: r.FeatureKey,
		UserID:     r.UserID,
		Groups:     r.Groups,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "evaluation failed"})
		return
	}

	c.JSON(200, v1.EvaluateResponse{
		FeatureKey: r.FeatureKey,
		Enabled:    enabled,
	})
}
