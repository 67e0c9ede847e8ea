package api

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"togglr/internal/dto/resp"
	"togglr/internal/service"
	v1 "togglr/pkg/api/v1"
	"togglr/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type StreamProvider interface {
	GetCompensation(lastRev int64) ([]v1.ChangeEvent, bool)
	Snapshot(ctx context.Context) ([]v1.ChangeEvent, int64)
}

type StreamHandler struct {
	service   StreamProvider
	hub       *service.Hub
	heartbeat time.Duration
}

func NewStreamHandler(service StreamProvider, hub *service.Hub, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &StreamHandler{
		service:   service,
		hub:       hub,
		heartbeat: heartbeat,
	}
}

func parseFeatureFilter(raw string) map[string]bool {
	features := make(map[string]bool)
	if raw == "" {
		return features
	}
	for _, p := range strings.Split(raw, ",") {
		if strings.TrimSpace(p) != "" {
			features[strings.TrimSpace(p)] = true
		}
	}
	return features
}

// WatchFlags streams change events over SSE. A client resuming with
// last_rev gets the missed window replayed first; when the buffer no
// longer covers that revision it gets a reset event and must re-snapshot.
func (h *StreamHandler) WatchFlags(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")

	featuresStr := c.Query("features")
	allowedFeatures := parseFeatureFilter(featuresStr)

	lastRevStr := c.Query("last_rev")
	var lastRev int64
	if lastRevStr != "" {
		lastRev, _ = strconv.ParseInt(lastRevStr, 10, 64)
	}

	logger.Info("stream client connected",
		zap.String("features", featuresStr),
		zap.Int64("last_rev", lastRev),
		zap.String("ip", c.ClientIP()),
	)

	client := &service.Client{
		Send:     make(chan v1.ChangeEvent, 128),
		Features: allowedFeatures,
	}

	h.hub.Register <- client
	defer func() {
		h.hub.Unregister <- client
	}()

	events, ok := h.service.GetCompensation(lastRev)
	maxSentRev := lastRev
	if ok {
		for _, ev := range events {
			// Filter history
			if len(allowedFeatures) > 0 && !allowedFeatures[ev.FeatureKey] {
				continue
			}
			c.SSEvent("message", ev)
			maxSentRev = ev.Revision
		}
	} else {
		c.SSEvent("reset", "revision_too_old")
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-client.Send:
			if !ok {
				return false
			}

			// filter replicated messages
			if ev.Revision <= maxSentRev {
				return true
			}
			c.SSEvent("message", ev)
			maxSentRev = ev.Revision
			return true
		case <-ticker.C:
			c.SSEvent("ping", "pong")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Snapshot returns the latest known event per flag plus the revision to
// resume the watch from.
func (h *StreamHandler) Snapshot(c *gin.Context) {
	featuresStr := c.Query("features")
	allowedFeatures := parseFeatureFilter(featuresStr)

	events, rev := h.service.Snapshot(c.Request.Context())

	var filtered []v1.ChangeEvent
	if len(allowedFeatures) == 0 {
		filtered = events
	} else {
		filtered = make([]v1.ChangeEvent, 0, len(events))
		for _, ev := range events {
			if !allowedFeatures[ev.FeatureKey] {
				continue
			}
			filtered = append(filtered, ev)
		}
	}

	c.JSON(200, resp.SnapshotResponse{
		Data:     filtered,
		Revision: rev,
	})
}
