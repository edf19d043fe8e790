// Package sse streams presence snapshots to clients over Server-Sent Events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/TotoB12/loco/cache"
	"github.com/TotoB12/loco/config"
	mw "github.com/TotoB12/loco/middleware"
	"github.com/TotoB12/loco/presence"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles the SSE endpoint.
type Handler struct {
	store  *presence.Store
	cache  cache.Cache
	sec    config.SecurityConfig
	logger *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(store *presence.Store, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	return &Handler{store: store, cache: c, sec: sec, logger: logger}
}

// ServeSSE handles GET /api/stream?token=<jwt>.
// It emits one full presence snapshot event per applied change, starting
// with the current state, plus periodic keepalives.
func (h *Handler) ServeSSE(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	if _, err := mw.ParseToken(tokenStr, h.sec.JWTSecret); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.cache.Exists(ctx, "session:"+tokenStr)
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	snapshots, unsub := h.store.Subscribe()
	defer unsub()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				h.logger.Error("sse snapshot marshal failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: snapshot\ndata: %s\n\n", payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
