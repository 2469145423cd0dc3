package sse

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgraph/cache"
	"github.com/kasuganosora/socialgraph/config"
	"github.com/kasuganosora/socialgraph/metrics"
	mw "github.com/kasuganosora/socialgraph/middleware"
	"github.com/kasuganosora/socialgraph/notify"
	"go.uber.org/zap"
)

// Presence tracks open real-time connections per user.
type Presence interface {
	Connect(ctx context.Context, userID int64) error
	Disconnect(ctx context.Context, userID int64) error
}

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub    cache.PubSub
	c         cache.Cache
	sec       config.SecurityConfig
	presence  Presence
	channel   notify.ChannelFunc
	keepAlive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, c cache.Cache, sec config.SecurityConfig, presence Presence, channel notify.ChannelFunc, keepAlive time.Duration, logger *zap.Logger) *Handler {
	if channel == nil {
		channel = notify.UserChannel
	}
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pubsub:    pubsub,
		c:         c,
		sec:       sec,
		presence:  presence,
		channel:   channel,
		keepAlive: keepAlive,
		logger:    logger,
	}
}

// ServeSSE handles GET /events?token=<jwt>.
// It streams every envelope published to the caller's own channel.
func (h *Handler) ServeSSE(c *gin.Context) {
	token := mw.BearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token", "kind": "Unauthorized"})
		return
	}
	userID, err := mw.Authenticate(c.Request.Context(), h.sec, h.c, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "kind": "Unauthorized"})
		return
	}

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, h.channel(userID))
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": "InternalFailure"})
		return
	}
	defer unsub()

	h.connect(c.Request.Context(), userID)
	defer h.disconnect(userID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"user_id\":%d}\n\n", userID)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *Handler) connect(ctx context.Context, userID int64) {
	metrics.RealtimeConnections.WithLabelValues("sse").Inc()
	if h.presence == nil {
		return
	}
	if err := h.presence.Connect(ctx, userID); err != nil {
		h.logger.Warn("presence connect failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// disconnect runs after the request context is gone.
func (h *Handler) disconnect(userID int64) {
	metrics.RealtimeConnections.WithLabelValues("sse").Dec()
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.presence.Disconnect(ctx, userID); err != nil {
		h.logger.Warn("presence disconnect failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}
