package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/socialgraph/cache"
	"github.com/kasuganosora/socialgraph/config"
	"github.com/kasuganosora/socialgraph/metrics"
	mw "github.com/kasuganosora/socialgraph/middleware"
	"github.com/kasuganosora/socialgraph/notify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Presence tracks open real-time connections per user.
type Presence interface {
	Connect(ctx context.Context, userID int64) error
	Disconnect(ctx context.Context, userID int64) error
}

// ReadMarker clears a conversation's unread counter.
type ReadMarker interface {
	MarkRead(ctx context.Context, owner, peer int64) error
}

// Handler is the Gin handler for GET /ws.
type Handler struct {
	pubsub    cache.PubSub
	cache     cache.Cache
	sec       config.SecurityConfig
	presence  Presence
	channel   notify.ChannelFunc
	keepAlive time.Duration
	router    *Router
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler with the ping and mark_read
// commands registered. sec.AllowedOrigins controls which origins are
// accepted; an empty slice permits all origins.
func NewHandler(
	pubsub cache.PubSub,
	c cache.Cache,
	sec config.SecurityConfig,
	presence Presence,
	reads ReadMarker,
	channel notify.ChannelFunc,
	keepAlive time.Duration,
	logger *zap.Logger,
) *Handler {
	if channel == nil {
		channel = notify.UserChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		pubsub:    pubsub,
		cache:     c,
		sec:       sec,
		presence:  presence,
		channel:   channel,
		keepAlive: keepAlive,
		router:    NewRouter(logger),
		logger:    logger,
	}
	h.router.On("ping", handlePing)
	if reads != nil {
		h.router.On("mark_read", markReadHandler(reads))
	}

	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Router exposes the command router so callers can register more handlers.
func (h *Handler) Router() *Router { return h.router }

// ServeWS handles GET /ws?token=<jwt>.
func (h *Handler) ServeWS(c *gin.Context) {
	token := mw.BearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token", "kind": "Unauthorized"})
		return
	}
	userID, err := mw.Authenticate(c.Request.Context(), h.sec, h.cache, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "kind": "Unauthorized"})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribe before the upgrade completes so nothing published after the
	// client sees the handshake is lost.
	msgCh, unsub, err := h.pubsub.Subscribe(ctx, h.channel(userID))
	if err != nil {
		h.logger.Error("ws subscribe failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": "InternalFailure"})
		return
	}
	defer unsub()

	h.connect(ctx, userID)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		h.release(userID)
		return
	}

	sess := NewSession(userID, conn, h.keepAlive, h.logger)
	defer h.disconnect(sess)

	go forward(ctx, sess, msgCh)
	h.readPump(ctx, sess)
}

// forward copies published envelopes to the socket until ctx ends.
func forward(ctx context.Context, s *Session, msgCh <-chan *cache.Message) {
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			s.SendRaw([]byte(msg.Payload))
		case <-ctx.Done():
			return
		case <-s.Done:
			return
		}
	}
}

// readPump reads client packets until the connection closes.
func (h *Handler) readPump(ctx context.Context, s *Session) {
	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("user_id", s.UserID),
					zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(ctx, s, raw)
	}
}

func (h *Handler) connect(ctx context.Context, userID int64) {
	metrics.RealtimeConnections.WithLabelValues("ws").Inc()
	if h.presence == nil {
		return
	}
	if err := h.presence.Connect(ctx, userID); err != nil {
		h.logger.Warn("presence connect failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (h *Handler) disconnect(s *Session) {
	s.Close()
	h.release(s.UserID)
	h.logger.Info("ws disconnected", zap.Int64("user_id", s.UserID))
}

// release undoes connect once the request context may already be gone.
func (h *Handler) release(userID int64) {
	metrics.RealtimeConnections.WithLabelValues("ws").Dec()
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.presence.Disconnect(ctx, userID); err != nil {
		h.logger.Warn("presence disconnect failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

type pingPayload struct {
	ClientTS int64 `json:"client_ts"`
}

type pongPayload struct {
	ClientTS int64 `json:"client_ts"`
	ServerTS int64 `json:"server_ts"`
}

func handlePing(_ context.Context, s *Session, raw json.RawMessage) error {
	var in pingPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return errors.Wrap(err, "decode ping")
		}
	}
	payload, _ := json.Marshal(pongPayload{ClientTS: in.ClientTS, ServerTS: time.Now().UnixMilli()})
	s.Send(&Packet{Type: "pong", Payload: payload})
	return nil
}

type markReadPayload struct {
	PeerID int64 `json:"peer_id"`
}

func markReadHandler(reads ReadMarker) HandlerFunc {
	return func(ctx context.Context, s *Session, raw json.RawMessage) error {
		var in markReadPayload
		if err := json.Unmarshal(raw, &in); err != nil {
			return errors.Wrap(err, "decode mark_read")
		}
		if in.PeerID <= 0 {
			return errors.New("mark_read: peer_id required")
		}
		return reads.MarkRead(ctx, s.UserID, in.PeerID)
	}
}
