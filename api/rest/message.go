package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgraph/message"
	mw "github.com/kasuganosora/socialgraph/middleware"
	"github.com/kasuganosora/socialgraph/relation"
	"go.uber.org/zap"
)

// MessageHandler handles direct message endpoints.
type MessageHandler struct {
	svc    *message.Service
	users  relation.UserChecker
	logger *zap.Logger
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(svc *message.Service, users relation.UserChecker, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{svc: svc, users: users, logger: logger}
}

type sendRequest struct {
	ToID    int64  `json:"to_id" binding:"required,gt=0"`
	Content string `json:"content" binding:"required"`
}

type readRequest struct {
	PeerID int64 `json:"peer_id" binding:"required,gt=0"`
}

// Send handles POST /api/messages.
func (h *MessageHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ok, err := h.users.UserExists(c.Request.Context(), req.ToID)
	if err != nil {
		h.logger.Error("check recipient", zap.Int64("to_id", req.ToID), zap.Error(err))
		internalError(c)
		return
	}
	if !ok {
		writeError(c, &relation.Error{Kind: relation.KindNotFound, Message: relation.MsgUserNotFound})
		return
	}
	msg, err := h.svc.Send(c.Request.Context(), mw.GetUserID(c), req.ToID, req.Content)
	if errors.Is(err, message.ErrSelfMessage) || errors.Is(err, message.ErrEmptyContent) || errors.Is(err, message.ErrContentTooLong) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("send message", zap.Error(err))
		internalError(c)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// MarkRead handles POST /api/messages/read.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	var req readRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.svc.MarkRead(c.Request.Context(), mw.GetUserID(c), req.PeerID); err != nil {
		h.logger.Error("mark read", zap.Error(err))
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
