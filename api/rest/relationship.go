package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/socialgraph/middleware"
	"github.com/kasuganosora/socialgraph/relation"
)

// RelationshipHandler exposes the relationship state machine.
type RelationshipHandler struct {
	machine *relation.Machine
}

// NewRelationshipHandler creates a new RelationshipHandler.
func NewRelationshipHandler(m *relation.Machine) *RelationshipHandler {
	return &RelationshipHandler{machine: m}
}

type targetRequest struct {
	TargetID int64 `json:"target_id" binding:"required,gt=0"`
}

type respondRequest struct {
	Action string `json:"action" binding:"required"`
}

// Request handles POST /api/relationships/requests.
func (h *RelationshipHandler) Request(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	row, err := h.machine.Request(c.Request.Context(), mw.GetUserID(c), req.TargetID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"relationship": row})
}

// Respond handles POST /api/relationships/requests/:id/respond.
func (h *RelationshipHandler) Respond(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	row, err := h.machine.Respond(c.Request.Context(), mw.GetUserID(c), id, relation.Action(req.Action))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationship": row, "action": req.Action})
}

// Cancel handles POST /api/relationships/requests/:id/cancel.
func (h *RelationshipHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	row, err := h.machine.Cancel(c.Request.Context(), mw.GetUserID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationship": row})
}

// Remove handles POST /api/relationships/remove.
func (h *RelationshipHandler) Remove(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	row, err := h.machine.Remove(c.Request.Context(), mw.GetUserID(c), req.TargetID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationship": row})
}

// Block handles POST /api/relationships/block. 201 when a row was
// created, 200 when an existing one was overwritten.
func (h *RelationshipHandler) Block(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	row, created, err := h.machine.Block(c.Request.Context(), mw.GetUserID(c), req.TargetID)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"relationship": row})
}

// Unblock handles POST /api/relationships/unblock.
func (h *RelationshipHandler) Unblock(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	row, err := h.machine.Unblock(c.Request.Context(), mw.GetUserID(c), req.TargetID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationship": row})
}
