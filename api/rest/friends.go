package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgraph/friends"
	mw "github.com/kasuganosora/socialgraph/middleware"
)

// FriendsHandler serves the relationship read views.
type FriendsHandler struct {
	agg *friends.Aggregator
}

// NewFriendsHandler creates a new FriendsHandler.
func NewFriendsHandler(agg *friends.Aggregator) *FriendsHandler {
	return &FriendsHandler{agg: agg}
}

// ListFriends handles GET /api/friends.
func (h *FriendsHandler) ListFriends(c *gin.Context) {
	list, err := h.agg.Friends(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": list})
}

// ReceivedRequests handles GET /api/relationships/requests/received.
func (h *FriendsHandler) ReceivedRequests(c *gin.Context) {
	list, err := h.agg.ReceivedRequests(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": list})
}

// SentRequests handles GET /api/relationships/requests/sent.
func (h *FriendsHandler) SentRequests(c *gin.Context) {
	list, err := h.agg.SentRequests(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": list})
}

// BlockedUsers handles GET /api/relationships/blocked.
func (h *FriendsHandler) BlockedUsers(c *gin.Context) {
	list, err := h.agg.BlockedUsers(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": list})
}

// SuggestedUsers handles GET /api/users/suggested.
func (h *FriendsHandler) SuggestedUsers(c *gin.Context) {
	list, err := h.agg.SuggestedUsers(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": list})
}
