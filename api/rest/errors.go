package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgraph/relation"
)

var kindStatus = map[relation.Kind]int{
	relation.KindInvalidOperation: http.StatusBadRequest,
	relation.KindUnauthorized:     http.StatusUnauthorized,
	relation.KindForbidden:        http.StatusForbidden,
	relation.KindNotFound:         http.StatusNotFound,
	relation.KindConflict:         http.StatusConflict,
	relation.KindInternal:         http.StatusInternalServerError,
}

// writeError renders err as {"error", "kind"}. Internal failures never leak
// their cause to the client.
func writeError(c *gin.Context, err error) {
	kind := relation.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := "internal error"
	var e *relation.Error
	if errors.As(err, &e) && kind != relation.KindInternal {
		msg = e.Message
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg, "kind": kind.String()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": relation.KindInvalidOperation.String()})
}

func internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": relation.KindInternal.String()})
}

// pathID parses the :id route parameter.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}
