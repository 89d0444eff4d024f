// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"karigar/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// isValidID accepts the 32 char alphanumeric ids produced by types.NewID and
// shorter seeded ids.
func isValidID(v string) bool {
	if v == "" || len(v) > 32 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			continue
		}
		return false
	}
	return true
}

// pathID reads and validates a path parameter, writing a 400 when it is bad.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

var kindStatus = map[types.ErrorKind]int{
	types.KindInvalidInput:        http.StatusBadRequest,
	types.KindDanglingReference:   http.StatusInternalServerError,
	types.KindInvalidTransition:   http.StatusConflict,
	types.KindWorkerUnavailable:   http.StatusConflict,
	types.KindInsufficientData:    http.StatusUnprocessableEntity,
	types.KindProviderUnavailable: http.StatusServiceUnavailable,
	types.KindNotFound:            http.StatusNotFound,
}

// writeDomainError maps an error kind to its HTTP status. Internal failures
// hide their message.
func writeDomainError(c *gin.Context, err error) {
	kind := types.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		_ = c.Error(err)
		writeJSON(c, http.StatusInternalServerError, errorResponse{Error: "internal error", Kind: string(types.KindInternal)})
		return
	}
	if kind == types.KindDanglingReference {
		_ = c.Error(err)
	}
	writeJSON(c, status, errorResponse{Error: err.Error(), Kind: string(kind)})
}

// queryLimit parses ?limit=, applying def when absent and capping at max.
func queryLimit(c *gin.Context, def, max int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

func queryBool(c *gin.Context, name string) bool {
	switch c.Query(name) {
	case "1", "true", "yes":
		return true
	}
	return false
}
