// README: Route/ETA handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"karigar/internal/modules/route"
)

type RouteHandler struct {
	route *route.Service
}

func NewRouteHandler(svc *route.Service) *RouteHandler {
	return &RouteHandler{route: svc}
}

func (h *RouteHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	est, err := h.route.Estimate(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, est)
}
