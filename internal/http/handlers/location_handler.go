// README: Location handlers: fix reports and latest/history reads for a booking.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"karigar/internal/http/middleware"
	"karigar/internal/modules/location"
	"karigar/internal/types"
)

type LocationHandler struct {
	location *location.Service
}

func NewLocationHandler(svc *location.Service) *LocationHandler {
	return &LocationHandler{location: svc}
}

type reportFixReq struct {
	Party      string    `json:"party"`
	Lat        *float64  `json:"lat"`
	Lng        *float64  `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	RecordedAt time.Time `json:"recorded_at"`
}

// partyFor falls back to the caller's role when the body names no party.
func partyFor(req reportFixReq, role types.Role) location.Party {
	if req.Party != "" {
		return location.Party(req.Party)
	}
	switch role {
	case types.RoleWorker, types.RoleThekedar:
		return location.PartyWorker
	case types.RoleCustomer:
		return location.PartyCustomer
	}
	return ""
}

func (h *LocationHandler) Report(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reportFixReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	accepted, err := h.location.ReportFix(c.Request.Context(), location.ReportCommand{
		BookingID:  id,
		Party:      partyFor(req, middleware.Actor(c).Role),
		Point:      types.Point{Lat: *req.Lat, Lng: *req.Lng},
		Accuracy:   req.Accuracy,
		RecordedAt: req.RecordedAt,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, gin.H{"accepted": accepted})
}

func (h *LocationHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if queryBool(c, "history") {
		fixes, err := h.location.History(ctx, id, location.Party(c.Query("party")))
		if err != nil {
			writeDomainError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "fixes": fixes})
		return
	}
	latest, err := h.location.Latest(ctx, id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, latest)
}
