// README: Booking handlers: create, read, list, lifecycle changes and audit log.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"karigar/internal/http/middleware"
	"karigar/internal/modules/booking"
	"karigar/internal/modules/resolver"
	"karigar/internal/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type BookingHandler struct {
	bookings *booking.Service
	resolver *resolver.Resolver
}

func NewBookingHandler(svc *booking.Service, res *resolver.Resolver) *BookingHandler {
	return &BookingHandler{bookings: svc, resolver: res}
}

type createBookingReq struct {
	CustomerID  string       `json:"customer_id"`
	ServiceID   string       `json:"service_id"`
	ScheduledAt *time.Time   `json:"scheduled_at"`
	Address     string       `json:"address"`
	City        string       `json:"city"`
	Location    *types.Point `json:"location"`
}

func (h *BookingHandler) Create(c *gin.Context) {
	var req createBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	b, err := h.bookings.Create(c.Request.Context(), booking.CreateCommand{
		CustomerID:  types.ID(req.CustomerID),
		ServiceID:   types.ID(req.ServiceID),
		ScheduledAt: req.ScheduledAt,
		Address:     req.Address,
		City:        req.City,
		Location:    req.Location,
		Actor:       middleware.Actor(c),
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	h.respond(c, http.StatusCreated, b)
}

func (h *BookingHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	b, err := h.bookings.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	h.respond(c, http.StatusOK, b)
}

func (h *BookingHandler) List(c *gin.Context) {
	limit, err := queryLimit(c, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	f := booking.Filter{
		Status:     booking.Status(c.Query("status")),
		CustomerID: types.ID(c.Query("customer_id")),
		WorkerID:   types.ID(c.Query("worker_id")),
		Unassigned: queryBool(c, "unassigned") || queryBool(c, "is_worker_null"),
		Limit:      limit,
	}
	h.list(c, f)
}

// WorkerBookings lists the bookings assigned to one worker.
func (h *BookingHandler) WorkerBookings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, err := queryLimit(c, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	h.list(c, booking.Filter{WorkerID: id, Status: booking.Status(c.Query("status")), Limit: limit})
}

func (h *BookingHandler) list(c *gin.Context, f booking.Filter) {
	ctx := c.Request.Context()
	list, err := h.bookings.List(ctx, f)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	views, err := h.resolver.ResolveMany(ctx, list)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": views, "count": len(views)})
}

// patchBookingReq either moves the booking along its status graph or edits
// its details, never both in one request.
type patchBookingReq struct {
	Status        *string      `json:"status"`
	Reason        string       `json:"reason"`
	Address       *string      `json:"address"`
	City          *string      `json:"city"`
	Location      *types.Point `json:"location"`
	ScheduledAt   *time.Time   `json:"scheduled_at"`
	ClearSchedule bool         `json:"clear_schedule"`
}

func (r patchBookingReq) hasDetails() bool {
	return r.Address != nil || r.City != nil || r.Location != nil || r.ScheduledAt != nil || r.ClearSchedule
}

func (h *BookingHandler) Patch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req patchBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Status != nil && req.hasDetails() {
		writeError(c, http.StatusBadRequest, "status and details cannot change in the same request")
		return
	}
	ctx := c.Request.Context()
	actor := middleware.Actor(c)

	var (
		b   *booking.Booking
		err error
	)
	switch {
	case req.Status != nil && booking.Status(*req.Status) == booking.StatusCancelled:
		b, err = h.bookings.Cancel(ctx, booking.CancelCommand{BookingID: id, Reason: req.Reason, Actor: actor})
	case req.Status != nil:
		b, err = h.bookings.Advance(ctx, booking.AdvanceCommand{BookingID: id, Target: booking.Status(*req.Status), Reason: req.Reason, Actor: actor})
	case req.hasDetails():
		b, err = h.bookings.Update(ctx, booking.UpdateCommand{BookingID: id, Actor: actor, Patch: booking.Patch{
			Address:       req.Address,
			City:          req.City,
			Location:      req.Location,
			ScheduledAt:   req.ScheduledAt,
			ClearSchedule: req.ClearSchedule,
		}})
	default:
		writeError(c, http.StatusBadRequest, "nothing to update")
		return
	}
	if err != nil {
		writeDomainError(c, err)
		return
	}
	h.respond(c, http.StatusOK, b)
}

type assignReq struct {
	WorkerID string `json:"worker_id"`
	Auto     bool   `json:"auto"`
}

func (h *BookingHandler) Assign(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	ctx := c.Request.Context()
	actor := middleware.Actor(c)
	var (
		b   *booking.Booking
		err error
	)
	switch {
	case req.Auto && req.WorkerID != "":
		writeError(c, http.StatusBadRequest, "worker_id and auto are exclusive")
		return
	case req.Auto:
		b, err = h.bookings.AutoAssign(ctx, id, actor)
	case req.WorkerID != "":
		b, err = h.bookings.AssignWorker(ctx, booking.AssignCommand{BookingID: id, WorkerID: types.ID(req.WorkerID), Actor: actor})
	default:
		writeError(c, http.StatusBadRequest, "worker_id or auto is required")
		return
	}
	if err != nil {
		writeDomainError(c, err)
		return
	}
	h.respond(c, http.StatusOK, b)
}

func (h *BookingHandler) Events(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	events, err := h.bookings.History(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "events": events})
}

func (h *BookingHandler) respond(c *gin.Context, status int, b *booking.Booking) {
	view, err := h.resolver.Resolve(c.Request.Context(), b)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, status, view)
}
