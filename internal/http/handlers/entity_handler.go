// README: Registration, service catalog and worker profile handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"karigar/internal/modules/booking"
	"karigar/internal/modules/entity"
	"karigar/internal/modules/matching"
	"karigar/internal/types"
)

type EntityHandler struct {
	entities *entity.Service
	bookings *booking.Service
	index    matching.Index
}

// NewEntityHandler wires the directory handlers. index may be nil when
// nearest-worker matching is disabled.
func NewEntityHandler(entities *entity.Service, bookings *booking.Service, index matching.Index) *EntityHandler {
	return &EntityHandler{entities: entities, bookings: bookings, index: index}
}

type registerReq struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
	City        string `json:"city"`
	Bio         string `json:"bio"`
	CrewSize    int    `json:"crew_size"`
}

func (h *EntityHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	reg, err := h.entities.Register(c.Request.Context(), entity.RegisterCommand{
		Email:       req.Email,
		Password:    req.Password,
		Role:        types.Role(req.Role),
		DisplayName: req.DisplayName,
		Phone:       req.Phone,
		City:        req.City,
		Bio:         req.Bio,
		CrewSize:    req.CrewSize,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, reg)
}

func (h *EntityHandler) ListServices(c *gin.Context) {
	list, err := h.entities.ListServices(c.Request.Context())
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"services": list})
}

type createServiceReq struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Price       types.Money `json:"price"`
}

func (h *EntityHandler) CreateService(c *gin.Context) {
	var req createServiceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	sv, err := h.entities.CreateService(c.Request.Context(), entity.CreateServiceCommand{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, sv)
}

func (h *EntityHandler) GetWorker(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	w, err := h.entities.GetWorker(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, w)
}

// GetUserWorker serves the worker profile owned by a user account.
func (h *EntityHandler) GetUserWorker(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	w, err := h.entities.WorkerByUser(c.Request.Context(), userID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, w)
}

type workerPatchReq struct {
	DisplayName     *string      `json:"display_name"`
	Bio             *string      `json:"bio"`
	Skills          []string     `json:"skills"`
	ServiceRadiusKm *float64     `json:"service_radius_km"`
	BasePrice       *types.Money `json:"base_price"`
	CrewSize        *int         `json:"crew_size"`
}

func (h *EntityHandler) PatchWorker(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	h.patchWorker(c, id)
}

// PatchUserWorker edits the worker profile owned by a user account.
func (h *EntityHandler) PatchUserWorker(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	w, err := h.entities.WorkerByUser(c.Request.Context(), userID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	h.patchWorker(c, w.ID)
}

func (h *EntityHandler) patchWorker(c *gin.Context, id types.ID) {
	var req workerPatchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	w, err := h.entities.UpdateWorkerProfile(c.Request.Context(), id, entity.WorkerPatch{
		DisplayName:     req.DisplayName,
		Bio:             req.Bio,
		Skills:          req.Skills,
		ServiceRadiusKm: req.ServiceRadiusKm,
		BasePrice:       req.BasePrice,
		CrewSize:        req.CrewSize,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, w)
}

type presenceReq struct {
	Online   *bool        `json:"online"`
	Location *types.Point `json:"location"`
}

// SetPresence toggles an idle worker online or offline and keeps the
// matching index in step.
func (h *EntityHandler) SetPresence(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req presenceReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Online == nil {
		writeError(c, http.StatusBadRequest, "online is required")
		return
	}
	if req.Location != nil && !req.Location.Valid() {
		writeError(c, http.StatusBadRequest, "location out of range")
		return
	}
	ctx := c.Request.Context()
	if err := h.bookings.SetPresence(ctx, id, *req.Online); err != nil {
		writeDomainError(c, err)
		return
	}
	w, err := h.entities.GetWorker(ctx, id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if h.index != nil {
		h.syncIndex(c, w, *req.Online, req.Location)
	}
	writeJSON(c, http.StatusOK, w)
}

func (h *EntityHandler) syncIndex(c *gin.Context, w *entity.Worker, online bool, at *types.Point) {
	ctx := c.Request.Context()
	var err error
	switch {
	case !online:
		err = h.index.RemoveWorker(ctx, w.ID)
	case at != nil:
		err = h.index.UpdateWorker(ctx, w.ID, *at)
	case w.LastLocation != nil:
		err = h.index.UpdateWorker(ctx, w.ID, *w.LastLocation)
	}
	if err != nil {
		_ = c.Error(err)
	}
}
