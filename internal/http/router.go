// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"karigar/internal/http/handlers"
	"karigar/internal/http/middleware"
	"karigar/internal/infra"
	"karigar/internal/modules/booking"
	"karigar/internal/modules/entity"
	"karigar/internal/modules/location"
	"karigar/internal/modules/matching"
	"karigar/internal/modules/resolver"
	"karigar/internal/modules/route"
)

type RouterDeps struct {
	Bookings *booking.Service
	Resolver *resolver.Resolver
	Entities *entity.Service
	Location *location.Service
	Route    *route.Service
	// Index is optional; presence changes keep it current when set.
	Index matching.Index
	// Verifier authenticates bearer tokens. When nil the actor is taken
	// from gateway headers.
	Verifier infra.TokenVerifier
	Logger   *slog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	r.Use(middleware.Logging(log), middleware.Recovery(log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api")
	if deps.Verifier != nil {
		api.Use(middleware.Auth(deps.Verifier))
	} else {
		api.Use(middleware.TrustedActor())
	}

	bookingHandler := handlers.NewBookingHandler(deps.Bookings, deps.Resolver)
	api.POST("/bookings", bookingHandler.Create)
	api.GET("/bookings", bookingHandler.List)
	api.GET("/bookings/:id", bookingHandler.Get)
	api.PATCH("/bookings/:id", bookingHandler.Patch)
	api.POST("/bookings/:id/assign", bookingHandler.Assign)
	api.GET("/bookings/:id/events", bookingHandler.Events)
	api.GET("/workers/:id/bookings", bookingHandler.WorkerBookings)

	locationHandler := handlers.NewLocationHandler(deps.Location)
	api.POST("/bookings/:id/location", locationHandler.Report)
	api.GET("/bookings/:id/location", locationHandler.Get)

	routeHandler := handlers.NewRouteHandler(deps.Route)
	api.GET("/bookings/:id/route", routeHandler.Get)

	entityHandler := handlers.NewEntityHandler(deps.Entities, deps.Bookings, deps.Index)
	api.POST("/users", entityHandler.Register)
	api.GET("/users/:id/worker", entityHandler.GetUserWorker)
	api.PATCH("/users/:id/worker", entityHandler.PatchUserWorker)
	api.GET("/services", entityHandler.ListServices)
	api.POST("/services", entityHandler.CreateService)
	api.GET("/workers/:id", entityHandler.GetWorker)
	api.PATCH("/workers/:id", entityHandler.PatchWorker)
	api.PUT("/workers/:id/presence", entityHandler.SetPresence)

	return r
}
