package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/tour-booking/internal/handler"
	"github.com/iliyamo/tour-booking/internal/middleware"
	"github.com/iliyamo/tour-booking/internal/model"
)

// RegisterTraveler mounts the traveler-only routes outside /v1/bookings.
func RegisterTraveler(e *echo.Echo, r *handler.RankingHandler, g Guards) {
	e.POST("/v1/reviews", r.Review, g.Auth, middleware.RequireRole(model.RoleTraveler))
}
