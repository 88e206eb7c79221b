package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/tour-booking/internal/middleware"
	"github.com/iliyamo/tour-booking/internal/model"
)

// RegisterGuide mounts the guide-only routes: calendar edits, daily
// check-ins and the guide's own ranking.
func RegisterGuide(e *echo.Echo, h Handlers, g Guards) {
	guide := []echo.MiddlewareFunc{g.Auth, middleware.RequireRole(model.RoleGuide)}
	e.PUT("/v1/calendar", h.Calendar.SetCalendar, guide...)
	e.POST("/v1/checkins", h.Rankings.Checkin, guide...)
	e.GET("/v1/rankings/me", h.Rankings.Mine, guide...)
}
