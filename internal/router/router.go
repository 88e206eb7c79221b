// Package router registers the HTTP routes on Echo.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/tour-booking/internal/handler"
	"github.com/iliyamo/tour-booking/internal/middleware"
	"github.com/iliyamo/tour-booking/internal/model"
)

// Handlers bundles everything the routes dispatch to.
type Handlers struct {
	Health   echo.HandlerFunc
	Bookings *handler.BookingHandler
	Payments *handler.PaymentHandler
	Calendar *handler.CalendarHandler
	Rankings *handler.RankingHandler
}

// Guards are the middleware that vary per deployment: JWT verification,
// the booking rate limit and the public read cache.
type Guards struct {
	Auth      echo.MiddlewareFunc
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
}

// Register mounts every route.
func Register(e *echo.Echo, h Handlers, g Guards) {
	e.GET("/healthz", h.Health)
	RegisterPublic(e, h, g)
	RegisterBookings(e, h.Bookings, g)
	RegisterGuide(e, h, g)
	RegisterTraveler(e, h.Rankings, g)
}

// RegisterPublic mounts the routes that need no token: gateway callbacks,
// calendars, availability and the leaderboard.
func RegisterPublic(e *echo.Echo, h Handlers, g Guards) {
	e.GET("/v1/payments/vnpay/return", h.Payments.Return)
	e.GET("/v1/payments/vnpay/ipn", h.Payments.IPN)
	e.GET("/v1/guides/:id/calendar", h.Calendar.GuideCalendar)
	e.GET("/v1/tours/:id/availability", h.Calendar.TourAvailability)
	e.GET("/v1/rankings/top", h.Rankings.Top, g.Cache)
	e.POST("/v1/bookings/:id/cancel-with-secret", h.Bookings.CancelWithSecret)
}

// RegisterBookings mounts /v1/bookings for travelers and guides. Only
// travelers create bookings, and creation is rate limited.
func RegisterBookings(e *echo.Echo, b *handler.BookingHandler, g Guards) {
	grp := e.Group("/v1/bookings", g.Auth, middleware.RequireRole(model.RoleTraveler, model.RoleGuide))
	grp.POST("", b.Create, middleware.RequireRole(model.RoleTraveler), g.RateLimit)
	grp.GET("", b.List)
	grp.GET("/:id", b.Get)
	grp.GET("/:id/payment", b.Payment)
	grp.POST("/:id/cancel", b.Cancel)
	grp.POST("/:id/confirm", b.Confirm)
}
