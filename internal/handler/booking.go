package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/service"
)

// BookingAPI is the booking lifecycle used by the HTTP layer.
type BookingAPI interface {
	Create(ctx context.Context, cmd service.CreateBookingCommand) (*model.Booking, error)
	Get(ctx context.Context, actor service.Actor, id uint64) (*model.Booking, error)
	List(ctx context.Context, actor service.Actor) ([]model.Booking, error)
	Cancel(ctx context.Context, actor service.Actor, id uint64, reason string) (*model.Booking, error)
	CancelWithSecret(ctx context.Context, id uint64, secret string) (*model.Booking, error)
	Confirm(ctx context.Context, actor service.Actor, id uint64) (*model.Booking, error)
}

// PaymentLinkFunc returns the pending payment of a booking owned by actor.
type PaymentLinkFunc func(ctx context.Context, actor service.Actor, bookingID uint64) (*model.Payment, error)

// BookingHandler serves /v1/bookings. Every route except cancel-with-secret
// runs behind JWTAuth.
type BookingHandler struct {
	bookings    BookingAPI
	paymentLink PaymentLinkFunc
	log         logrus.FieldLogger
}

func NewBookingHandler(bookings BookingAPI, paymentLink PaymentLinkFunc, log logrus.FieldLogger) *BookingHandler {
	return &BookingHandler{bookings: bookings, paymentLink: paymentLink, log: log.WithField("component", "booking-handler")}
}

// Create handles POST /v1/bookings. The traveler comes from the token,
// never from the body.
func (h *BookingHandler) Create(c echo.Context) error {
	a, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	var cmd service.CreateBookingCommand
	if err := bindStrict(c, &cmd); err != nil {
		return fail(c, h.log, err)
	}
	cmd.TravelerID = a.UserID
	b, err := h.bookings.Create(c.Request().Context(), cmd)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// List handles GET /v1/bookings: a traveler's own bookings, or the tours
// a guide leads.
func (h *BookingHandler) List(c echo.Context) error {
	a, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	bs, err := h.bookings.List(c.Request().Context(), a)
	if err != nil {
		return fail(c, h.log, err)
	}
	if bs == nil {
		bs = []model.Booking{}
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": bs})
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	return h.withBooking(c, h.bookings.Get)
}

// Confirm handles POST /v1/bookings/:id/confirm.
func (h *BookingHandler) Confirm(c echo.Context) error {
	return h.withBooking(c, h.bookings.Confirm)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Cancel handles POST /v1/bookings/:id/cancel with an optional reason.
func (h *BookingHandler) Cancel(c echo.Context) error {
	var req cancelRequest
	if err := bindStrict(c, &req); err != nil {
		return fail(c, h.log, err)
	}
	if err := c.Validate(req); err != nil {
		return fail(c, h.log, err)
	}
	return h.withBooking(c, func(ctx context.Context, a service.Actor, id uint64) (*model.Booking, error) {
		return h.bookings.Cancel(ctx, a, id, req.Reason)
	})
}

type secretCancelRequest struct {
	Secret string `json:"secret" validate:"required"`
}

// CancelWithSecret handles POST /v1/bookings/:id/cancel-with-secret. It is
// public: the secret from the confirmation email is the credential.
func (h *BookingHandler) CancelWithSecret(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return fail(c, h.log, err)
	}
	var req secretCancelRequest
	if err := bindStrict(c, &req); err != nil {
		return fail(c, h.log, err)
	}
	if err := c.Validate(req); err != nil {
		return fail(c, h.log, err)
	}
	b, err := h.bookings.CancelWithSecret(c.Request().Context(), id, req.Secret)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Payment handles GET /v1/bookings/:id/payment. Until the payment worker
// has produced the link it answers 202.
func (h *BookingHandler) Payment(c echo.Context) error {
	a, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	id, err := idParam(c, "id")
	if err != nil {
		return fail(c, h.log, err)
	}
	p, err := h.paymentLink(c.Request().Context(), a, id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"booking_id":     p.BookingID,
		"transaction_id": p.TransactionID,
		"amount":         p.AmountPaid,
		"payment_url":    p.PaymentURL,
	})
}

func (h *BookingHandler) withBooking(c echo.Context, fn func(context.Context, service.Actor, uint64) (*model.Booking, error)) error {
	a, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	id, err := idParam(c, "id")
	if err != nil {
		return fail(c, h.log, err)
	}
	b, err := fn(c.Request().Context(), a, id)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, b)
}
