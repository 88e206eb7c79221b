package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/middleware"
	"github.com/iliyamo/tour-booking/internal/service"
)

// statusFor maps service errors to HTTP status codes. Order matters for
// errors that wrap more than one sentinel.
var statusFor = []struct {
	err    error
	status int
}{
	{service.ErrValidation, http.StatusBadRequest},
	{service.ErrInvalidSignature, http.StatusBadRequest},
	{service.ErrAmountMismatch, http.StatusBadRequest},
	{service.ErrInvalidSecret, http.StatusForbidden},
	{service.ErrForbidden, http.StatusForbidden},
	{service.ErrTravelerLocked, http.StatusForbidden},
	{service.ErrTourNotFound, http.StatusNotFound},
	{service.ErrBookingNotFound, http.StatusNotFound},
	{service.ErrPaymentNotFound, http.StatusNotFound},
	{service.ErrPaymentNotReady, http.StatusAccepted},
	{service.ErrCapacityConflict, http.StatusConflict},
	{service.ErrGuideUnavailable, http.StatusConflict},
	{service.ErrBookingExpired, http.StatusConflict},
	{service.ErrInvalidTransition, http.StatusConflict},
	{service.ErrStaleState, http.StatusConflict},
	{service.ErrAlreadyReviewed, http.StatusConflict},
	{service.ErrDayBooked, http.StatusConflict},
}

// fail writes {"error": ...} with the status mapped from err. Unmapped
// errors are logged and hidden behind a 500.
func fail(c echo.Context, log logrus.FieldLogger, err error) error {
	for _, m := range statusFor {
		if errors.Is(err, m.err) {
			return c.JSON(m.status, echo.Map{"error": err.Error()})
		}
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Error()})
	}
	log.WithError(err).WithFields(logrus.Fields{"method": c.Request().Method, "route": c.Path()}).Error("request failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// bindStrict decodes a JSON body into dst rejecting unknown fields and
// trailing data. An empty body leaves dst untouched.
func bindStrict(c echo.Context, dst interface{}) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: unreadable body", service.ErrValidation)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", service.ErrValidation, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after body", service.ErrValidation)
	}
	return nil
}

// actor reads the caller set by the JWT middleware.
func actor(c echo.Context) (service.Actor, bool) {
	id, role, ok := middleware.Identity(c)
	return service.Actor{UserID: id, Role: role}, ok
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

func idParam(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid %s", service.ErrValidation, name)
	}
	return id, nil
}
