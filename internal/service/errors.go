package service

import (
	"errors"

	"github.com/iliyamo/tour-booking/internal/gateway"
	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/repository"
)

// Errors returned by the booking services. Handlers map them to HTTP
// status codes; callers match them with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrCapacityConflict  = errors.New("not enough seats for the requested dates")
	ErrTourNotFound      = errors.New("tour not found")
	ErrBookingNotFound   = errors.New("booking not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrPaymentNotReady   = errors.New("payment link not ready")
	ErrBookingExpired    = errors.New("booking is no longer awaiting payment")
	ErrForbidden         = repository.ErrForbidden
	ErrTravelerLocked    = errors.New("traveler is temporarily locked")
	ErrGuideUnavailable  = errors.New("guide is unavailable on the requested dates")
	ErrDayBooked         = errors.New("day has a booking")
	ErrInvalidSecret     = errors.New("invalid cancellation secret")
	ErrStaleState        = repository.ErrStaleState
	ErrInvalidTransition = model.ErrInvalidTransition
	ErrAlreadyReviewed   = model.ErrAlreadyReviewed
	ErrInvalidSignature  = gateway.ErrInvalidSignature
	ErrAmountMismatch    = errors.New("paid amount does not match the payment")
)
