package model

import (
	"errors"
	"fmt"
	"time"
)

// BookingStatus is the lifecycle dimension of a booking.
type BookingStatus string

const (
	BookingPending        BookingStatus = "PENDING"
	BookingPaid           BookingStatus = "PAID"
	BookingWaitingConfirm BookingStatus = "WAITING_CONFIRM"
	BookingCompleted      BookingStatus = "COMPLETED"
	BookingNotCompleted   BookingStatus = "NOT_COMPLETED"
	BookingCanceled       BookingStatus = "CANCELED"
)

// IsTerminal reports whether no further transition may leave s.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingCompleted, BookingNotCompleted, BookingCanceled:
		return true
	}
	return false
}

// PaymentState is the payment dimension of a booking. It moves
// independently of BookingStatus: a CANCELED booking may carry TIMEOUT,
// FAILED or REFUNDED.
type PaymentState string

const (
	PaymentStatePending  PaymentState = "PENDING"
	PaymentStatePaid     PaymentState = "PAID"
	PaymentStateFailed   PaymentState = "FAILED"
	PaymentStateTimeout  PaymentState = "TIMEOUT"
	PaymentStateRefunded PaymentState = "REFUNDED"
)

// Event is something that happened to a booking.
type Event string

const (
	EventPaymentSucceeded Event = "PAYMENT_SUCCEEDED"
	EventPaymentFailed    Event = "PAYMENT_FAILED"
	EventTimeout          Event = "TIMEOUT"
	EventCancel           Event = "CANCEL"
	EventGuideConfirm     Event = "GUIDE_CONFIRM"
	EventTravelerConfirm  Event = "TRAVELER_CONFIRM"
	EventAutoComplete     Event = "AUTO_COMPLETE"
	EventNoShow           Event = "NO_SHOW"
)

// Events lists every event the state machine knows about.
var Events = []Event{
	EventPaymentSucceeded, EventPaymentFailed, EventTimeout, EventCancel,
	EventGuideConfirm, EventTravelerConfirm, EventAutoComplete, EventNoShow,
}

// Statuses lists every booking status.
var Statuses = []BookingStatus{
	BookingPending, BookingPaid, BookingWaitingConfirm,
	BookingCompleted, BookingNotCompleted, BookingCanceled,
}

// ErrInvalidTransition is returned when an event is not allowed in the
// booking's current state. The booking is left untouched.
var ErrInvalidTransition = errors.New("invalid booking transition")

// ErrAlreadyReviewed is returned by MarkReviewed on a reviewed booking.
var ErrAlreadyReviewed = errors.New("booking already reviewed")

// Booking is the authoritative record of a reservation.
type Booking struct {
	ID                 uint64        `json:"id"`
	TravelerID         uint64        `json:"traveler_id"`
	TourID             uint64        `json:"tour_id"`
	GuideID            uint64        `json:"guide_id"`
	StartDate          time.Time     `json:"start_date"`
	EndDate            time.Time     `json:"end_date"`
	Party                            // adults, youths, children
	TotalAmount        int64         `json:"total_amount"`
	DepositAmount      int64         `json:"deposit_amount"`
	PayLater           bool          `json:"pay_later"`
	TimeoutAt          time.Time     `json:"timeout_at"`
	Status             BookingStatus `json:"status"`
	PaymentStatus      PaymentState  `json:"payment_status"`
	GuideConfirmed     bool          `json:"guide_confirmed"`
	TravelerConfirmed  bool          `json:"traveler_confirmed"`
	IsReview           bool          `json:"is_review"`
	HoldID             string        `json:"-"` // ledger hold while PENDING
	CancelSecretHash   string        `json:"-"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Days returns the calendar days covered by the stay.
func (b *Booking) Days() []time.Time { return StayDays(b.StartDate, b.EndDate) }

// Apply moves the booking through the state machine. On success the
// status, payment status and confirmation flags reflect ev; on failure
// the booking is unchanged and ErrInvalidTransition is returned.
func (b *Booking) Apply(ev Event) error {
	next := *b
	switch b.Status {
	case BookingPending:
		switch ev {
		case EventPaymentSucceeded:
			next.Status, next.PaymentStatus = BookingPaid, PaymentStatePaid
		case EventPaymentFailed, EventCancel:
			next.Status, next.PaymentStatus = BookingCanceled, PaymentStateFailed
		case EventTimeout:
			next.Status, next.PaymentStatus = BookingCanceled, PaymentStateTimeout
		default:
			return invalid(b.Status, ev)
		}
	case BookingPaid:
		switch ev {
		case EventGuideConfirm:
			next.Status, next.GuideConfirmed = BookingWaitingConfirm, true
		case EventTravelerConfirm:
			next.Status, next.TravelerConfirmed = BookingWaitingConfirm, true
		case EventNoShow:
			next.Status = BookingNotCompleted
		case EventCancel:
			next.Status, next.PaymentStatus = BookingCanceled, PaymentStateRefunded
		default:
			return invalid(b.Status, ev)
		}
	case BookingWaitingConfirm:
		switch {
		case ev == EventGuideConfirm && !b.GuideConfirmed:
			next.Status, next.GuideConfirmed = BookingCompleted, true
		case ev == EventTravelerConfirm && !b.TravelerConfirmed:
			next.Status, next.TravelerConfirmed = BookingCompleted, true
		case ev == EventAutoComplete:
			next.Status = BookingCompleted
		default:
			return invalid(b.Status, ev)
		}
	default:
		return invalid(b.Status, ev)
	}
	*b = next
	return nil
}

// MarkReviewed flips IsReview. It is the one mutation allowed on a
// terminal booking and only succeeds once, on a COMPLETED booking.
func (b *Booking) MarkReviewed() error {
	if b.Status != BookingCompleted {
		return invalid(b.Status, "REVIEW")
	}
	if b.IsReview {
		return ErrAlreadyReviewed
	}
	b.IsReview = true
	return nil
}

// PaymentDeadline reports whether the booking's payment window has closed
// at now. Pay-later bookings also close once the stay start is within
// lead of now.
func (b *Booking) PaymentDeadline(now time.Time, lead time.Duration) bool {
	if b.Status != BookingPending {
		return false
	}
	if !b.TimeoutAt.After(now) {
		return true
	}
	return b.PayLater && !b.StartDate.After(now.Add(lead))
}

func invalid(s BookingStatus, ev Event) error {
	return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, s)
}
