// Package service implements the booking flow: seat holds, the booking
// state machine, payment orchestration, reconciliation and ranking.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/tour-booking/internal/ledger"
	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/queue"
	"github.com/iliyamo/tour-booking/internal/repository"
	"github.com/iliyamo/tour-booking/internal/utils"
)

// BookingConfig tunes deadlines and money rules.
type BookingConfig struct {
	HoldWindow     time.Duration // immediate-pay deadline and minimum hold TTL
	LedgerTTLGrace time.Duration // added to every hold TTL
	PayLaterLead   time.Duration // pay-later bookings must be paid this long before the start
	DepositPercent int64
	MaxStayDays    int
	ConfirmRetries int
	AutoComplete   time.Duration // WAITING_CONFIRM older than this completes on its own
	NoShowAfter    time.Duration // PAID this long past the end date becomes NOT_COMPLETED
	BatchSize      int
}

// DefaultBookingConfig returns the production defaults.
func DefaultBookingConfig() BookingConfig {
	return BookingConfig{
		HoldWindow:     3 * time.Minute,
		LedgerTTLGrace: time.Minute,
		PayLaterLead:   48 * time.Hour,
		DepositPercent: 30,
		MaxStayDays:    30,
		ConfirmRetries: 3,
		AutoComplete:   7 * 24 * time.Hour,
		NoShowAfter:    3 * 24 * time.Hour,
		BatchSize:      200,
	}
}

// CreateBookingCommand is the traveler's booking request.
type CreateBookingCommand struct {
	TravelerID uint64 `json:"-"`
	TourID     uint64 `json:"tour_id" validate:"required"`
	StartDate  string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate    string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Adults     int    `json:"adults" validate:"gte=0"`
	Youths     int    `json:"youths" validate:"gte=0"`
	Children   int    `json:"children" validate:"gte=0"`
	PayLater   bool   `json:"pay_later"`
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID uint64
	Role   string
}

// RankingHooks receives completion outcomes that move a guide's score.
type RankingHooks interface {
	RecordCompletion(ctx context.Context, guideID uint64) error
	ApplyPenalty(ctx context.Context, guideID uint64) error
}

// BookingService owns booking creation, the cancellation funnel and the
// completion lifecycle.
type BookingService struct {
	store    BookingStore
	tours    TourReader
	users    UserStore
	ledger   Ledger
	calendar *CalendarService
	pub      Publisher
	notify   NotificationSender
	ranking  RankingHooks
	cfg      BookingConfig
	log      logrus.FieldLogger
	tracer   trace.Tracer
	validate *validator.Validate
	now      func() time.Time
}

// BookingDeps groups the collaborators of BookingService.
type BookingDeps struct {
	Store     BookingStore
	Tours     TourReader
	Users     UserStore
	Ledger    Ledger
	Calendar  *CalendarService
	Publisher Publisher
	Notifier  NotificationSender
	Ranking   RankingHooks
}

// NewBookingService wires a BookingService.
func NewBookingService(d BookingDeps, cfg BookingConfig, log logrus.FieldLogger) *BookingService {
	return &BookingService{
		store:    d.Store,
		tours:    d.Tours,
		users:    d.Users,
		ledger:   d.Ledger,
		calendar: d.Calendar,
		pub:      d.Publisher,
		notify:   d.Notifier,
		ranking:  d.Ranking,
		cfg:      cfg,
		log:      log.WithField("component", "booking"),
		tracer:   otel.Tracer("tour-booking/service"),
		validate: validator.New(),
		now:      time.Now,
	}
}

// Create validates the request, holds the seats, persists a PENDING
// booking and queues payment initiation.
func (s *BookingService) Create(ctx context.Context, cmd CreateBookingCommand) (*model.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "BookingService.Create",
		trace.WithAttributes(attribute.Int64("tour.id", int64(cmd.TourID))))
	defer span.End()

	b, err := s.create(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("booking.id", int64(b.ID)))
	return b, nil
}

func (s *BookingService) create(ctx context.Context, cmd CreateBookingCommand) (*model.Booking, error) {
	now := s.now().UTC()
	start, end, party, err := s.validateCreate(cmd, now)
	if err != nil {
		return nil, err
	}

	traveler, err := s.users.GetByID(ctx, cmd.TravelerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown traveler", ErrForbidden)
		}
		return nil, err
	}
	if traveler.IsLocked(now) {
		return nil, ErrTravelerLocked
	}

	tour, err := s.tours.GetByID(ctx, cmd.TourID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTourNotFound
		}
		return nil, err
	}
	if party.Slots() > tour.MaxParticipants {
		return nil, ErrCapacityConflict
	}

	days := model.StayDays(start, end)
	blocked, err := s.calendar.IsBlocked(ctx, tour.GuideID, days)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrGuideUnavailable
	}

	payLater, timeoutAt := s.deadline(cmd.PayLater, start, now)
	hold := ledger.Hold{ID: strings.ReplaceAll(uuid.NewString(), "-", ""), TourID: tour.ID, Dates: days, Slots: party.Slots()}
	committed, err := s.store.CommittedSeats(ctx, tour.ID, start, end)
	if err != nil {
		return nil, err
	}
	ok, err := s.ledger.Reserve(ctx, ledger.ReserveRequest{
		Hold:      hold,
		Capacity:  tour.MaxParticipants,
		Committed: committed,
		TTL:       s.holdTTL(timeoutAt, now),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCapacityConflict
	}
	if err := s.recheck(ctx, tour, hold, start, end); err != nil {
		s.releaseHold(ctx, hold)
		return nil, err
	}

	total := tour.Price(party)
	b := &model.Booking{
		TravelerID:    cmd.TravelerID,
		TourID:        tour.ID,
		GuideID:       tour.GuideID,
		StartDate:     start,
		EndDate:       end,
		Party:         party,
		TotalAmount:   total,
		DepositAmount: total * s.cfg.DepositPercent / 100,
		PayLater:      payLater,
		TimeoutAt:     timeoutAt,
		Status:        model.BookingPending,
		PaymentStatus: model.PaymentStatePending,
		HoldID:        hold.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateBooking(ctx, b); err != nil {
		s.releaseHold(ctx, hold)
		return nil, err
	}
	log := s.log.WithField("booking_id", b.ID)

	if err := s.calendar.MarkBooked(ctx, b.GuideID, days); err != nil {
		log.WithError(err).Error("mark calendar booked failed; cancelling")
		s.compensate(ctx, b, "calendar update failed")
		return nil, err
	}
	if err := s.pub.Publish(ctx, queue.PaymentInitiated{BookingID: b.ID, UserID: b.TravelerID}); err != nil {
		log.WithError(err).Error("enqueue payment failed; cancelling")
		s.compensate(ctx, b, "payment could not be initiated")
		return nil, err
	}
	log.WithFields(logrus.Fields{"tour_id": b.TourID, "slots": b.Slots(), "pay_later": b.PayLater}).Info("booking created")
	return b, nil
}

// recheck reads the ledger and then the database again. Seats a payment
// moves from one to the other meanwhile appear in at least one read.
func (s *BookingService) recheck(ctx context.Context, tour *model.Tour, hold ledger.Hold, start, end time.Time) error {
	held, err := s.ledger.Reserved(ctx, tour.ID, hold.Dates)
	if err != nil {
		return err
	}
	committed, err := s.store.CommittedSeats(ctx, tour.ID, start, end)
	if err != nil {
		return err
	}
	for _, d := range hold.Dates {
		k := model.DateKey(d)
		if held[k]+committed[k] > tour.MaxParticipants {
			s.log.WithFields(logrus.Fields{"tour_id": tour.ID, "date": k, "held": held[k], "committed": committed[k]}).
				Warn("capacity taken while reserving; hold rolled back")
			return ErrCapacityConflict
		}
	}
	return nil
}

func (s *BookingService) releaseHold(ctx context.Context, hold ledger.Hold) {
	if err := s.ledger.Release(ctx, hold); err != nil {
		s.log.WithError(err).WithField("tour_id", hold.TourID).Error("release hold failed; hold will expire by ttl")
	}
}

func holdOf(b *model.Booking) ledger.Hold {
	return ledger.Hold{ID: b.HoldID, TourID: b.TourID, Dates: b.Days(), Slots: b.Slots()}
}

func (s *BookingService) compensate(ctx context.Context, b *model.Booking, reason string) {
	if _, err := s.cancel(ctx, b.ID, model.EventCancel, reason); err != nil {
		s.log.WithError(err).WithField("booking_id", b.ID).Error("compensating cancel failed")
	}
}

func (s *BookingService) validateCreate(cmd CreateBookingCommand, now time.Time) (time.Time, time.Time, model.Party, error) {
	var party model.Party
	if err := s.validate.Struct(cmd); err != nil {
		return time.Time{}, time.Time{}, party, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	start, err := model.ParseDate(cmd.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, party, fmt.Errorf("%w: start_date", ErrValidation)
	}
	end, err := model.ParseDate(cmd.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, party, fmt.Errorf("%w: end_date", ErrValidation)
	}
	party = model.Party{Adults: cmd.Adults, Youths: cmd.Youths, Children: cmd.Children}
	switch {
	case party.Slots() < 1:
		return start, end, party, fmt.Errorf("%w: party must include at least one person", ErrValidation)
	case start.Before(model.Day(now)):
		return start, end, party, fmt.Errorf("%w: start_date is in the past", ErrValidation)
	case end.Before(start):
		return start, end, party, fmt.Errorf("%w: end_date is before start_date", ErrValidation)
	case len(model.StayDays(start, end)) > s.cfg.MaxStayDays:
		return start, end, party, fmt.Errorf("%w: stay longer than %d days", ErrValidation, s.cfg.MaxStayDays)
	}
	return start, end, party, nil
}

// deadline picks the single payment deadline of a new booking. Pay-later
// bookings must be paid PayLaterLead before the start; when that leaves
// less than the hold window the booking is treated as pay-now.
func (s *BookingService) deadline(payLater bool, start, now time.Time) (bool, time.Time) {
	immediate := now.Add(s.cfg.HoldWindow)
	if !payLater {
		return false, immediate
	}
	due := start.Add(-s.cfg.PayLaterLead)
	if !due.After(immediate) {
		return false, immediate
	}
	return true, due
}

// holdTTL keeps the ledger hold alive at least until the deadline.
func (s *BookingService) holdTTL(timeoutAt, now time.Time) time.Duration {
	ttl := timeoutAt.Sub(now)
	if ttl < s.cfg.HoldWindow {
		ttl = s.cfg.HoldWindow
	}
	return ttl + s.cfg.LedgerTTLGrace
}

// Get returns a booking visible to the actor.
func (s *BookingService) Get(ctx context.Context, actor Actor, id uint64) (*model.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.TravelerID != actor.UserID && b.GuideID != actor.UserID {
		return nil, ErrForbidden
	}
	return b, nil
}

// List returns the actor's bookings: their trips for travelers, bookings
// on their tours for guides.
func (s *BookingService) List(ctx context.Context, actor Actor) ([]model.Booking, error) {
	if actor.Role == model.RoleGuide {
		return s.store.ListByGuide(ctx, actor.UserID)
	}
	return s.store.ListByTraveler(ctx, actor.UserID)
}

// Cancel cancels a booking on behalf of its traveler or guide.
func (s *BookingService) Cancel(ctx context.Context, actor Actor, id uint64, reason string) (*model.Booking, error) {
	b, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "canceled by " + roleName(actor, b)
	}
	return s.cancel(ctx, b.ID, model.EventCancel, reason)
}

// CancelWithSecret cancels a paid booking for whoever holds the secret
// emailed at payment.
func (s *BookingService) CancelWithSecret(ctx context.Context, id uint64, secret string) (*model.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !utils.VerifySecret(b.CancelSecretHash, secret) {
		return nil, ErrInvalidSecret
	}
	return s.cancel(ctx, b.ID, model.EventCancel, "canceled with cancellation secret")
}

// Expire cancels a PENDING booking whose payment window closed. It is a
// no-op for bookings that already moved on.
func (s *BookingService) Expire(ctx context.Context, id uint64) (bool, error) {
	_, err := s.cancel(ctx, id, model.EventTimeout, "automatically canceled: payment timeout")
	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrStaleState) {
		return false, nil
	}
	return err == nil, err
}

// FailPayment cancels a PENDING booking after the gateway reported failure.
func (s *BookingService) FailPayment(ctx context.Context, id uint64) (*model.Booking, error) {
	return s.cancel(ctx, id, model.EventPaymentFailed, "payment failed")
}

// cancel is the single cancellation funnel. It claims the terminal state
// first, restoring tour slots and closing the payment row in the same
// transaction, and only then releases the ledger hold and calendar days.
// Losing the claim to another writer returns ErrStaleState with nothing
// released.
func (s *BookingService) cancel(ctx context.Context, id uint64, ev model.Event, reason string) (*model.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	from := b.Status
	if err := b.Apply(ev); err != nil {
		return nil, err
	}
	b.CancellationReason = reason
	b.UpdatedAt = s.now().UTC()
	fx := repository.Effects{
		SlotsDelta:   b.Slots(),
		ClosePayment: true,
		Refund:       from != model.BookingPending,
	}
	if err := s.store.Transition(ctx, b, from, fx); err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{"booking_id": b.ID, "event": ev, "from": from})
	if from == model.BookingPending {
		s.releaseHold(ctx, holdOf(b))
	}
	s.releaseDays(ctx, b)
	log.Info("booking canceled")

	if from != model.BookingPending {
		s.notify.Send(ctx, model.Notification{
			DedupeKey:    fmt.Sprintf("booking:%d:canceled", b.ID),
			Type:         model.NotificationBooking,
			ReceiverID:   b.GuideID,
			SenderID:     b.TravelerID,
			RelatedID:    b.ID,
			RelatedModel: "Booking",
			Message:      fmt.Sprintf("Booking #%d was canceled and the deposit will be refunded.", b.ID),
		})
	}
	return b, nil
}

// Confirm records the actor's completion confirmation. The first party
// moves a PAID booking to WAITING_CONFIRM, the second completes it.
// Lost races against the other party are retried on fresh state.
func (s *BookingService) Confirm(ctx context.Context, actor Actor, id uint64) (*model.Booking, error) {
	retries := s.cfg.ConfirmRetries
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		b, err := s.Get(ctx, actor, id)
		if err != nil {
			return nil, err
		}
		ev := model.EventTravelerConfirm
		if actor.UserID == b.GuideID && actor.UserID != b.TravelerID {
			ev = model.EventGuideConfirm
		}
		from := b.Status
		if err := b.Apply(ev); err != nil {
			return nil, err
		}
		b.UpdatedAt = s.now().UTC()
		err = s.store.Transition(ctx, b, from, repository.Effects{})
		if errors.Is(err, ErrStaleState) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		if b.Status == model.BookingCompleted {
			s.completed(ctx, b, "Booking has been confirmed by both parties and is COMPLETED.")
		}
		return b, nil
	}
	return nil, lastErr
}

// AutoComplete completes a WAITING_CONFIRM booking the other party never
// confirmed.
func (s *BookingService) AutoComplete(ctx context.Context, id uint64) (bool, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	from := b.Status
	if err := b.Apply(model.EventAutoComplete); err != nil {
		return false, nil
	}
	b.UpdatedAt = s.now().UTC()
	if err := s.store.Transition(ctx, b, from, repository.Effects{}); err != nil {
		if errors.Is(err, ErrStaleState) {
			return false, nil
		}
		return false, err
	}
	s.completed(ctx, b, "The booking has been automatically marked as COMPLETED after 7 days.")
	return true, nil
}

// MarkNotCompleted closes a PAID booking nobody confirmed after the tour
// ended and penalizes the guide.
func (s *BookingService) MarkNotCompleted(ctx context.Context, id uint64) (bool, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	from := b.Status
	if err := b.Apply(model.EventNoShow); err != nil {
		return false, nil
	}
	b.UpdatedAt = s.now().UTC()
	if err := s.store.Transition(ctx, b, from, repository.Effects{}); err != nil {
		if errors.Is(err, ErrStaleState) {
			return false, nil
		}
		return false, err
	}
	s.releaseDays(ctx, b)
	if err := s.ranking.ApplyPenalty(ctx, b.GuideID); err != nil {
		s.log.WithError(err).WithField("guide_id", b.GuideID).Error("apply ranking penalty failed")
	}
	s.notify.Send(ctx, model.Notification{
		DedupeKey:    fmt.Sprintf("booking:%d:not-completed", b.ID),
		Type:         model.NotificationBooking,
		ReceiverID:   b.GuideID,
		RelatedID:    b.ID,
		RelatedModel: "Booking",
		Message:      "Your booking has been marked as NOT_COMPLETED because completion was not confirmed within 3 days after the tour ended. Points have been deducted from your ranking.",
	})
	return true, nil
}

// releaseDays frees the guide's days unless another live booking still
// covers them.
func (s *BookingService) releaseDays(ctx context.Context, b *model.Booking) {
	if err := s.calendar.Release(ctx, b.GuideID, b.Days(), b.ID); err != nil {
		s.log.WithError(err).WithField("booking_id", b.ID).Error("calendar release failed")
	}
}

func (s *BookingService) completed(ctx context.Context, b *model.Booking, msg string) {
	s.releaseDays(ctx, b)
	if err := s.ranking.RecordCompletion(ctx, b.GuideID); err != nil {
		s.log.WithError(err).WithField("guide_id", b.GuideID).Error("record completion failed")
	}
	s.notify.Send(ctx, model.Notification{
		DedupeKey:    fmt.Sprintf("booking:%d:completed", b.ID),
		Type:         model.NotificationBooking,
		ReceiverID:   b.GuideID,
		RelatedID:    b.ID,
		RelatedModel: "Booking",
		Message:      msg,
	})
}

// DayAvailability is the remaining capacity of a tour on one day.
type DayAvailability struct {
	Date      string `json:"date"`
	Capacity  int    `json:"capacity"`
	Committed int    `json:"committed"`
	Held      int    `json:"held"`
	Remaining int    `json:"remaining"`
}

// Availability reports per-day remaining seats between from and to.
func (s *BookingService) Availability(ctx context.Context, tourID uint64, from, to time.Time) ([]DayAvailability, error) {
	days := model.StayDays(from, to)
	if days == nil || len(days) > s.cfg.MaxStayDays*2 {
		return nil, fmt.Errorf("%w: invalid date range", ErrValidation)
	}
	tour, err := s.tours.GetByID(ctx, tourID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTourNotFound
		}
		return nil, err
	}
	committed, err := s.store.CommittedSeats(ctx, tourID, from, to)
	if err != nil {
		return nil, err
	}
	held, err := s.ledger.Reserved(ctx, tourID, days)
	if err != nil {
		return nil, err
	}
	out := make([]DayAvailability, len(days))
	for i, d := range days {
		k := model.DateKey(d)
		rem := tour.MaxParticipants - committed[k] - held[k]
		if rem < 0 {
			rem = 0
		}
		out[i] = DayAvailability{Date: k, Capacity: tour.MaxParticipants, Committed: committed[k], Held: held[k], Remaining: rem}
	}
	return out, nil
}

func (s *BookingService) load(ctx context.Context, id uint64) (*model.Booking, error) {
	b, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

func roleName(actor Actor, b *model.Booking) string {
	if actor.UserID == b.GuideID {
		return "guide"
	}
	return "traveler"
}
