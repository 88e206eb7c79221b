package service

import (
	"context"
	"net/url"
	"time"

	"github.com/iliyamo/tour-booking/internal/gateway"
	"github.com/iliyamo/tour-booking/internal/ledger"
	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/queue"
	"github.com/iliyamo/tour-booking/internal/repository"
)

// BookingStore is the persistence the booking flow needs.
// *repository.Store implements it.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *model.Booking) error
	GetByID(ctx context.Context, id uint64) (*model.Booking, error)
	ListByTraveler(ctx context.Context, travelerID uint64) ([]model.Booking, error)
	ListByGuide(ctx context.Context, guideID uint64) ([]model.Booking, error)
	Transition(ctx context.Context, b *model.Booking, from model.BookingStatus, fx repository.Effects) error
	SubmitReview(ctx context.Context, rv *model.Review) error
	CommittedSeats(ctx context.Context, tourID uint64, from, to time.Time) (map[string]int, error)
	ListExpirable(ctx context.Context, now time.Time, lead time.Duration, limit int) ([]model.Booking, error)
	ListWaitingSince(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error)
	ListPaidEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error)
	CountByGuideStatus(ctx context.Context, guideID uint64, status model.BookingStatus) (int, error)
	NoShowCandidates(ctx context.Context) ([]uint64, error)
	RecentPayLater(ctx context.Context, travelerID uint64, since *time.Time, n int) ([]model.Booking, error)
}

// PaymentStore persists payment attempts.
type PaymentStore interface {
	Create(ctx context.Context, p *model.Payment) error
	GetByTransactionID(ctx context.Context, txnID string) (*model.Payment, error)
	LatestForBooking(ctx context.Context, bookingID uint64) (*model.Payment, error)
	Finalize(ctx context.Context, p *model.Payment, status model.PaymentStatus) error
	RefundLateCapture(ctx context.Context, p *model.Payment) error
}

// TourReader is the tour read model plus the rating booking maintains.
type TourReader interface {
	GetByID(ctx context.Context, id uint64) (*model.Tour, error)
	UpdateRating(ctx context.Context, tourID uint64, rating float64) error
}

// UserStore is the user read model plus the penalty and standing columns.
type UserStore interface {
	GetByID(ctx context.Context, id uint64) (*model.User, error)
	ListGuideIDs(ctx context.Context) ([]uint64, error)
	Lock(ctx context.Context, userID uint64, until, now time.Time) error
	UnlockExpired(ctx context.Context, now time.Time) (int64, error)
	UpdateGuideStanding(ctx context.Context, guideID uint64, rating *float64, rank int) error
}

// CalendarStore persists guide day availability.
type CalendarStore interface {
	Range(ctx context.Context, guideID uint64, from, to time.Time) ([]model.CalendarDay, error)
	CountUnavailable(ctx context.Context, guideID uint64, days []time.Time) (int, error)
	MarkBooked(ctx context.Context, guideID uint64, days []time.Time) error
	Release(ctx context.Context, guideID uint64, days []time.Time, exceptBookingID uint64) error
	SetAvailability(ctx context.Context, guideID uint64, days []time.Time, status model.DayStatus) error
}

// RankingStore persists guide scores and their inputs.
type RankingStore interface {
	Upsert(ctx context.Context, rk model.Ranking) error
	Get(ctx context.Context, guideID uint64) (*model.Ranking, error)
	RankOf(ctx context.Context, total float64) (int, error)
	Top(ctx context.Context, component model.RankingComponent, limit int) ([]model.Ranking, error)
	GuideRatings(ctx context.Context, guideID uint64) ([]int, error)
	TourRatings(ctx context.Context, tourID uint64) ([]int, error)
	InsertCheckin(ctx context.Context, guideID uint64, day time.Time) (bool, error)
	CountCheckins(ctx context.Context, guideID uint64) (int, error)
	InsertPost(ctx context.Context, postID, guideID uint64, day time.Time) (bool, error)
	CountedPosts(ctx context.Context, guideID uint64, perDay int) (int, error)
}

// NotificationStore is the notification sink.
type NotificationStore interface {
	Insert(ctx context.Context, n model.Notification) (bool, error)
}

// Ledger holds seats for unpaid bookings. *ledger.Ledger implements it.
type Ledger interface {
	Reserve(ctx context.Context, req ledger.ReserveRequest) (bool, error)
	Claim(ctx context.Context, h ledger.Hold, extend time.Duration) (bool, error)
	Release(ctx context.Context, h ledger.Hold) error
	Reserved(ctx context.Context, tourID uint64, dates []time.Time) (map[string]int, error)
}

// Gateway builds payment redirects and verifies callbacks.
type Gateway interface {
	BuildRedirectURL(req gateway.RedirectRequest) (string, error)
	ParseCallback(params url.Values) (gateway.Callback, error)
}

// Publisher enqueues messages for the background workers.
type Publisher interface {
	Publish(ctx context.Context, m queue.Message) error
}

// Mailer sends transactional email.
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}
