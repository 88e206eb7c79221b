package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/model"
)

// PenaltyConfig sets when a traveler is locked for abandoning bookings.
type PenaltyConfig struct {
	Streak int           // consecutive timed-out pay-later bookings that trigger a lock
	Window time.Duration // lock length
}

// PenaltyService locks travelers who keep letting pay-later bookings
// time out and unlocks them when the window ends.
type PenaltyService struct {
	bookings BookingStore
	users    UserStore
	notify   NotificationSender
	cfg      PenaltyConfig
	log      logrus.FieldLogger
}

// NewPenaltyService wires a PenaltyService.
func NewPenaltyService(bookings BookingStore, users UserStore, notify NotificationSender, cfg PenaltyConfig, log logrus.FieldLogger) *PenaltyService {
	if cfg.Streak < 1 {
		cfg.Streak = 3
	}
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}
	return &PenaltyService{bookings: bookings, users: users, notify: notify, cfg: cfg, log: log.WithField("component", "penalty")}
}

// PenalizeNoShows locks every active traveler whose last Streak pay-later
// bookings since their previous penalty all timed out. It returns the
// number of travelers locked.
func (s *PenaltyService) PenalizeNoShows(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.bookings.NoShowCandidates(ctx)
	if err != nil {
		return 0, err
	}
	locked := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return locked, err
		}
		ok, err := s.penalize(ctx, id, now)
		if err != nil {
			s.log.WithError(err).WithField("traveler_id", id).Error("penalize traveler failed")
			continue
		}
		if ok {
			locked++
		}
	}
	return locked, nil
}

func (s *PenaltyService) penalize(ctx context.Context, travelerID uint64, now time.Time) (bool, error) {
	u, err := s.users.GetByID(ctx, travelerID)
	if err != nil {
		return false, err
	}
	if u.IsLocked(now) {
		return false, nil
	}
	recent, err := s.bookings.RecentPayLater(ctx, travelerID, u.PenalizedAt, s.cfg.Streak)
	if err != nil {
		return false, err
	}
	if !timedOutStreak(recent, s.cfg.Streak) {
		return false, nil
	}
	until := now.Add(s.cfg.Window)
	if err := s.users.Lock(ctx, travelerID, until, now); err != nil {
		return false, err
	}
	s.log.WithFields(logrus.Fields{"traveler_id": travelerID, "until": until}).Info("traveler locked")
	s.notify.Send(ctx, model.Notification{
		DedupeKey:    fmt.Sprintf("user:%d:locked:%d", travelerID, now.Unix()),
		Type:         model.NotificationBooking,
		ReceiverID:   travelerID,
		RelatedID:    travelerID,
		RelatedModel: "User",
		Message: fmt.Sprintf("Your last %d pay-later bookings expired unpaid. New bookings are blocked until %s.",
			s.cfg.Streak, until.Format(time.RFC1123)),
	})
	return true, nil
}

func timedOutStreak(bs []model.Booking, n int) bool {
	if len(bs) < n {
		return false
	}
	for _, b := range bs {
		if b.Status != model.BookingCanceled || b.PaymentStatus != model.PaymentStateTimeout {
			return false
		}
	}
	return true
}

// UnlockExpired reactivates travelers whose lock ended.
func (s *PenaltyService) UnlockExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.users.UnlockExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.WithField("count", n).Info("travelers unlocked")
	}
	return n, nil
}
