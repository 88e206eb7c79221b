package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/model"
)

// Sweep counts what a reconciliation pass did.
type Sweep struct {
	Scanned int
	Changed int
	Failed  int
}

// ExpireDue cancels PENDING bookings whose payment deadline passed at now.
func (s *BookingService) ExpireDue(ctx context.Context, now time.Time) (Sweep, error) {
	bs, err := s.store.ListExpirable(ctx, now, s.cfg.PayLaterLead, s.cfg.BatchSize)
	if err != nil {
		return Sweep{}, err
	}
	return s.sweep(ctx, "expire", bs, func(b model.Booking) (bool, error) {
		if !b.PaymentDeadline(now, s.cfg.PayLaterLead) {
			return false, nil
		}
		return s.Expire(ctx, b.ID)
	})
}

// AutoCompleteDue completes WAITING_CONFIRM bookings untouched since
// now minus the auto-complete delay.
func (s *BookingService) AutoCompleteDue(ctx context.Context, now time.Time) (Sweep, error) {
	bs, err := s.store.ListWaitingSince(ctx, now.Add(-s.cfg.AutoComplete), s.cfg.BatchSize)
	if err != nil {
		return Sweep{}, err
	}
	return s.sweep(ctx, "auto-complete", bs, func(b model.Booking) (bool, error) {
		return s.AutoComplete(ctx, b.ID)
	})
}

// NotCompletedDue closes PAID bookings whose tour ended before now minus
// the no-show grace period.
func (s *BookingService) NotCompletedDue(ctx context.Context, now time.Time) (Sweep, error) {
	bs, err := s.store.ListPaidEndedBefore(ctx, now.Add(-s.cfg.NoShowAfter), s.cfg.BatchSize)
	if err != nil {
		return Sweep{}, err
	}
	return s.sweep(ctx, "not-completed", bs, func(b model.Booking) (bool, error) {
		return s.MarkNotCompleted(ctx, b.ID)
	})
}

func (s *BookingService) sweep(ctx context.Context, name string, bs []model.Booking, fn func(model.Booking) (bool, error)) (Sweep, error) {
	res := Sweep{Scanned: len(bs)}
	for _, b := range bs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		changed, err := fn(b)
		if err != nil {
			res.Failed++
			s.log.WithError(err).WithFields(logrus.Fields{"sweep": name, "booking_id": b.ID}).Error("reconcile booking failed")
			continue
		}
		if changed {
			res.Changed++
		}
	}
	return res, nil
}
