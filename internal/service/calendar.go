package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/repository"
)

// CalendarService keeps guide calendars in step with bookings.
type CalendarService struct {
	store CalendarStore
}

// NewCalendarService returns a CalendarService over store.
func NewCalendarService(store CalendarStore) *CalendarService {
	return &CalendarService{store: store}
}

// IsBlocked reports whether the guide marked any of days UNAVAILABLE.
// BOOKED days do not block: a guide may lead several groups.
func (s *CalendarService) IsBlocked(ctx context.Context, guideID uint64, days []time.Time) (bool, error) {
	n, err := s.store.CountUnavailable(ctx, guideID, days)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkBooked records days as BOOKED.
func (s *CalendarService) MarkBooked(ctx context.Context, guideID uint64, days []time.Time) error {
	return s.store.MarkBooked(ctx, guideID, days)
}

// Release frees days held by bookingID that no other live booking needs.
func (s *CalendarService) Release(ctx context.Context, guideID uint64, days []time.Time, bookingID uint64) error {
	return s.store.Release(ctx, guideID, days, bookingID)
}

// SetAvailability lets a guide open or block days. Days that carry a
// booking cannot be changed.
func (s *CalendarService) SetAvailability(ctx context.Context, guideID uint64, days []time.Time, status model.DayStatus) error {
	if status != model.DayAvailable && status != model.DayUnavailable {
		return fmt.Errorf("%w: status must be AVAILABLE or UNAVAILABLE", ErrValidation)
	}
	if len(days) == 0 {
		return fmt.Errorf("%w: no days given", ErrValidation)
	}
	err := s.store.SetAvailability(ctx, guideID, days, status)
	if errors.Is(err, repository.ErrConflict) {
		return ErrDayBooked
	}
	return err
}

// Range returns every day between from and to, filling days without a
// stored row as AVAILABLE.
func (s *CalendarService) Range(ctx context.Context, guideID uint64, from, to time.Time) ([]model.CalendarDay, error) {
	days := model.StayDays(from, to)
	if days == nil {
		return nil, fmt.Errorf("%w: to is before from", ErrValidation)
	}
	stored, err := s.store.Range(ctx, guideID, from, to)
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]model.DayStatus, len(stored))
	for _, d := range stored {
		byDay[model.DateKey(d.Date)] = d.Status
	}
	out := make([]model.CalendarDay, len(days))
	for i, d := range days {
		st, ok := byDay[model.DateKey(d)]
		if !ok {
			st = model.DayAvailable
		}
		out[i] = model.CalendarDay{GuideID: guideID, Date: d, Status: st}
	}
	return out, nil
}
