package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/tour-booking/internal/model"
)

// Effects lists the writes that must commit together with a booking
// status change.
//
// Fields:
//
//	SlotsDelta    – added to tours.available_slots (positive on release).
//	ClosePayment  – an open PENDING payment of the booking becomes FAILED.
//	Refund        – a SUCCESS payment of the booking becomes REFUND.
//	Payment       – a specific PENDING payment to finalize...
//	PaymentStatus – ...with this status.
//	CountBooking  – tours.total_bookings is incremented.
type Effects struct {
	SlotsDelta    int
	ClosePayment  bool
	Refund        bool
	Payment       *model.Payment
	PaymentStatus model.PaymentStatus
	CountBooking  bool
}

// Store combines the booking, tour, payment and review repositories for
// operations that span tables and must be atomic.
type Store struct {
	*BookingRepo
	db       *sql.DB
	tours    *TourRepo
	payments *PaymentRepo
	rankings *RankingRepo
}

// NewStore returns a Store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		BookingRepo: NewBookingRepo(db),
		db:          db,
		tours:       NewTourRepo(db),
		payments:    NewPaymentRepo(db),
		rankings:    NewRankingRepo(db),
	}
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CreateBooking inserts a PENDING booking and takes its seats off the
// tour's available_slots counter.
func (s *Store) CreateBooking(ctx context.Context, b *model.Booking) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.CreateTx(ctx, tx, b); err != nil {
			return err
		}
		return s.tours.AdjustSlotsTx(ctx, tx, b.TourID, -b.Slots())
	})
}

// Transition persists b's new state if the row is still in status from,
// applying fx in the same transaction. ErrStaleState means another
// writer moved the booking first and nothing was written.
func (s *Store) Transition(ctx context.Context, b *model.Booking, from model.BookingStatus, fx Effects) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.UpdateStateTx(ctx, tx, b, from); err != nil {
			return err
		}
		if fx.Payment != nil {
			if err := s.payments.FinalizeTx(ctx, tx, fx.Payment, fx.PaymentStatus); err != nil {
				return fmt.Errorf("finalize payment: %w", err)
			}
		}
		if fx.ClosePayment || fx.Refund {
			if err := s.payments.CloseForBookingTx(ctx, tx, b.ID, fx.Refund); err != nil {
				return err
			}
		}
		if fx.SlotsDelta != 0 {
			if err := s.tours.AdjustSlotsTx(ctx, tx, b.TourID, fx.SlotsDelta); err != nil {
				return err
			}
		}
		if fx.CountBooking {
			if err := s.tours.IncrementBookingsTx(ctx, tx, b.TourID); err != nil {
				return err
			}
		}
		return nil
	})
}

// SubmitReview flips the booking's is_review flag and stores the review
// atomically. ErrStaleState means the booking is not COMPLETED or was
// already reviewed.
func (s *Store) SubmitReview(ctx context.Context, rv *model.Review) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.MarkReviewedTx(ctx, tx, rv.BookingID); err != nil {
			return err
		}
		return s.rankings.InsertReviewTx(ctx, tx, rv)
	})
}
