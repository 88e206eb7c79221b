package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/tour-booking/internal/model"
)

// TourRepo reads tours and maintains the counters booking owns.
type TourRepo struct {
	db *sql.DB
}

// NewTourRepo returns a TourRepo bound to db.
func NewTourRepo(db *sql.DB) *TourRepo { return &TourRepo{db: db} }

const tourColumns = `id, guide_id, title, max_participants, price_adult, price_youth, price_child,
	available_slots, total_bookings, rating, deleted_at`

func scanTour(row interface{ Scan(...any) error }) (*model.Tour, error) {
	var t model.Tour
	var rating sql.NullFloat64
	var deleted sql.NullTime
	if err := row.Scan(&t.ID, &t.GuideID, &t.Title, &t.MaxParticipants, &t.PriceAdult, &t.PriceYouth,
		&t.PriceChild, &t.AvailableSlots, &t.TotalBookings, &rating, &deleted); err != nil {
		return nil, err
	}
	t.Rating = floatPtr(rating)
	t.DeletedAt = timePtr(deleted)
	return &t, nil
}

// GetByID returns a live tour. Soft-deleted tours are ErrNotFound.
func (r *TourRepo) GetByID(ctx context.Context, id uint64) (*model.Tour, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tourColumns+` FROM tours WHERE id = ? AND deleted_at IS NULL`, id)
	t, err := scanTour(row)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// AdjustSlotsTx adds delta (negative on booking, positive on release)
// to the tour's available_slots counter.
func (r *TourRepo) AdjustSlotsTx(ctx context.Context, tx *sql.Tx, tourID uint64, delta int) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tours SET available_slots = available_slots + ? WHERE id = ?`, delta, tourID)
	if err != nil {
		return fmt.Errorf("adjust slots tour %d: %w", tourID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementBookingsTx bumps total_bookings after a confirmed payment.
func (r *TourRepo) IncrementBookingsTx(ctx context.Context, tx *sql.Tx, tourID uint64) error {
	_, err := tx.ExecContext(ctx, `UPDATE tours SET total_bookings = total_bookings + 1 WHERE id = ?`, tourID)
	return err
}

// UpdateRating stores the average tour rating.
func (r *TourRepo) UpdateRating(ctx context.Context, tourID uint64, rating float64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tours SET rating = ? WHERE id = ?`, rating, tourID)
	return err
}
