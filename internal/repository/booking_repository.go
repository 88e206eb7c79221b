package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/tour-booking/internal/model"
)

// BookingRepo persists bookings. Status changes go through
// UpdateStateTx, which only writes when the row still has the status the
// caller read, so two racing writers never both win.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to db.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// DB exposes the handle for callers that open their own transactions.
func (r *BookingRepo) DB() *sql.DB { return r.db }

const bookingColumns = `id, traveler_id, tour_id, guide_id, start_date, end_date, adults, youths, children,
	total_amount, deposit_amount, pay_later, timeout_at, status, payment_status,
	guide_confirmed, traveler_confirmed, is_review, hold_id, cancel_secret_hash, cancellation_reason,
	created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (*model.Booking, error) {
	var b model.Booking
	err := row.Scan(&b.ID, &b.TravelerID, &b.TourID, &b.GuideID, &b.StartDate, &b.EndDate,
		&b.Adults, &b.Youths, &b.Children, &b.TotalAmount, &b.DepositAmount, &b.PayLater, &b.TimeoutAt,
		&b.Status, &b.PaymentStatus, &b.GuideConfirmed, &b.TravelerConfirmed, &b.IsReview,
		&b.HoldID, &b.CancelSecretHash, &b.CancellationReason, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.StartDate, b.EndDate = model.Day(b.StartDate), model.Day(b.EndDate)
	return &b, nil
}

func collectBookings(rows *sql.Rows) ([]model.Booking, error) {
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// CreateTx inserts b as a new booking and fills in its id.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const q = `INSERT INTO bookings (traveler_id, tour_id, guide_id, start_date, end_date, adults, youths, children,
		total_amount, deposit_amount, pay_later, timeout_at, status, payment_status, hold_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, b.TravelerID, b.TourID, b.GuideID,
		model.DateKey(b.StartDate), model.DateKey(b.EndDate), b.Adults, b.Youths, b.Children,
		b.TotalAmount, b.DepositAmount, b.PayLater, b.TimeoutAt.UTC(), b.Status, b.PaymentStatus,
		b.HoldID, b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// GetByID returns a booking.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ? AND deleted_at IS NULL`, id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

// ListByTraveler returns a traveler's bookings, newest first.
func (r *BookingRepo) ListByTraveler(ctx context.Context, travelerID uint64) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE traveler_id = ? AND deleted_at IS NULL ORDER BY created_at DESC, id DESC`, travelerID)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// ListByGuide returns bookings on a guide's tours, newest first.
func (r *BookingRepo) ListByGuide(ctx context.Context, guideID uint64) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE guide_id = ? AND deleted_at IS NULL ORDER BY created_at DESC, id DESC`, guideID)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// UpdateStateTx writes b's status, payment status, confirmation flags,
// cancellation reason and secret hash, provided the row is still in
// status from. It returns ErrStaleState when it is not.
func (r *BookingRepo) UpdateStateTx(ctx context.Context, tx *sql.Tx, b *model.Booking, from model.BookingStatus) error {
	const q = `UPDATE bookings
		SET status = ?, payment_status = ?, guide_confirmed = ?, traveler_confirmed = ?,
		    cancellation_reason = ?, cancel_secret_hash = ?, updated_at = ?
		WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, b.Status, b.PaymentStatus, b.GuideConfirmed, b.TravelerConfirmed,
		b.CancellationReason, b.CancelSecretHash, b.UpdatedAt.UTC(), b.ID, from)
	if err != nil {
		return fmt.Errorf("update booking %d: %w", b.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleState
	}
	return nil
}

// MarkReviewedTx flips is_review on a completed booking exactly once.
func (r *BookingRepo) MarkReviewedTx(ctx context.Context, tx *sql.Tx, bookingID uint64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE bookings SET is_review = 1 WHERE id = ? AND status = ? AND is_review = 0`,
		bookingID, model.BookingCompleted)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleState
	}
	return nil
}

// committedStatuses own seats outright; PENDING seats live in the ledger.
var committedStatuses = []any{
	model.BookingPaid, model.BookingWaitingConfirm, model.BookingCompleted, model.BookingNotCompleted,
}

// CommittedSeats returns, for each day in [from, to], the seats held by
// paid bookings of the tour. Days with no paid booking are absent.
func (r *BookingRepo) CommittedSeats(ctx context.Context, tourID uint64, from, to time.Time) (map[string]int, error) {
	args := append([]any{tourID, model.DateKey(to), model.DateKey(from)}, committedStatuses...)
	rows, err := r.db.QueryContext(ctx, `SELECT start_date, end_date, adults + youths + children
		FROM bookings
		WHERE tour_id = ? AND start_date <= ? AND end_date >= ? AND deleted_at IS NULL
		  AND status IN (`+placeholders(len(committedStatuses))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lo, hi := model.Day(from), model.Day(to)
	out := map[string]int{}
	for rows.Next() {
		var start, end time.Time
		var seats int
		if err := rows.Scan(&start, &end, &seats); err != nil {
			return nil, err
		}
		for _, d := range model.StayDays(start, end) {
			if d.Before(lo) || d.After(hi) {
				continue
			}
			out[model.DateKey(d)] += seats
		}
	}
	return out, rows.Err()
}

// ListExpirable returns PENDING bookings whose payment window closed at
// now: the deadline passed, or a pay-later stay starts within lead.
func (r *BookingRepo) ListExpirable(ctx context.Context, now time.Time, lead time.Duration, limit int) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = ? AND deleted_at IS NULL
		  AND (timeout_at <= ? OR (pay_later = 1 AND start_date <= ?))
		ORDER BY timeout_at LIMIT ?`,
		model.BookingPending, now.UTC(), model.DateKey(now.Add(lead)), limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// ListWaitingSince returns WAITING_CONFIRM bookings last touched at or
// before cutoff.
func (r *BookingRepo) ListWaitingSince(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = ? AND updated_at <= ? AND deleted_at IS NULL ORDER BY updated_at LIMIT ?`,
		model.BookingWaitingConfirm, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// ListPaidEndedBefore returns PAID bookings whose stay ended on or before
// cutoff without either party confirming.
func (r *BookingRepo) ListPaidEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = ? AND end_date <= ? AND deleted_at IS NULL ORDER BY end_date LIMIT ?`,
		model.BookingPaid, model.DateKey(cutoff), limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// CountByGuideStatus returns how many of a guide's bookings are in status.
func (r *BookingRepo) CountByGuideStatus(ctx context.Context, guideID uint64, status model.BookingStatus) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE guide_id = ? AND status = ? AND deleted_at IS NULL`,
		guideID, status).Scan(&n)
	return n, err
}

// NoShowCandidates returns active travelers with at least one timed-out
// pay-later booking created after their last penalty.
func (r *BookingRepo) NoShowCandidates(ctx context.Context) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT b.traveler_id
		FROM bookings b JOIN users u ON u.id = b.traveler_id
		WHERE b.pay_later = 1 AND b.status = ? AND b.payment_status = ? AND u.is_active = 1
		  AND (u.penalized_at IS NULL OR b.created_at > u.penalized_at)`,
		model.BookingCanceled, model.PaymentStateTimeout)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecentPayLater returns a traveler's latest n pay-later bookings created
// after since (all of them when since is nil), newest first.
func (r *BookingRepo) RecentPayLater(ctx context.Context, travelerID uint64, since *time.Time, n int) ([]model.Booking, error) {
	after := time.Unix(0, 0).UTC()
	if since != nil {
		after = since.UTC()
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE traveler_id = ? AND pay_later = 1 AND deleted_at IS NULL AND created_at > ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		travelerID, after, n)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}
