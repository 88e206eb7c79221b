package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/tour-booking/internal/model"
)

// CalendarRepo stores guide availability per day. A day without a row is
// AVAILABLE.
type CalendarRepo struct {
	db *sql.DB
}

// NewCalendarRepo returns a CalendarRepo bound to db.
func NewCalendarRepo(db *sql.DB) *CalendarRepo { return &CalendarRepo{db: db} }

func dayArgs(days []time.Time) []any {
	out := make([]any, len(days))
	for i, d := range days {
		out[i] = model.DateKey(d)
	}
	return out
}

// Range returns the stored days of a guide between from and to inclusive.
func (r *CalendarRepo) Range(ctx context.Context, guideID uint64, from, to time.Time) ([]model.CalendarDay, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT guide_id, day, status FROM guide_calendar
		WHERE guide_id = ? AND day BETWEEN ? AND ? ORDER BY day`,
		guideID, model.DateKey(from), model.DateKey(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CalendarDay
	for rows.Next() {
		var d model.CalendarDay
		if err := rows.Scan(&d.GuideID, &d.Date, &d.Status); err != nil {
			return nil, err
		}
		d.Date = model.Day(d.Date)
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountUnavailable returns how many of days the guide has blocked.
func (r *CalendarRepo) CountUnavailable(ctx context.Context, guideID uint64, days []time.Time) (int, error) {
	if len(days) == 0 {
		return 0, nil
	}
	args := append([]any{guideID, model.DayUnavailable}, dayArgs(days)...)
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM guide_calendar
		WHERE guide_id = ? AND status = ? AND day IN (`+placeholders(len(days))+`)`, args...).Scan(&n)
	return n, err
}

// MarkBooked sets days to BOOKED. Days the guide blocked stay UNAVAILABLE.
func (r *CalendarRepo) MarkBooked(ctx context.Context, guideID uint64, days []time.Time) error {
	if len(days) == 0 {
		return nil
	}
	q := `INSERT INTO guide_calendar (guide_id, day, status) VALUES `
	args := make([]any, 0, len(days)*3)
	for i, d := range days {
		if i > 0 {
			q += ","
		}
		q += "(?, ?, ?)"
		args = append(args, guideID, model.DateKey(d), model.DayBooked)
	}
	q += ` ON DUPLICATE KEY UPDATE status = IF(status = 'UNAVAILABLE', status, VALUES(status))`
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("mark booked guide %d: %w", guideID, err)
	}
	return nil
}

// Release reverts BOOKED days to AVAILABLE unless another live booking
// of the guide, other than exceptBookingID, still covers the day.
// UNAVAILABLE days are never touched.
func (r *CalendarRepo) Release(ctx context.Context, guideID uint64, days []time.Time, exceptBookingID uint64) error {
	if len(days) == 0 {
		return nil
	}
	args := []any{model.DayAvailable, guideID, model.DayBooked}
	args = append(args, dayArgs(days)...)
	args = append(args, guideID, exceptBookingID,
		model.BookingPending, model.BookingPaid, model.BookingWaitingConfirm)
	_, err := r.db.ExecContext(ctx, `UPDATE guide_calendar c SET c.status = ?
		WHERE c.guide_id = ? AND c.status = ? AND c.day IN (`+placeholders(len(days))+`)
		  AND NOT EXISTS (
		    SELECT 1 FROM bookings b
		    WHERE b.guide_id = ? AND b.id <> ? AND b.deleted_at IS NULL
		      AND b.status IN (?, ?, ?)
		      AND b.start_date <= c.day AND b.end_date >= c.day)`, args...)
	if err != nil {
		return fmt.Errorf("release guide %d: %w", guideID, err)
	}
	return nil
}

// SetAvailability marks days AVAILABLE or UNAVAILABLE. It fails with
// ErrConflict, changing nothing, if any of the days is BOOKED.
func (r *CalendarRepo) SetAvailability(ctx context.Context, guideID uint64, days []time.Time, status model.DayStatus) error {
	if len(days) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	args := append([]any{guideID, model.DayBooked}, dayArgs(days)...)
	var booked int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM guide_calendar
		WHERE guide_id = ? AND status = ? AND day IN (`+placeholders(len(days))+`) FOR UPDATE`,
		args...).Scan(&booked); err != nil {
		return err
	}
	if booked > 0 {
		return ErrConflict
	}

	q := `INSERT INTO guide_calendar (guide_id, day, status) VALUES `
	ins := make([]any, 0, len(days)*3)
	for i, d := range days {
		if i > 0 {
			q += ","
		}
		q += "(?, ?, ?)"
		ins = append(ins, guideID, model.DateKey(d), status)
	}
	q += ` ON DUPLICATE KEY UPDATE status = VALUES(status)`
	if _, err := tx.ExecContext(ctx, q, ins...); err != nil {
		return fmt.Errorf("set availability guide %d: %w", guideID, err)
	}
	return tx.Commit()
}
