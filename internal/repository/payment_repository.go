package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/tour-booking/internal/model"
)

// PaymentRepo persists gateway payment attempts. active_booking_id is set
// while a payment is PENDING and cleared when it finalizes, so the unique
// index on it allows at most one open attempt per booking.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a PaymentRepo bound to db.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

const paymentColumns = `id, booking_id, user_id, transaction_id, transaction_no, bank_code, status,
	amount_paid, payment_url, paid_at, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*model.Payment, error) {
	var p model.Payment
	var paidAt sql.NullTime
	if err := row.Scan(&p.ID, &p.BookingID, &p.UserID, &p.TransactionID, &p.TransactionNo, &p.BankCode,
		&p.Status, &p.AmountPaid, &p.PaymentURL, &paidAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.PaidAt = timePtr(paidAt)
	return &p, nil
}

// Create inserts a PENDING payment. A second open payment for the same
// booking fails with ErrDuplicate.
func (r *PaymentRepo) Create(ctx context.Context, p *model.Payment) error {
	const q = `INSERT INTO payments (booking_id, user_id, transaction_id, status, amount_paid, payment_url,
		active_booking_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, p.BookingID, p.UserID, p.TransactionID, model.PaymentPending,
		p.AmountPaid, p.PaymentURL, p.BookingID, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		if IsDuplicateKey(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	p.Status = model.PaymentPending
	return nil
}

// GetByTransactionID returns the payment with our transaction reference.
func (r *PaymentRepo) GetByTransactionID(ctx context.Context, txnID string) (*model.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE transaction_id = ?`, txnID))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// LatestForBooking returns the most recent payment attempt of a booking.
func (r *PaymentRepo) LatestForBooking(ctx context.Context, bookingID uint64) (*model.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE booking_id = ? ORDER BY id DESC LIMIT 1`, bookingID))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// FinalizeTx moves a PENDING payment to status, recording the provider
// fields. It returns ErrStaleState when the payment already left PENDING.
func (r *PaymentRepo) FinalizeTx(ctx context.Context, tx *sql.Tx, p *model.Payment, status model.PaymentStatus) error {
	res, err := tx.ExecContext(ctx, `UPDATE payments
		SET status = ?, transaction_no = ?, bank_code = ?, paid_at = ?, active_booking_id = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		status, p.TransactionNo, p.BankCode, nullTime(p.PaidAt), time.Now().UTC(), p.ID, model.PaymentPending)
	if err != nil {
		return fmt.Errorf("finalize payment %d: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleState
	}
	p.Status = status
	return nil
}

// CloseForBookingTx finalizes whatever payment of the booking is still
// open: PENDING becomes FAILED, and when refund is set a SUCCESS payment
// becomes REFUND. Bookings without a payment are fine.
func (r *PaymentRepo) CloseForBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64, refund bool) error {
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE payments
		SET status = ?, active_booking_id = NULL, updated_at = ?
		WHERE booking_id = ? AND status = ?`,
		model.PaymentFailed, now, bookingID, model.PaymentPending); err != nil {
		return fmt.Errorf("fail open payment of booking %d: %w", bookingID, err)
	}
	if !refund {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE payments SET status = ?, updated_at = ?
		WHERE booking_id = ? AND status = ?`,
		model.PaymentRefund, now, bookingID, model.PaymentSuccess); err != nil {
		return fmt.Errorf("refund payment of booking %d: %w", bookingID, err)
	}
	return nil
}

// Finalize is FinalizeTx in its own transaction, for payments whose
// booking is no longer being changed.
func (r *PaymentRepo) Finalize(ctx context.Context, p *model.Payment, status model.PaymentStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := r.FinalizeTx(ctx, tx, p, status); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RefundLateCapture marks a payment that was closed without ever hearing
// from the gateway (transaction_no still empty) as REFUND, recording the
// provider fields of the capture that arrived afterwards.
func (r *PaymentRepo) RefundLateCapture(ctx context.Context, p *model.Payment) error {
	res, err := r.db.ExecContext(ctx, `UPDATE payments
		SET status = ?, transaction_no = ?, bank_code = ?, paid_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND transaction_no = ''`,
		model.PaymentRefund, p.TransactionNo, p.BankCode, nullTime(p.PaidAt), time.Now().UTC(),
		p.ID, model.PaymentFailed)
	if err != nil {
		return fmt.Errorf("refund late capture %d: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleState
	}
	p.Status = model.PaymentRefund
	return nil
}
