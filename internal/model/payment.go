package model

import "time"

// PaymentStatus is the status of a single payment attempt.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
	PaymentRefund  PaymentStatus = "REFUND"
)

// IsFinal reports whether the payment has left PENDING.
func (s PaymentStatus) IsFinal() bool { return s != PaymentPending }

// Payment is one gateway attempt for a booking. Only one PENDING payment
// may exist per booking; after SUCCESS or FAILED the row only moves to
// REFUND.
//
// Fields:
//
//	TransactionID – our reference sent as the gateway's txn ref.
//	TransactionNo – provider's transaction number, set on callback.
//	PaymentURL    – redirect URL built by the payment worker.
type Payment struct {
	ID            uint64        `json:"id"`
	BookingID     uint64        `json:"booking_id"`
	UserID        uint64        `json:"user_id"`
	TransactionID string        `json:"transaction_id"`
	TransactionNo string        `json:"transaction_no,omitempty"`
	BankCode      string        `json:"bank_code,omitempty"`
	Status        PaymentStatus `json:"status"`
	AmountPaid    int64         `json:"amount_paid"`
	PaymentURL    string        `json:"payment_url"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
