package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/tour-booking/internal/gateway"
	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/repository"
	"github.com/iliyamo/tour-booking/internal/utils"
)

// CallbackResult is the outcome of a gateway callback.
type CallbackResult struct {
	BookingID     uint64              `json:"booking_id"`
	TransactionID string              `json:"transaction_id"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
	Confirmed     bool                `json:"confirmed"`
	Replayed      bool                `json:"replayed,omitempty"`
}

// IPNResponse is the body VNPay expects from the IPN endpoint.
type IPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// PaymentCallbackDeps groups the collaborators of PaymentCallback.
type PaymentCallbackDeps struct {
	Gateway  Gateway
	Payments PaymentStore
	Bookings *BookingService
	Users    UserStore
	Tours    TourReader
	Mailer   Mailer
	Notifier NotificationSender
}

// PaymentCallback applies verified gateway outcomes to payments and
// bookings.
type PaymentCallback struct {
	gw         Gateway
	payments   PaymentStore
	bookings   *BookingService
	users      UserStore
	tours      TourReader
	mailer     Mailer
	notify     NotificationSender
	secretCost int
	cancelURL  string
	log        logrus.FieldLogger
	tracer     trace.Tracer
}

// NewPaymentCallback wires a PaymentCallback. cancelURL is the page the
// confirmation email links to for secret cancellation.
func NewPaymentCallback(d PaymentCallbackDeps, cancelURL string, log logrus.FieldLogger) *PaymentCallback {
	return &PaymentCallback{
		gw:         d.Gateway,
		payments:   d.Payments,
		bookings:   d.Bookings,
		users:      d.Users,
		tours:      d.Tours,
		mailer:     d.Mailer,
		notify:     d.Notifier,
		secretCost: bcrypt.DefaultCost,
		cancelURL:  cancelURL,
		log:        log.WithField("component", "payment-callback"),
		tracer:     otel.Tracer("tour-booking/service"),
	}
}

// Handle verifies params and settles the payment they describe. It is
// safe to call repeatedly with the same params.
func (c *PaymentCallback) Handle(ctx context.Context, params url.Values) (CallbackResult, error) {
	ctx, span := c.tracer.Start(ctx, "PaymentCallback.Handle")
	defer span.End()

	res, err := c.handle(ctx, params)
	span.SetAttributes(
		attribute.String("payment.txn_ref", res.TransactionID),
		attribute.Bool("payment.confirmed", res.Confirmed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (c *PaymentCallback) handle(ctx context.Context, params url.Values) (CallbackResult, error) {
	cb, err := c.gw.ParseCallback(params)
	if err != nil {
		return CallbackResult{}, err
	}
	res := CallbackResult{TransactionID: cb.TransactionID}

	p, err := c.payments.GetByTransactionID(ctx, cb.TransactionID)
	if errors.Is(err, repository.ErrNotFound) {
		return res, ErrPaymentNotFound
	}
	if err != nil {
		return res, err
	}
	res.BookingID = p.BookingID
	lateCapture := p.Status == model.PaymentFailed && p.TransactionNo == "" && cb.Succeeded()
	if p.Status.IsFinal() && !lateCapture {
		return replay(res, p), nil
	}
	if cb.Amount != p.AmountPaid {
		c.log.WithFields(logrus.Fields{"transaction_id": p.TransactionID, "expected": p.AmountPaid, "got": cb.Amount}).
			Warn("callback amount mismatch")
		return res, ErrAmountMismatch
	}

	p.TransactionNo = cb.TransactionNo
	p.BankCode = cb.BankCode
	if cb.Succeeded() {
		paidAt := cb.PayDate
		if paidAt.IsZero() {
			paidAt = c.bookings.now().UTC()
		}
		p.PaidAt = &paidAt
	}
	if lateCapture {
		// The booking was canceled and its payment closed before the
		// gateway reported the capture.
		return c.settleExpired(ctx, res, p, cb)
	}

	b, err := c.bookings.load(ctx, p.BookingID)
	if err != nil {
		return res, err
	}
	if b.Status != model.BookingPending {
		return c.settleExpired(ctx, res, p, cb)
	}
	if !cb.Succeeded() {
		return c.fail(ctx, res, b, p, cb)
	}
	if !b.TimeoutAt.After(c.bookings.now()) {
		return c.expireThenSettle(ctx, res, b, p, cb, "payment arrived after the deadline")
	}
	claimed, err := c.bookings.ledger.Claim(ctx, holdOf(b), c.bookings.cfg.HoldWindow)
	if err != nil {
		return res, err
	}
	if !claimed {
		return c.expireThenSettle(ctx, res, b, p, cb, "seat hold lapsed before payment")
	}
	return c.confirm(ctx, res, b, p)
}

// expireThenSettle cancels a PENDING booking whose seats are no longer
// held, then settles the payment against the dead booking.
func (c *PaymentCallback) expireThenSettle(ctx context.Context, res CallbackResult, b *model.Booking, p *model.Payment, cb gateway.Callback, why string) (CallbackResult, error) {
	c.log.WithFields(logrus.Fields{"booking_id": b.ID, "transaction_id": p.TransactionID}).Warn(why)
	if _, err := c.bookings.Expire(ctx, b.ID); err != nil {
		return res, err
	}
	fresh, err := c.payments.GetByTransactionID(ctx, p.TransactionID)
	if err != nil {
		return res, err
	}
	fresh.TransactionNo, fresh.BankCode, fresh.PaidAt = p.TransactionNo, p.BankCode, p.PaidAt
	return c.settleExpired(ctx, res, fresh, cb)
}

// confirm commits the payment and the booking together, then releases
// the hold and tells both parties.
func (c *PaymentCallback) confirm(ctx context.Context, res CallbackResult, b *model.Booking, p *model.Payment) (CallbackResult, error) {
	secret, err := utils.NewSecret(24)
	if err != nil {
		return res, err
	}
	hash, err := utils.HashSecret(secret, c.secretCost)
	if err != nil {
		return res, err
	}

	from := b.Status
	if err := b.Apply(model.EventPaymentSucceeded); err != nil {
		return res, err
	}
	b.CancelSecretHash = hash
	b.UpdatedAt = c.bookings.now().UTC()
	err = c.bookings.store.Transition(ctx, b, from, repository.Effects{
		Payment:       p,
		PaymentStatus: model.PaymentSuccess,
		CountBooking:  true,
	})
	if errors.Is(err, ErrStaleState) {
		return c.afterLostRace(ctx, res, p)
	}
	if err != nil {
		return res, err
	}

	log := c.log.WithFields(logrus.Fields{"booking_id": b.ID, "transaction_id": p.TransactionID})
	c.bookings.releaseHold(ctx, holdOf(b))
	log.Info("payment confirmed")

	c.notify.Send(ctx, model.Notification{
		DedupeKey:    fmt.Sprintf("booking:%d:paid:guide", b.ID),
		Type:         model.NotificationPayment,
		SenderID:     b.TravelerID,
		ReceiverID:   b.GuideID,
		RelatedID:    b.ID,
		RelatedModel: "Booking",
		Message:      fmt.Sprintf("Booking #%d has been paid.", b.ID),
	})
	c.notify.Send(ctx, model.Notification{
		DedupeKey:    fmt.Sprintf("booking:%d:paid:traveler", b.ID),
		Type:         model.NotificationPayment,
		SenderID:     b.GuideID,
		ReceiverID:   b.TravelerID,
		RelatedID:    b.ID,
		RelatedModel: "Booking",
		Message:      fmt.Sprintf("Payment for booking #%d succeeded.", b.ID),
	})
	c.sendConfirmation(ctx, b, p, secret)

	res.PaymentStatus = model.PaymentSuccess
	res.Confirmed = true
	return res, nil
}

// fail cancels the booking through the cancellation funnel, which also
// marks the payment FAILED.
func (c *PaymentCallback) fail(ctx context.Context, res CallbackResult, b *model.Booking, p *model.Payment, cb gateway.Callback) (CallbackResult, error) {
	_, err := c.bookings.FailPayment(ctx, b.ID)
	if errors.Is(err, ErrStaleState) {
		return c.afterLostRace(ctx, res, p)
	}
	if err != nil {
		return res, err
	}
	c.log.WithFields(logrus.Fields{"booking_id": b.ID, "response_code": cb.ResponseCode}).Info("payment failed")
	res.PaymentStatus = model.PaymentFailed
	return res, nil
}

// settleExpired finalizes a payment whose booking stopped waiting for
// it. Money captured for a dead booking is marked for refund.
func (c *PaymentCallback) settleExpired(ctx context.Context, res CallbackResult, p *model.Payment, cb gateway.Callback) (CallbackResult, error) {
	status := model.PaymentFailed
	if cb.Succeeded() {
		status = model.PaymentRefund
	}
	var err error
	if p.Status == model.PaymentPending {
		err = c.payments.Finalize(ctx, p, status)
	} else {
		err = c.payments.RefundLateCapture(ctx, p)
	}
	if errors.Is(err, ErrStaleState) {
		return c.afterLostRace(ctx, res, p)
	}
	if err != nil {
		return res, err
	}
	log := c.log.WithFields(logrus.Fields{"booking_id": p.BookingID, "transaction_id": p.TransactionID, "status": status})
	if status == model.PaymentRefund {
		log.Warn("payment captured for expired booking; refund required")
		c.notify.Send(ctx, model.Notification{
			DedupeKey:    fmt.Sprintf("payment:%s:refund", p.TransactionID),
			Type:         model.NotificationPayment,
			ReceiverID:   p.UserID,
			RelatedID:    p.BookingID,
			RelatedModel: "Booking",
			Message:      fmt.Sprintf("Booking #%d expired before your payment arrived. The amount will be refunded.", p.BookingID),
		})
	} else {
		log.Info("payment closed for expired booking")
	}
	res.PaymentStatus = status
	return res, ErrBookingExpired
}

// afterLostRace resolves a callback that lost a concurrent write: either
// another callback finalized the payment, or the booking moved on.
func (c *PaymentCallback) afterLostRace(ctx context.Context, res CallbackResult, p *model.Payment) (CallbackResult, error) {
	fresh, err := c.payments.GetByTransactionID(ctx, p.TransactionID)
	if err != nil {
		return res, err
	}
	if fresh.Status.IsFinal() {
		return replay(res, fresh), nil
	}
	return res, fmt.Errorf("settle payment %s: %w", p.TransactionID, ErrStaleState)
}

func replay(res CallbackResult, p *model.Payment) CallbackResult {
	res.PaymentStatus = p.Status
	res.Confirmed = p.Status == model.PaymentSuccess
	res.Replayed = true
	return res
}

func (c *PaymentCallback) sendConfirmation(ctx context.Context, b *model.Booking, p *model.Payment, secret string) {
	log := c.log.WithField("booking_id", b.ID)
	traveler, err := c.users.GetByID(ctx, b.TravelerID)
	if err != nil {
		log.WithError(err).Error("load traveler for confirmation email")
		return
	}
	title := fmt.Sprintf("tour #%d", b.TourID)
	if t, err := c.tours.GetByID(ctx, b.TourID); err == nil {
		title = t.Title
	}
	body := fmt.Sprintf(`<p>Hi %s,</p>
<p>Your booking #%d for <b>%s</b> from %s to %s is confirmed. Deposit paid: %d VND (transaction %s).</p>
<p>To cancel, use this secret: <code>%s</code><br><a href="%s?booking_id=%d">Cancel booking</a></p>`,
		html.EscapeString(traveler.FullName), b.ID, html.EscapeString(title),
		model.DateKey(b.StartDate), model.DateKey(b.EndDate), p.AmountPaid, p.TransactionID,
		secret, c.cancelURL, b.ID)
	if err := c.mailer.Send(ctx, traveler.Email, fmt.Sprintf("Booking #%d confirmed", b.ID), body); err != nil {
		log.WithError(err).Error("send confirmation email")
	}
}

// IPN handles the gateway's server-to-server notification and answers in
// its RspCode contract.
func (c *PaymentCallback) IPN(ctx context.Context, params url.Values) IPNResponse {
	res, err := c.Handle(ctx, params)
	switch {
	case err == nil && res.Replayed:
		return IPNResponse{RspCode: "02", Message: "Order already confirmed"}
	case err == nil:
		return IPNResponse{RspCode: "00", Message: "Confirm Success"}
	case errors.Is(err, ErrInvalidSignature):
		return IPNResponse{RspCode: "97", Message: "Invalid signature"}
	case errors.Is(err, ErrPaymentNotFound), errors.Is(err, ErrBookingNotFound):
		return IPNResponse{RspCode: "01", Message: "Order not found"}
	case errors.Is(err, ErrAmountMismatch):
		return IPNResponse{RspCode: "04", Message: "Invalid amount"}
	case errors.Is(err, ErrBookingExpired):
		return IPNResponse{RspCode: "02", Message: "Order already confirmed"}
	default:
		c.log.WithError(err).Error("ipn failed")
		return IPNResponse{RspCode: "99", Message: "Unknown error"}
	}
}
