package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/tour-booking/internal/gateway"
	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/queue"
	"github.com/iliyamo/tour-booking/internal/repository"
)

// maxLinkLifetime caps how long a gateway redirect stays valid.
const maxLinkLifetime = 24 * time.Hour

// PaymentWorker turns PaymentInitiated messages into PENDING payments
// carrying a signed gateway redirect.
type PaymentWorker struct {
	bookings BookingStore
	payments PaymentStore
	gw       Gateway
	clientIP string
	log      logrus.FieldLogger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewPaymentWorker wires a PaymentWorker. clientIP is sent to the gateway
// as vnp_IpAddr since the worker runs outside the request.
func NewPaymentWorker(bookings BookingStore, payments PaymentStore, gw Gateway, clientIP string, log logrus.FieldLogger) *PaymentWorker {
	return &PaymentWorker{
		bookings: bookings,
		payments: payments,
		gw:       gw,
		clientIP: clientIP,
		log:      log.WithField("component", "payment-worker"),
		tracer:   otel.Tracer("tour-booking/service"),
		now:      time.Now,
	}
}

// Handle is the queue handler for PaymentInitiated. Returning nil acks,
// a queue.ErrPermanent rejects to the dead-letter queue and any other
// error requeues.
func (w *PaymentWorker) Handle(ctx context.Context, body []byte) error {
	msg, err := queue.Decode[queue.PaymentInitiated](body)
	if err != nil {
		return err
	}
	ctx, span := w.tracer.Start(ctx, "PaymentWorker.Handle",
		trace.WithAttributes(attribute.Int64("booking.id", int64(msg.BookingID))))
	defer span.End()

	if err := w.initiate(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (w *PaymentWorker) initiate(ctx context.Context, msg queue.PaymentInitiated) error {
	log := w.log.WithField("booking_id", msg.BookingID)

	b, err := w.bookings.GetByID(ctx, msg.BookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: booking %d does not exist", queue.ErrPermanent, msg.BookingID)
	}
	if err != nil {
		return err
	}
	if b.Status != model.BookingPending {
		log.WithField("status", b.Status).Info("booking no longer pending; skipping payment")
		return nil
	}

	existing, err := w.payments.LatestForBooking(ctx, b.ID)
	switch {
	case err == nil && existing.Status == model.PaymentPending:
		log.Debug("payment already initiated")
		return nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return err
	}

	now := w.now().UTC()
	expires := b.TimeoutAt
	if limit := now.Add(maxLinkLifetime); expires.After(limit) {
		expires = limit
	}
	txnID := strings.ReplaceAll(uuid.NewString(), "-", "")
	link, err := w.gw.BuildRedirectURL(gateway.RedirectRequest{
		TransactionID: txnID,
		Amount:        b.DepositAmount,
		OrderInfo:     fmt.Sprintf("Deposit for booking %d", b.ID),
		ClientIP:      w.clientIP,
		CreatedAt:     now,
		ExpiresAt:     expires,
	})
	if err != nil {
		return fmt.Errorf("%w: build redirect: %v", queue.ErrPermanent, err)
	}

	p := &model.Payment{
		BookingID:     b.ID,
		UserID:        b.TravelerID,
		TransactionID: txnID,
		AmountPaid:    b.DepositAmount,
		PaymentURL:    link,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := w.payments.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			log.Debug("concurrent payment initiation won")
			return nil
		}
		return err
	}
	log.WithField("transaction_id", txnID).Info("payment initiated")
	return nil
}

// PaymentLink returns the redirect URL of the booking's open payment.
// ErrPaymentNotReady means the worker has not run yet.
func PaymentLink(ctx context.Context, bookings *BookingService, payments PaymentStore, actor Actor, bookingID uint64) (*model.Payment, error) {
	b, err := bookings.Get(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BookingPending {
		return nil, ErrBookingExpired
	}
	p, err := payments.LatestForBooking(ctx, b.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPaymentNotReady
	}
	if err != nil {
		return nil, err
	}
	if p.Status != model.PaymentPending {
		return nil, ErrPaymentNotReady
	}
	return p, nil
}
