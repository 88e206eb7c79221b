// Package queue carries booking work between the API and its background
// workers over RabbitMQ.
package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/iliyamo/tour-booking/internal/model"
)

// Queue names.
const (
	PaymentQueue      = "booking.payment"
	NotificationQueue = "booking.notification"
	PostQueue         = "social.post"
)

// Message types.
const (
	TypePaymentInitiated      = "PaymentInitiated"
	TypeNotificationRequested = "NotificationRequested"
	TypePostCreated           = "PostCreated"
)

// ErrPermanent marks a delivery that can never succeed. The consumer
// rejects it without requeue so it lands in the dead-letter queue.
var ErrPermanent = errors.New("permanent message failure")

// Message is a payload that knows where it is routed.
type Message interface {
	Queue() string
	Type() string
}

// Envelope is the wire format of every message.
type Envelope struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// PaymentInitiated asks the payment worker to build a redirect URL.
type PaymentInitiated struct {
	BookingID uint64 `json:"booking_id" validate:"required"`
	UserID    uint64 `json:"user_id" validate:"required"`
}

func (PaymentInitiated) Queue() string { return PaymentQueue }
func (PaymentInitiated) Type() string  { return TypePaymentInitiated }

// NotificationRequested asks the notification consumer to store and push
// a notification.
type NotificationRequested struct {
	model.Notification
}

func (NotificationRequested) Queue() string { return NotificationQueue }
func (NotificationRequested) Type() string  { return TypeNotificationRequested }

// PostCreated is published by the social service when a guide posts.
type PostCreated struct {
	PostID    uint64    `json:"post_id" validate:"required"`
	AuthorID  uint64    `json:"author_id" validate:"required"`
	CreatedAt time.Time `json:"created_at" validate:"required"`
}

func (PostCreated) Queue() string { return PostQueue }
func (PostCreated) Type() string  { return TypePostCreated }

var validate = validator.New()

// Encode wraps m in an envelope.
func Encode(m Message, now time.Time) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return json.Marshal(Envelope{Type: m.Type(), OccurredAt: now.UTC(), Payload: payload})
}

// Decode unwraps an envelope of the expected type into T. Unknown fields,
// a mismatched type and invalid payloads are permanent failures.
func Decode[T Message](body []byte) (T, error) {
	var zero T
	var env Envelope
	if err := strictUnmarshal(body, &env); err != nil {
		return zero, fmt.Errorf("%w: decode envelope: %v", ErrPermanent, err)
	}
	if env.Type != zero.Type() {
		return zero, fmt.Errorf("%w: unexpected message type %q", ErrPermanent, env.Type)
	}
	var t T
	if err := strictUnmarshal(env.Payload, &t); err != nil {
		return zero, fmt.Errorf("%w: decode %s: %v", ErrPermanent, env.Type, err)
	}
	if err := validate.Struct(t); err != nil {
		return zero, fmt.Errorf("%w: invalid %s: %v", ErrPermanent, env.Type, err)
	}
	return t, nil
}

func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
