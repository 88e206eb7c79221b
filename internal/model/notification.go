package model

// Notification types sent by the booking core.
const (
	NotificationBooking = "BOOKING"
	NotificationPayment = "PAYMENT"
	NotificationRanking = "RANKING"
)

// Notification is the payload handed to the notification service.
// DedupeKey identifies the business fact so redelivery stores it once.
type Notification struct {
	DedupeKey    string `json:"dedupe_key" validate:"required"`
	Type         string `json:"type" validate:"required"`
	SenderID     uint64 `json:"sender_id,omitempty"`
	ReceiverID   uint64 `json:"receiver_id" validate:"required"`
	RelatedID    uint64 `json:"related_id"`
	RelatedModel string `json:"related_model"`
	Message      string `json:"message" validate:"required"`
}
