package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/tour-booking/internal/model"
)

// NotificationRepo is the sink for delivered notifications.
type NotificationRepo struct {
	db *sql.DB
}

// NewNotificationRepo returns a NotificationRepo bound to db.
func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

// Insert stores n once per dedupe key. It reports false when a row with
// the same key already exists.
func (r *NotificationRepo) Insert(ctx context.Context, n model.Notification) (bool, error) {
	var sender any
	if n.SenderID != 0 {
		sender = n.SenderID
	}
	res, err := r.db.ExecContext(ctx, `INSERT IGNORE INTO notifications
		(dedupe_key, type, sender_id, receiver_id, related_id, related_model, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.DedupeKey, n.Type, sender, n.ReceiverID, n.RelatedID, n.RelatedModel, n.Message)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}
