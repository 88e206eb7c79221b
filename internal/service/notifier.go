package service

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/queue"
)

// NotificationSender hands notifications off for delivery. Delivery
// failures never surface to the caller.
type NotificationSender interface {
	Send(ctx context.Context, n model.Notification)
}

// Notifier publishes NotificationRequested messages.
type Notifier struct {
	pub Publisher
	log logrus.FieldLogger
}

// NewNotifier returns a Notifier publishing through pub.
func NewNotifier(pub Publisher, log logrus.FieldLogger) *Notifier {
	return &Notifier{pub: pub, log: log.WithField("component", "notifier")}
}

// Send enqueues n and logs, rather than returns, any failure.
func (n *Notifier) Send(ctx context.Context, note model.Notification) {
	if err := n.pub.Publish(ctx, queue.NotificationRequested{Notification: note}); err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{
			"dedupe_key":  note.DedupeKey,
			"receiver_id": note.ReceiverID,
		}).Error("enqueue notification failed")
	}
}

// Connection is a live channel to a signed-in user.
type Connection interface {
	Push(ctx context.Context, n model.Notification) error
}

// PresenceLookup finds a user's live connection, if any.
type PresenceLookup interface {
	FindConnection(ctx context.Context, userID uint64) (Connection, bool)
}

// RedisPresence treats a user as online while the realtime gateway keeps
// presence:user:{id} alive, and pushes by publishing to the user's
// notifications:{id} channel that gateway subscribes to.
type RedisPresence struct {
	rdb *redis.Client
}

// NewRedisPresence returns a presence lookup backed by rdb.
func NewRedisPresence(rdb *redis.Client) *RedisPresence { return &RedisPresence{rdb: rdb} }

func (p *RedisPresence) FindConnection(ctx context.Context, userID uint64) (Connection, bool) {
	id := strconv.FormatUint(userID, 10)
	n, err := p.rdb.Exists(ctx, "presence:user:"+id).Result()
	if err != nil || n == 0 {
		return nil, false
	}
	return redisConn{rdb: p.rdb, channel: "notifications:" + id}, true
}

type redisConn struct {
	rdb     *redis.Client
	channel string
}

func (c redisConn) Push(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, c.channel, body).Err()
}

// NotificationConsumer stores requested notifications and pushes them to
// online receivers.
type NotificationConsumer struct {
	store    NotificationStore
	presence PresenceLookup
	log      logrus.FieldLogger
}

// NewNotificationConsumer wires the consumer. presence may be nil.
func NewNotificationConsumer(store NotificationStore, presence PresenceLookup, log logrus.FieldLogger) *NotificationConsumer {
	return &NotificationConsumer{store: store, presence: presence, log: log.WithField("component", "notification-consumer")}
}

// Handle is the queue handler for NotificationRequested. Redeliveries
// of the same dedupe key are stored and pushed once.
func (c *NotificationConsumer) Handle(ctx context.Context, body []byte) error {
	msg, err := queue.Decode[queue.NotificationRequested](body)
	if err != nil {
		return err
	}
	n := msg.Notification
	inserted, err := c.store.Insert(ctx, n)
	if err != nil {
		return err
	}
	if !inserted || c.presence == nil {
		return nil
	}
	conn, ok := c.presence.FindConnection(ctx, n.ReceiverID)
	if !ok {
		return nil
	}
	if err := conn.Push(ctx, n); err != nil {
		c.log.WithError(err).WithField("receiver_id", n.ReceiverID).Warn("push failed")
	}
	return nil
}
