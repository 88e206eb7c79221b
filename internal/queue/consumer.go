package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Handler processes one message body. Returning an error wrapping
// ErrPermanent rejects the message without requeue; any other error
// requeues it.
type Handler func(ctx context.Context, body []byte) error

// ConsumerConfig describes one queue subscription.
type ConsumerConfig struct {
	URL      string
	Queue    string
	DLX      string
	Prefetch int
	Name     string
}

// Consumer runs a Handler against a queue and keeps the subscription
// alive across broker restarts.
type Consumer struct {
	cfg     ConsumerConfig
	handler Handler
	log     logrus.FieldLogger
}

// NewConsumer returns a consumer for cfg.Queue.
func NewConsumer(cfg ConsumerConfig, h Handler, log logrus.FieldLogger) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Queue
	}
	return &Consumer{
		cfg:     cfg,
		handler: h,
		log:     log.WithFields(logrus.Fields{"component": "consumer", "queue": cfg.Queue}),
	}
}

// Run dials the broker and consumes until ctx is cancelled. Connection
// failures are retried with capped exponential backoff.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			c.log.WithError(err).Warnf("dial failed; retrying in %s", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.log.WithError(err).Warn("consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if err := declare(ch, c.cfg.Queue, c.cfg.DLX); err != nil {
		return err
	}
	msgs, err := ch.ConsumeWithContext(ctx, c.cfg.Queue, c.cfg.Name, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

// Acknowledger is the part of a delivery the consumer settles.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	c.settle(ctx, d.MessageId, d.Body, &d)
}

// settle runs the handler and acks, rejects or requeues the delivery.
func (c *Consumer) settle(ctx context.Context, id string, body []byte, ack Acknowledger) {
	err := c.handler(ctx, body)
	switch {
	case err == nil:
		_ = ack.Ack(false)
	case errors.Is(err, ErrPermanent):
		c.log.WithError(err).WithField("message_id", id).Error("rejecting message")
		_ = ack.Nack(false, false)
	default:
		c.log.WithError(err).WithField("message_id", id).Warn("handler failed; requeueing")
		_ = ack.Nack(false, true)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
