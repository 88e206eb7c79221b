package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// PublisherConfig controls the broker connection and retry policy.
type PublisherConfig struct {
	URL        string
	DLX        string
	Retries    int
	RetryDelay time.Duration
}

// Publisher sends persistent messages to RabbitMQ and waits for the
// broker to confirm each one. The connection is opened lazily and
// reopened after a failure.
type Publisher struct {
	cfg PublisherConfig
	log logrus.FieldLogger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

// NewPublisher returns a publisher; no connection is made until the first
// Publish.
func NewPublisher(cfg PublisherConfig, log logrus.FieldLogger) *Publisher {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	return &Publisher{cfg: cfg, log: log.WithField("component", "publisher")}
}

// Publish delivers m to its queue. Transient failures are retried with
// exponential backoff; the last error is returned once retries run out.
func (p *Publisher) Publish(ctx context.Context, m Message) error {
	body, err := Encode(m, time.Now())
	if err != nil {
		return err
	}
	delay := p.cfg.RetryDelay
	for attempt := 1; ; attempt++ {
		err = p.publishOnce(ctx, m.Queue(), body)
		if err == nil {
			return nil
		}
		p.log.WithFields(logrus.Fields{"queue": m.Queue(), "type": m.Type(), "attempt": attempt}).
			WithError(err).Warn("publish failed")
		p.reset()
		if attempt >= p.cfg.Retries {
			return fmt.Errorf("publish %s: %w", m.Type(), err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (p *Publisher) publishOnce(ctx context.Context, queue string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	if !p.declared[queue] {
		if err := declare(ch, queue, p.cfg.DLX); err != nil {
			return err
		}
		p.declared[queue] = true
	}
	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return err
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("broker nacked message")
	}
	return nil
}

// channel returns the open confirm-mode channel, dialing if needed.
// Callers hold p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	p.ch = ch
	p.declared = map[string]bool{}
	return ch, nil
}

func (p *Publisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
}

// Close shuts the connection down.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
