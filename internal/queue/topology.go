package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// declare makes sure queue exists, durable, with rejected messages routed
// through the dead-letter exchange dlx into "<queue>.dlq". Publisher and
// consumer both call it so the arguments always agree.
func declare(ch *amqp.Channel, queue, dlx string) error {
	var args amqp.Table
	if dlx != "" {
		if err := ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dlx %s: %w", dlx, err)
		}
		dlq := queue + ".dlq"
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dlq %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, queue, dlx, false, nil); err != nil {
			return fmt.Errorf("bind dlq %s: %w", dlq, err)
		}
		args = amqp.Table{"x-dead-letter-exchange": dlx}
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}
