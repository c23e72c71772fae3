package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"marketplace-orders/config"
	"marketplace-orders/models"
)

// ErrDelayUnsupported is returned for delayed events when the broker lacks
// the delayed-message exchange type.
var ErrDelayUnsupported = errors.New("delayed messages not supported by broker")

// RabbitMQ holds one connection with separate channels for consuming and
// publishing, so a publish the broker rejects cannot close the consumer.
type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel // topology and consumers
	Cfg     *config.Config

	pub            *amqp.Channel
	delaySupported bool
}

func NewRabbitMQ(cfg *config.Config) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}

	return &RabbitMQ{
		Conn:    conn,
		Channel: ch,
		Cfg:     cfg,
		pub:     pub,
	}, nil
}

// DelaySupported reports whether SetupQueues declared the delay exchange.
func (r *RabbitMQ) DelaySupported() bool {
	return r.delaySupported
}

func (r *RabbitMQ) deadLetterExchange() string {
	return r.Cfg.DeadLetterQueue + "_exchange"
}

// SetupQueues declares the order exchange and queue, the dead-letter pair and
// the delayed exchange used for payment checks.
func (r *RabbitMQ) SetupQueues() error {
	if err := r.Channel.ExchangeDeclare(
		r.deadLetterExchange(),
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}

	if _, err := r.Channel.QueueDeclare(
		r.Cfg.DeadLetterQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-queue-type": "classic"},
	); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}

	if err := r.Channel.QueueBind(r.Cfg.DeadLetterQueue, r.Cfg.DeadLetterQueue, r.deadLetterExchange(), false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}

	if err := r.Channel.ExchangeDeclare(r.Cfg.OrderExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare order exchange: %w", err)
	}

	if _, err := r.Channel.QueueDeclare(
		r.Cfg.OrderQueue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-max-priority":            r.Cfg.MaxPriority,
			"x-dead-letter-exchange":    r.deadLetterExchange(),
			"x-dead-letter-routing-key": r.Cfg.DeadLetterQueue,
		},
	); err != nil {
		return fmt.Errorf("declare order queue: %w", err)
	}

	if err := r.Channel.QueueBind(r.Cfg.OrderQueue, "", r.Cfg.OrderExchange, false, nil); err != nil {
		return fmt.Errorf("bind order queue: %w", err)
	}

	// The delayed-message plugin is optional. Without it delayed events are
	// refused locally, payment checks never run and unpaid orders stay pending.
	r.delaySupported = false
	if err := r.Channel.ExchangeDeclare(
		r.Cfg.DelayExchange,
		"x-delayed-message",
		true,
		false,
		false,
		false,
		amqp.Table{"x-delayed-type": "direct"},
	); err != nil {
		slog.Warn("delayed exchange not supported, payment checks disabled", "err", err)
		return r.reopenChannel()
	}
	if err := r.Channel.QueueBind(r.Cfg.OrderQueue, "", r.Cfg.DelayExchange, false, nil); err != nil {
		return fmt.Errorf("bind delay exchange: %w", err)
	}
	r.delaySupported = true

	return nil
}

// A failed declare closes the channel server-side.
func (r *RabbitMQ) reopenChannel() error {
	ch, err := r.Conn.Channel()
	if err != nil {
		return fmt.Errorf("reopen channel: %w", err)
	}
	r.Channel = ch
	return nil
}

// OrderEventPriority ranks large orders and cancellations ahead of routine events.
func OrderEventPriority(event models.OrderEvent) uint8 {
	switch {
	case event.Status == models.StatusCancelled:
		return 8
	case event.Type == models.EventOrderCreated && event.Total.IntPart() > 10000:
		return 9
	default:
		return 5
	}
}

func (r *RabbitMQ) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	return r.pub.PublishWithContext(ctx,
		r.Cfg.OrderExchange,
		"",
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			ContentType:  "application/json",
			Type:         event.Type,
			Body:         body,
			Priority:     OrderEventPriority(event),
		},
	)
}

func (r *RabbitMQ) PublishDelayedEvent(ctx context.Context, event models.OrderEvent, delay time.Duration) error {
	if !r.delaySupported {
		return ErrDelayUnsupported
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	return r.pub.PublishWithContext(ctx,
		r.Cfg.DelayExchange,
		"",
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			ContentType:  "application/json",
			Type:         event.Type,
			Body:         body,
			Headers: amqp.Table{
				"x-delay": delay.Milliseconds(),
			},
		},
	)
}

func (r *RabbitMQ) Close() {
	if r.pub != nil {
		if err := r.pub.Close(); err != nil {
			slog.Warn("close rabbitmq publish channel", "err", err)
		}
	}
	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil {
			slog.Warn("close rabbitmq channel", "err", err)
		}
	}
	if r.Conn != nil {
		if err := r.Conn.Close(); err != nil {
			slog.Warn("close rabbitmq connection", "err", err)
		}
	}
}
