package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"marketplace-orders/config"
	"marketplace-orders/middlewares"
	"marketplace-orders/models"
	"marketplace-orders/services"
)

var errMalformed = errors.New("malformed order event")

type Reconciler interface {
	Reconcile(ctx context.Context, orderID int64, attempt int) (services.ReconcileResult, error)
}

type OrderConsumer struct {
	payments Reconciler
}

func NewOrderConsumer(payments Reconciler) *OrderConsumer {
	return &OrderConsumer{payments: payments}
}

// Run consumes the order queue and the dead-letter queue until ctx is done
// or the broker closes the delivery channels.
func (oc *OrderConsumer) Run(ctx context.Context, ch *amqp.Channel, cfg *config.Config) error {
	msgs, err := ch.Consume(
		cfg.OrderQueue,
		"marketplace-orders", // consumer tag
		false,                // auto-ack
		false,                // exclusive
		false,                // no-local
		false,                // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("register order consumer: %w", err)
	}

	dlqMsgs, err := ch.Consume(cfg.DeadLetterQueue, "marketplace-orders-dlq", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register dead-letter consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("order queue delivery channel closed")
			}
			oc.processOrderMessage(ctx, msg)
		case msg, ok := <-dlqMsgs:
			if !ok {
				return errors.New("dead-letter delivery channel closed")
			}
			processDeadLetterMessage(ctx, msg)
		}
	}
}

func (oc *OrderConsumer) processOrderMessage(ctx context.Context, msg amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "recovered from panic in message processing", "panic", r)
			_ = msg.Nack(false, false)
		}
	}()

	err := oc.handle(ctx, msg.Body)
	switch {
	case err == nil:
		if err := msg.Ack(false); err != nil {
			slog.WarnContext(ctx, "ack order event", "err", err)
		}
	case errors.Is(err, errMalformed) || msg.Redelivered:
		// Straight to the dead-letter queue.
		slog.ErrorContext(ctx, "order event rejected", "err", err, "redelivered", msg.Redelivered)
		if err := msg.Nack(false, false); err != nil {
			slog.WarnContext(ctx, "nack order event", "err", err)
		}
	default:
		slog.WarnContext(ctx, "order event failed, requeueing", "err", err)
		if err := msg.Nack(false, true); err != nil {
			slog.WarnContext(ctx, "nack order event", "err", err)
		}
	}
}

func (oc *OrderConsumer) handle(ctx context.Context, body []byte) error {
	var event models.OrderEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if event.OrderID < 1 || event.Type == "" {
		return fmt.Errorf("%w: %s", errMalformed, body)
	}

	log := slog.With("order_id", event.OrderID, "type", event.Type)

	switch event.Type {
	case models.EventOrderCreated:
		log.InfoContext(ctx, "order created", "total", event.Total.String())
	case models.EventStatusUpdated:
		log.InfoContext(ctx, "order status changed", "status", event.Status)
	case models.EventOrderPaid:
		log.InfoContext(ctx, "order paid", "total", event.Total.String())
	case models.EventPaymentCheck:
		return oc.handlePaymentCheck(ctx, event.OrderID, event.Attempt)
	default:
		log.WarnContext(ctx, "unknown event type")
	}
	return nil
}

func (oc *OrderConsumer) handlePaymentCheck(ctx context.Context, orderID int64, attempt int) error {
	res, err := oc.payments.Reconcile(ctx, orderID, attempt)
	if errors.Is(err, services.ErrOrderNotFound) {
		slog.WarnContext(ctx, "payment check for missing order", "order_id", orderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile order %d: %w", orderID, err)
	}

	for i := 0; i < res.Settled; i++ {
		middlewares.RecordPaymentOutcome("reconcile", "success")
	}
	for i := 0; i < res.Failed; i++ {
		middlewares.RecordPaymentOutcome("reconcile", "failed")
	}
	for i := 0; i < res.Expired; i++ {
		middlewares.RecordPaymentOutcome("reconcile", "expired")
	}
	for i := 0; i < res.RefundRequired; i++ {
		middlewares.RecordPaymentOutcome("reconcile", "refund_required")
	}
	slog.InfoContext(ctx, "payment check done", "order_id", orderID, "attempt", attempt,
		"settled", res.Settled, "failed", res.Failed, "processing", res.Processing, "expired", res.Expired,
		"rescheduled", res.Rescheduled, "cancelled", res.Cancelled)
	return nil
}

func processDeadLetterMessage(ctx context.Context, msg amqp.Delivery) {
	slog.WarnContext(ctx, "received dead letter", "type", msg.Type, "body", string(msg.Body))
	if err := msg.Ack(false); err != nil {
		slog.WarnContext(ctx, "ack dead letter", "err", err)
	}
}
