package rabbitmq

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-orders/models"
)

func TestOrderEventPriority(t *testing.T) {
	assert.Equal(t, uint8(9), OrderEventPriority(models.OrderEvent{
		Type: models.EventOrderCreated, Total: decimal.NewFromInt(25000),
	}))
	assert.Equal(t, uint8(5), OrderEventPriority(models.OrderEvent{
		Type: models.EventOrderCreated, Total: decimal.NewFromInt(1000),
	}))
	assert.Equal(t, uint8(8), OrderEventPriority(models.OrderEvent{
		Type: models.EventStatusUpdated, Status: models.StatusCancelled,
	}))
	assert.Equal(t, uint8(5), OrderEventPriority(models.OrderEvent{
		Type: models.EventStatusUpdated, Status: models.StatusShipped,
	}))
}

func TestDelayedEventRefusedWithoutDelayExchange(t *testing.T) {
	// No channel is open: the event must be refused before touching the broker.
	r := &RabbitMQ{}
	require.False(t, r.DelaySupported())

	err := r.PublishDelayedEvent(context.Background(),
		models.OrderEvent{OrderID: 1, Type: models.EventPaymentCheck}, time.Minute)
	assert.ErrorIs(t, err, ErrDelayUnsupported)
}
