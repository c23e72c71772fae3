package services

import (
	"context"
	"errors"
	"time"

	"marketplace-orders/database"
	"marketplace-orders/models"
	"marketplace-orders/mpesa"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrOrderNotFound       = errors.New("order not found")
	ErrForbidden           = errors.New("not allowed")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrAlreadyPaid         = errors.New("order is already paid")
	ErrInvalidPhone        = errors.New("phone number must be in format +2547XXXXXXXX or +2541XXXXXXXX")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrPaymentFailed       = errors.New("payment failed")
	ErrGateway             = errors.New("payment gateway error")
	ErrRefundRequired      = errors.New("payment received for a cancelled order")
)

type OrderRepo interface {
	CreateOrder(ctx context.Context, customerID int64, req models.CreateOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context, scope database.OrderScope) ([]models.Order, error)
	OrderHasVendor(ctx context.Context, orderID, vendorID int64) (bool, error)
	UpdateStatus(ctx context.Context, id int64, from, to models.OrderStatus) error
	CancelOrder(ctx context.Context, id int64, from models.OrderStatus) error
}

type TransactionRepo interface {
	Create(ctx context.Context, t *models.Transaction) error
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error)
	HasSuccessful(ctx context.Context, orderID int64) (bool, error)
	MarkSucceeded(ctx context.Context, t *models.Transaction, receipt string) (bool, error)
	MarkFailed(ctx context.Context, t *models.Transaction, reason string) error
	ListOpenForOrder(ctx context.Context, orderID int64) ([]models.Transaction, error)
	ListForCustomer(ctx context.Context, customerID int64) ([]models.Transaction, error)
}

type Gateway interface {
	InitiateSTKPush(ctx context.Context, req mpesa.STKPushRequest) (mpesa.STKPushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (mpesa.StatusResult, error)
}

// resultRecorder is implemented by gateways that can be told the outcome of
// a request, such as mpesa.Simulator.
type resultRecorder interface {
	Record(checkoutRequestID string, res mpesa.StatusResult) error
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
	PublishDelayedEvent(ctx context.Context, event models.OrderEvent, delay time.Duration) error
}

// NopPublisher drops events; used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishOrderEvent(context.Context, models.OrderEvent) error { return nil }
func (NopPublisher) PublishDelayedEvent(context.Context, models.OrderEvent, time.Duration) error {
	return nil
}
