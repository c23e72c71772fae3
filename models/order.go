package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusPaid       OrderStatus = "paid"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

// HappyPath is the forward-only lifecycle of an order. Cancelled sits outside it.
var HappyPath = []OrderStatus{
	StatusPending,
	StatusPaid,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
}

func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(s)
	if st == StatusCancelled {
		return st, true
	}
	return st, st.Position() >= 0
}

// Position returns the index of the status on the happy path, or -1 for
// cancelled and unknown values.
func (s OrderStatus) Position() int {
	for i, st := range HappyPath {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the status following s on the happy path.
func (s OrderStatus) Next() (OrderStatus, bool) {
	pos := s.Position()
	if pos < 0 || pos == len(HappyPath)-1 {
		return "", false
	}
	return HappyPath[pos+1], true
}

func (s OrderStatus) Cancellable() bool {
	return s == StatusPending || s == StatusPaid
}

func (s OrderStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusDelivered
}

// CanTransitionTo reports whether to is the exact next happy-path status,
// or cancelled while s is still pending or paid.
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	if to == StatusCancelled {
		return s.Cancellable()
	}
	next, ok := s.Next()
	return ok && next == to
}

type Order struct {
	ID              int64           `json:"id"`
	CustomerID      int64           `json:"customer_id"`
	Status          OrderStatus     `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress string          `json:"shipping_address"`
	ShippingCounty  string          `json:"shipping_county"`
	ShippingPhone   string          `json:"shipping_phone"`
	Notes           string          `json:"notes,omitempty"`
	Items           []OrderItem     `json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ProductID    string          `json:"product_id"`
	ProductTitle string          `json:"product_title,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

// ItemsTotal sums the line subtotals.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal)
	}
	return total
}

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	ShippingAddress string             `json:"shipping_address"`
	ShippingCounty  string             `json:"shipping_county"`
	ShippingPhone   string             `json:"shipping_phone"`
	Notes           string             `json:"notes,omitempty"`
	OrderItems      []OrderItemRequest `json:"order_items"`
}

type OrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// UpdateStatusRequest is the body of PATCH /orders/{id}.
type UpdateStatusRequest struct {
	Status OrderStatus `json:"status"`
}

type OrderEvent struct {
	OrderID  int64           `json:"order_id"`
	UserID   int64           `json:"user_id"`
	Type     string          `json:"type"` // created, status_updated, paid, payment_check
	Status   OrderStatus     `json:"status"`
	Total    decimal.Decimal `json:"total"`
	Occurred time.Time       `json:"occurred"`
	Attempt  int             `json:"attempt,omitempty"` // payment_check re-runs so far
}

const (
	EventOrderCreated  = "created"
	EventStatusUpdated = "status_updated"
	EventOrderPaid     = "paid"
	EventPaymentCheck  = "payment_check"
)

// Product is the catalogue view the order service needs for pricing and stock.
type Product struct {
	ID       string          `json:"id"`
	VendorID int64           `json:"vendor_id"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	IsActive bool            `json:"is_active"`
}
