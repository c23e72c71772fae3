package checkout

import (
	"context"
	"strings"

	"marketplace-orders/cart"
	"marketplace-orders/models"
)

type OrderAPI interface {
	CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error)
	UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error)
}

type ShippingInfo struct {
	Address string
	County  string
	Phone   string
	Notes   string
}

// Builder turns the cart into an order.
type Builder struct {
	api  OrderAPI
	cart *cart.Store
}

func NewBuilder(api OrderAPI, store *cart.Store) *Builder {
	return &Builder{api: api, cart: store}
}

func validateShipping(s ShippingInfo) error {
	switch {
	case strings.TrimSpace(s.Address) == "":
		return &ValidationError{Field: "shipping_address", Reason: "is required"}
	case strings.TrimSpace(s.County) == "":
		return &ValidationError{Field: "shipping_county", Reason: "is required"}
	case strings.TrimSpace(s.Phone) == "":
		return &ValidationError{Field: "shipping_phone", Reason: "is required"}
	}
	return nil
}

// BuildOrder validates the cart and shipping details, submits the order and
// clears the cart once the server has accepted it. Prices and the total come
// back from the server; the cart only contributes product ids and quantities.
func (b *Builder) BuildOrder(ctx context.Context, p models.Principal, shipping ShippingInfo) (*models.Order, error) {
	if p.UserID == 0 {
		return nil, ErrForbidden
	}
	if err := validateShipping(shipping); err != nil {
		return nil, err
	}

	items := b.cart.Items()
	if len(items) == 0 {
		return nil, &ValidationError{Field: "order_items", Reason: "cart is empty"}
	}
	lines := make([]models.OrderItemRequest, 0, len(items))
	for _, item := range items {
		if item.Placeholder() {
			return nil, &ValidationError{Field: "order_items", Reason: "demo product " + item.ProductID + " cannot be purchased"}
		}
		lines = append(lines, models.OrderItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := b.api.CreateOrder(ctx, models.CreateOrderRequest{
		ShippingAddress: strings.TrimSpace(shipping.Address),
		ShippingCounty:  strings.TrimSpace(shipping.County),
		ShippingPhone:   strings.TrimSpace(shipping.Phone),
		Notes:           shipping.Notes,
		OrderItems:      lines,
	})
	if err != nil {
		return nil, &SubmissionError{Err: err}
	}

	b.cart.Clear()
	return order, nil
}
