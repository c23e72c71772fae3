package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marketplace-orders/database"
	"marketplace-orders/models"
	"marketplace-orders/utils"
)

// OrderService owns the order lifecycle: creation, visibility and the
// seller-side status machine.
type OrderService struct {
	orders            OrderRepo
	publisher         EventPublisher
	paymentCheckDelay time.Duration
}

func NewOrderService(orders OrderRepo, publisher EventPublisher, paymentCheckDelay time.Duration) *OrderService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &OrderService{orders: orders, publisher: publisher, paymentCheckDelay: paymentCheckDelay}
}

func validateCreate(req *models.CreateOrderRequest) error {
	req.ShippingAddress = strings.TrimSpace(req.ShippingAddress)
	req.ShippingCounty = strings.TrimSpace(req.ShippingCounty)
	req.ShippingPhone = utils.NormalizePhone(req.ShippingPhone)

	switch {
	case req.ShippingAddress == "":
		return fmt.Errorf("%w: shipping_address is required", ErrValidation)
	case req.ShippingCounty == "":
		return fmt.Errorf("%w: shipping_county is required", ErrValidation)
	case req.ShippingPhone == "":
		return fmt.Errorf("%w: shipping_phone is required", ErrValidation)
	case len(req.OrderItems) == 0:
		return fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}

	// Repeated lines for one product collapse into a single line.
	merged := make([]models.OrderItemRequest, 0, len(req.OrderItems))
	index := make(map[string]int, len(req.OrderItems))
	for i, item := range req.OrderItems {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return fmt.Errorf("%w: item %d: product_id is required", ErrValidation, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %d: quantity must be positive, got %d", ErrValidation, i, item.Quantity)
		}
		if j, ok := index[item.ProductID]; ok {
			merged[j].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	req.OrderItems = merged
	return nil
}

func (s *OrderService) CreateOrder(ctx context.Context, p models.Principal, req models.CreateOrderRequest) (*models.Order, error) {
	if err := validateCreate(&req); err != nil {
		return nil, err
	}

	order, err := s.orders.CreateOrder(ctx, p.UserID, req)
	if errors.Is(err, database.ErrProductUnavailable) || errors.Is(err, database.ErrInsufficientStock) {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	slog.InfoContext(ctx, "order created", "order_id", order.ID, "customer_id", p.UserID,
		"items", len(order.Items), "total", order.TotalAmount.String())

	event := orderEvent(order, models.EventOrderCreated)
	if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		slog.WarnContext(ctx, "publish order created event", "order_id", order.ID, "err", err)
	}
	if s.paymentCheckDelay > 0 {
		check := orderEvent(order, models.EventPaymentCheck)
		if err := s.publisher.PublishDelayedEvent(ctx, check, s.paymentCheckDelay); err != nil {
			slog.WarnContext(ctx, "schedule payment check", "order_id", order.ID, "err", err)
		}
	}
	return order, nil
}

func scopeFor(p models.Principal) database.OrderScope {
	switch p.Role {
	case models.RoleAdmin:
		return database.OrderScope{All: true}
	case models.RoleVendor:
		return database.OrderScope{VendorID: p.UserID}
	default:
		return database.OrderScope{CustomerID: p.UserID}
	}
}

func (s *OrderService) ListOrders(ctx context.Context, p models.Principal) ([]models.Order, error) {
	orders, err := s.orders.ListOrders(ctx, scopeFor(p))
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// GetOrder returns the order if p may see it. Orders outside the caller's
// scope are reported as not found.
func (s *OrderService) GetOrder(ctx context.Context, p models.Principal, id int64) (*models.Order, error) {
	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	sells, err := s.sells(ctx, p, order)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && order.CustomerID != p.UserID && !sells {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) load(ctx context.Context, id int64) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", id, err)
	}
	return order, nil
}

// sells reports whether p acts as seller for the order.
func (s *OrderService) sells(ctx context.Context, p models.Principal, order *models.Order) (bool, error) {
	if p.IsAdmin() {
		return true, nil
	}
	if p.Role != models.RoleVendor {
		return false, nil
	}
	ok, err := s.orders.OrderHasVendor(ctx, order.ID, p.UserID)
	if err != nil {
		return false, fmt.Errorf("check order vendor: %w", err)
	}
	return ok, nil
}

// AdvanceStatus applies a seller-side status change. Only the next
// happy-path status, or cancelled from pending/paid, is accepted.
func (s *OrderService) AdvanceStatus(ctx context.Context, p models.Principal, id int64, to models.OrderStatus) (*models.Order, error) {
	if !p.CanManageOrders() {
		return nil, fmt.Errorf("%w: only vendors and admins update order status", ErrForbidden)
	}
	if _, ok := models.ParseOrderStatus(string(to)); !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}

	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	sells, err := s.sells(ctx, p, order)
	if err != nil {
		return nil, err
	}
	if !sells {
		return nil, fmt.Errorf("%w: order %d has no products of yours", ErrForbidden, id)
	}

	if err := s.transition(ctx, order, to); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "order status updated", "order_id", id, "status", to, "by", p.UserID)
	return order, nil
}

// CancelOrder lets the buyer, a selling vendor or an admin cancel an order
// that is still pending or paid.
func (s *OrderService) CancelOrder(ctx context.Context, p models.Principal, id int64) (*models.Order, error) {
	order, err := s.GetOrder(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, order, models.StatusCancelled); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "order cancelled", "order_id", id, "by", p.UserID)
	return order, nil
}

func (s *OrderService) transition(ctx context.Context, order *models.Order, to models.OrderStatus) error {
	from := order.Status
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	var err error
	if to == models.StatusCancelled {
		err = s.orders.CancelOrder(ctx, order.ID, from)
	} else {
		err = s.orders.UpdateStatus(ctx, order.ID, from, to)
	}
	if errors.Is(err, database.ErrStatusConflict) {
		return fmt.Errorf("%w: order %d is no longer %s", ErrInvalidTransition, order.ID, from)
	}
	if err != nil {
		return fmt.Errorf("update order %d: %w", order.ID, err)
	}

	order.Status = to
	order.UpdatedAt = time.Now().UTC()

	if err := s.publisher.PublishOrderEvent(ctx, orderEvent(order, models.EventStatusUpdated)); err != nil {
		slog.WarnContext(ctx, "publish status event", "order_id", order.ID, "err", err)
	}
	return nil
}

func orderEvent(order *models.Order, eventType string) models.OrderEvent {
	return models.OrderEvent{
		OrderID:  order.ID,
		UserID:   order.CustomerID,
		Type:     eventType,
		Status:   order.Status,
		Total:    order.TotalAmount,
		Occurred: time.Now().UTC(),
	}
}
