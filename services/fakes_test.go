package services

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketplace-orders/database"
	"marketplace-orders/models"
)

type memStore struct {
	mu       sync.Mutex
	products map[string]*models.Product
	orders   map[int64]*models.Order
	txns     map[string]*models.Transaction
	nextID   int64
	failNext error
}

func newMemStore() *memStore {
	return &memStore{
		products: map[string]*models.Product{
			"p1": {ID: "p1", VendorID: 70, Title: "Maize seed", Price: decimal.NewFromInt(500), Stock: 10, IsActive: true},
			"p2": {ID: "p2", VendorID: 80, Title: "Jembe", Price: decimal.NewFromInt(750), Stock: 1, IsActive: true},
		},
		orders: map[int64]*models.Order{},
		txns:   map[string]*models.Transaction{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) takeErr() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memStore) CreateOrder(_ context.Context, customerID int64, req models.CreateOrderRequest) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeErr(); err != nil {
		return nil, err
	}

	o := &models.Order{
		ID: m.id(), CustomerID: customerID, Status: models.StatusPending,
		ShippingAddress: req.ShippingAddress, ShippingCounty: req.ShippingCounty, ShippingPhone: req.ShippingPhone,
		CreatedAt: time.Now(),
	}
	for _, line := range req.OrderItems {
		p, ok := m.products[line.ProductID]
		if !ok || !p.IsActive {
			return nil, database.ErrProductUnavailable
		}
		if p.Stock < line.Quantity {
			return nil, database.ErrInsufficientStock
		}
		o.Items = append(o.Items, models.OrderItem{
			ProductID: p.ID, Quantity: line.Quantity, UnitPrice: p.Price,
			Subtotal: p.Price.Mul(decimal.NewFromInt(int64(line.Quantity))),
		})
	}
	for _, line := range req.OrderItems {
		m.products[line.ProductID].Stock -= line.Quantity
	}
	o.TotalAmount = o.ItemsTotal()
	m.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (m *memStore) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) ListOrders(_ context.Context, scope database.OrderScope) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for _, o := range m.orders {
		if scope.All || (scope.CustomerID != 0 && o.CustomerID == scope.CustomerID) ||
			(scope.VendorID != 0 && (o.CustomerID == scope.VendorID || m.hasVendor(o, scope.VendorID))) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memStore) hasVendor(o *models.Order, vendorID int64) bool {
	for _, item := range o.Items {
		if p, ok := m.products[item.ProductID]; ok && p.VendorID == vendorID {
			return true
		}
	}
	return false
}

func (m *memStore) OrderHasVendor(_ context.Context, orderID, vendorID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	return ok && m.hasVendor(o, vendorID), nil
}

func (m *memStore) UpdateStatus(_ context.Context, id int64, from, to models.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return database.ErrStatusConflict
	}
	o.Status = to
	return nil
}

func (m *memStore) CancelOrder(_ context.Context, id int64, from models.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return database.ErrStatusConflict
	}
	o.Status = models.StatusCancelled
	for _, item := range o.Items {
		m.products[item.ProductID].Stock += item.Quantity
	}
	return nil
}

func (m *memStore) Create(_ context.Context, t *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.id()
	t.CreatedAt = time.Now()
	cp := *t
	m.txns[t.CheckoutRequestID] = &cp
	return nil
}

func (m *memStore) GetByCheckoutRequestID(_ context.Context, id string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) HasSuccessful(_ context.Context, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txns {
		if t.OrderID == orderID && t.Status == models.TxnSuccess {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) MarkSucceeded(_ context.Context, t *models.Transaction, receipt string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.txns[t.CheckoutRequestID]
	if stored.Status.Final() {
		return false, database.ErrStatusConflict
	}
	stored.Status = models.TxnSuccess
	stored.ReceiptNumber = receipt

	o := m.orders[t.OrderID]
	promoted := o.Status == models.StatusPending
	if promoted {
		o.Status = models.StatusPaid
	} else if o.Status == models.StatusCancelled {
		stored.Status = models.TxnRefundRequired
		stored.ErrorMessage = "refund required"
	}
	*t = *stored
	return promoted, nil
}

func (m *memStore) MarkFailed(_ context.Context, t *models.Transaction, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.txns[t.CheckoutRequestID]
	if stored.Status.Final() {
		return database.ErrStatusConflict
	}
	stored.Status = models.TxnFailed
	stored.ErrorMessage = reason
	*t = *stored
	return nil
}

func (m *memStore) ListOpenForOrder(_ context.Context, orderID int64) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Transaction{}
	for _, t := range m.txns {
		if t.OrderID == orderID && !t.Status.Final() {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) ListForCustomer(_ context.Context, customerID int64) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Transaction{}
	for _, t := range m.txns {
		if o, ok := m.orders[t.OrderID]; ok && o.CustomerID == customerID {
			out = append(out, *t)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	events  []models.OrderEvent
	delayed []models.OrderEvent
}

func (r *recordingPublisher) PublishOrderEvent(_ context.Context, e models.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) PublishDelayedEvent(_ context.Context, e models.OrderEvent, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delayed = append(r.delayed, e)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
