package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"

	"marketplace-orders/client"
	"marketplace-orders/models"
)

// fakeAPI is an in-memory stand-in for the order and payment endpoints.
type fakeAPI struct {
	mu        sync.Mutex
	prices    map[string]decimal.Decimal
	orders    map[int64]*models.Order
	txns      map[string]*models.Transaction
	nextID    int64
	calls     int
	createErr error

	// statuses scripts the answers of successive PaymentStatus calls.
	statuses  []models.TransactionStatus
	polls     int
	initiated []models.InitiatePaymentRequest
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		prices: map[string]decimal.Decimal{"p1": decimal.NewFromInt(500)},
		orders: map[int64]*models.Order{},
		txns:   map[string]*models.Transaction{},
	}
}

func (f *fakeAPI) CreateOrder(_ context.Context, req models.CreateOrderRequest) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createErr != nil {
		return nil, f.createErr
	}

	f.nextID++
	o := &models.Order{ID: f.nextID, Status: models.StatusPending, ShippingAddress: req.ShippingAddress,
		ShippingCounty: req.ShippingCounty, ShippingPhone: req.ShippingPhone}
	for _, line := range req.OrderItems {
		price := f.prices[line.ProductID]
		o.Items = append(o.Items, models.OrderItem{ProductID: line.ProductID, Quantity: line.Quantity,
			UnitPrice: price, Subtotal: price.Mul(decimal.NewFromInt(int64(line.Quantity)))})
	}
	o.TotalAmount = o.ItemsTotal()
	f.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (f *fakeAPI) UpdateStatus(_ context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	o, ok := f.orders[id]
	if !ok {
		return nil, &client.APIError{StatusCode: http.StatusNotFound, Message: "order not found"}
	}
	if !o.Status.CanTransitionTo(status) {
		return nil, &client.APIError{StatusCode: http.StatusConflict, Message: "invalid status transition"}
	}
	o.Status = status
	cp := *o
	return &cp, nil
}

func (f *fakeAPI) InitiatePayment(_ context.Context, req models.InitiatePaymentRequest) (models.InitiatePaymentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.initiated = append(f.initiated, req)
	o, ok := f.orders[req.OrderID]
	if !ok {
		return models.InitiatePaymentResponse{}, &client.APIError{StatusCode: http.StatusNotFound, Message: "order not found"}
	}
	if o.Status != models.StatusPending {
		return models.InitiatePaymentResponse{}, &client.APIError{StatusCode: http.StatusConflict, Message: "order is already paid"}
	}

	id := fmt.Sprintf("ws_CO_%d", len(f.initiated))
	f.txns[id] = &models.Transaction{ID: int64(len(f.initiated)), OrderID: o.ID, CheckoutRequestID: id,
		Amount: o.TotalAmount, Phone: req.Phone, Status: models.TxnInitiated}
	return models.InitiatePaymentResponse{CheckoutRequestID: id, OrderID: o.ID, Message: "STK Push initiated"}, nil
}

func (f *fakeAPI) PaymentStatus(_ context.Context, id string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	t, ok := f.txns[id]
	if !ok {
		return nil, &client.APIError{StatusCode: http.StatusNotFound, Message: "transaction not found"}
	}
	if len(f.statuses) > 0 {
		t.Status, f.statuses = f.statuses[0], f.statuses[1:]
		if t.Status == models.TxnFailed {
			t.ErrorMessage = "Request cancelled by user"
		}
	}
	cp := *t
	return &cp, nil
}

func (f *fakeAPI) SimulateConfirmation(_ context.Context, conf models.PaymentConfirmation) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txns[conf.CheckoutRequestID]
	if !ok {
		return nil, &client.APIError{StatusCode: http.StatusNotFound, Message: "transaction not found"}
	}
	if t.Status.Final() {
		cp := *t
		return &cp, nil
	}
	if conf.ResultCode != models.ResultCodeSuccess {
		t.Status = models.TxnFailed
	} else {
		t.Status = models.TxnSuccess
		t.ReceiptNumber = conf.ReceiptNumber
		if o := f.orders[t.OrderID]; o.Status == models.StatusPending {
			o.Status = models.StatusPaid
		}
	}
	cp := *t
	return &cp, nil
}

func (f *fakeAPI) order(id int64) models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.orders[id]
}

var errNetwork = errors.New("connection refused")
