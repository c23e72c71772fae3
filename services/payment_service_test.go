package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-orders/models"
	"marketplace-orders/mpesa"
)

type failingGateway struct{}

func (failingGateway) InitiateSTKPush(context.Context, mpesa.STKPushRequest) (mpesa.STKPushResponse, error) {
	return mpesa.STKPushResponse{}, errors.New("daraja unavailable")
}

func (failingGateway) QueryStatus(context.Context, string) (mpesa.StatusResult, error) {
	return mpesa.StatusResult{}, errors.New("daraja unavailable")
}

type paymentFixture struct {
	orders   *OrderService
	payments *PaymentService
	store    *memStore
	gateway  *mpesa.Simulator
	pub      *recordingPublisher
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	store := newMemStore()
	pub := &recordingPublisher{}
	gw := mpesa.NewSimulator("174379", 0)
	return &paymentFixture{
		orders:   NewOrderService(store, pub, time.Minute),
		payments: NewPaymentService(store, store, gw, pub),
		store:    store,
		gateway:  gw,
		pub:      pub,
	}
}

func (f *paymentFixture) pendingOrder(t *testing.T) *models.Order {
	t.Helper()
	order, err := f.orders.CreateOrder(context.Background(), buyer, validRequest())
	require.NoError(t, err)
	return order
}

func (f *paymentFixture) initiate(t *testing.T, orderID int64) models.InitiatePaymentResponse {
	t.Helper()
	resp, err := f.payments.Initiate(context.Background(), buyer, models.InitiatePaymentRequest{OrderID: orderID, Phone: "0712345678"})
	require.NoError(t, err)
	return resp
}

func TestInitiateRecordsTransaction(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.pendingOrder(t)

	resp := f.initiate(t, order.ID)
	assert.Equal(t, order.ID, resp.OrderID)
	assert.NotEmpty(t, resp.CheckoutRequestID)
	assert.NotEmpty(t, resp.Message)

	txn, err := f.payments.Status(context.Background(), buyer, resp.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnInitiated, txn.Status)
	assert.Equal(t, "+254712345678", txn.Phone)
	assert.True(t, order.TotalAmount.Equal(txn.Amount))
}

func TestInitiateGuards(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.pendingOrder(t)
	ctx := context.Background()

	_, err := f.payments.Initiate(ctx, buyer, models.InitiatePaymentRequest{OrderID: order.ID, Phone: "12345"})
	assert.ErrorIs(t, err, ErrInvalidPhone)

	_, err = f.payments.Initiate(ctx, models.Principal{UserID: 99, Role: models.RoleFarmer},
		models.InitiatePaymentRequest{OrderID: order.ID, Phone: "0712345678"})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.payments.Initiate(ctx, buyer, models.InitiatePaymentRequest{OrderID: 404, Phone: "0712345678"})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.orders.AdvanceStatus(ctx, seller, order.ID, models.StatusPaid)
	require.NoError(t, err)
	_, err = f.payments.Initiate(ctx, buyer, models.InitiatePaymentRequest{OrderID: order.ID, Phone: "0712345678"})
	assert.ErrorIs(t, err, ErrAlreadyPaid)

	other := f.pendingOrder(t)
	_, err = f.orders.CancelOrder(ctx, buyer, other.ID)
	require.NoError(t, err)
	_, err = f.payments.Initiate(ctx, buyer, models.InitiatePaymentRequest{OrderID: other.ID, Phone: "0712345678"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestInitiateGatewayFailure(t *testing.T) {
	store := newMemStore()
	orders := NewOrderService(store, nil, 0)
	payments := NewPaymentService(store, store, failingGateway{}, nil)

	order, err := orders.CreateOrder(context.Background(), buyer, validRequest())
	require.NoError(t, err)

	_, err = payments.Initiate(context.Background(), buyer, models.InitiatePaymentRequest{OrderID: order.ID, Phone: "+254712345678"})
	assert.ErrorIs(t, err, ErrGateway)
	assert.Empty(t, store.txns)
}

func TestConfirmSuccessMarksOrderPaid(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.pendingOrder(t)
	resp := f.initiate(t, order.ID)

	txn, err := f.payments.Confirm(context.Background(), models.PaymentConfirmation{
		CheckoutRequestID: resp.CheckoutRequestID, ResultCode: 0, ReceiptNumber: "QLX1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TxnSuccess, txn.Status)

	got, err := f.orders.GetOrder(context.Background(), buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)
	assert.Contains(t, f.pub.types(), models.EventOrderPaid)

	// A repeated confirmation replays the outcome without another event.
	_, err = f.payments.Confirm(context.Background(), models.PaymentConfirmation{
		CheckoutRequestID: resp.CheckoutRequestID, ResultCode: 0, ReceiptNumber: "QLX1",
	})
	require.NoError(t, err)
	paid := 0
	for _, typ := range f.pub.types() {
		if typ == models.EventOrderPaid {
			paid++
		}
	}
	assert.Equal(t, 1, paid)

	_, err = f.payments.Initiate(context.Background(), buyer, models.InitiatePaymentRequest{OrderID: order.ID, Phone: "0712345678"})
	assert.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestConfirmFailureLeavesOrderPending(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.pendingOrder(t)
	resp := f.initiate(t, order.ID)

	txn, err := f.payments.Confirm(context.Background(), models.PaymentConfirmation{
		CheckoutRequestID: resp.CheckoutRequestID, ResultCode: 1,
	})
	assert.ErrorIs(t, err, ErrPaymentFailed)
	require.NotNil(t, txn)
	assert.Equal(t, models.TxnFailed, txn.Status)
	assert.Contains(t, txn.ErrorMessage, "result code 1")

	got, err := f.orders.GetOrder(context.Background(), buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	_, err = f.payments.Confirm(context.Background(), models.PaymentConfirmation{
		CheckoutRequestID: resp.CheckoutRequestID, ResultCode: 0,
	})
	assert.ErrorIs(t, err, ErrPaymentFailed)

	// A fresh attempt is still allowed.
	f.initiate(t, order.ID)
}

func TestConfirmUnknownRequest(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.payments.Confirm(context.Background(), models.PaymentConfirmation{CheckoutRequestID: "ws_CO_missing"})
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	_, err = f.payments.Confirm(context.Background(), models.PaymentConfirmation{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStatusHiddenFromOtherCustomers(t *testing.T) {
	f := newPaymentFixture(t)
	resp := f.initiate(t, f.pendingOrder(t).ID)

	_, err := f.payments.Status(context.Background(), models.Principal{UserID: 99, Role: models.RoleFarmer}, resp.CheckoutRequestID)
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	_, err = f.payments.Status(context.Background(), admin, resp.CheckoutRequestID)
	assert.NoError(t, err)

	txns, err := f.payments.Transactions(context.Background(), buyer)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestReconcileKeepsProcessingOrder(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.pendingOrder(t)
	f.initiate(t, order.ID)

	require.Len(t, f.pub.delayed, 1)

	res, err := f.payments.Reconcile(context.Background(), order.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processing)
	assert.True(t, res.Rescheduled)
	assert.False(t, res.Cancelled)

	require.Len(t, f.pub.delayed, 2)
	recheck := f.pub.delayed[1]
	assert.Equal(t, models.EventPaymentCheck, recheck.Type)
	assert.Equal(t, order.ID, recheck.OrderID)
	assert.Equal(t, 1, recheck.Attempt)
}

func TestReconcileExpiresAttemptsAfterLastRecheck(t *testing.T) {
	f := newPaymentFixture(t)
	payments := NewPaymentService(f.store, f.store, f.gateway, f.pub, WithRecheck(time.Minute, 2))
	order := f.pendingOrder(t)
	resp := f.initiate(t, order.ID)

	res, err := payments.Reconcile(context.Background(), order.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.False(t, res.Rescheduled)
	assert.True(t, res.Cancelled)
	assert.Len(t, f.pub.delayed, 1)
	assert.Equal(t, 10, f.store.products["p1"].Stock)

	txn, err := payments.Status(context.Background(), buyer, resp.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnFailed, txn.Status)
}

func TestReconcileExpiresAttemptsUnknownToGateway(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.pendingOrder(t)
	f.initiate(t, order.ID)

	// A restarted gateway no longer knows the request.
	restarted := NewPaymentService(f.store, f.store, mpesa.NewSimulator("174379", 0), f.pub)

	res, err := restarted.Reconcile(context.Background(), order.ID, 0)
	require.NoError(t, err)
	assert.True(t, res.Rescheduled)
	assert.False(t, res.Cancelled)

	res, err = restarted.Reconcile(context.Background(), order.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.True(t, res.Cancelled)
}

func TestReconcileSettlesFromGateway(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.pendingOrder(t)
	resp := f.initiate(t, order.ID)
	require.NoError(t, f.gateway.Record(resp.CheckoutRequestID, mpesa.StatusResult{ResultCode: 0, ReceiptNumber: "QLX9"}))

	res, err := f.payments.Reconcile(context.Background(), order.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Settled)
	assert.False(t, res.Cancelled)

	got, err := f.orders.GetOrder(context.Background(), buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)
}

func TestReconcileCancelsUnpaidOrder(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.pendingOrder(t)
	resp := f.initiate(t, order.ID)
	require.NoError(t, f.gateway.Record(resp.CheckoutRequestID, mpesa.StatusResult{ResultCode: 1, ResultDesc: "Request cancelled by user"}))

	res, err := f.payments.Reconcile(context.Background(), order.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 10, f.store.products["p1"].Stock)

	again, err := f.payments.Reconcile(context.Background(), order.ID, 0)
	require.NoError(t, err)
	assert.False(t, again.Cancelled)
}

func TestReconcileWithoutAttempts(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.pendingOrder(t)

	res, err := f.payments.Reconcile(context.Background(), order.ID, 0)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)

	_, err = f.payments.Reconcile(context.Background(), 404, 0)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

// staleReads serves one outdated copy of a transaction, as a reader that
// raced a concurrent settlement would see it.
type staleReads struct {
	*memStore
	stale *models.Transaction
}

func (r *staleReads) GetByCheckoutRequestID(ctx context.Context, id string) (*models.Transaction, error) {
	if r.stale != nil {
		t := r.stale
		r.stale = nil
		return t, nil
	}
	return r.memStore.GetByCheckoutRequestID(ctx, id)
}

func TestConfirmKeepsConcurrentSettlement(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.pendingOrder(t)
	resp := f.initiate(t, order.ID)

	stale, err := f.store.GetByCheckoutRequestID(context.Background(), resp.CheckoutRequestID)
	require.NoError(t, err)

	_, err = f.payments.Confirm(context.Background(), models.PaymentConfirmation{
		CheckoutRequestID: resp.CheckoutRequestID, ResultCode: 0, ReceiptNumber: "QLX1",
	})
	require.NoError(t, err)

	racing := NewPaymentService(f.store, &staleReads{memStore: f.store, stale: stale}, f.gateway, f.pub)
	txn, err := racing.Confirm(context.Background(), models.PaymentConfirmation{
		CheckoutRequestID: resp.CheckoutRequestID, ResultCode: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TxnSuccess, txn.Status)
	assert.Equal(t, "QLX1", txn.ReceiptNumber)

	stored, err := f.store.GetByCheckoutRequestID(context.Background(), resp.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnSuccess, stored.Status)
}

func TestConfirmAfterCancellationRequiresRefund(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.pendingOrder(t)
	resp := f.initiate(t, order.ID)
	_, err := f.orders.CancelOrder(context.Background(), buyer, order.ID)
	require.NoError(t, err)

	conf := models.PaymentConfirmation{CheckoutRequestID: resp.CheckoutRequestID, ResultCode: 0, ReceiptNumber: "QLX2"}
	txn, err := f.payments.Confirm(context.Background(), conf)
	assert.ErrorIs(t, err, ErrRefundRequired)
	require.NotNil(t, txn)
	assert.Equal(t, models.TxnRefundRequired, txn.Status)
	assert.Equal(t, "QLX2", txn.ReceiptNumber)

	got, err := f.orders.GetOrder(context.Background(), buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.NotContains(t, f.pub.types(), models.EventOrderPaid)

	_, err = f.payments.Confirm(context.Background(), conf)
	assert.ErrorIs(t, err, ErrRefundRequired)
}

func TestConfirmSimulatedPinsGatewayResult(t *testing.T) {
	f := newPaymentFixture(t)
	order := f.pendingOrder(t)
	resp := f.initiate(t, order.ID)

	_, err := f.payments.ConfirmSimulated(context.Background(), models.PaymentConfirmation{
		CheckoutRequestID: resp.CheckoutRequestID, ResultCode: 0, ReceiptNumber: "QLX5",
	})
	require.NoError(t, err)

	status, err := f.gateway.QueryStatus(context.Background(), resp.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultCodeSuccess, status.ResultCode)
	assert.Equal(t, "QLX5", status.ReceiptNumber)
}
