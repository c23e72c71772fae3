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
	"marketplace-orders/mpesa"
	"marketplace-orders/utils"
)

// PaymentService initiates mobile-money charges and reconciles their
// asynchronous outcomes onto orders.
type PaymentService struct {
	orders    OrderRepo
	txns      TransactionRepo
	gateway   Gateway
	publisher EventPublisher

	recheckDelay time.Duration
	maxRechecks  int
}

type PaymentOption func(*PaymentService)

// WithRecheck sets how long Reconcile waits before looking at a still
// processing attempt again, and how many times it does so before the attempt
// is expired.
func WithRecheck(delay time.Duration, maxRechecks int) PaymentOption {
	return func(s *PaymentService) {
		if delay > 0 {
			s.recheckDelay = delay
		}
		if maxRechecks >= 0 {
			s.maxRechecks = maxRechecks
		}
	}
}

func NewPaymentService(orders OrderRepo, txns TransactionRepo, gateway Gateway, publisher EventPublisher, opts ...PaymentOption) *PaymentService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	s := &PaymentService{
		orders:       orders,
		txns:         txns,
		gateway:      gateway,
		publisher:    publisher,
		recheckDelay: 2 * time.Minute,
		maxRechecks:  5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate sends an STK push for the caller's pending order. Each call issues
// a new checkout request id; earlier attempts are left to expire.
func (s *PaymentService) Initiate(ctx context.Context, p models.Principal, req models.InitiatePaymentRequest) (models.InitiatePaymentResponse, error) {
	phone := utils.NormalizePhone(req.Phone)
	if !utils.ValidMobile(phone) {
		return models.InitiatePaymentResponse{}, ErrInvalidPhone
	}

	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if errors.Is(err, database.ErrNotFound) || (err == nil && order.CustomerID != p.UserID) {
		return models.InitiatePaymentResponse{}, ErrOrderNotFound
	}
	if err != nil {
		return models.InitiatePaymentResponse{}, fmt.Errorf("load order %d: %w", req.OrderID, err)
	}

	switch {
	case order.Status == models.StatusCancelled:
		return models.InitiatePaymentResponse{}, fmt.Errorf("%w: order %d is cancelled", ErrInvalidTransition, order.ID)
	case order.Status != models.StatusPending:
		return models.InitiatePaymentResponse{}, ErrAlreadyPaid
	}
	paid, err := s.txns.HasSuccessful(ctx, order.ID)
	if err != nil {
		return models.InitiatePaymentResponse{}, err
	}
	if paid {
		return models.InitiatePaymentResponse{}, fmt.Errorf("%w: order already has a successful payment", ErrAlreadyPaid)
	}

	push, err := s.gateway.InitiateSTKPush(ctx, mpesa.STKPushRequest{
		Phone:            phone,
		Amount:           order.TotalAmount,
		AccountReference: fmt.Sprintf("ORDER%d", order.ID),
		Description:      fmt.Sprintf("Payment for order %d", order.ID),
	})
	if err != nil {
		slog.ErrorContext(ctx, "stk push initiation failed", "order_id", order.ID, "err", err)
		return models.InitiatePaymentResponse{}, fmt.Errorf("%w: %w", ErrGateway, err)
	}

	txn := &models.Transaction{
		OrderID:           order.ID,
		CheckoutRequestID: push.CheckoutRequestID,
		Amount:            order.TotalAmount,
		Phone:             phone,
		Status:            models.TxnInitiated,
	}
	if err := s.txns.Create(ctx, txn); err != nil {
		return models.InitiatePaymentResponse{}, fmt.Errorf("record transaction: %w", err)
	}

	slog.InfoContext(ctx, "stk push initiated", "order_id", order.ID, "checkout_request_id", txn.CheckoutRequestID)

	msg := push.CustomerMessage
	if msg == "" {
		msg = "STK Push initiated"
	}
	return models.InitiatePaymentResponse{
		Message:           msg,
		CheckoutRequestID: txn.CheckoutRequestID,
		TransactionID:     txn.ID,
		OrderID:           order.ID,
	}, nil
}

// Status returns the transaction for a checkout request the caller owns.
func (s *PaymentService) Status(ctx context.Context, p models.Principal, checkoutRequestID string) (*models.Transaction, error) {
	txn, err := s.transaction(ctx, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	if p.IsAdmin() {
		return txn, nil
	}
	order, err := s.orders.GetOrder(ctx, txn.OrderID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("load order %d: %w", txn.OrderID, err)
	}
	if order == nil || order.CustomerID != p.UserID {
		return nil, ErrTransactionNotFound
	}
	return txn, nil
}

func (s *PaymentService) Transactions(ctx context.Context, p models.Principal) ([]models.Transaction, error) {
	return s.txns.ListForCustomer(ctx, p.UserID)
}

func (s *PaymentService) transaction(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	if strings.TrimSpace(checkoutRequestID) == "" {
		return nil, fmt.Errorf("%w: checkout_request_id is required", ErrValidation)
	}
	txn, err := s.txns.GetByCheckoutRequestID(ctx, checkoutRequestID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	return txn, nil
}

// Confirm applies a provider confirmation. Result code 0 settles the
// transaction and moves a pending order to paid; any other code fails the
// transaction, leaves the order untouched and returns ErrPaymentFailed.
// Money arriving for a cancelled order returns ErrRefundRequired.
// Confirming a transaction that is already final replays its outcome.
func (s *PaymentService) Confirm(ctx context.Context, conf models.PaymentConfirmation) (*models.Transaction, error) {
	txn, err := s.transaction(ctx, conf.CheckoutRequestID)
	if err != nil {
		return nil, err
	}

	if txn.Status.Final() {
		slog.InfoContext(ctx, "confirmation for settled transaction ignored",
			"checkout_request_id", txn.CheckoutRequestID, "status", txn.Status)
		return replay(txn)
	}

	if !conf.Succeeded() {
		reason := conf.ResultDesc
		if reason == "" {
			reason = fmt.Sprintf("Payment failed with result code %d", conf.ResultCode)
		}
		if err := s.txns.MarkFailed(ctx, txn, reason); err != nil {
			return s.settledElsewhere(ctx, txn, err)
		}
		slog.InfoContext(ctx, "payment failed", "transaction_id", txn.ID, "order_id", txn.OrderID, "result_code", conf.ResultCode)
		return txn, ErrPaymentFailed
	}

	promoted, err := s.txns.MarkSucceeded(ctx, txn, conf.ReceiptNumber)
	if err != nil {
		return s.settledElsewhere(ctx, txn, err)
	}
	if txn.Status == models.TxnRefundRequired {
		slog.WarnContext(ctx, "payment received for cancelled order, refund required",
			"transaction_id", txn.ID, "order_id", txn.OrderID, "receipt", conf.ReceiptNumber, "amount", txn.Amount.String())
		return txn, ErrRefundRequired
	}
	slog.InfoContext(ctx, "payment confirmed", "transaction_id", txn.ID, "order_id", txn.OrderID,
		"receipt", conf.ReceiptNumber, "order_paid", promoted)

	if promoted {
		event := models.OrderEvent{OrderID: txn.OrderID, Type: models.EventOrderPaid, Status: models.StatusPaid, Total: txn.Amount, Occurred: txn.UpdatedAt}
		if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
			slog.WarnContext(ctx, "publish paid event", "order_id", txn.OrderID, "err", err)
		}
	}
	return txn, nil
}

// ConfirmSimulated applies a confirmation submitted through the simulation
// route. The result is pinned on the gateway first so later status queries
// agree with the stored transaction.
func (s *PaymentService) ConfirmSimulated(ctx context.Context, conf models.PaymentConfirmation) (*models.Transaction, error) {
	if rec, ok := s.gateway.(resultRecorder); ok {
		err := rec.Record(conf.CheckoutRequestID, mpesa.StatusResult{
			ResultCode:    conf.ResultCode,
			ResultDesc:    conf.ResultDesc,
			ReceiptNumber: conf.ReceiptNumber,
		})
		if err != nil {
			slog.WarnContext(ctx, "pin simulated result", "checkout_request_id", conf.CheckoutRequestID, "err", err)
		}
	}
	return s.Confirm(ctx, conf)
}

// settledElsewhere handles a guarded write that lost a race: the stored
// outcome wins and is replayed.
func (s *PaymentService) settledElsewhere(ctx context.Context, txn *models.Transaction, err error) (*models.Transaction, error) {
	if !errors.Is(err, database.ErrStatusConflict) {
		return nil, err
	}
	current, err := s.transaction(ctx, txn.CheckoutRequestID)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "transaction settled concurrently", "transaction_id", current.ID, "status", current.Status)
	return replay(current)
}

func replay(txn *models.Transaction) (*models.Transaction, error) {
	switch txn.Status {
	case models.TxnSuccess:
		return txn, nil
	case models.TxnRefundRequired:
		return txn, ErrRefundRequired
	default:
		return txn, ErrPaymentFailed
	}
}

// ReconcileResult summarizes one payment check.
type ReconcileResult struct {
	Settled        int
	Failed         int
	Processing     int
	Expired        int
	RefundRequired int
	Rescheduled    bool
	Cancelled      bool
}

// Reconcile queries the gateway for every open attempt on the order and
// applies definitive results. attempt counts the checks already run for the
// order. While an attempt is still processing another check is scheduled;
// once maxRechecks is reached the remaining attempts are expired. An order
// that is still unpaid with no attempt in flight is cancelled.
func (s *PaymentService) Reconcile(ctx context.Context, orderID int64, attempt int) (ReconcileResult, error) {
	var res ReconcileResult

	open, err := s.txns.ListOpenForOrder(ctx, orderID)
	if err != nil {
		return res, err
	}

	var processing []models.Transaction
	for i := range open {
		txn := open[i]
		status, err := s.gateway.QueryStatus(ctx, txn.CheckoutRequestID)
		if err != nil {
			slog.ErrorContext(ctx, "query stk status", "transaction_id", txn.ID, "err", err)
			processing = append(processing, txn)
			continue
		}
		if status.ResultCode == models.ResultCodeProcessing {
			processing = append(processing, txn)
			continue
		}

		_, err = s.Confirm(ctx, models.PaymentConfirmation{
			CheckoutRequestID: txn.CheckoutRequestID,
			ResultCode:        status.ResultCode,
			ReceiptNumber:     status.ReceiptNumber,
			ResultDesc:        status.ResultDesc,
		})
		s.tally(ctx, &res, txn, err, &processing)
	}

	if len(processing) > 0 && attempt < s.maxRechecks {
		res.Processing = len(processing)
		check := models.OrderEvent{OrderID: orderID, Type: models.EventPaymentCheck, Status: models.StatusPending,
			Attempt: attempt + 1, Occurred: time.Now().UTC()}
		if err := s.publisher.PublishDelayedEvent(ctx, check, s.recheckDelay); err != nil {
			slog.WarnContext(ctx, "schedule payment recheck", "order_id", orderID, "attempt", check.Attempt, "err", err)
		} else {
			res.Rescheduled = true
		}
		return res, nil
	}

	for i := range processing {
		txn := processing[i]
		err := s.txns.MarkFailed(ctx, &txn, "Payment request expired without confirmation")
		if err == nil {
			res.Expired++
			continue
		}
		if !errors.Is(err, database.ErrStatusConflict) {
			return res, fmt.Errorf("expire transaction %d: %w", txn.ID, err)
		}
		_, err = s.settledElsewhere(ctx, &txn, err)
		var still []models.Transaction
		s.tally(ctx, &res, txn, err, &still)
		res.Processing += len(still)
	}

	if res.Settled > 0 || res.Processing > 0 {
		return res, nil
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if errors.Is(err, database.ErrNotFound) {
		return res, ErrOrderNotFound
	}
	if err != nil {
		return res, fmt.Errorf("load order %d: %w", orderID, err)
	}
	if order.Status != models.StatusPending {
		return res, nil
	}

	err = s.orders.CancelOrder(ctx, orderID, models.StatusPending)
	if errors.Is(err, database.ErrStatusConflict) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("auto-cancel order %d: %w", orderID, err)
	}
	res.Cancelled = true
	slog.InfoContext(ctx, "auto-cancelled order due to non-payment", "order_id", orderID, "checks", attempt+1)

	event := models.OrderEvent{OrderID: orderID, UserID: order.CustomerID, Type: models.EventStatusUpdated,
		Status: models.StatusCancelled, Total: order.TotalAmount, Occurred: order.UpdatedAt}
	if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		slog.WarnContext(ctx, "publish cancel event", "order_id", orderID, "err", err)
	}
	return res, nil
}

func (s *PaymentService) tally(ctx context.Context, res *ReconcileResult, txn models.Transaction, err error, processing *[]models.Transaction) {
	switch {
	case err == nil:
		res.Settled++
	case errors.Is(err, ErrPaymentFailed):
		res.Failed++
	case errors.Is(err, ErrRefundRequired):
		res.RefundRequired++
	default:
		slog.ErrorContext(ctx, "apply reconciled status", "transaction_id", txn.ID, "err", err)
		*processing = append(*processing, txn)
	}
}
