package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TxnInitiated TransactionStatus = "initiated"
	TxnPending   TransactionStatus = "pending"
	TxnSuccess   TransactionStatus = "success"
	TxnFailed    TransactionStatus = "failed"
	TxnCancelled TransactionStatus = "cancelled"
	// TxnRefundRequired marks money received for an order that was already
	// cancelled.
	TxnRefundRequired TransactionStatus = "refund_required"
)

func (s TransactionStatus) Final() bool {
	return s == TxnSuccess || s == TxnFailed || s == TxnCancelled || s == TxnRefundRequired
}

const (
	ResultCodeSuccess    = 0
	ResultCodeProcessing = 1032
)

// Transaction records one mobile-money payment attempt against an order.
type Transaction struct {
	ID                int64             `json:"id"`
	OrderID           int64             `json:"order_id"`
	CheckoutRequestID string            `json:"checkout_request_id"`
	ReceiptNumber     string            `json:"receipt_number,omitempty"`
	Amount            decimal.Decimal   `json:"amount"`
	Phone             string            `json:"phone"`
	Status            TransactionStatus `json:"status"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// PaymentRequest correlates one initiation attempt with its eventual confirmation.
type PaymentRequest struct {
	OrderID           int64  `json:"order_id"`
	PhoneNumber       string `json:"phone"`
	CheckoutRequestID string `json:"checkout_request_id"`
}

type PaymentConfirmation struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	ResultCode        int    `json:"result_code"`
	ReceiptNumber     string `json:"receipt_number"`
	ResultDesc        string `json:"result_desc,omitempty"`
}

func (c PaymentConfirmation) Succeeded() bool {
	return c.ResultCode == ResultCodeSuccess
}

type InitiatePaymentRequest struct {
	OrderID int64  `json:"order_id"`
	Phone   string `json:"phone"`
}

type InitiatePaymentResponse struct {
	Message           string `json:"message"`
	CheckoutRequestID string `json:"checkout_request_id"`
	TransactionID     int64  `json:"transaction_id"`
	OrderID           int64  `json:"order_id"`
}
