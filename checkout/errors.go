package checkout

import (
	"errors"
	"fmt"

	"marketplace-orders/models"
)

var (
	ErrPaymentFailed = errors.New("payment failed")
	ErrForbidden     = errors.New("not allowed for this role")
	// ErrRefundRequired means the money arrived after the order was cancelled.
	ErrRefundRequired = errors.New("payment received for a cancelled order")
)

// ValidationError reports input rejected before any request was sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// SubmissionError wraps a failed order submission. The cart is left as it was.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string { return "submit order: " + e.Err.Error() }
func (e *SubmissionError) Unwrap() error { return e.Err }

// PaymentInitiationError wraps a rejected charge request. Retrying is safe.
type PaymentInitiationError struct {
	OrderID int64
	Err     error
}

func (e *PaymentInitiationError) Error() string {
	return fmt.Sprintf("initiate payment for order %d: %v", e.OrderID, e.Err)
}

func (e *PaymentInitiationError) Unwrap() error { return e.Err }

type InvalidTransitionError struct {
	From, To models.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
