package checkout

import (
	"context"

	"marketplace-orders/models"
	"marketplace-orders/utils"
)

type PaymentAPI interface {
	InitiatePayment(ctx context.Context, req models.InitiatePaymentRequest) (models.InitiatePaymentResponse, error)
	PaymentStatus(ctx context.Context, checkoutRequestID string) (*models.Transaction, error)
	SimulateConfirmation(ctx context.Context, conf models.PaymentConfirmation) (*models.Transaction, error)
}

type Initiator struct {
	api PaymentAPI
}

func NewInitiator(api PaymentAPI) *Initiator {
	return &Initiator{api: api}
}

// InitiatePayment requests an STK push for the order. Every call yields a new
// checkout request id; an abandoned earlier attempt needs no cleanup.
func (i *Initiator) InitiatePayment(ctx context.Context, orderID int64, phone string) (models.PaymentRequest, error) {
	req := models.PaymentRequest{OrderID: orderID, PhoneNumber: utils.NormalizePhone(phone)}
	if req.PhoneNumber == "" {
		return req, &ValidationError{Field: "phone", Reason: "is required"}
	}

	resp, err := i.api.InitiatePayment(ctx, models.InitiatePaymentRequest{OrderID: orderID, Phone: req.PhoneNumber})
	if err != nil {
		return req, &PaymentInitiationError{OrderID: orderID, Err: err}
	}
	req.CheckoutRequestID = resp.CheckoutRequestID
	return req, nil
}
