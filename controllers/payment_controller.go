package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketplace-orders/middlewares"
	"marketplace-orders/models"
	"marketplace-orders/services"
)

type PaymentService interface {
	Initiate(ctx context.Context, p models.Principal, req models.InitiatePaymentRequest) (models.InitiatePaymentResponse, error)
	Status(ctx context.Context, p models.Principal, checkoutRequestID string) (*models.Transaction, error)
	Transactions(ctx context.Context, p models.Principal) ([]models.Transaction, error)
	Confirm(ctx context.Context, conf models.PaymentConfirmation) (*models.Transaction, error)
	ConfirmSimulated(ctx context.Context, conf models.PaymentConfirmation) (*models.Transaction, error)
}

type PaymentController struct {
	payments PaymentService
}

func NewPaymentController(payments PaymentService) *PaymentController {
	return &PaymentController{payments: payments}
}

func (pc *PaymentController) InitiatePayment(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.OrderID < 1 || req.Phone == "" {
		badRequest(c, "order_id and phone are required")
		return
	}

	resp, err := pc.payments.Initiate(c.Request.Context(), p, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (pc *PaymentController) PaymentStatus(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	txn, err := pc.payments.Status(c.Request.Context(), p, c.Param("checkout_request_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func (pc *PaymentController) Transactions(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	txns, err := pc.payments.Transactions(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txns)
}

// ConfirmPayment is the provider callback. A declined payment is still a
// processed callback, so every recorded outcome answers 200 with the stored
// transaction.
func (pc *PaymentController) ConfirmPayment(c *gin.Context) {
	pc.confirm(c, "callback", pc.payments.Confirm)
}

// SimulateConfirmation lets the payer settle their own transaction when the
// simulated gateway is enabled.
func (pc *PaymentController) SimulateConfirmation(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var peek models.PaymentConfirmation
	if err := c.ShouldBindBodyWithJSON(&peek); err != nil {
		badRequest(c, err.Error())
		return
	}
	checkoutID := peek.CheckoutRequestID
	if _, err := pc.payments.Status(c.Request.Context(), p, checkoutID); err != nil {
		writeError(c, err)
		return
	}
	pc.confirm(c, "simulate", pc.payments.ConfirmSimulated)
}

type confirmFunc func(ctx context.Context, conf models.PaymentConfirmation) (*models.Transaction, error)

func (pc *PaymentController) confirm(c *gin.Context, source string, apply confirmFunc) {
	var conf models.PaymentConfirmation
	if err := c.ShouldBindBodyWithJSON(&conf); err != nil {
		badRequest(c, err.Error())
		return
	}

	txn, err := apply(c.Request.Context(), conf)
	switch {
	case errors.Is(err, services.ErrPaymentFailed):
		middlewares.RecordPaymentOutcome(source, "failed")
		c.JSON(http.StatusOK, gin.H{"message": "Payment failed", "transaction": txn})
	case errors.Is(err, services.ErrRefundRequired):
		middlewares.RecordPaymentOutcome(source, "refund_required")
		c.JSON(http.StatusOK, gin.H{"message": "Payment received for a cancelled order; refund required", "transaction": txn})
	case err != nil:
		middlewares.RecordPaymentOutcome(source, "error")
		writeError(c, err)
	default:
		middlewares.RecordPaymentOutcome(source, "success")
		c.JSON(http.StatusOK, gin.H{"message": "Payment confirmed", "transaction": txn})
	}
}
