package controllers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"marketplace-orders/middlewares"
	"marketplace-orders/models"
)

type OrderService interface {
	CreateOrder(ctx context.Context, p models.Principal, req models.CreateOrderRequest) (*models.Order, error)
	ListOrders(ctx context.Context, p models.Principal) ([]models.Order, error)
	GetOrder(ctx context.Context, p models.Principal, id int64) (*models.Order, error)
	AdvanceStatus(ctx context.Context, p models.Principal, id int64, to models.OrderStatus) (*models.Order, error)
	CancelOrder(ctx context.Context, p models.Principal, id int64) (*models.Order, error)
}

type OrderController struct {
	orders OrderService
}

func NewOrderController(orders OrderService) *OrderController {
	return &OrderController{orders: orders}
}

func principal(c *gin.Context) (models.Principal, bool) {
	p, ok := middlewares.CurrentPrincipal(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
	}
	return p, ok
}

func orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		badRequest(c, "Invalid order ID")
		return 0, false
	}
	return id, true
}

func (oc *OrderController) CreateOrder(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	order, err := oc.orders.CreateOrder(c.Request.Context(), p, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (oc *OrderController) ListOrders(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	orders, err := oc.orders.ListOrders(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (oc *OrderController) GetOrder(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}

	order, err := oc.orders.GetOrder(c.Request.Context(), p, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (oc *OrderController) UpdateOrderStatus(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}

	var req models.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Status == "" {
		badRequest(c, "status is required")
		return
	}

	order, err := oc.orders.AdvanceStatus(c.Request.Context(), p, id, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (oc *OrderController) CancelOrder(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}

	order, err := oc.orders.CancelOrder(c.Request.Context(), p, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// HandleDeadLetter accepts manual reports of events that could not be processed.
func HandleDeadLetter(c *gin.Context) {
	var deadLetter struct {
		OrderID int64  `json:"order_id" binding:"required"`
		Reason  string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&deadLetter); err != nil {
		badRequest(c, err.Error())
		return
	}

	slog.WarnContext(c.Request.Context(), "dead letter reported", "order_id", deadLetter.OrderID, "reason", deadLetter.Reason)
	c.JSON(http.StatusOK, gin.H{"message": "Dead letter processed"})
}
