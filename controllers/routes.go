package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketplace-orders/middlewares"
)

type RouterConfig struct {
	Orders   *OrderController
	Payments *PaymentController

	JWTSecret      string
	CallbackSecret string
	// Simulation exposes POST /api/payments/confirm/simulate.
	Simulation       bool
	PaymentRateLimit *middlewares.RateLimiter
}

func SetupRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.PrometheusMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/dead-letter", middlewares.RecordOperation("dead_letter"), HandleDeadLetter)

	// Provider callback, authenticated by shared secret rather than bearer token.
	r.POST("/api/payments/confirm", middlewares.CallbackSecret(cfg.CallbackSecret), cfg.Payments.ConfirmPayment)

	api := r.Group("/api")
	api.Use(middlewares.AuthMiddleware(cfg.JWTSecret))
	{
		api.POST("/orders", middlewares.RecordOperation("create"), cfg.Orders.CreateOrder)
		api.GET("/orders", middlewares.RecordOperation("list"), cfg.Orders.ListOrders)
		api.GET("/orders/:id", middlewares.RecordOperation("details"), cfg.Orders.GetOrder)
		api.PATCH("/orders/:id", middlewares.RequireSeller(), middlewares.RecordOperation("update_status"), cfg.Orders.UpdateOrderStatus)
		api.POST("/orders/:id/cancel", middlewares.RecordOperation("cancel"), cfg.Orders.CancelOrder)

		initiate := []gin.HandlerFunc{middlewares.RecordOperation("payment_initiate"), cfg.Payments.InitiatePayment}
		if cfg.PaymentRateLimit != nil {
			initiate = append([]gin.HandlerFunc{cfg.PaymentRateLimit.Middleware("payments")}, initiate...)
		}
		api.POST("/payments/initiate", initiate...)
		api.GET("/payments/transactions", cfg.Payments.Transactions)
		api.GET("/payments/:checkout_request_id", cfg.Payments.PaymentStatus)

		if cfg.Simulation {
			api.POST("/payments/confirm/simulate", cfg.Payments.SimulateConfirmation)
		}
	}

	return r
}
