package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"marketplace-orders/config"
	"marketplace-orders/consumers"
	"marketplace-orders/controllers"
	"marketplace-orders/database"
	"marketplace-orders/logger"
	"marketplace-orders/middlewares"
	"marketplace-orders/mpesa"
	"marketplace-orders/rabbitmq"
	"marketplace-orders/services"
)

func main() {
	if err := run(); err != nil {
		slog.Error("service stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadConfig()
	log := logger.New(logger.Options{
		Service:   "marketplace-orders",
		Env:       cfg.AppEnv,
		Level:     cfg.LogLevel,
		AddSource: !cfg.IsProduction(),
	})

	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if cfg.IsProduction() && cfg.PaymentSimulation {
		return errors.New("PAYMENT_SIMULATION must be off in production")
	}
	if cfg.IsProduction() && cfg.MpesaCallbackSecret == "" {
		return errors.New("MPESA_CALLBACK_SECRET is required in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	orderStore := database.NewOrderStore(db)
	txnStore := database.NewTransactionStore(db)
	gateway := mpesa.NewSimulator(cfg.MpesaShortcode, cfg.SimulatorSettleAfter)

	// Without a broker the API keeps working; events are dropped and unpaid
	// orders are never auto-cancelled.
	var publisher services.EventPublisher = services.NopPublisher{}
	checkDelay := cfg.PaymentCheckDelay
	rmq, err := rabbitmq.NewRabbitMQ(cfg)
	if err != nil {
		log.Warn("rabbitmq unavailable, order events disabled", "err", err)
	} else {
		defer rmq.Close()
		if err := rmq.SetupQueues(); err != nil {
			return fmt.Errorf("setup rabbitmq queues: %w", err)
		}
		publisher = rmq
		if !rmq.DelaySupported() {
			checkDelay = 0
		}
	}

	orderSvc := services.NewOrderService(orderStore, publisher, checkDelay)
	paymentSvc := services.NewPaymentService(orderStore, txnStore, gateway, publisher,
		services.WithRecheck(cfg.PaymentRecheckDelay, cfg.PaymentMaxRechecks))

	if !cfg.IsProduction() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := controllers.SetupRouter(controllers.RouterConfig{
		Orders:           controllers.NewOrderController(orderSvc),
		Payments:         controllers.NewPaymentController(paymentSvc),
		JWTSecret:        cfg.JWTSecret,
		CallbackSecret:   cfg.MpesaCallbackSecret,
		Simulation:       cfg.PaymentSimulation,
		PaymentRateLimit: middlewares.NewRateLimiter(cfg.PaymentRatePerMinute),
	})

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server starting", "addr", addr, "payment_simulation", cfg.PaymentSimulation)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if rmq != nil {
		consumer := consumers.NewOrderConsumer(paymentSvc)
		g.Go(func() error {
			return consumer.Run(gctx, rmq.Channel, cfg)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info("bye")
	return err
}
