package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"marketplace-orders/config"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrProductUnavailable = errors.New("product not found or inactive")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrStatusConflict     = errors.New("status changed concurrently")
)

// InitDB opens the MySQL pool and verifies connectivity.
func InitDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(64) PRIMARY KEY,
		vendor_id BIGINT NOT NULL,
		title VARCHAR(200) NOT NULL,
		price DECIMAL(10,2) NOT NULL,
		stock INT UNSIGNED NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		INDEX idx_products_vendor (vendor_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		customer_id BIGINT NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		total_amount DECIMAL(10,2) NOT NULL,
		shipping_address TEXT NOT NULL,
		shipping_county VARCHAR(100) NOT NULL,
		shipping_phone VARCHAR(15) NOT NULL,
		notes TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		INDEX idx_orders_customer (customer_id),
		INDEX idx_orders_status (status),
		INDEX idx_orders_created (created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id BIGINT NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		product_title VARCHAR(200) NOT NULL,
		quantity INT UNSIGNED NOT NULL,
		price DECIMAL(10,2) NOT NULL,
		UNIQUE KEY uq_order_product (order_id, product_id),
		FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id BIGINT NOT NULL,
		checkout_request_id VARCHAR(100) NOT NULL,
		receipt_number VARCHAR(50) NULL,
		amount DECIMAL(10,2) NOT NULL,
		phone VARCHAR(15) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'initiated',
		error_message TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME NULL,
		UNIQUE KEY uq_checkout_request (checkout_request_id),
		UNIQUE KEY uq_receipt (receipt_number),
		INDEX idx_transactions_order (order_id),
		INDEX idx_transactions_status (status),
		FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	)`,
}

// Migrate creates the tables the service owns if they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func rollback(tx *sql.Tx, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
	}
	return err
}
