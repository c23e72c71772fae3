package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketplace-orders/models"
)

// OrderScope selects which orders a caller may see. The zero value sees nothing.
type OrderScope struct {
	All        bool
	CustomerID int64
	VendorID   int64
}

type OrderStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// CreateOrder prices each line from the catalogue, reserves stock and inserts
// the order with its items in one transaction. Items and TotalAmount on the
// returned order are authoritative.
func (s *OrderStore) CreateOrder(ctx context.Context, customerID int64, req models.CreateOrderRequest) (*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}

	now := s.now()
	order := &models.Order{
		CustomerID:      customerID,
		Status:          models.StatusPending,
		ShippingAddress: req.ShippingAddress,
		ShippingCounty:  req.ShippingCounty,
		ShippingPhone:   req.ShippingPhone,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for _, line := range req.OrderItems {
		var p models.Product
		err := tx.QueryRowContext(ctx,
			"SELECT id, vendor_id, title, price, stock, is_active FROM products WHERE id = ? FOR UPDATE",
			line.ProductID,
		).Scan(&p.ID, &p.VendorID, &p.Title, &p.Price, &p.Stock, &p.IsActive)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !p.IsActive) {
			return nil, rollback(tx, fmt.Errorf("%w: %s", ErrProductUnavailable, line.ProductID))
		}
		if err != nil {
			return nil, rollback(tx, fmt.Errorf("load product %s: %w", line.ProductID, err))
		}
		if p.Stock < line.Quantity {
			return nil, rollback(tx, fmt.Errorf("%w for %s: available %d", ErrInsufficientStock, p.Title, p.Stock))
		}

		order.Items = append(order.Items, models.OrderItem{
			ProductID:    p.ID,
			ProductTitle: p.Title,
			Quantity:     line.Quantity,
			UnitPrice:    p.Price,
			Subtotal:     p.Price.Mul(decimal.NewFromInt(int64(line.Quantity))),
		})
	}
	order.TotalAmount = order.ItemsTotal()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO orders (customer_id, status, total_amount, shipping_address, shipping_county, shipping_phone, notes, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		order.CustomerID, order.Status, order.TotalAmount, order.ShippingAddress, order.ShippingCounty,
		order.ShippingPhone, order.Notes, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return nil, rollback(tx, fmt.Errorf("insert order: %w", err))
	}
	order.ID, err = res.LastInsertId()
	if err != nil {
		return nil, rollback(tx, fmt.Errorf("order id: %w", err))
	}

	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO order_items (order_id, product_id, product_title, quantity, price) VALUES (?, ?, ?, ?, ?)",
			order.ID, item.ProductID, item.ProductTitle, item.Quantity, item.UnitPrice,
		); err != nil {
			return nil, rollback(tx, fmt.Errorf("insert order item: %w", err))
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock - ? WHERE id = ?",
			item.Quantity, item.ProductID,
		); err != nil {
			return nil, rollback(tx, fmt.Errorf("reserve stock: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return order, nil
}

const orderColumns = "id, customer_id, status, total_amount, shipping_address, shipping_county, shipping_phone, notes, created_at, updated_at"

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	var (
		o     models.Order
		notes sql.NullString
	)
	err := row.Scan(&o.ID, &o.CustomerID, &o.Status, &o.TotalAmount, &o.ShippingAddress,
		&o.ShippingCounty, &o.ShippingPhone, &notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Notes = notes.String
	return &o, nil
}

func (s *OrderStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}

	items, err := s.orderItems(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func (s *OrderStore) orderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT product_id, product_title, quantity, price FROM order_items WHERE order_id = ? ORDER BY id",
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("order items %d: %w", orderID, err)
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ProductID, &item.ProductTitle, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListOrders returns orders newest first with their items.
func (s *OrderStore) ListOrders(ctx context.Context, scope OrderScope) ([]models.Order, error) {
	query := `
		SELECT o.id, o.customer_id, o.status, o.total_amount, o.shipping_address, o.shipping_county,
		       o.shipping_phone, o.notes, o.created_at, o.updated_at,
		       oi.product_id, oi.product_title, oi.quantity, oi.price
		FROM orders o
		JOIN order_items oi ON o.id = oi.order_id`
	var args []any
	switch {
	case scope.All:
	case scope.VendorID != 0:
		query += `
		WHERE o.customer_id = ? OR o.id IN (
			SELECT oi2.order_id FROM order_items oi2 JOIN products p ON p.id = oi2.product_id WHERE p.vendor_id = ?)`
		args = append(args, scope.VendorID, scope.VendorID)
	case scope.CustomerID != 0:
		query += `
		WHERE o.customer_id = ?`
		args = append(args, scope.CustomerID)
	default:
		return []models.Order{}, nil
	}
	query += `
		ORDER BY o.created_at DESC, o.id DESC, oi.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	index := make(map[int64]int)
	for rows.Next() {
		var (
			o     models.Order
			notes sql.NullString
			item  models.OrderItem
		)
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.Status, &o.TotalAmount, &o.ShippingAddress,
			&o.ShippingCounty, &o.ShippingPhone, &notes, &o.CreatedAt, &o.UpdatedAt,
			&item.ProductID, &item.ProductTitle, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))

		i, seen := index[o.ID]
		if !seen {
			o.Notes = notes.String
			o.Items = []models.OrderItem{}
			orders = append(orders, o)
			i = len(orders) - 1
			index[o.ID] = i
		}
		orders[i].Items = append(orders[i].Items, item)
	}
	return orders, rows.Err()
}

// OrderHasVendor reports whether any line of the order belongs to vendorID.
func (s *OrderStore) OrderHasVendor(ctx context.Context, orderID, vendorID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM order_items oi JOIN products p ON p.id = oi.product_id WHERE oi.order_id = ? AND p.vendor_id = ?",
		orderID, vendorID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("order vendor check: %w", err)
	}
	return n > 0, nil
}

// UpdateStatus moves the order from one status to another only if it is
// still in from.
func (s *OrderStore) UpdateStatus(ctx context.Context, id int64, from, to models.OrderStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		to, s.now(), id, from,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

// CancelOrder cancels the order if it is still in from and returns its
// reserved stock.
func (s *OrderStore) CancelOrder(ctx context.Context, id int64, from models.OrderStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		models.StatusCancelled, s.now(), id, from,
	)
	if err != nil {
		return rollback(tx, fmt.Errorf("cancel order: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return rollback(tx, fmt.Errorf("cancel order: %w", err))
	}
	if n == 0 {
		return rollback(tx, ErrStatusConflict)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE products p JOIN order_items oi ON oi.product_id = p.id SET p.stock = p.stock + oi.quantity WHERE oi.order_id = ?",
		id,
	); err != nil {
		return rollback(tx, fmt.Errorf("restore stock: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
