package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-orders/models"
)

type TransactionStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewTransactionStore(db *sql.DB) *TransactionStore {
	return &TransactionStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const transactionColumns = "id, order_id, checkout_request_id, receipt_number, amount, phone, status, error_message, created_at, updated_at, completed_at"

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var (
		t         models.Transaction
		receipt   sql.NullString
		errMsg    sql.NullString
		completed sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.OrderID, &t.CheckoutRequestID, &receipt, &t.Amount, &t.Phone,
		&t.Status, &errMsg, &t.CreatedAt, &t.UpdatedAt, &completed); err != nil {
		return nil, err
	}
	t.ReceiptNumber = receipt.String
	t.ErrorMessage = errMsg.String
	if completed.Valid {
		at := completed.Time
		t.CompletedAt = &at
	}
	return &t, nil
}

func (s *TransactionStore) Create(ctx context.Context, t *models.Transaction) error {
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Status == "" {
		t.Status = models.TxnInitiated
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO transactions (order_id, checkout_request_id, amount, phone, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		t.OrderID, t.CheckoutRequestID, t.Amount, t.Phone, t.Status, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("transaction id: %w", err)
	}
	return nil
}

func (s *TransactionStore) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE checkout_request_id = ?",
		checkoutRequestID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// HasSuccessful reports whether the order already has a settled payment.
func (s *TransactionStore) HasSuccessful(ctx context.Context, orderID int64) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE order_id = ? AND status = ?",
		orderID, models.TxnSuccess,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("count successful transactions: %w", err)
	}
	return n > 0, nil
}

// MarkSucceeded settles an open transaction and moves its order from
// pending to paid atomically. It reports whether the order status changed.
// When the order was cancelled before the money arrived the transaction is
// stored as refund_required instead. A transaction that is no longer open
// yields ErrStatusConflict and nothing is written.
func (s *TransactionStore) MarkSucceeded(ctx context.Context, t *models.Transaction, receipt string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}

	now := s.now()
	res, err := tx.ExecContext(ctx,
		"UPDATE transactions SET status = ?, receipt_number = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)",
		models.TxnSuccess, sql.NullString{String: receipt, Valid: receipt != ""}, now, now, t.ID,
		models.TxnInitiated, models.TxnPending,
	)
	if err != nil {
		return false, rollback(tx, fmt.Errorf("settle transaction: %w", err))
	}
	if err := expectOneRow(res); err != nil {
		return false, rollback(tx, err)
	}

	res, err = tx.ExecContext(ctx,
		"UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		models.StatusPaid, now, t.OrderID, models.StatusPending,
	)
	if err != nil {
		return false, rollback(tx, fmt.Errorf("mark order paid: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, rollback(tx, fmt.Errorf("mark order paid: %w", err))
	}

	status := models.TxnSuccess
	var reason string
	if n == 0 {
		var orderStatus models.OrderStatus
		if err := tx.QueryRowContext(ctx, "SELECT status FROM orders WHERE id = ?", t.OrderID).Scan(&orderStatus); err != nil {
			return false, rollback(tx, fmt.Errorf("load order status: %w", err))
		}
		if orderStatus == models.StatusCancelled {
			status = models.TxnRefundRequired
			reason = "Order was cancelled before the payment arrived; refund required"
			if _, err := tx.ExecContext(ctx,
				"UPDATE transactions SET status = ?, error_message = ? WHERE id = ?",
				status, reason, t.ID,
			); err != nil {
				return false, rollback(tx, fmt.Errorf("flag refund: %w", err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	t.Status = status
	t.ErrorMessage = reason
	t.ReceiptNumber = receipt
	t.CompletedAt = &now
	t.UpdatedAt = now
	return n > 0, nil
}

// MarkFailed fails an open transaction. A transaction that is no longer open
// yields ErrStatusConflict.
func (s *TransactionStore) MarkFailed(ctx context.Context, t *models.Transaction, reason string) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)",
		models.TxnFailed, reason, now, t.ID, models.TxnInitiated, models.TxnPending,
	)
	if err != nil {
		return fmt.Errorf("fail transaction: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	t.Status = models.TxnFailed
	t.ErrorMessage = reason
	t.UpdatedAt = now
	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ListOpenForOrder returns transactions of the order still waiting on the provider.
func (s *TransactionStore) ListOpenForOrder(ctx context.Context, orderID int64) ([]models.Transaction, error) {
	return s.list(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE order_id = ? AND status IN (?, ?) ORDER BY created_at",
		orderID, models.TxnInitiated, models.TxnPending,
	)
}

func (s *TransactionStore) ListForCustomer(ctx context.Context, customerID int64) ([]models.Transaction, error) {
	return s.list(ctx,
		"SELECT t.id, t.order_id, t.checkout_request_id, t.receipt_number, t.amount, t.phone, t.status, t.error_message, t.created_at, t.updated_at, t.completed_at FROM transactions t JOIN orders o ON o.id = t.order_id WHERE o.customer_id = ? ORDER BY t.created_at DESC",
		customerID,
	)
}

func (s *TransactionStore) list(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
