// Package cart holds a buyer's selected products between browsing and
// checkout. Every mutation is written through to a Storage so the cart
// survives a restart.
package cart

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketplace-orders/models"
)

type Storage interface {
	Load(ctx context.Context) ([]models.CartItem, error)
	Save(ctx context.Context, items []models.CartItem) error
}

// Store is safe for concurrent use. Its operations never fail: a storage
// error is logged and the in-memory lines stay authoritative.
type Store struct {
	mu      sync.Mutex
	items   []models.CartItem
	storage Storage
	timeout time.Duration
}

// New restores the cart from storage. A nil storage keeps the cart in memory only.
func New(ctx context.Context, storage Storage) *Store {
	if storage == nil {
		storage = &MemoryStorage{}
	}
	s := &Store{storage: storage, timeout: 2 * time.Second}

	items, err := storage.Load(ctx)
	if err != nil {
		slog.WarnContext(ctx, "restore cart", "err", err)
		return s
	}
	for _, item := range items {
		if item.ProductID != "" && item.Quantity >= 1 {
			s.items = append(s.items, item)
		}
	}
	return s
}

func (s *Store) index(productID string) int {
	for i := range s.items {
		if s.items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Add inserts the product or, when a line for it exists, increases its quantity.
// A quantity below 1 counts as 1.
func (s *Store) Add(item models.CartItem) {
	if item.Quantity < 1 {
		item.Quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.index(item.ProductID); i >= 0 {
		s.items[i].Quantity += item.Quantity
	} else {
		s.items = append(s.items, item)
	}
	s.persist()
}

// UpdateQuantity sets the quantity of a line, removing it when qty < 1.
func (s *Store) UpdateQuantity(productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(productID)
	if i < 0 {
		return
	}
	if qty < 1 {
		s.items = append(s.items[:i], s.items[i+1:]...)
	} else {
		s.items[i].Quantity = qty
	}
	s.persist()
}

func (s *Store) Remove(productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(productID)
	if i < 0 {
		return
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	s.persist()
}

func (s *Store) Subtotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(item.Subtotal())
	}
	return total
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
	s.persist()
}

// Items returns a copy of the lines in insertion order.
func (s *Store) Items() []models.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CartItem(nil), s.items...)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// persist must be called with mu held.
func (s *Store) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.storage.Save(ctx, append([]models.CartItem(nil), s.items...)); err != nil {
		slog.Warn("persist cart", "lines", len(s.items), "err", err)
	}
}
