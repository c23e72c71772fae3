package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"marketplace-orders/models"
)

type MemoryStorage struct {
	mu    sync.Mutex
	items []models.CartItem
}

func (m *MemoryStorage) Load(context.Context) ([]models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CartItem(nil), m.items...), nil
}

func (m *MemoryStorage) Save(_ context.Context, items []models.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append([]models.CartItem(nil), items...)
	return nil
}

// FileStorage keeps the cart as a JSON document on local disk.
type FileStorage struct {
	Path string
}

func (f FileStorage) Load(context.Context) ([]models.CartItem, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cart file: %w", err)
	}

	var items []models.CartItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode cart file: %w", err)
	}
	return items, nil
}

// Save writes to a temporary file and renames it over the old one.
func (f FileStorage) Save(_ context.Context, items []models.CartItem) error {
	if items == nil {
		items = []models.CartItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("create cart dir: %w", err)
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cart file: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("replace cart file: %w", err)
	}
	return nil
}
