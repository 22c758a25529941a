package memory

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
)

type itemRepositoryInMemory struct {
	store *Store
}

// NewItemRepository возвращает in-memory каталог товаров.
func NewItemRepository(store *Store) domain.ItemRepository {
	return &itemRepositoryInMemory{store: store}
}

func (r *itemRepositoryInMemory) Create(_ context.Context, item domain.Item) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("item %s already exists", item.ID)
	}
	s.items[item.ID] = item
	return nil
}

func (r *itemRepositoryInMemory) Get(_ context.Context, id string) (domain.Item, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return domain.Item{}, domain.NewError(domain.ErrItemNotFound, "Item not found")
	}
	return item, nil
}

func (r *itemRepositoryInMemory) GetMany(_ context.Context, ids []string) (map[string]domain.Item, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Item, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (r *itemRepositoryInMemory) Update(_ context.Context, item domain.Item) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; !ok {
		return domain.NewError(domain.ErrItemNotFound, "Item not found")
	}
	s.items[item.ID] = item
	return nil
}

// Delete удаляет строки заказов, ссылающиеся на товар, затем сам товар.
func (r *itemRepositoryInMemory) Delete(_ context.Context, id string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return domain.NewError(domain.ErrItemNotFound, "Item not found")
	}
	for lineID, line := range s.lines {
		if line.ItemID == id {
			delete(s.lines, lineID)
		}
	}
	delete(s.items, id)
	return nil
}

var _ domain.ItemRepository = (*itemRepositoryInMemory)(nil)
