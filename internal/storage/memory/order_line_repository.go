package memory

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
)

type orderLineRepositoryInMemory struct {
	store *Store
}

// NewOrderLineRepository возвращает in-memory репозиторий строк заказов.
func NewOrderLineRepository(store *Store) domain.OrderLineRepository {
	return &orderLineRepositoryInMemory{store: store}
}

func (r *orderLineRepositoryInMemory) Create(_ context.Context, line domain.OrderLine) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[line.OrderID]; !ok {
		return domain.OrderNotFound()
	}
	if _, ok := s.items[line.ItemID]; !ok {
		return domain.NewError(domain.ErrItemNotFound, "Item not found")
	}
	if _, exists := s.lines[line.ID]; exists {
		return fmt.Errorf("order line %s already exists", line.ID)
	}
	s.lines[line.ID] = line
	return nil
}

func (r *orderLineRepositoryInMemory) Get(_ context.Context, id string) (domain.OrderLine, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	line, ok := s.lines[id]
	if !ok {
		return domain.OrderLine{}, domain.OrderLineNotFound()
	}
	return line, nil
}

func (r *orderLineRepositoryInMemory) UpdateQuantity(_ context.Context, id string, quantity int64) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.lines[id]
	if !ok {
		return domain.OrderLineNotFound()
	}
	line.Quantity = quantity
	s.lines[id] = line
	return nil
}

func (r *orderLineRepositoryInMemory) Delete(_ context.Context, id string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lines[id]; !ok {
		return domain.OrderLineNotFound()
	}
	delete(s.lines, id)
	return nil
}

var _ domain.OrderLineRepository = (*orderLineRepositoryInMemory)(nil)
