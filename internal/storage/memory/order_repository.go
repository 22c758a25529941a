package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
)

// orderRepositoryInMemory: in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	store *Store
}

// NewOrderRepository возвращает in-memory репозиторий заказов поверх store.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{store: store}
}

// Create сохраняет заказ, строки и сообщения outbox атомарно.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order, outbox ...domain.OutboxMessage) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	// Проверяем все ссылки до первой записи: частичный заказ не должен появиться.
	for _, line := range order.Lines {
		if _, ok := s.items[line.ItemID]; !ok {
			return domain.ItemNotFound(line.ItemID)
		}
		if _, exists := s.lines[line.ID]; exists {
			return fmt.Errorf("order line %s already exists", line.ID)
		}
	}

	lines := order.Lines
	order.Lines = nil
	s.orders[order.ID] = order
	for _, line := range lines {
		line.OrderID = order.ID
		s.lines[line.ID] = line
	}

	now := time.Now().UTC()
	for _, msg := range outbox {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		s.outbox[msg.ID] = &outboxRecord{msg: msg, status: outboxStatusPending, updatedAt: now}
	}
	return nil
}

// Get возвращает заказ со строками или ErrOrderNotFound.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.OrderNotFound()
	}
	return s.orderWithLines(order), nil
}

func (r *orderRepositoryInMemory) ListByIDs(_ context.Context, ids []string) ([]domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if order, ok := s.orders[id]; ok {
			result = append(result, s.orderWithLines(order))
		}
	}
	sortOrders(result)
	return result, nil
}

func (r *orderRepositoryInMemory) ListByStatuses(_ context.Context, statuses []domain.OrderStatus) ([]domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[domain.OrderStatus]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}

	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if _, ok := wanted[order.Status]; ok {
			result = append(result, s.orderWithLines(order))
		}
	}
	sortOrders(result)
	return result, nil
}

func (r *orderRepositoryInMemory) UpdateStatus(_ context.Context, id string, status domain.OrderStatus) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.OrderNotFound()
	}
	order.Status = status
	s.orders[id] = order
	return nil
}

func (r *orderRepositoryInMemory) AttachPayment(_ context.Context, id, paymentID string, status domain.OrderStatus) error {
	if strings.TrimSpace(paymentID) == "" {
		return domain.NewError(domain.ErrValidation, "payment id must not be blank")
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.OrderNotFound()
	}
	if order.HasPayment() {
		return domain.ErrPaymentAlreadyAttached
	}
	order.PaymentID = paymentID
	order.Status = status
	s.orders[id] = order
	return nil
}

// Delete удаляет заказ и каскадно его строки.
func (r *orderRepositoryInMemory) Delete(_ context.Context, id string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[id]; !ok {
		return domain.OrderNotFound()
	}
	for lineID, line := range s.lines {
		if line.OrderID == id {
			delete(s.lines, lineID)
		}
	}
	delete(s.orders, id)
	return nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
