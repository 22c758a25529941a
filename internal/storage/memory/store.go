package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
)

// Store: общее in-memory состояние для всех репозиториев.
// Один мьютекс на всё хранилище даёт атомарность операций над несколькими сущностями,
// как транзакция в PostgreSQL.
type Store struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	lines  map[string]domain.OrderLine
	items  map[string]domain.Item
	outbox map[string]*outboxRecord
}

// NewStore создаёт пустое хранилище для локальной разработки и тестов.
func NewStore() *Store {
	return &Store{
		orders: make(map[string]domain.Order),
		lines:  make(map[string]domain.OrderLine),
		items:  make(map[string]domain.Item),
		outbox: make(map[string]*outboxRecord),
	}
}

// orderWithLines собирает заказ вместе со строками. Вызывать под мьютексом.
func (s *Store) orderWithLines(order domain.Order) domain.Order {
	lines := make([]domain.OrderLine, 0)
	for _, line := range s.lines {
		if line.OrderID == order.ID {
			lines = append(lines, line)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	order.Lines = lines
	return order
}

func sortOrders(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
