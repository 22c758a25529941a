package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderEvent: исходящее событие о созданном заказе и сумме к оплате.
type OrderEvent struct {
	OrderID       string
	UserID        string
	PaymentAmount decimal.Decimal
}

// EventPublisher отправляет OrderEvent в брокер.
// Publish не блокирует вызывающего и не возвращает ошибок: результат только логируется.
type EventPublisher interface {
	Publish(ctx context.Context, event OrderEvent)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, msg OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
