package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
// Все методы возвращают заказы вместе со строками.
type OrderRepository interface {
	// Create сохраняет заказ, его строки и (опционально) сообщения outbox одной транзакцией.
	Create(ctx context.Context, order Order, outbox ...OutboxMessage) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByIDs возвращает найденные заказы; пустой вход даёт пустой результат.
	ListByIDs(ctx context.Context, ids []string) ([]Order, error)
	// ListByStatuses возвращает заказы в любом из статусов; пустой вход даёт пустой результат.
	ListByStatuses(ctx context.Context, statuses []OrderStatus) ([]Order, error)
	// UpdateStatus перезаписывает статус заказа.
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	// AttachPayment привязывает платёж и переводит заказ в статус status,
	// только если платёж ещё не привязан. Иначе ErrPaymentAlreadyAttached.
	// Пустой paymentID отклоняется с ErrValidation.
	AttachPayment(ctx context.Context, id, paymentID string, status OrderStatus) error
	// Delete удаляет заказ каскадно со строками.
	Delete(ctx context.Context, id string) error
}

// ItemRepository хранит каталог товаров.
type ItemRepository interface {
	Create(ctx context.Context, item Item) error
	Get(ctx context.Context, id string) (Item, error)
	// GetMany возвращает товары по идентификаторам; отсутствующие просто не попадают в результат.
	GetMany(ctx context.Context, ids []string) (map[string]Item, error)
	Update(ctx context.Context, item Item) error
	// Delete удаляет товар вместе со ссылающимися на него строками заказов.
	Delete(ctx context.Context, id string) error
}

// OrderLineRepository хранит строки заказов.
type OrderLineRepository interface {
	// Create добавляет строку; ErrOrderNotFound или ErrItemNotFound, если ссылки битые.
	Create(ctx context.Context, line OrderLine) error
	Get(ctx context.Context, id string) (OrderLine, error)
	UpdateQuantity(ctx context.Context, id string, quantity int64) error
	Delete(ctx context.Context, id string) error
}

// OutboxRepository позволяет читать и отмечать сообщения outbox.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}
