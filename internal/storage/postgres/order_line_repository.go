package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
)

type orderLineRepository struct {
	db *sql.DB
}

// NewOrderLineRepository создаёт PostgreSQL-реализацию репозитория строк заказов.
func NewOrderLineRepository(store *Store) domain.OrderLineRepository {
	return &orderLineRepository{db: store.DB()}
}

func (r *orderLineRepository) Create(ctx context.Context, line domain.OrderLine) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO order_lines (id, order_id, item_id, quantity) VALUES ($1, $2, $3, $4)
	`, line.ID, line.OrderID, line.ItemID, line.Quantity)
	if err == nil {
		return nil
	}
	if constraint, ok := foreignKeyViolation(err); ok {
		switch constraint {
		case constraintLineOrderFK:
			return domain.OrderNotFound()
		case constraintLineItemFK:
			return itemNotFound()
		}
	}
	return fmt.Errorf("insert order line: %w", err)
}

func (r *orderLineRepository) Get(ctx context.Context, id string) (domain.OrderLine, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var line domain.OrderLine
	err := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, item_id, quantity FROM order_lines WHERE id = $1
	`, id).Scan(&line.ID, &line.OrderID, &line.ItemID, &line.Quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrderLine{}, domain.OrderLineNotFound()
		}
		return domain.OrderLine{}, fmt.Errorf("select order line: %w", err)
	}
	return line, nil
}

func (r *orderLineRepository) UpdateQuantity(ctx context.Context, id string, quantity int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `UPDATE order_lines SET quantity = $2 WHERE id = $1`, id, quantity)
	if err != nil {
		return fmt.Errorf("update order line: %w", err)
	}
	return requireAffected(res, domain.OrderLineNotFound)
}

func (r *orderLineRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM order_lines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order line: %w", err)
	}
	return requireAffected(res, domain.OrderLineNotFound)
}

var _ domain.OrderLineRepository = (*orderLineRepository)(nil)
