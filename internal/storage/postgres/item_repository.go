package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
)

type itemRepository struct {
	db *sql.DB
}

// NewItemRepository создаёт PostgreSQL-реализацию каталога товаров.
func NewItemRepository(store *Store) domain.ItemRepository {
	return &itemRepository{db: store.DB()}
}

func itemNotFound() error {
	return domain.NewError(domain.ErrItemNotFound, "Item not found")
}

func (r *itemRepository) Create(ctx context.Context, item domain.Item) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO items (id, name, price) VALUES ($1, $2, $3)
	`, item.ID, item.Name, item.Price); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (r *itemRepository) Get(ctx context.Context, id string) (domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var item domain.Item
	err := r.db.QueryRowContext(ctx, `SELECT id, name, price FROM items WHERE id = $1`, id).
		Scan(&item.ID, &item.Name, &item.Price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, itemNotFound()
		}
		return domain.Item{}, fmt.Errorf("select item: %w", err)
	}
	return item, nil
}

func (r *itemRepository) GetMany(ctx context.Context, ids []string) (map[string]domain.Item, error) {
	result := make(map[string]domain.Item, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query, args, err := psql.Select("id", "name", "price").From("items").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select items: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Price); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return result, nil
}

func (r *itemRepository) Update(ctx context.Context, item domain.Item) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE items SET name = $2, price = $3 WHERE id = $1
	`, item.ID, item.Name, item.Price)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return requireAffected(res, itemNotFound)
}

// Delete удаляет строки заказов с этим товаром и сам товар в одной транзакции.
func (r *itemRepository) Delete(ctx context.Context, id string) error {
	return inTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM order_lines WHERE item_id = $1`, id); err != nil {
			return fmt.Errorf("delete order lines by item: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		return requireAffected(res, itemNotFound)
	})
}

var _ domain.ItemRepository = (*itemRepository)(nil)
