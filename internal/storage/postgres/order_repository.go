package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/vladislavdragonenkov/orderserver/internal/domain"
)

const (
	constraintLineOrderFK = "order_lines_order_fk"
	constraintLineItemFK  = "order_lines_item_fk"
)

var orderColumns = []string{"id", "status", "user_id", "payment_id", "created_at"}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// queryer: общее подмножество *sql.DB и *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order, outbox ...domain.OutboxMessage) error {
	return inTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var paymentID sql.NullString
		if order.PaymentID != "" {
			paymentID = sql.NullString{String: order.PaymentID, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, status, user_id, payment_id, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, order.ID, string(order.Status), order.UserID, paymentID, order.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("order %s already exists: %w", order.ID, err)
			}
			return fmt.Errorf("insert order: %w", err)
		}

		if len(order.Lines) > 0 {
			insert := psql.Insert("order_lines").Columns("id", "order_id", "item_id", "quantity")
			for _, line := range order.Lines {
				insert = insert.Values(line.ID, order.ID, line.ItemID, line.Quantity)
			}
			query, args, err := insert.ToSql()
			if err != nil {
				return fmt.Errorf("build insert order lines: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				if constraint, ok := foreignKeyViolation(err); ok && constraint == constraintLineItemFK {
					return domain.NewError(domain.ErrItemNotFound, "Item not found").WithCause(err)
				}
				return fmt.Errorf("insert order lines: %w", err)
			}
		}

		now := time.Now().UTC()
		for _, msg := range outbox {
			createdAt := msg.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO outbox_messages (
					id, aggregate_type, aggregate_id, event_type, payload,
					status, attempt_count, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $7)
			`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, createdAt, now); err != nil {
				return fmt.Errorf("enqueue outbox message: %w", err)
			}
		}
		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	var order domain.Order
	err := inTx(ctx, r.db, readOnlyTx, func(ctx context.Context, tx *sql.Tx) error {
		query, args, err := psql.Select(orderColumns...).From("orders").Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return fmt.Errorf("build select order: %w", err)
		}
		order, err = scanOrder(tx.QueryRowContext(ctx, query, args...))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.OrderNotFound()
			}
			return fmt.Errorf("select order: %w", err)
		}

		lines, err := loadLines(ctx, tx, []string{order.ID})
		if err != nil {
			return err
		}
		order.Lines = lines[order.ID]
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.Order, error) {
	if len(ids) == 0 {
		return []domain.Order{}, nil
	}
	return r.list(ctx, sq.Eq{"id": ids})
}

func (r *orderRepository) ListByStatuses(ctx context.Context, statuses []domain.OrderStatus) ([]domain.Order, error) {
	if len(statuses) == 0 {
		return []domain.Order{}, nil
	}
	raw := make([]string, 0, len(statuses))
	for _, status := range statuses {
		raw = append(raw, string(status))
	}
	return r.list(ctx, sq.Eq{"status": raw})
}

// list выбирает заказы и одним запросом подгружает все их строки.
func (r *orderRepository) list(ctx context.Context, where sq.Sqlizer) ([]domain.Order, error) {
	orders := make([]domain.Order, 0)
	err := inTx(ctx, r.db, readOnlyTx, func(ctx context.Context, tx *sql.Tx) error {
		query, args, err := psql.Select(orderColumns...).
			From("orders").
			Where(where).
			OrderBy("created_at ASC", "id ASC").
			ToSql()
		if err != nil {
			return fmt.Errorf("build list orders: %w", err)
		}

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("list orders: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			order, err := scanOrder(rows)
			if err != nil {
				return fmt.Errorf("scan order row: %w", err)
			}
			orders = append(orders, order)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate order rows: %w", err)
		}
		if len(orders) == 0 {
			return nil
		}

		ids := make([]string, 0, len(orders))
		for _, order := range orders {
			ids = append(ids, order.ID)
		}
		lines, err := loadLines(ctx, tx, ids)
		if err != nil {
			return err
		}
		for i := range orders {
			orders[i].Lines = lines[orders[i].ID]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return requireAffected(res, domain.OrderNotFound)
}

func (r *orderRepository) AttachPayment(ctx context.Context, id, paymentID string, status domain.OrderStatus) error {
	if strings.TrimSpace(paymentID) == "" {
		return domain.NewError(domain.ErrValidation, "payment id must not be blank")
	}
	return inTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET payment_id = $2,
			    status = $3
			WHERE id = $1
			  AND payment_id IS NULL
		`, id, paymentID, string(status))
		if err != nil {
			return fmt.Errorf("attach payment: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected > 0 {
			return nil
		}

		exists, err := rowExists(ctx, tx, "orders", id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.OrderNotFound()
		}
		return domain.ErrPaymentAlreadyAttached
	})
}

// Delete удаляет заказ; строки удаляются каскадом по внешнему ключу.
func (r *orderRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return requireAffected(res, domain.OrderNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order     domain.Order
		status    string
		paymentID sql.NullString
	)
	if err := row.Scan(&order.ID, &status, &order.UserID, &paymentID, &order.CreatedAt); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentID = paymentID.String
	order.CreatedAt = order.CreatedAt.UTC()
	order.Lines = []domain.OrderLine{}
	return order, nil
}

// loadLines возвращает строки заказов, сгруппированные по order_id.
func loadLines(ctx context.Context, q queryer, orderIDs []string) (map[string][]domain.OrderLine, error) {
	query, args, err := psql.Select("id", "order_id", "item_id", "quantity").
		From("order_lines").
		Where(sq.Eq{"order_id": orderIDs}).
		OrderBy("order_id ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build load order lines: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ItemID, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		result[line.OrderID] = append(result[line.OrderID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return result, nil
}

func rowExists(ctx context.Context, q queryer, table, id string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := q.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check %s exists: %w", table, err)
	}
	return exists, nil
}

// requireAffected превращает "0 строк затронуто" в ошибку notFound.
func requireAffected(res sql.Result, notFound func() error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound()
	}
	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
