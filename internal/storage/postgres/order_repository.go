package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

const orderColumns = `id, user_id, status, total_minor, currency,
	idempotency_key, version, created_at, updated_at`

const (
	insertOrderSQL = `
		INSERT INTO orders (
			id, user_id, status, total_minor, currency,
			idempotency_key, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	insertOrderItemSQL = `
		INSERT INTO order_items (
			id, order_id, book_id, qty, price_minor, currency, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`

	updateOrderSQL = `
		UPDATE orders
		SET status = $1,
		    total_minor = $2,
		    currency = $3,
		    version = version + 1,
		    updated_at = $4
		WHERE id = $5
		  AND version = $6`

	selectOrderItemsSQL = `
		SELECT id, book_id, qty, price_minor, currency, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC`
)

type orderRepository struct {
	q      querier
	parent context.Context
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{q: store.DB()}
}

var _ domain.OrderRepository = (*orderRepository)(nil)

// rowScanner покрывает *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(s rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
		key    sql.NullString
	)
	err := s.Scan(
		&order.ID, &order.UserID, &status,
		&order.Total.AmountMinor, &order.Total.Currency,
		&key, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.IdempotencyKey = key.String
	return order, nil
}

// Create вставляет заказ и его позиции. Уникальный partial-индекс на
// idempotency_key закрывает гонку "check then insert": проигравшая
// вставка получает ErrDuplicateIdempotencyKey, а не второй заказ.
func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := opCtx(r.parent)
	defer cancel()

	key := sql.NullString{String: order.IdempotencyKey, Valid: order.IdempotencyKey != ""}

	_, err := r.q.ExecContext(ctx, insertOrderSQL,
		order.ID, order.UserID, string(order.Status),
		order.Total.AmountMinor, order.Total.Currency,
		key, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if mapped := mapTxError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err := r.q.ExecContext(ctx, insertOrderItemSQL,
			item.ID, order.ID, item.BookID, item.Qty,
			item.UnitPrice.AmountMinor, item.UnitPrice.Currency, item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := opCtx(r.parent)
	defer cancel()

	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *orderRepository) GetByIdempotencyKey(key string) (domain.Order, error) {
	ctx, cancel := opCtx(r.parent)
	defer cancel()

	return r.getOne(ctx, `WHERE idempotency_key = $1`, key)
}

func (r *orderRepository) getOne(ctx context.Context, where string, arg any) (domain.Order, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders `+where, arg)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	order.Items, err = r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) ListByUser(userID string, limit int) ([]domain.Order, error) {
	ctx, cancel := opCtx(r.parent)
	defer cancel()

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.q.QueryContext(ctx, query+` LIMIT $2`, userID, limit)
	} else {
		rows, err = r.q.QueryContext(ctx, query, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		order.Items, err = r.loadItems(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := opCtx(r.parent)
	defer cancel()

	res, err := r.q.ExecContext(ctx, updateOrderSQL,
		string(order.Status), order.Total.AmountMinor, order.Total.Currency,
		order.UpdatedAt, order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", mapTxError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.orderExists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.q.QueryContext(ctx, selectOrderItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.BookID, &item.Qty,
			&item.UnitPrice.AmountMinor, &item.UnitPrice.Currency, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (r *orderRepository) orderExists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}
