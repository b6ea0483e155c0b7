package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{db: store.DB()}
}

func (r *cartRepository) GetByUser(userID string) (domain.ShoppingCart, error) {
	ctx, cancel := opCtx(nil)
	defer cancel()

	var cart domain.ShoppingCart
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, total_minor, currency, version, created_at, updated_at
		FROM carts
		WHERE user_id = $1
	`, userID).Scan(
		&cart.ID, &cart.UserID,
		&cart.Total.AmountMinor, &cart.Total.Currency,
		&cart.Version, &cart.CreatedAt, &cart.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ShoppingCart{}, domain.ErrCartNotFound
		}
		return domain.ShoppingCart{}, fmt.Errorf("select cart: %w", err)
	}

	items, err := r.loadItems(ctx, cart.ID)
	if err != nil {
		return domain.ShoppingCart{}, err
	}
	cart.Items = items

	return cart, nil
}

// Save вставляет корзину с Version==0 или перезаписывает существующую
// с проверкой версии. Строки корзины переписываются целиком: корзина
// мала, а дифф против базы не окупается.
func (r *cartRepository) Save(cart domain.ShoppingCart) error {
	ctx, cancel := opCtx(nil)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if cart.Version == 0 {
		err = r.insertCart(ctx, tx, cart)
	} else {
		err = r.updateCart(ctx, tx, cart)
	}
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cart.ID); err != nil {
		return fmt.Errorf("clear cart items: %w", err)
	}
	for _, item := range cart.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO cart_items (
				id, cart_id, book_id, qty, price_minor, currency, added_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			item.ID, cart.ID, item.BookID, item.Qty,
			item.UnitPrice.AmountMinor, item.UnitPrice.Currency, item.AddedAt,
		); err != nil {
			return fmt.Errorf("insert cart item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save cart: %w", err)
	}

	return nil
}

func (r *cartRepository) insertCart(ctx context.Context, tx *sql.Tx, cart domain.ShoppingCart) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO carts (
			id, user_id, total_minor, currency, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,1,$5,$6)
	`,
		cart.ID, cart.UserID,
		cart.Total.AmountMinor, cart.Total.Currency,
		cart.CreatedAt, cart.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Другой поток успел создать корзину пользователя первым.
			return domain.ErrCartExists
		}
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

func (r *cartRepository) updateCart(ctx context.Context, tx *sql.Tx, cart domain.ShoppingCart) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE carts
		SET total_minor = $1,
		    currency = $2,
		    version = version + 1,
		    updated_at = $3
		WHERE id = $4
		  AND version = $5
	`,
		cart.Total.AmountMinor, cart.Total.Currency,
		cart.UpdatedAt, cart.ID, cart.Version,
	)
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var id string
		err := tx.QueryRowContext(ctx, `SELECT id FROM carts WHERE id = $1`, cart.ID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrCartNotFound
		}
		if err != nil {
			return fmt.Errorf("check cart exists: %w", err)
		}
		return domain.ErrVersionConflict
	}

	return nil
}

func (r *cartRepository) loadItems(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, book_id, qty, price_minor, currency, added_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY added_at ASC, id ASC
	`, cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.CartItem, 0)
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(
			&item.ID, &item.BookID, &item.Qty,
			&item.UnitPrice.AmountMinor, &item.UnitPrice.Currency, &item.AddedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}

	return items, nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
