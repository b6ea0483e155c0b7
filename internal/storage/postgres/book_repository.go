package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

type bookRepository struct {
	q      querier
	parent context.Context
}

// NewBookRepository создаёт PostgreSQL-реализацию BookRepository.
func NewBookRepository(store *Store) domain.BookRepository {
	return &bookRepository{q: store.DB()}
}

// opCtx ограничивает каждый запрос таймаутом; внутри транзакции
// используется контекст самой транзакции.
func opCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, opTimeout)
}

func (r *bookRepository) Create(book domain.Book) error {
	ctx, cancel := opCtx(r.parent)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO books (
			id, title, author, isbn, price_minor, currency,
			total_quantity, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		book.ID, book.Title, book.Author, string(book.ISBN),
		book.Price.AmountMinor, book.Price.Currency,
		book.TotalQuantity, book.Version, book.CreatedAt, book.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrBookExists
		}
		return fmt.Errorf("insert book: %w", err)
	}

	return nil
}

func (r *bookRepository) Get(id string) (domain.Book, error) {
	ctx, cancel := opCtx(r.parent)
	defer cancel()

	var (
		book domain.Book
		isbn string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, title, author, isbn, price_minor, currency,
		       total_quantity, version, created_at, updated_at
		FROM books
		WHERE id = $1
	`, id).Scan(
		&book.ID, &book.Title, &book.Author, &isbn,
		&book.Price.AmountMinor, &book.Price.Currency,
		&book.TotalQuantity, &book.Version, &book.CreatedAt, &book.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Book{}, domain.ErrBookNotFound
		}
		return domain.Book{}, fmt.Errorf("select book: %w", err)
	}
	book.ISBN = domain.ISBN(isbn)

	return book, nil
}

// Save обновляет книгу условным UPDATE по версии: affected==0 при
// существующей книге означает, что кто-то успел записать раньше.
func (r *bookRepository) Save(book domain.Book) error {
	ctx, cancel := opCtx(r.parent)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE books
		SET title = $1,
		    author = $2,
		    isbn = $3,
		    price_minor = $4,
		    currency = $5,
		    total_quantity = $6,
		    version = version + 1,
		    updated_at = $7
		WHERE id = $8
		  AND version = $9
	`,
		book.Title, book.Author, string(book.ISBN),
		book.Price.AmountMinor, book.Price.Currency,
		book.TotalQuantity, book.UpdatedAt, book.ID, book.Version,
	)
	if err != nil {
		return fmt.Errorf("update book: %w", mapTxError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.bookExists(ctx, book.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrBookNotFound
		}
		return domain.ErrVersionConflict
	}

	return nil
}

func (r *bookRepository) bookExists(ctx context.Context, id string) (bool, error) {
	var found string
	err := r.q.QueryRowContext(ctx, `SELECT id FROM books WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check book exists: %w", err)
}

var _ domain.BookRepository = (*bookRepository)(nil)
