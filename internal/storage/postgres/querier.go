package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

const (
	// opTimeout ограничивает отдельный запрос, txTimeout — транзакцию целиком
	// вместе с её получением из пула.
	opTimeout = 5 * time.Second
	txTimeout = 15 * time.Second
)

// querier абстрагирует *sql.DB и *sql.Tx: одни и те же запросы работают
// и автономно, и внутри границы unit of work.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ querier = (*sql.DB)(nil)
	_ querier = (*sql.Tx)(nil)
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgQueryCanceled        = "57014"
	pgConnExceptionClass   = "08"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// uniqueConstraint возвращает имя нарушенного уникального констрейнта
// (для индексов — имя индекса), либо пустую строку.
func uniqueConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName
	}
	return ""
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure
	}
	return false
}

// isTransientFailure распознаёт сбои, которые имеет смысл повторить:
// истёкший таймаут запроса, отмену на стороне сервера и ошибки соединения
// (SQLSTATE класс 08).
func isTransientFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgQueryCanceled {
			return true
		}
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == pgConnExceptionClass {
			return true
		}
	}
	return false
}

// mapTxError транслирует ошибки уровня драйвера в доменные sentinel-ошибки,
// чтобы retry-логика сервисов не зависела от хранилища.
func mapTxError(err error) error {
	if err == nil {
		return nil
	}
	if isSerializationFailure(err) {
		return domain.ErrVersionConflict
	}
	if isTransientFailure(err) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	switch uniqueConstraint(err) {
	case "idx_orders_idempotency_key":
		return domain.ErrDuplicateIdempotencyKey
	case "orders_pkey":
		return domain.ErrOrderExists
	case "books_pkey", "idx_books_isbn":
		return domain.ErrBookExists
	case "idx_carts_user_id", "carts_pkey":
		return domain.ErrCartExists
	}
	return err
}
