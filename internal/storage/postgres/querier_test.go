package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

func TestMapTxError_SerializationFailure(t *testing.T) {
	err := mapTxError(&pgconn.PgError{Code: pgSerializationFailure})
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestMapTxError_Transient(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"deadline exceeded", context.DeadlineExceeded},
		{"wrapped deadline", fmt.Errorf("exec: %w", context.DeadlineExceeded)},
		{"query canceled", &pgconn.PgError{Code: pgQueryCanceled}},
		{"connection failure", &pgconn.PgError{Code: "08006"}},
		{"protocol violation", &pgconn.PgError{Code: "08P01"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := mapTxError(tc.err)
			if !errors.Is(mapped, domain.ErrStoreUnavailable) {
				t.Fatalf("expected ErrStoreUnavailable, got %v", mapped)
			}
		})
	}
}

func TestMapTxError_UniqueConstraints(t *testing.T) {
	cases := []struct {
		constraint string
		want       error
	}{
		{"idx_orders_idempotency_key", domain.ErrDuplicateIdempotencyKey},
		{"orders_pkey", domain.ErrOrderExists},
		{"books_pkey", domain.ErrBookExists},
		{"idx_books_isbn", domain.ErrBookExists},
		{"idx_carts_user_id", domain.ErrCartExists},
		{"carts_pkey", domain.ErrCartExists},
	}

	for _, tc := range cases {
		t.Run(tc.constraint, func(t *testing.T) {
			err := mapTxError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: tc.constraint})
			if !errors.Is(err, tc.want) {
				t.Fatalf("constraint %s: expected %v, got %v", tc.constraint, tc.want, err)
			}
		})
	}
}

func TestMapTxError_PassThrough(t *testing.T) {
	if err := mapTxError(nil); err != nil {
		t.Fatalf("nil must map to nil, got %v", err)
	}

	plain := errors.New("column does not exist")
	if got := mapTxError(plain); got != plain {
		t.Fatalf("unrelated errors must pass through, got %v", got)
	}

	// Отмена вызвавшей стороной не считается временным сбоем хранилища.
	if got := mapTxError(context.Canceled); errors.Is(got, domain.ErrStoreUnavailable) {
		t.Fatalf("context.Canceled must not be classified as transient, got %v", got)
	}
}

func TestIsTransientFailure(t *testing.T) {
	if isTransientFailure(&pgconn.PgError{Code: pgUniqueViolation}) {
		t.Fatal("unique violation is not transient")
	}
	if !isTransientFailure(&pgconn.PgError{Code: "08000"}) {
		t.Fatal("connection exception class must be transient")
	}
	if isTransientFailure(errors.New("boom")) {
		t.Fatal("plain errors are not transient")
	}
}
