package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

// helper для создания книги с заданным остатком.
func makeBook(stock int32) domain.Book {
	now := time.Now().UTC()
	price, _ := domain.NewMoney(1999, "USD")
	isbn, _ := domain.NewISBN("978-0-13-468599-1")
	return domain.Book{
		ID:            "book-1",
		Title:         "The Go Programming Language",
		Author:        "Donovan, Kernighan",
		ISBN:          isbn,
		Price:         price,
		TotalQuantity: stock,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestBookReserve_Ok(t *testing.T) {
	book := makeBook(10)
	if err := book.Reserve(4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if book.TotalQuantity != 6 {
		t.Fatalf("expected 6 remaining, got %d", book.TotalQuantity)
	}
}

func TestBookReserve_ExactStock(t *testing.T) {
	book := makeBook(3)
	if err := book.Reserve(3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if book.TotalQuantity != 0 {
		t.Fatalf("expected 0 remaining, got %d", book.TotalQuantity)
	}
}

func TestBookReserve_OutOfStock(t *testing.T) {
	book := makeBook(2)
	err := book.Reserve(3)

	oos, ok := domain.IsOutOfStock(err)
	if !ok {
		t.Fatalf("expected OutOfStockError, got %v", err)
	}
	if oos.Requested != 3 || oos.Available != 2 {
		t.Fatalf("unexpected error details: %+v", oos)
	}
	// Остаток не изменился при отказе.
	if book.TotalQuantity != 2 {
		t.Fatalf("stock must stay intact, got %d", book.TotalQuantity)
	}
}

func TestBookReserve_InvalidQty(t *testing.T) {
	book := makeBook(5)
	if err := book.Reserve(0); !errors.Is(err, domain.ErrItemQtyInvalid) {
		t.Fatalf("expected ErrItemQtyInvalid, got %v", err)
	}
	if err := book.Reserve(-1); !errors.Is(err, domain.ErrItemQtyInvalid) {
		t.Fatalf("expected ErrItemQtyInvalid, got %v", err)
	}
}

func TestBookRestock(t *testing.T) {
	book := makeBook(1)
	if err := book.Restock(4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if book.TotalQuantity != 5 {
		t.Fatalf("expected 5, got %d", book.TotalQuantity)
	}

	if err := book.Restock(0); !errors.Is(err, domain.ErrItemQtyInvalid) {
		t.Fatalf("expected ErrItemQtyInvalid, got %v", err)
	}
}

func TestBookValidateInvariants(t *testing.T) {
	book := makeBook(5)
	if errs := book.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}

	cases := []struct {
		name string
		mut  func(b *domain.Book)
	}{
		{name: "no title", mut: func(b *domain.Book) { b.Title = "" }},
		{name: "no isbn", mut: func(b *domain.Book) { b.ISBN = "" }},
		{name: "no currency", mut: func(b *domain.Book) { b.Price.Currency = "" }},
		{name: "negative price", mut: func(b *domain.Book) { b.Price.AmountMinor = -1 }},
		{name: "negative stock", mut: func(b *domain.Book) { b.TotalQuantity = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mutBook := makeBook(5)
			tc.mut(&mutBook)
			if len(mutBook.ValidateInvariants()) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
		})
	}
}
