package domain_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

func TestNewISBN_Normalizes(t *testing.T) {
	isbn, err := domain.NewISBN("  978-0-13-468599-1 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isbn.String() != "978-0-13-468599-1" {
		t.Fatalf("unexpected isbn: %s", isbn)
	}

	lower, err := domain.NewISBN("978x-abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	upper, err := domain.NewISBN("978X-ABC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lower.Equal(upper) {
		t.Fatalf("expected case-insensitive equality: %s vs %s", lower, upper)
	}
}

func TestNewISBN_Errors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{name: "empty", raw: "   ", want: domain.ErrISBNRequired},
		{name: "too long", raw: strings.Repeat("9", 21), want: domain.ErrISBNTooLong},
		{name: "invalid char", raw: "978_0_13", want: domain.ErrISBNInvalidChar},
		{name: "space inside", raw: "978 013", want: domain.ErrISBNInvalidChar},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := domain.NewISBN(tc.raw); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
