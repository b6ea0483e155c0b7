package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
	"github.com/vladislavdragonenkov/bookstore/internal/storage/memory"
)

func newCart(t *testing.T, id, userID string) domain.ShoppingCart {
	t.Helper()
	cart, err := domain.NewShoppingCart(id, userID, time.Now().UTC())
	if err != nil {
		t.Fatalf("new cart failed: %v", err)
	}
	return cart
}

func TestCartRepository_InsertAndGet(t *testing.T) {
	repo := memory.NewCartRepository(memory.NewStore())
	cart := newCart(t, "cart-1", "user-1")

	if err := repo.Save(cart); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	stored, err := repo.GetByUser("user-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != "cart-1" {
		t.Fatalf("unexpected cart: %+v", stored)
	}
	// Вставка публикует корзину с версией 1.
	if stored.Version != 1 {
		t.Fatalf("expected version 1 after insert, got %d", stored.Version)
	}

	if _, err := repo.GetByUser("user-404"); !errors.Is(err, domain.ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}

func TestCartRepository_OneCartPerUser(t *testing.T) {
	repo := memory.NewCartRepository(memory.NewStore())
	if err := repo.Save(newCart(t, "cart-1", "user-1")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Вторая корзина того же пользователя с другим ID отклоняется.
	if err := repo.Save(newCart(t, "cart-2", "user-1")); !errors.Is(err, domain.ErrCartExists) {
		t.Fatalf("expected ErrCartExists, got %v", err)
	}
}

func TestCartRepository_SaveVersioning(t *testing.T) {
	repo := memory.NewCartRepository(memory.NewStore())
	price, _ := domain.NewMoney(100, "USD")
	now := time.Now().UTC()

	cart := newCart(t, "cart-1", "user-1")
	if err := repo.Save(cart); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	stored, _ := repo.GetByUser("user-1")
	if err := stored.AddItem("line-1", "book-1", 2, price, now); err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	if err := repo.Save(stored); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	fresh, _ := repo.GetByUser("user-1")
	if fresh.Version != stored.Version+1 {
		t.Fatalf("expected version %d, got %d", stored.Version+1, fresh.Version)
	}
	if len(fresh.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(fresh.Items))
	}

	// Сохранение со старой версией отклоняется.
	if err := repo.Save(stored); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestCartRepository_UpdateMissingCart(t *testing.T) {
	repo := memory.NewCartRepository(memory.NewStore())
	cart := newCart(t, "cart-1", "user-1")
	cart.Version = 3

	if err := repo.Save(cart); !errors.Is(err, domain.ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}
