package domain_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	price, _ := domain.NewMoney(100, "USD")
	total, _ := domain.NewMoney(500, "USD")
	return domain.Order{
		ID:     "order-1",
		UserID: "user-1",
		Status: domain.OrderStatusPending,
		Total:  total,
		Items: []domain.OrderItem{
			{
				ID:        "item-1",
				BookID:    "book-1",
				Qty:       5,
				UnitPrice: price,
				CreatedAt: now,
			},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{
			name: "no user",
			mut: func(o *domain.Order) {
				o.UserID = ""
			},
		},
		{
			name: "negative total",
			mut: func(o *domain.Order) {
				o.Total.AmountMinor = -1
			},
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
			},
		},
		{
			name: "qty invalid",
			mut: func(o *domain.Order) {
				o.Items[0].Qty = 0
			},
		},
		{
			name: "price invalid",
			mut: func(o *domain.Order) {
				o.Items[0].UnitPrice.AmountMinor = -5
			},
		},
		{
			name: "currency mismatch",
			mut: func(o *domain.Order) {
				o.Items[0].UnitPrice.Currency = "EUR"
			},
		},
		{
			name: "total mismatch",
			mut: func(o *domain.Order) {
				o.Total.AmountMinor = 999
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			if len(order.ValidateInvariants()) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
		})
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	allowed := []struct {
		from domain.OrderStatus
		to   domain.OrderStatus
	}{
		{domain.OrderStatusPending, domain.OrderStatusProcessing},
		{domain.OrderStatusPending, domain.OrderStatusCanceled},
		{domain.OrderStatusProcessing, domain.OrderStatusShipped},
		{domain.OrderStatusProcessing, domain.OrderStatusCanceled},
		{domain.OrderStatusShipped, domain.OrderStatusDelivered},
		{domain.OrderStatusShipped, domain.OrderStatusCanceled},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct {
		from domain.OrderStatus
		to   domain.OrderStatus
	}{
		{domain.OrderStatusPending, domain.OrderStatusShipped},
		{domain.OrderStatusPending, domain.OrderStatusDelivered},
		{domain.OrderStatusProcessing, domain.OrderStatusPending},
		{domain.OrderStatusDelivered, domain.OrderStatusCanceled},
		{domain.OrderStatusCanceled, domain.OrderStatusPending},
		{domain.OrderStatusCanceled, domain.OrderStatusCanceled},
	}
	for _, tc := range denied {
		if tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestOrderTransitionTo(t *testing.T) {
	order := makeOrder()
	now := time.Now().UTC().Add(time.Minute)

	if err := order.TransitionTo(domain.OrderStatusProcessing, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", order.Status)
	}
	if !order.UpdatedAt.Equal(now) {
		t.Fatalf("expected UpdatedAt to advance, got %s", order.UpdatedAt)
	}

	err := order.TransitionTo(domain.OrderStatusPending, now)
	it, ok := domain.IsInvalidTransition(err)
	if !ok {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if it.From != domain.OrderStatusProcessing || it.To != domain.OrderStatusPending {
		t.Fatalf("unexpected transition details: %+v", it)
	}
}

func TestOrderTransitionTo_UnknownStatus(t *testing.T) {
	order := makeOrder()
	err := order.TransitionTo(domain.OrderStatus("refunded"), time.Now().UTC())
	if _, ok := domain.IsInvalidTransition(err); !ok {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("status must stay intact, got %s", order.Status)
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	if !domain.OrderStatusDelivered.Terminal() || !domain.OrderStatusCanceled.Terminal() {
		t.Fatal("delivered and canceled must be terminal")
	}
	if domain.OrderStatusPending.Terminal() || domain.OrderStatusProcessing.Terminal() || domain.OrderStatusShipped.Terminal() {
		t.Fatal("non-terminal status reported as terminal")
	}
}

func TestOrderItemSubtotal(t *testing.T) {
	price, _ := domain.NewMoney(250, "USD")
	item := domain.OrderItem{ID: "item-1", BookID: "book-1", Qty: 4, UnitPrice: price}

	sub, err := item.Subtotal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.AmountMinor != 1000 {
		t.Fatalf("expected 1000, got %d", sub.AmountMinor)
	}
}
