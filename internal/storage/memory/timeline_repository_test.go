package memory_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
	"github.com/vladislavdragonenkov/bookstore/internal/storage/memory"
)

func TestTimelineRepository_AppendList(t *testing.T) {
	repo := memory.NewTimelineRepository(memory.NewStore())
	base := time.Now().UTC()

	// Добавляем события не по порядку: List обязан вернуть хронологию.
	events := []domain.TimelineEvent{
		{OrderID: "order-1", Type: domain.EventOrderCanceled, Reason: "customer request", Occurred: base.Add(2 * time.Second)},
		{OrderID: "order-1", Type: domain.EventOrderPlaced, Occurred: base},
		{OrderID: "order-1", Type: domain.EventOrderStatusChanged, Occurred: base.Add(time.Second)},
	}
	for _, event := range events {
		if err := repo.Append(event); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	listed, err := repo.List("order-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 events, got %d", len(listed))
	}
	want := []string{domain.EventOrderPlaced, domain.EventOrderStatusChanged, domain.EventOrderCanceled}
	for i, event := range listed {
		if event.Type != want[i] {
			t.Fatalf("expected %s at position %d, got %s", want[i], i, event.Type)
		}
	}
}

func TestTimelineRepository_ListEmpty(t *testing.T) {
	repo := memory.NewTimelineRepository(memory.NewStore())

	listed, err := repo.List("order-404")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected empty timeline, got %d events", len(listed))
	}
}

func TestTimelineRepository_IsolatedPerOrder(t *testing.T) {
	repo := memory.NewTimelineRepository(memory.NewStore())
	now := time.Now().UTC()

	_ = repo.Append(domain.TimelineEvent{OrderID: "order-1", Type: domain.EventOrderPlaced, Occurred: now})
	_ = repo.Append(domain.TimelineEvent{OrderID: "order-2", Type: domain.EventOrderPlaced, Occurred: now})

	listed, _ := repo.List("order-1")
	if len(listed) != 1 {
		t.Fatalf("expected 1 event for order-1, got %d", len(listed))
	}
}
