package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
	"github.com/vladislavdragonenkov/bookstore/internal/storage/memory"
)

func newOutboxMessage(eventType string) domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     eventType,
		Payload:       []byte(`{"order_id":"order-1"}`),
	}
}

func TestOutboxRepository_EnqueuePull(t *testing.T) {
	repo := memory.NewOutboxRepository(memory.NewStore())

	msg, err := repo.Enqueue(newOutboxMessage(domain.EventOrderPlaced))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("enqueue must assign an id")
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != msg.ID {
		t.Fatalf("unexpected pending: %+v", pending)
	}
}

func TestOutboxRepository_MarkSentAndStats(t *testing.T) {
	repo := memory.NewOutboxRepository(memory.NewStore())

	first, _ := repo.Enqueue(newOutboxMessage(domain.EventOrderPlaced))
	if _, err := repo.Enqueue(newOutboxMessage(domain.EventOrderCanceled)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := repo.MarkSent(first.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 1 {
		t.Fatalf("expected 1 pending, got %d", stats.PendingCount)
	}
	if stats.OldestPendingAt.IsZero() {
		t.Fatal("expected oldest pending timestamp")
	}

	pending, _ := repo.PullPending(10)
	if len(pending) != 1 || pending[0].ID == first.ID {
		t.Fatalf("sent message must not be pulled again: %+v", pending)
	}
}

func TestOutboxRepository_MarkUnknownID(t *testing.T) {
	repo := memory.NewOutboxRepository(memory.NewStore())

	if err := repo.MarkSent("missing"); !errors.Is(err, domain.ErrOutboxNotFound) {
		t.Fatalf("expected ErrOutboxNotFound, got %v", err)
	}
	if err := repo.MarkFailed("missing"); !errors.Is(err, domain.ErrOutboxNotFound) {
		t.Fatalf("expected ErrOutboxNotFound, got %v", err)
	}
}

func TestOutboxRepository_MarkFailed(t *testing.T) {
	repo := memory.NewOutboxRepository(memory.NewStore())
	msg, _ := repo.Enqueue(newOutboxMessage(domain.EventOrderPlaced))

	if err := repo.MarkFailed(msg.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	pending, _ := repo.PullPending(10)
	if len(pending) != 0 {
		t.Fatalf("failed message must not stay pending: %+v", pending)
	}

	if err := repo.MarkSent("missing"); err == nil {
		t.Fatal("expected error for missing record")
	}
}

func TestOutboxRepository_DeleteFinished(t *testing.T) {
	repo := memory.NewOutboxRepository(memory.NewStore())

	sent, _ := repo.Enqueue(newOutboxMessage(domain.EventOrderPlaced))
	if _, err := repo.Enqueue(newOutboxMessage(domain.EventOrderCanceled)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := repo.MarkSent(sent.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}

	// Завершённые записи старше "сейчас + минута" подлежат удалению,
	// pending остаётся нетронутым.
	deleted, err := repo.DeleteFinished(time.Now().UTC().Add(time.Minute), 100)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	stats, _ := repo.Stats()
	if stats.PendingCount != 1 {
		t.Fatalf("pending record must survive cleanup, got %d", stats.PendingCount)
	}
}

func TestOutboxRepository_PullOrder(t *testing.T) {
	repo := memory.NewOutboxRepository(memory.NewStore())

	first, _ := repo.Enqueue(newOutboxMessage(domain.EventOrderPlaced))
	second, _ := repo.Enqueue(newOutboxMessage(domain.EventOrderStatusChanged))

	pending, err := repo.PullPending(1)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 message, got %d", len(pending))
	}
	// FIFO по времени создания; при равном времени — по ID.
	if pending[0].ID != first.ID && pending[0].ID != second.ID {
		t.Fatalf("unexpected message: %+v", pending[0])
	}
}
