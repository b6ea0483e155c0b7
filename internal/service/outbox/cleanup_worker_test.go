package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

// deletionRepo считает батчи DeleteFinished; остальной интерфейс — заглушки.
type deletionRepo struct {
	deleteBatches []int
	deleteCalls   int
}

func (r *deletionRepo) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return msg, nil
}

func (r *deletionRepo) PullPending(int) ([]domain.OutboxMessage, error) { return nil, nil }
func (r *deletionRepo) Stats() (domain.OutboxStats, error)              { return domain.OutboxStats{}, nil }
func (r *deletionRepo) MarkSent(string) error                           { return nil }
func (r *deletionRepo) MarkFailed(string) error                         { return nil }

func (r *deletionRepo) DeleteFinished(time.Time, int) (int, error) {
	r.deleteCalls++
	if r.deleteCalls > len(r.deleteBatches) {
		return 0, nil
	}
	return r.deleteBatches[r.deleteCalls-1], nil
}

var _ domain.OutboxRepository = (*deletionRepo)(nil)

func TestCleanupWorker_DeleteFinished_BatchesUntilDrained(t *testing.T) {
	t.Parallel()

	repo := &deletionRepo{
		deleteBatches: []int{2, 2, 1},
	}
	worker := NewCleanupWorker(repo, WithCleanupBatchSize(2))

	deleted, err := worker.DeleteFinished(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("expected 5 deleted records, got %d", deleted)
	}
	if repo.deleteCalls != 3 {
		t.Fatalf("expected 3 delete batches, got %d", repo.deleteCalls)
	}
}

func TestCleanupWorker_DeleteFinished_EmptyOutbox(t *testing.T) {
	t.Parallel()

	repo := &deletionRepo{}
	worker := NewCleanupWorker(repo)

	deleted, err := worker.DeleteFinished(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected 0 deleted records, got %d", deleted)
	}
	if repo.deleteCalls != 1 {
		t.Fatalf("expected a single empty batch, got %d calls", repo.deleteCalls)
	}
}

func TestCleanupWorker_DeleteFinished_ContextCanceled(t *testing.T) {
	t.Parallel()

	repo := &deletionRepo{deleteBatches: []int{2, 2}}
	worker := NewCleanupWorker(repo, WithCleanupBatchSize(2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	deleted, err := worker.DeleteFinished(ctx, time.Now().UTC())
	if err == nil {
		t.Fatal("expected context error")
	}
	if deleted != 0 {
		t.Fatalf("expected 0 deleted records, got %d", deleted)
	}
	if repo.deleteCalls != 0 {
		t.Fatalf("expected no delete batches, got %d", repo.deleteCalls)
	}
}

func TestCleanupWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &deletionRepo{}
	worker := NewCleanupWorker(repo, WithCleanupInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("cleanup worker did not stop on context cancel")
	}
}
