package memory

import (
	"sort"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

// timelineRepositoryInMemory хранит события в памяти (для разработки/тестов).
type timelineRepositoryInMemory struct {
	store *Store
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepositoryInMemory{store: store}
}

// Append добавляет событие в хранилище.
func (r *timelineRepositoryInMemory) Append(event domain.TimelineEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	appendTimelineLocked(r.store, event)
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r *timelineRepositoryInMemory) List(orderID string) ([]domain.TimelineEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	events := r.store.timeline[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

// appendTimelineLocked добавляет событие с сортировкой; вызывается под store.mu.
func appendTimelineLocked(store *Store, event domain.TimelineEvent) {
	store.timeline[event.OrderID] = append(store.timeline[event.OrderID], event)

	sort.SliceStable(store.timeline[event.OrderID], func(i, j int) bool {
		return store.timeline[event.OrderID][i].Occurred.Before(store.timeline[event.OrderID][j].Occurred)
	})
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
