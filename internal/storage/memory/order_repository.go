package memory

import (
	"sort"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

// orderRepositoryInMemory — реализация OrderRepository поверх разделяемого Store.
type orderRepositoryInMemory struct {
	store *Store
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{store: store}
}

// Create сохраняет новый заказ одним условным insert'ом: занятый ID даёт
// ErrOrderExists, занятый ключ идемпотентности — ErrDuplicateIdempotencyKey.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return createOrderLocked(r.store, order)
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	order, ok := r.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// GetByIdempotencyKey возвращает заказ, созданный с данным ключом.
func (r *orderRepositoryInMemory) GetByIdempotencyKey(key string) (domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	id, ok := r.store.ordersByKey[key]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order, ok := r.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByUser возвращает заказы пользователя, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByUser(userID string, limit int) ([]domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.store.orders))
	for _, order := range r.store.orders {
		if order.UserID != userID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return saveOrderLocked(r.store, order)
}

// createOrderLocked выполняет условный insert; вызывается под store.mu.
func createOrderLocked(store *Store, order domain.Order) error {
	if _, exists := store.orders[order.ID]; exists {
		return domain.ErrOrderExists
	}
	if order.IdempotencyKey != "" {
		if _, exists := store.ordersByKey[order.IdempotencyKey]; exists {
			return domain.ErrDuplicateIdempotencyKey
		}
	}
	store.orders[order.ID] = cloneOrder(order)
	if order.IdempotencyKey != "" {
		store.ordersByKey[order.IdempotencyKey] = order.ID
	}
	return nil
}

// saveOrderLocked выполняет версионную перезапись; вызывается под store.mu.
func saveOrderLocked(store *Store, order domain.Order) error {
	current, ok := store.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrVersionConflict
	}
	order.Version++
	store.orders[order.ID] = cloneOrder(order)
	return nil
}

// cloneOrder копирует заказ вместе со срезом позиций, чтобы избежать
// непредсказуемых мутаций извне.
func cloneOrder(order domain.Order) domain.Order {
	items := make([]domain.OrderItem, len(order.Items))
	copy(items, order.Items)
	order.Items = items
	return order
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
