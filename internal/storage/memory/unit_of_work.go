package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

// unitOfWork реализует транзакционную границу поверх in-memory Store.
// Записи внутри fn буферизуются; commit атомарно валидирует версии и
// уникальные констрейнты под одним локом и применяет всё или ничего.
// Два конкурентных вызова, прочитавших одну версию книги, ведут себя как
// optimistic locking в реляционном хранилище: первый commit проходит,
// второй получает ErrVersionConflict.
type unitOfWork struct {
	store *Store
}

// NewUnitOfWork создаёт in-memory unit of work.
func NewUnitOfWork(store *Store) domain.UnitOfWork {
	return &unitOfWork{store: store}
}

// WithinTx выполняет fn на транзакционных репозиториях и коммитит буфер.
// Ошибка fn означает rollback: буфер просто отбрасывается.
func (u *unitOfWork) WithinTx(ctx context.Context, fn func(tx domain.TxRepos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{store: u.store}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

// memoryTx буферизует записи транзакции и отдаёт read-your-writes чтения.
type memoryTx struct {
	store *Store

	bookCreates  []domain.Book
	bookSaves    []domain.Book // Version == версия, прочитанная в этой транзакции
	orderCreates []domain.Order
	orderSaves   []domain.Order
	outboxMsgs   []domain.OutboxMessage
	timelineEvts []domain.TimelineEvent
}

func (t *memoryTx) Books() domain.BookRepository        { return &txBookRepo{tx: t} }
func (t *memoryTx) Orders() domain.OrderRepository      { return &txOrderRepo{tx: t} }
func (t *memoryTx) Outbox() domain.OutboxRepository     { return &txOutboxRepo{tx: t} }
func (t *memoryTx) Timeline() domain.TimelineRepository { return &txTimelineRepo{tx: t} }

// commit валидирует все предусловия под локом и применяет буфер.
func (t *memoryTx) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	// Валидация: ни одна запись не применяется, пока не проверены все.
	for _, book := range t.bookCreates {
		if _, exists := t.store.books[book.ID]; exists {
			return domain.ErrBookExists
		}
	}
	for _, book := range t.bookSaves {
		current, ok := t.store.books[book.ID]
		if !ok {
			return domain.ErrBookNotFound
		}
		if current.Version != book.Version {
			return domain.ErrVersionConflict
		}
	}
	for _, order := range t.orderCreates {
		if _, exists := t.store.orders[order.ID]; exists {
			return domain.ErrOrderExists
		}
		if order.IdempotencyKey != "" {
			if _, exists := t.store.ordersByKey[order.IdempotencyKey]; exists {
				return domain.ErrDuplicateIdempotencyKey
			}
		}
	}
	for _, order := range t.orderSaves {
		current, ok := t.store.orders[order.ID]
		if !ok {
			return domain.ErrOrderNotFound
		}
		if current.Version != order.Version {
			return domain.ErrVersionConflict
		}
	}

	// Применение.
	for _, book := range t.bookCreates {
		t.store.books[book.ID] = book
	}
	for _, book := range t.bookSaves {
		book.Version++
		t.store.books[book.ID] = book
	}
	for _, order := range t.orderCreates {
		t.store.orders[order.ID] = cloneOrder(order)
		if order.IdempotencyKey != "" {
			t.store.ordersByKey[order.IdempotencyKey] = order.ID
		}
	}
	for _, order := range t.orderSaves {
		order.Version++
		t.store.orders[order.ID] = cloneOrder(order)
	}
	for _, msg := range t.outboxMsgs {
		enqueueOutboxLocked(t.store, msg)
	}
	for _, event := range t.timelineEvts {
		appendTimelineLocked(t.store, event)
	}

	return nil
}

// txBookRepo — книги в рамках транзакции.
type txBookRepo struct {
	tx *memoryTx
}

func (r *txBookRepo) Create(book domain.Book) error {
	r.tx.bookCreates = append(r.tx.bookCreates, book)
	return nil
}

// Get сперва смотрит в буфер транзакции (read your writes), затем в хранилище.
func (r *txBookRepo) Get(id string) (domain.Book, error) {
	for i := len(r.tx.bookSaves) - 1; i >= 0; i-- {
		if r.tx.bookSaves[i].ID == id {
			return r.tx.bookSaves[i], nil
		}
	}
	for _, book := range r.tx.bookCreates {
		if book.ID == id {
			return book, nil
		}
	}

	r.tx.store.mu.RLock()
	defer r.tx.store.mu.RUnlock()
	book, ok := r.tx.store.books[id]
	if !ok {
		return domain.Book{}, domain.ErrBookNotFound
	}
	return book, nil
}

func (r *txBookRepo) Save(book domain.Book) error {
	// Повторный Save той же книги в одной транзакции заменяет буферную запись,
	// сохраняя версию первого чтения.
	for i := range r.tx.bookSaves {
		if r.tx.bookSaves[i].ID == book.ID {
			book.Version = r.tx.bookSaves[i].Version
			r.tx.bookSaves[i] = book
			return nil
		}
	}
	r.tx.bookSaves = append(r.tx.bookSaves, book)
	return nil
}

// txOrderRepo — заказы в рамках транзакции.
type txOrderRepo struct {
	tx *memoryTx
}

func (r *txOrderRepo) Create(order domain.Order) error {
	r.tx.orderCreates = append(r.tx.orderCreates, order)
	return nil
}

func (r *txOrderRepo) Get(id string) (domain.Order, error) {
	for _, order := range r.tx.orderCreates {
		if order.ID == id {
			return cloneOrder(order), nil
		}
	}

	r.tx.store.mu.RLock()
	defer r.tx.store.mu.RUnlock()
	order, ok := r.tx.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *txOrderRepo) GetByIdempotencyKey(key string) (domain.Order, error) {
	r.tx.store.mu.RLock()
	defer r.tx.store.mu.RUnlock()

	id, ok := r.tx.store.ordersByKey[key]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order, ok := r.tx.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *txOrderRepo) ListByUser(userID string, limit int) ([]domain.Order, error) {
	return NewOrderRepository(r.tx.store).ListByUser(userID, limit)
}

func (r *txOrderRepo) Save(order domain.Order) error {
	r.tx.orderSaves = append(r.tx.orderSaves, order)
	return nil
}

// txOutboxRepo — outbox в рамках транзакции; публикация событий становится
// видимой воркеру только после commit.
type txOutboxRepo struct {
	tx *memoryTx
}

func (r *txOutboxRepo) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	r.tx.outboxMsgs = append(r.tx.outboxMsgs, msg)
	return msg, nil
}

func (r *txOutboxRepo) PullPending(limit int) ([]domain.OutboxMessage, error) {
	return NewOutboxRepository(r.tx.store).PullPending(limit)
}

func (r *txOutboxRepo) Stats() (domain.OutboxStats, error) {
	return NewOutboxRepository(r.tx.store).Stats()
}

func (r *txOutboxRepo) MarkSent(id string) error {
	return NewOutboxRepository(r.tx.store).MarkSent(id)
}

func (r *txOutboxRepo) MarkFailed(id string) error {
	return NewOutboxRepository(r.tx.store).MarkFailed(id)
}

func (r *txOutboxRepo) DeleteFinished(before time.Time, limit int) (int, error) {
	return NewOutboxRepository(r.tx.store).DeleteFinished(before, limit)
}

// txTimelineRepo — timeline в рамках транзакции.
type txTimelineRepo struct {
	tx *memoryTx
}

func (r *txTimelineRepo) Append(event domain.TimelineEvent) error {
	r.tx.timelineEvts = append(r.tx.timelineEvts, event)
	return nil
}

func (r *txTimelineRepo) List(orderID string) ([]domain.TimelineEvent, error) {
	return NewTimelineRepository(r.tx.store).List(orderID)
}

var _ domain.UnitOfWork = (*unitOfWork)(nil)
var _ domain.TxRepos = (*memoryTx)(nil)
