package domain

import (
	"context"
	"time"
)

// BookRepository описывает требования к хранилищу каталога/инвентаря.
type BookRepository interface {
	// Create сохраняет новую книгу. Возвращает ErrBookExists при занятом ID или ISBN.
	Create(book Book) error
	// Get возвращает книгу по идентификатору или ErrBookNotFound, если её нет.
	Get(id string) (Book, error)
	// Save применяет обновления к книге с учётом optimistic locking:
	// при несовпадении версии возвращается ErrVersionConflict, при успехе
	// версия в хранилище инкрементируется.
	Save(book Book) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями одним условным insert'ом.
	// Возвращает ErrOrderExists при занятом ID и ErrDuplicateIdempotencyKey,
	// когда ключ идемпотентности уже связан с другим заказом — уникальный
	// констрейнт хранилища закрывает гонку "check then insert".
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// GetByIdempotencyKey возвращает заказ, созданный с данным ключом,
	// или ErrOrderNotFound.
	GetByIdempotencyKey(key string) (Order, error)
	// ListByUser возвращает заказы пользователя с опциональным ограничением на количество.
	ListByUser(userID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// CartRepository описывает требования к хранилищу корзин.
// Инвариант «одна корзина на пользователя» обеспечивается хранилищем.
type CartRepository interface {
	// GetByUser возвращает корзину пользователя или ErrCartNotFound.
	GetByUser(userID string) (ShoppingCart, error)
	// Save вставляет корзину с Version==0 либо перезаписывает существующую
	// с проверкой версии; при несовпадении возвращается ErrVersionConflict.
	Save(cart ShoppingCart) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
	// DeleteFinished удаляет отправленные/проваленные записи старше before (retention).
	DeleteFinished(before time.Time, limit int) (int, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// TxRepos — репозитории, привязанные к одной открытой транзакции.
// Записи через них становятся видимыми только после commit.
type TxRepos interface {
	Books() BookRepository
	Orders() OrderRepository
	Outbox() OutboxRepository
	Timeline() TimelineRepository
}

// UnitOfWork группирует мутации инвентаря и заказа в одну атомарную единицу.
// Любая ошибка fn откатывает транзакцию до распространения ошибки; конфликт
// версий на commit транслируется в ErrVersionConflict, нарушение уникальности
// ключа идемпотентности — в ErrDuplicateIdempotencyKey.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(tx TxRepos) error) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
