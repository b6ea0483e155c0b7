package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// Store — общее in-memory хранилище для локальной разработки и тестов.
// Все репозитории и unit of work работают поверх одного экземпляра,
// так что транзакционные записи и прямые чтения видят одно состояние.
type Store struct {
	mu          sync.RWMutex
	books       map[string]domain.Book
	orders      map[string]domain.Order
	ordersByKey map[string]string              // idempotency key -> order id
	carts       map[string]domain.ShoppingCart // user id -> cart
	outbox      map[string]*outboxRecord
	timeline    map[string][]domain.TimelineEvent
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		books:       make(map[string]domain.Book),
		orders:      make(map[string]domain.Order),
		ordersByKey: make(map[string]string),
		carts:       make(map[string]domain.ShoppingCart),
		outbox:      make(map[string]*outboxRecord),
		timeline:    make(map[string][]domain.TimelineEvent),
	}
}
