package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
	"github.com/vladislavdragonenkov/bookstore/internal/storage/memory"
	"github.com/vladislavdragonenkov/bookstore/internal/storage/postgres"
)

// Dependencies содержит хранилище и репозитории приложения.
type Dependencies struct {
	Books      domain.BookRepository
	Orders     domain.OrderRepository
	Carts      domain.CartRepository
	Outbox     domain.OutboxRepository
	Timeline   domain.TimelineRepository
	UnitOfWork domain.UnitOfWork

	// PG не nil только для PostgreSQL-хранилища.
	PG     *postgres.Store
	Logger *log.Entry
}

// NewDependencies создаёт зависимости приложения. Пустой DSN означает
// in-memory хранилище: полноценный движок для разработки и тестов,
// переживающий только время жизни процесса.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	if cfg.PostgresDSN == "" {
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return &Dependencies{
			Books:      memory.NewBookRepository(store),
			Orders:     memory.NewOrderRepository(store),
			Carts:      memory.NewCartRepository(store),
			Outbox:     memory.NewOutboxRepository(store),
			Timeline:   memory.NewTimelineRepository(store),
			UnitOfWork: memory.NewUnitOfWork(store),
			Logger:     logger,
		}, nil
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("using postgres storage")

	return &Dependencies{
		Books:      postgres.NewBookRepository(store),
		Orders:     postgres.NewOrderRepository(store),
		Carts:      postgres.NewCartRepository(store),
		Outbox:     postgres.NewOutboxRepository(store),
		Timeline:   postgres.NewTimelineRepository(store),
		UnitOfWork: postgres.NewUnitOfWork(store),
		PG:         store,
		Logger:     logger,
	}, nil
}

// Close освобождает ресурсы хранилища.
func (d *Dependencies) Close() error {
	if d == nil || d.PG == nil {
		return nil
	}
	return d.PG.Close()
}

// Ping проверяет доступность хранилища (для health checks).
func (d *Dependencies) Ping(ctx context.Context) error {
	if d == nil {
		return fmt.Errorf("dependencies are not initialized")
	}
	if d.PG == nil {
		return nil
	}
	return d.PG.Ping(ctx)
}
